// Package audit appends security events to a JSON-lines file.
package audit

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync"
)

type EventType string

const (
	LoginSuccess       EventType = "login_success"
	LoginFailure       EventType = "login_failure"
	Logout             EventType = "logout"
	PasswordChange     EventType = "password_change"
	UserCreated        EventType = "user_created"
	UserModified       EventType = "user_modified"
	UserDeleted        EventType = "user_deleted"
	FileUpload         EventType = "file_upload"
	FileDownload       EventType = "file_download"
	AdminAction        EventType = "admin_action"
	SuspiciousActivity EventType = "suspicious_activity"
	RateLimitExceeded  EventType = "rate_limit_exceeded"
	SessionTimeout     EventType = "session_timeout"
)

type Event struct {
	Type     EventType
	Username string
	IP       string
	Details  map[string]any
}

// Recorder is safe for concurrent use.
type Recorder struct {
	mu     sync.Mutex
	logger *slog.Logger
	closer io.Closer
}

// Open appends to path, creating it with mode 0600.
func Open(path string) (*Recorder, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	r := NewRecorder(f)
	r.closer = f
	return r, nil
}

func NewRecorder(w io.Writer) *Recorder {
	return &Recorder{logger: slog.New(slog.NewJSONHandler(w, nil))}
}

// Discard drops every event.
func Discard() *Recorder { return NewRecorder(io.Discard) }

func (r *Recorder) Record(ctx context.Context, e Event) {
	attrs := []slog.Attr{
		slog.String("event_type", string(e.Type)),
		slog.String("username", e.Username),
	}
	if e.IP != "" {
		attrs = append(attrs, slog.String("ip", e.IP))
	}
	if len(e.Details) > 0 {
		attrs = append(attrs, slog.Any("details", e.Details))
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.logger.LogAttrs(ctx, slog.LevelInfo, "audit", attrs...)
}

func (r *Recorder) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}
