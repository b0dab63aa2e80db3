// Package chathistory keeps each user's saved conversations in a JSON file.
package chathistory

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/markdave123-py/sopassistant/internal/common"
	"github.com/markdave123-py/sopassistant/internal/core/userstore"
	"github.com/markdave123-py/sopassistant/internal/models"
)

const (
	maxEntries   = 50
	titleLen     = 50
	DefaultLimit = 10
)

type SaveRequest struct {
	Mode     string               `json:"mode"`
	Messages []models.ChatMessage `json:"messages"`
}

// FileStore writes <dir>/<username>_chats.json, oldest entry first.
type FileStore struct {
	mu  sync.Mutex
	dir string
	now func() time.Time
}

func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create chat history dir: %w", err)
	}
	return &FileStore{dir: dir, now: time.Now}, nil
}

func (s *FileStore) Save(_ context.Context, username string, req SaveRequest) (*models.ChatEntry, error) {
	if len(req.Messages) == 0 {
		return nil, common.Invalid("messages", "nothing to save")
	}
	if req.Mode == "" {
		req.Mode = models.ModeStandard
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.loadLocked(username)
	if err != nil {
		return nil, err
	}

	now := s.now()
	entry := models.ChatEntry{
		ID:           fmt.Sprintf("chat_%s_%s", now.Format("20060102_150405"), uuid.NewString()[:8]),
		Timestamp:    now,
		Title:        Title(req.Messages),
		Mode:         req.Mode,
		Messages:     req.Messages,
		MessageCount: len(req.Messages),
	}
	entries = append(entries, entry)
	if len(entries) > maxEntries {
		entries = entries[len(entries)-maxEntries:]
	}

	if err := s.saveLocked(username, entries); err != nil {
		return nil, err
	}
	return &entry, nil
}

// List returns up to limit entries, newest first.
func (s *FileStore) List(_ context.Context, username string, limit int) ([]models.ChatEntry, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	s.mu.Lock()
	entries, err := s.loadLocked(username)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	out := make([]models.ChatEntry, 0, min(limit, len(entries)))
	for i := len(entries) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, entries[i])
	}
	return out, nil
}

func (s *FileStore) Get(_ context.Context, username, id string) (*models.ChatEntry, error) {
	s.mu.Lock()
	entries, err := s.loadLocked(username)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	for i := range entries {
		if entries[i].ID == id {
			return &entries[i], nil
		}
	}
	return nil, fmt.Errorf("chat %q: %w", id, common.ErrNotFound)
}

func (s *FileStore) Delete(_ context.Context, username, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.loadLocked(username)
	if err != nil {
		return err
	}
	kept := entries[:0]
	for _, e := range entries {
		if e.ID != id {
			kept = append(kept, e)
		}
	}
	if len(kept) == len(entries) {
		return fmt.Errorf("chat %q: %w", id, common.ErrNotFound)
	}
	return s.saveLocked(username, kept)
}

func (s *FileStore) Clear(_ context.Context, username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, err := s.path(username)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Title is the first user message cut to 50 characters, or "New Chat".
func Title(msgs []models.ChatMessage) string {
	for _, m := range msgs {
		if m.Role != "user" {
			continue
		}
		if utf8.RuneCountInString(m.Content) > titleLen {
			return string([]rune(m.Content)[:titleLen]) + "..."
		}
		return m.Content
	}
	return "New Chat"
}

func (s *FileStore) path(username string) (string, error) {
	if username == "" || username != filepath.Base(username) || username == ".." {
		return "", common.Invalid("username", "invalid username")
	}
	return filepath.Join(s.dir, username+"_chats.json"), nil
}

func (s *FileStore) loadLocked(username string) ([]models.ChatEntry, error) {
	p, err := s.path(username)
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(p)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read chat history: %w", err)
	}
	var entries []models.ChatEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("parse chat history: %w", err)
	}
	return entries, nil
}

func (s *FileStore) saveLocked(username string, entries []models.ChatEntry) error {
	p, err := s.path(username)
	if err != nil {
		return err
	}
	raw, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}
	return userstore.WriteFileAtomic(p, raw, 0o600)
}
