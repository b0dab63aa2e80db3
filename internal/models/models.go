package models

import (
	"time"
)

const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

const (
	ModeStandard = "standard"
	ModeExpert   = "expert"
)

// ModelDefault defers a user's model choice to the global setting.
const ModelDefault = "default"

// User is one record of the flat user file.
type User struct {
	Username           string     `json:"username"`
	PasswordHash       string     `json:"password_hash"`
	Role               string     `json:"role"`
	Name               string     `json:"name"`
	Email              string     `json:"email"`
	Active             bool       `json:"active"`
	StandardModel      string     `json:"standard_model"`
	ExpertModel        string     `json:"expert_model"`
	MustChangePassword bool       `json:"must_change_password"`
	FailedAttempts     int        `json:"failed_attempts"`
	LockedUntil        *time.Time `json:"locked_until"`
	LastLogin          *time.Time `json:"last_login"`
	PasswordHistory    []string   `json:"password_history,omitempty"`
	PasswordChangedAt  *time.Time `json:"password_changed_at"`
	PasswordChangedBy  string     `json:"password_changed_by,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	CreatedBy          string     `json:"created_by,omitempty"`
	SettingsUpdatedAt  *time.Time `json:"settings_updated_at"`
}

// IsLocked reports whether the lockout window is still open at now.
func (u *User) IsLocked(now time.Time) bool {
	return u.LockedUntil != nil && now.Before(*u.LockedUntil)
}

// Public strips credentials before a user leaves the service.
func (u User) Public() UserView {
	return UserView{
		Username:           u.Username,
		Role:               u.Role,
		Name:               u.Name,
		Email:              u.Email,
		Active:             u.Active,
		StandardModel:      u.StandardModel,
		ExpertModel:        u.ExpertModel,
		MustChangePassword: u.MustChangePassword,
		Locked:             u.IsLocked(time.Now()),
		LastLogin:          u.LastLogin,
		CreatedAt:          u.CreatedAt,
		SettingsUpdatedAt:  u.SettingsUpdatedAt,
	}
}

type UserView struct {
	Username           string     `json:"username"`
	Role               string     `json:"role"`
	Name               string     `json:"name"`
	Email              string     `json:"email"`
	Active             bool       `json:"active"`
	StandardModel      string     `json:"standard_model"`
	ExpertModel        string     `json:"expert_model"`
	MustChangePassword bool       `json:"must_change_password"`
	Locked             bool       `json:"locked"`
	LastLogin          *time.Time `json:"last_login,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	SettingsUpdatedAt  *time.Time `json:"settings_updated_at,omitempty"`
}

// Settings are the global model defaults stored next to the users.
type Settings struct {
	StandardModel     string     `json:"standard_model"`
	ExpertModel       string     `json:"expert_model"`
	SettingsUpdatedAt *time.Time `json:"settings_updated_at"`
}

// Session is a server-side login session.
type Session struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	CSRFToken string    `json:"csrf_token"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the session is past its expiry at now.
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// DocumentChunk is one embedded slice of a source file.
type DocumentChunk struct {
	ID          string    `json:"id"`
	Source      string    `json:"source"`
	Filename    string    `json:"filename"`
	ChunkID     int       `json:"chunk_id"`
	FileType    string    `json:"file_type"`
	ContentHash string    `json:"content_hash"`
	Text        string    `json:"text"`
	TokenCount  int       `json:"token_count"`
	Embedding   []float32 `json:"-"`
	CreatedAt   time.Time `json:"created_at"`
}

// SearchResult is a chunk with its cosine distance to the query.
type SearchResult struct {
	Chunk    DocumentChunk `json:"chunk"`
	Distance float64       `json:"distance"`
	Score    float64       `json:"score"`
}

type CollectionInfo struct {
	Name            string   `json:"name"`
	Count           int      `json:"count"`
	UniqueDocuments int      `json:"unique_documents"`
	Sources         []string `json:"sources"`
}

// Source is an attributed document in an answer.
type Source struct {
	Filename string `json:"filename"`
	Path     string `json:"path"`
	Link     string `json:"link,omitempty"`
}

// DriveMetadata is the companion ".gdrive_metadata" file content.
type DriveMetadata struct {
	DriveID   string `json:"gdrive_id"`
	DriveLink string `json:"gdrive_link"`
	DriveName string `json:"gdrive_name,omitempty"`
	CreatedAt string `json:"created_at,omitempty"`
}

// ChatMessage represents an individual chat message (user or assistant).
type ChatMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Sources []Source `json:"sources,omitempty"`
}

// ChatEntry is a saved conversation.
type ChatEntry struct {
	ID           string        `json:"id"`
	Timestamp    time.Time     `json:"timestamp"`
	Title        string        `json:"title"`
	Mode         string        `json:"mode"`
	Messages     []ChatMessage `json:"messages"`
	MessageCount int           `json:"message_count"`
}
