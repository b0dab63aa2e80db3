// Package userstore persists users and global settings in one JSON file.
package userstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/markdave123-py/sopassistant/internal/common"
	"github.com/markdave123-py/sopassistant/internal/models"
)

type fileData struct {
	Users    map[string]*models.User `json:"users"`
	Settings models.Settings         `json:"settings"`
}

// FileStore reads from an in-memory copy and rewrites the whole file on
// every mutation.
type FileStore struct {
	mu   sync.RWMutex
	path string
	data fileData
}

// Open loads path, or starts empty when it does not exist yet.
func Open(path string) (*FileStore, error) {
	s := &FileStore{path: path, data: fileData{Users: map[string]*models.User{}}}

	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read users file: %w", err)
	}
	if len(raw) == 0 {
		return s, nil
	}
	if err := json.Unmarshal(raw, &s.data); err != nil {
		return nil, fmt.Errorf("parse users file: %w", err)
	}
	if s.data.Users == nil {
		s.data.Users = map[string]*models.User{}
	}
	return s, nil
}

func (s *FileStore) Count(_ context.Context) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data.Users)
}

// Get returns a copy of the user.
func (s *FileStore) Get(_ context.Context, username string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.data.Users[username]
	if !ok {
		return nil, fmt.Errorf("user %q: %w", username, common.ErrNotFound)
	}
	return cloneUser(u), nil
}

// List returns copies of all users sorted by username.
func (s *FileStore) List(_ context.Context) []models.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.User, 0, len(s.data.Users))
	for _, u := range s.data.Users {
		out = append(out, *cloneUser(u))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out
}

func (s *FileStore) Create(_ context.Context, u *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data.Users[u.Username]; ok {
		return fmt.Errorf("user %q: %w", u.Username, common.ErrAlreadyExists)
	}
	s.data.Users[u.Username] = cloneUser(u)
	if err := s.saveLocked(); err != nil {
		delete(s.data.Users, u.Username)
		return err
	}
	return nil
}

// Update applies fn to a copy of the user and saves it when fn succeeds.
func (s *FileStore) Update(_ context.Context, username string, fn func(*models.User) error) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.data.Users[username]
	if !ok {
		return nil, fmt.Errorf("user %q: %w", username, common.ErrNotFound)
	}

	next := cloneUser(cur)
	if err := fn(next); err != nil {
		return nil, err
	}
	next.Username = username

	s.data.Users[username] = next
	if err := s.saveLocked(); err != nil {
		s.data.Users[username] = cur
		return nil, err
	}
	return cloneUser(next), nil
}

func (s *FileStore) Settings(_ context.Context) models.Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.Settings
}

func (s *FileStore) SaveSettings(_ context.Context, st models.Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.data.Settings
	s.data.Settings = st
	if err := s.saveLocked(); err != nil {
		s.data.Settings = prev
		return err
	}
	return nil
}

func (s *FileStore) saveLocked() error {
	raw, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return err
	}
	return WriteFileAtomic(s.path, raw, 0o600)
}

// WriteFileAtomic writes data next to path and renames it into place.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func cloneUser(u *models.User) *models.User {
	c := *u
	c.PasswordHistory = append([]string(nil), u.PasswordHistory...)
	c.LockedUntil = cloneTime(u.LockedUntil)
	c.LastLogin = cloneTime(u.LastLogin)
	c.PasswordChangedAt = cloneTime(u.PasswordChangedAt)
	c.SettingsUpdatedAt = cloneTime(u.SettingsUpdatedAt)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
