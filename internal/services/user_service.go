package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/markdave123-py/sopassistant/internal/audit"
	"github.com/markdave123-py/sopassistant/internal/common"
	"github.com/markdave123-py/sopassistant/internal/config"
	"github.com/markdave123-py/sopassistant/internal/core"
	"github.com/markdave123-py/sopassistant/internal/logging"
	"github.com/markdave123-py/sopassistant/internal/models"
	"github.com/markdave123-py/sopassistant/internal/security"
)

// UserStore persists users and global settings.
type UserStore interface {
	Count(ctx context.Context) int
	Get(ctx context.Context, username string) (*models.User, error)
	List(ctx context.Context) []models.User
	Create(ctx context.Context, u *models.User) error
	Update(ctx context.Context, username string, fn func(*models.User) error) (*models.User, error)
	Settings(ctx context.Context) models.Settings
	SaveSettings(ctx context.Context, s models.Settings) error
}

type ModelOption struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// AvailableModels are the generation models users may pick.
var AvailableModels = []ModelOption{
	{ID: "gemini-1.5-flash", Label: "Gemini 1.5 Flash - fast"},
	{ID: "gemini-1.5-pro", Label: "Gemini 1.5 Pro - advanced reasoning"},
	{ID: "gemini-1.0-pro", Label: "Gemini 1.0 Pro - stable"},
}

const (
	passwordHistoryKept    = 10
	passwordHistoryChecked = 5
)

type NewUser struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Role     string `json:"role"`
	Name     string `json:"name"`
	Email    string `json:"email"`
}

// UserPatch changes only the non-nil fields.
type UserPatch struct {
	Name   *string `json:"name"`
	Email  *string `json:"email"`
	Role   *string `json:"role"`
	Active *bool   `json:"active"`
}

type UserService struct {
	store    UserStore
	sessions core.SessionStore
	audit    *audit.Recorder
	cfg      *config.Config
	log      logging.Logger
	now      func() time.Time
	hashCost int
}

func NewUserService(store UserStore, sessions core.SessionStore, rec *audit.Recorder, cfg *config.Config, log logging.Logger) *UserService {
	return &UserService{
		store: store, sessions: sessions, audit: rec, cfg: cfg,
		log: log.With("component", "users"), now: time.Now, hashCost: bcrypt.DefaultCost,
	}
}

// Bootstrap seeds the admin and default user on an empty store.
func (s *UserService) Bootstrap(ctx context.Context) error {
	if st := s.store.Settings(ctx); st.StandardModel == "" || st.ExpertModel == "" {
		if st.StandardModel == "" {
			st.StandardModel = s.cfg.DefaultModel
		}
		if st.ExpertModel == "" {
			st.ExpertModel = s.cfg.ExpertModel
		}
		now := s.now().UTC()
		st.SettingsUpdatedAt = &now
		if err := s.store.SaveSettings(ctx, st); err != nil {
			return err
		}
	}

	if s.store.Count(ctx) > 0 {
		return nil
	}

	seed := []struct {
		name, pw, role, display string
		mustChange              bool
	}{
		{s.cfg.AdminUsername, s.cfg.AdminPassword, models.RoleAdmin, "Administrator", s.cfg.AdminPassword == config.DefaultAdminPassword},
		{s.cfg.UserUsername, s.cfg.UserPassword, models.RoleUser, "Standard User", false},
	}
	for _, u := range seed {
		hash, err := s.hash(u.pw)
		if err != nil {
			return err
		}
		err = s.store.Create(ctx, &models.User{
			Username: u.name, PasswordHash: hash, Role: u.role, Name: u.display, Active: true,
			StandardModel: models.ModelDefault, ExpertModel: models.ModelDefault,
			MustChangePassword: u.mustChange, CreatedAt: s.now().UTC(), CreatedBy: "system",
		})
		if err != nil && !errors.Is(err, common.ErrAlreadyExists) {
			return err
		}
	}
	s.log.Info(ctx, "bootstrapped default accounts", "admin", s.cfg.AdminUsername, "user", s.cfg.UserUsername)
	return nil
}

func (s *UserService) CreateUser(ctx context.Context, actor string, in NewUser) (*models.UserView, error) {
	in.Username = strings.TrimSpace(in.Username)
	if err := security.ValidateUsername(in.Username); err != nil {
		return nil, err
	}
	if err := security.ValidatePassword(in.Password); err != nil {
		return nil, err
	}
	if in.Email != "" {
		if err := security.ValidateEmail(in.Email); err != nil {
			return nil, err
		}
	}
	if in.Role == "" {
		in.Role = models.RoleUser
	}
	if err := validRole(in.Role); err != nil {
		return nil, err
	}

	hash, err := s.hash(in.Password)
	if err != nil {
		return nil, err
	}
	u := &models.User{
		Username: in.Username, PasswordHash: hash, Role: in.Role,
		Name: security.SanitizeInput(in.Name, 100), Email: in.Email, Active: true,
		StandardModel: models.ModelDefault, ExpertModel: models.ModelDefault,
		MustChangePassword: true, CreatedAt: s.now().UTC(), CreatedBy: actor,
	}
	if err := s.store.Create(ctx, u); err != nil {
		return nil, err
	}
	s.audit.Record(ctx, audit.Event{Type: audit.UserCreated, Username: actor, Details: map[string]any{"target": u.Username, "role": u.Role}})
	v := u.Public()
	return &v, nil
}

func (s *UserService) List(ctx context.Context) []models.UserView {
	users := s.store.List(ctx)
	out := make([]models.UserView, len(users))
	for i, u := range users {
		out[i] = u.Public()
	}
	return out
}

func (s *UserService) Get(ctx context.Context, username string) (*models.UserView, error) {
	u, err := s.store.Get(ctx, username)
	if err != nil {
		return nil, err
	}
	v := u.Public()
	return &v, nil
}

func (s *UserService) UpdateUser(ctx context.Context, actor, username string, p UserPatch) (*models.UserView, error) {
	if p.Email != nil && *p.Email != "" {
		if err := security.ValidateEmail(*p.Email); err != nil {
			return nil, err
		}
	}
	if p.Role != nil {
		if err := validRole(*p.Role); err != nil {
			return nil, err
		}
	}
	if actor == username && ((p.Active != nil && !*p.Active) || (p.Role != nil && *p.Role != models.RoleAdmin)) {
		return nil, fmt.Errorf("cannot deactivate or demote yourself: %w", common.ErrForbidden)
	}

	roleChanged := false
	u, err := s.store.Update(ctx, username, func(u *models.User) error {
		if p.Name != nil {
			u.Name = security.SanitizeInput(*p.Name, 100)
		}
		if p.Email != nil {
			u.Email = *p.Email
		}
		if p.Role != nil {
			roleChanged = u.Role != *p.Role
			u.Role = *p.Role
		}
		if p.Active != nil {
			u.Active = *p.Active
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	// sessions carry the role they were issued with
	if roleChanged || (p.Active != nil && !*p.Active) {
		s.revoke(ctx, username)
	}
	s.audit.Record(ctx, audit.Event{Type: audit.UserModified, Username: actor, Details: map[string]any{"target": username}})
	v := u.Public()
	return &v, nil
}

// Deactivate disables the account; users are never removed.
func (s *UserService) Deactivate(ctx context.Context, actor, username string) error {
	if actor == username {
		return fmt.Errorf("cannot deactivate yourself: %w", common.ErrForbidden)
	}
	_, err := s.store.Update(ctx, username, func(u *models.User) error {
		u.Active = false
		return nil
	})
	if err != nil {
		return err
	}
	s.revoke(ctx, username)
	s.audit.Record(ctx, audit.Event{Type: audit.UserDeleted, Username: actor, Details: map[string]any{"target": username}})
	return nil
}

func (s *UserService) ResetPassword(ctx context.Context, actor, username, newPassword string) error {
	if err := security.ValidatePassword(newPassword); err != nil {
		return err
	}
	hash, err := s.hash(newPassword)
	if err != nil {
		return err
	}
	now := s.now().UTC()
	_, err = s.store.Update(ctx, username, func(u *models.User) error {
		pushHistory(u, u.PasswordHash)
		u.PasswordHash = hash
		u.MustChangePassword = true
		u.FailedAttempts = 0
		u.LockedUntil = nil
		u.PasswordChangedAt = &now
		u.PasswordChangedBy = actor
		return nil
	})
	if err != nil {
		return err
	}
	s.revoke(ctx, username)
	s.audit.Record(ctx, audit.Event{Type: audit.AdminAction, Username: actor, Details: map[string]any{"action": "reset_password", "target": username}})
	return nil
}

func (s *UserService) Unlock(ctx context.Context, actor, username string) error {
	_, err := s.store.Update(ctx, username, func(u *models.User) error {
		u.FailedAttempts = 0
		u.LockedUntil = nil
		return nil
	})
	if err != nil {
		return err
	}
	s.audit.Record(ctx, audit.Event{Type: audit.AdminAction, Username: actor, Details: map[string]any{"action": "unlock", "target": username}})
	return nil
}

func (s *UserService) UpdateModelPreferences(ctx context.Context, username, standard, expert string) (*models.UserView, error) {
	if err := validModel(standard, true); err != nil {
		return nil, err
	}
	if err := validModel(expert, true); err != nil {
		return nil, err
	}
	now := s.now().UTC()
	u, err := s.store.Update(ctx, username, func(u *models.User) error {
		u.StandardModel = standard
		u.ExpertModel = expert
		u.SettingsUpdatedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}
	v := u.Public()
	return &v, nil
}

func (s *UserService) UpdateProfile(ctx context.Context, username, name, email string) (*models.UserView, error) {
	if email != "" {
		if err := security.ValidateEmail(email); err != nil {
			return nil, err
		}
	}
	u, err := s.store.Update(ctx, username, func(u *models.User) error {
		u.Name = security.SanitizeInput(name, 100)
		u.Email = email
		return nil
	})
	if err != nil {
		return nil, err
	}
	v := u.Public()
	return &v, nil
}

func (s *UserService) GlobalSettings(ctx context.Context) models.Settings {
	st := s.store.Settings(ctx)
	if st.StandardModel == "" {
		st.StandardModel = s.cfg.DefaultModel
	}
	if st.ExpertModel == "" {
		st.ExpertModel = s.cfg.ExpertModel
	}
	return st
}

func (s *UserService) UpdateGlobalSettings(ctx context.Context, actor, standard, expert string) (models.Settings, error) {
	if err := validModel(standard, false); err != nil {
		return models.Settings{}, err
	}
	if err := validModel(expert, false); err != nil {
		return models.Settings{}, err
	}
	now := s.now().UTC()
	st := models.Settings{StandardModel: standard, ExpertModel: expert, SettingsUpdatedAt: &now}
	if err := s.store.SaveSettings(ctx, st); err != nil {
		return models.Settings{}, err
	}
	s.audit.Record(ctx, audit.Event{Type: audit.AdminAction, Username: actor,
		Details: map[string]any{"action": "update_settings", "standard_model": standard, "expert_model": expert}})
	return st, nil
}

// ResolveModel picks the user's model for mode, falling back to the
// global setting and then the configured default.
func (s *UserService) ResolveModel(ctx context.Context, username, mode string) (string, error) {
	u, err := s.store.Get(ctx, username)
	if err != nil {
		return "", err
	}
	global := s.GlobalSettings(ctx)

	if mode == models.ModeExpert {
		return firstModel(u.ExpertModel, global.ExpertModel, s.cfg.ExpertModel), nil
	}
	return firstModel(u.StandardModel, global.StandardModel, s.cfg.DefaultModel), nil
}

func (s *UserService) hash(pw string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(pw), s.hashCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(h), nil
}

func (s *UserService) revoke(ctx context.Context, username string) {
	if err := s.sessions.DeleteByUser(ctx, username); err != nil {
		s.log.Warn(ctx, "revoke sessions", "user", username, "err", err)
	}
}

func firstModel(vals ...string) string {
	for _, v := range vals {
		if v != "" && v != models.ModelDefault {
			return v
		}
	}
	return ""
}

func pushHistory(u *models.User, oldHash string) {
	if oldHash == "" {
		return
	}
	u.PasswordHistory = append(u.PasswordHistory, oldHash)
	if len(u.PasswordHistory) > passwordHistoryKept {
		u.PasswordHistory = u.PasswordHistory[len(u.PasswordHistory)-passwordHistoryKept:]
	}
}

func validRole(r string) error {
	if r != models.RoleAdmin && r != models.RoleUser {
		return common.Invalid("role", "must be admin or user")
	}
	return nil
}

func validModel(m string, allowDefault bool) error {
	if allowDefault && m == models.ModelDefault {
		return nil
	}
	for _, o := range AvailableModels {
		if o.ID == m {
			return nil
		}
	}
	return common.Invalid("model", fmt.Sprintf("unknown model %q", m))
}
