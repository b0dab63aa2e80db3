package services

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/markdave123-py/sopassistant/internal/audit"
	"github.com/markdave123-py/sopassistant/internal/common"
	"github.com/markdave123-py/sopassistant/internal/core"
	"github.com/markdave123-py/sopassistant/internal/logging"
	"github.com/markdave123-py/sopassistant/internal/models"
	"github.com/markdave123-py/sopassistant/internal/security"
)

const (
	loginAttempts = 5
	loginWindow   = 15 * time.Minute
)

type AuthConfig struct {
	Secret          []byte
	SessionTimeout  time.Duration
	MaxAttempts     int
	LockoutDuration time.Duration
}

type LoginResult struct {
	Token              string    `json:"token"`
	CSRFToken          string    `json:"csrf_token"`
	ExpiresAt          time.Time `json:"expires_at"`
	MustChangePassword bool      `json:"must_change_password"`
	Role               string    `json:"role"`
	Username           string    `json:"username"`
}

// LockedError is returned while an account is locked out.
type LockedError struct {
	Until time.Time
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("account locked until %s", e.Until.UTC().Format(time.RFC3339))
}

func (e *LockedError) Unwrap() error { return common.ErrAccountLocked }

type sessionClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

type AuthService struct {
	users    UserStore
	sessions core.SessionStore
	limiter  *security.RateLimiter
	audit    *audit.Recorder
	cfg      AuthConfig
	log      logging.Logger
	now      func() time.Time
	hashCost int
}

func NewAuthService(users UserStore, sessions core.SessionStore, rec *audit.Recorder, cfg AuthConfig, log logging.Logger) *AuthService {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.SessionTimeout <= 0 {
		cfg.SessionTimeout = 2 * time.Hour
	}
	if cfg.LockoutDuration <= 0 {
		cfg.LockoutDuration = 30 * time.Minute
	}
	return &AuthService{
		users: users, sessions: sessions, audit: rec, cfg: cfg,
		limiter:  security.NewRateLimiter(loginAttempts, loginWindow),
		log:      log.With("component", "auth"),
		now:      time.Now,
		hashCost: bcrypt.DefaultCost,
	}
}

func (s *AuthService) Login(ctx context.Context, username, password, ip string) (*LoginResult, error) {
	username = security.SanitizeInput(username, 50)
	key := username + ":" + ip

	if !s.limiter.Allow(key) {
		s.audit.Record(ctx, audit.Event{Type: audit.RateLimitExceeded, Username: username, IP: ip})
		return nil, common.ErrRateLimited
	}

	u, err := s.users.Get(ctx, username)
	if errors.Is(err, common.ErrNotFound) {
		s.audit.Record(ctx, audit.Event{Type: audit.LoginFailure, Username: username, IP: ip, Details: map[string]any{"reason": "unknown user"}})
		return nil, common.ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if !u.Active {
		s.audit.Record(ctx, audit.Event{Type: audit.LoginFailure, Username: username, IP: ip, Details: map[string]any{"reason": "inactive"}})
		return nil, common.ErrAccountInactive
	}

	now := s.now()
	if u.IsLocked(now) {
		s.audit.Record(ctx, audit.Event{Type: audit.LoginFailure, Username: username, IP: ip, Details: map[string]any{"reason": "locked"}})
		return nil, &LockedError{Until: *u.LockedUntil}
	}

	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return nil, s.recordFailure(ctx, username, ip, now)
	}

	u, err = s.users.Update(ctx, username, func(u *models.User) error {
		t := now.UTC()
		u.FailedAttempts = 0
		u.LockedUntil = nil
		u.LastLogin = &t
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.limiter.Reset(key)

	sess := &models.Session{
		ID:        uuid.NewString(),
		Username:  u.Username,
		Role:      u.Role,
		CSRFToken: newNonce(),
		CreatedAt: now.UTC(),
		ExpiresAt: now.Add(s.cfg.SessionTimeout).UTC(),
	}
	if err := s.sessions.Save(ctx, sess); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}
	token, err := s.sign(sess)
	if err != nil {
		return nil, err
	}

	s.audit.Record(ctx, audit.Event{Type: audit.LoginSuccess, Username: u.Username, IP: ip})
	s.log.Info(ctx, "login", "user", u.Username, "role", u.Role)
	return &LoginResult{
		Token:              token,
		CSRFToken:          sess.CSRFToken,
		ExpiresAt:          sess.ExpiresAt,
		MustChangePassword: u.MustChangePassword,
		Role:               u.Role,
		Username:           u.Username,
	}, nil
}

func (s *AuthService) recordFailure(ctx context.Context, username, ip string, now time.Time) error {
	var locked *time.Time
	_, err := s.users.Update(ctx, username, func(u *models.User) error {
		u.FailedAttempts++
		if u.FailedAttempts >= s.cfg.MaxAttempts {
			t := now.Add(s.cfg.LockoutDuration).UTC()
			u.LockedUntil = &t
			locked = &t
		}
		return nil
	})
	if err != nil {
		return err
	}

	if locked != nil {
		s.audit.Record(ctx, audit.Event{Type: audit.SuspiciousActivity, Username: username, IP: ip, Details: map[string]any{"reason": "account locked after failed logins"}})
		return &LockedError{Until: *locked}
	}
	s.audit.Record(ctx, audit.Event{Type: audit.LoginFailure, Username: username, IP: ip, Details: map[string]any{"reason": "bad password"}})
	return common.ErrInvalidCredentials
}

// Authenticate resolves a bearer token to its live session.
func (s *AuthService) Authenticate(ctx context.Context, token string) (*models.Session, error) {
	claims := &sessionClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.cfg.Secret, nil
	}, jwt.WithTimeFunc(s.now), jwt.WithExpirationRequired())
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		// claims are still decoded for an expired token
		if claims.ID != "" {
			_ = s.sessions.Delete(ctx, claims.ID)
			s.audit.Record(ctx, audit.Event{Type: audit.SessionTimeout, Username: claims.Subject})
		}
		return nil, common.ErrSessionExpired
	case err != nil:
		return nil, common.ErrInvalidToken
	}

	sess, err := s.sessions.Get(ctx, claims.ID)
	if errors.Is(err, common.ErrNotFound) {
		return nil, common.ErrSessionExpired
	}
	if err != nil {
		return nil, err
	}
	if sess.Username != claims.Subject {
		return nil, common.ErrInvalidToken
	}
	if sess.Expired(s.now()) {
		_ = s.sessions.Delete(ctx, sess.ID)
		s.audit.Record(ctx, audit.Event{Type: audit.SessionTimeout, Username: sess.Username})
		return nil, common.ErrSessionExpired
	}
	return sess, nil
}

func (s *AuthService) Logout(ctx context.Context, sess *models.Session) error {
	if err := s.sessions.Delete(ctx, sess.ID); err != nil {
		return err
	}
	s.audit.Record(ctx, audit.Event{Type: audit.Logout, Username: sess.Username})
	return nil
}

// ChangePassword replaces the user's password and revokes every other
// session. keepSession may be empty.
func (s *AuthService) ChangePassword(ctx context.Context, username, current, next, keepSession string) error {
	u, err := s.users.Get(ctx, username)
	if err != nil {
		return err
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(current)) != nil {
		return common.Invalid("current_password", "is incorrect")
	}
	if err := security.ValidatePassword(next); err != nil {
		return err
	}
	if current == next {
		return common.Invalid("new_password", "must differ from the current password")
	}
	history := u.PasswordHistory
	if len(history) > passwordHistoryChecked {
		history = history[len(history)-passwordHistoryChecked:]
	}
	for _, h := range history {
		if bcrypt.CompareHashAndPassword([]byte(h), []byte(next)) == nil {
			return common.ErrPasswordReused
		}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(next), s.hashCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	now := s.now().UTC()
	_, err = s.users.Update(ctx, username, func(u *models.User) error {
		pushHistory(u, u.PasswordHash)
		u.PasswordHash = string(hash)
		u.MustChangePassword = false
		u.PasswordChangedAt = &now
		u.PasswordChangedBy = username
		return nil
	})
	if err != nil {
		return err
	}

	if err := s.revokeOthers(ctx, username, keepSession); err != nil {
		s.log.Warn(ctx, "revoke sessions after password change", "user", username, "err", err)
	}
	s.audit.Record(ctx, audit.Event{Type: audit.PasswordChange, Username: username})
	return nil
}

func (s *AuthService) revokeOthers(ctx context.Context, username, keep string) error {
	var kept *models.Session
	if keep != "" {
		if sess, err := s.sessions.Get(ctx, keep); err == nil {
			kept = sess
		}
	}
	if err := s.sessions.DeleteByUser(ctx, username); err != nil {
		return err
	}
	if kept != nil {
		return s.sessions.Save(ctx, kept)
	}
	return nil
}

func (s *AuthService) sign(sess *models.Session) (string, error) {
	claims := sessionClaims{
		Role: sess.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        sess.ID,
			Subject:   sess.Username,
			IssuedAt:  jwt.NewNumericDate(sess.CreatedAt),
			ExpiresAt: jwt.NewNumericDate(sess.ExpiresAt),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.cfg.Secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return token, nil
}

func newNonce() string {
	b := make([]byte, 32)
	_, _ = rand.Read(b)
	return base64.RawURLEncoding.EncodeToString(b)
}
