package middleware

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/markdave123-py/sopassistant/internal/common"
	"github.com/markdave123-py/sopassistant/internal/models"
)

type ctxKey struct{}

// Authenticator resolves a bearer token to its session.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*models.Session, error)
}

// UserLookup is used to check whether a password change is pending.
type UserLookup interface {
	Get(ctx context.Context, username string) (*models.UserView, error)
}

// WithSession stores s in ctx.
func WithSession(ctx context.Context, s *models.Session) context.Context {
	return context.WithValue(ctx, ctxKey{}, s)
}

// SessionFrom returns the session put in ctx by SessionAuth.
func SessionFrom(ctx context.Context) (*models.Session, bool) {
	s, ok := ctx.Value(ctxKey{}).(*models.Session)
	return s, ok && s != nil
}

// SessionAuth validates the Authorization header and attaches the session
// to the request context.
func SessionAuth(auth Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if !strings.HasPrefix(header, "Bearer ") {
				deny(w, http.StatusUnauthorized, "missing or invalid token")
				return
			}

			sess, err := auth.Authenticate(r.Context(), strings.TrimPrefix(header, "Bearer "))
			switch {
			case errors.Is(err, common.ErrSessionExpired):
				deny(w, http.StatusUnauthorized, "session expired")
				return
			case err != nil && (errors.Is(err, common.ErrInvalidToken) || errors.Is(err, common.ErrUnauthorized)):
				deny(w, http.StatusUnauthorized, "invalid token")
				return
			case err != nil:
				deny(w, http.StatusInternalServerError, "internal server error")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithSession(r.Context(), sess)))
		})
	}
}

// RequireCSRF checks X-CSRF-Token on state-changing methods.
func RequireCSRF(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
			sess, ok := SessionFrom(r.Context())
			got := r.Header.Get("X-CSRF-Token")
			if !ok || got == "" || subtle.ConstantTimeCompare([]byte(got), []byte(sess.CSRFToken)) != 1 {
				deny(w, http.StatusForbidden, "invalid csrf token")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, ok := SessionFrom(r.Context())
		if !ok || sess.Role != models.RoleAdmin {
			deny(w, http.StatusForbidden, "admin role required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequirePasswordCurrent blocks everything but the exempt paths while the
// user still has to change their password.
func RequirePasswordCurrent(users UserLookup, exempt ...string) func(http.Handler) http.Handler {
	allowed := make(map[string]bool, len(exempt))
	for _, p := range exempt {
		allowed[p] = true
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess, ok := SessionFrom(r.Context())
			if !ok || allowed[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}
			u, err := users.Get(r.Context(), sess.Username)
			if err != nil {
				deny(w, http.StatusUnauthorized, "unknown user")
				return
			}
			if !u.Active {
				deny(w, http.StatusForbidden, common.ErrAccountInactive.Error())
				return
			}
			if u.MustChangePassword {
				deny(w, http.StatusForbidden, "password_change_required")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func deny(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
