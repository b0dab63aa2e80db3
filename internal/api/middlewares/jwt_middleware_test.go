package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/markdave123-py/sopassistant/internal/common"
	"github.com/markdave123-py/sopassistant/internal/models"
)

type fakeAuth map[string]*models.Session

func (f fakeAuth) Authenticate(_ context.Context, token string) (*models.Session, error) {
	if token == "expired" {
		return nil, common.ErrSessionExpired
	}
	s, ok := f[token]
	if !ok {
		return nil, common.ErrInvalidToken
	}
	return s, nil
}

type fakeUsers map[string]*models.UserView

func (f fakeUsers) Get(_ context.Context, name string) (*models.UserView, error) {
	u, ok := f[name]
	if !ok {
		return nil, common.ErrNotFound
	}
	return u, nil
}

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
})

func serve(h http.Handler, method, path, token, csrf string) int {
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if csrf != "" {
		req.Header.Set("X-CSRF-Token", csrf)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec.Code
}

func TestSessionAuthAndRoles(t *testing.T) {
	auth := fakeAuth{
		"admin-token": {ID: "s1", Username: "admin", Role: models.RoleAdmin, CSRFToken: "c1"},
		"user-token":  {ID: "s2", Username: "user", Role: models.RoleUser, CSRFToken: "c2"},
	}
	h := SessionAuth(auth)(RequireCSRF(RequireAdmin(okHandler)))

	assert.Equal(t, http.StatusUnauthorized, serve(h, http.MethodGet, "/", "", ""))
	assert.Equal(t, http.StatusUnauthorized, serve(h, http.MethodGet, "/", "bogus", ""))
	assert.Equal(t, http.StatusUnauthorized, serve(h, http.MethodGet, "/", "expired", ""))
	assert.Equal(t, http.StatusForbidden, serve(h, http.MethodGet, "/", "user-token", ""))
	assert.Equal(t, http.StatusNoContent, serve(h, http.MethodGet, "/", "admin-token", ""))

	assert.Equal(t, http.StatusForbidden, serve(h, http.MethodPost, "/", "admin-token", ""))
	assert.Equal(t, http.StatusForbidden, serve(h, http.MethodPost, "/", "admin-token", "c2"))
	assert.Equal(t, http.StatusNoContent, serve(h, http.MethodPost, "/", "admin-token", "c1"))
}

func TestRequirePasswordCurrent(t *testing.T) {
	auth := fakeAuth{
		"fresh":    {Username: "fresh"},
		"pending":  {Username: "pending"},
		"disabled": {Username: "disabled"},
	}
	users := fakeUsers{
		"fresh":    {Username: "fresh", Active: true},
		"pending":  {Username: "pending", Active: true, MustChangePassword: true},
		"disabled": {Username: "disabled"},
	}
	h := SessionAuth(auth)(RequirePasswordCurrent(users, "/api/me/password")(okHandler))

	assert.Equal(t, http.StatusNoContent, serve(h, http.MethodGet, "/api/chat", "fresh", ""))
	assert.Equal(t, http.StatusForbidden, serve(h, http.MethodGet, "/api/chat", "pending", ""))
	assert.Equal(t, http.StatusNoContent, serve(h, http.MethodPost, "/api/me/password", "pending", ""))
	assert.Equal(t, http.StatusForbidden, serve(h, http.MethodGet, "/api/chat", "disabled", ""))
}
