package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/markdave123-py/sopassistant/internal/logging"
	"github.com/markdave123-py/sopassistant/internal/models"
	"github.com/markdave123-py/sopassistant/internal/services"
)

// AdminAPI is the admin side of the user manager.
type AdminAPI interface {
	List(ctx context.Context) []models.UserView
	CreateUser(ctx context.Context, actor string, in services.NewUser) (*models.UserView, error)
	UpdateUser(ctx context.Context, actor, username string, p services.UserPatch) (*models.UserView, error)
	Deactivate(ctx context.Context, actor, username string) error
	ResetPassword(ctx context.Context, actor, username, newPassword string) error
	Unlock(ctx context.Context, actor, username string) error
	GlobalSettings(ctx context.Context) models.Settings
	UpdateGlobalSettings(ctx context.Context, actor, standard, expert string) (models.Settings, error)
}

type AdminHandler struct {
	users AdminAPI
	log   logging.Logger
}

func NewAdminHandler(users AdminAPI, log logging.Logger) *AdminHandler {
	return &AdminHandler{users: users, log: log}
}

func (h *AdminHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"users": h.users.List(r.Context())})
}

func (h *AdminHandler) CreateUser(w http.ResponseWriter, r *http.Request) {
	sess, err := session(r)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	var in services.NewUser
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, r, h.log, err)
		return
	}
	u, err := h.users.CreateUser(r.Context(), sess.Username, in)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, u)
}

func (h *AdminHandler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	sess, err := session(r)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	var p services.UserPatch
	if err := decodeJSON(r, &p); err != nil {
		writeError(w, r, h.log, err)
		return
	}
	u, err := h.users.UpdateUser(r.Context(), sess.Username, chi.URLParam(r, "username"), p)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// DeactivateUser backs DELETE; users are deactivated, never removed.
func (h *AdminHandler) DeactivateUser(w http.ResponseWriter, r *http.Request) {
	sess, err := session(r)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	if err := h.users.Deactivate(r.Context(), sess.Username, chi.URLParam(r, "username")); err != nil {
		writeError(w, r, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type resetPasswordRequest struct {
	Password string `json:"password"`
}

func (h *AdminHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	sess, err := session(r)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	var req resetPasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.log, err)
		return
	}
	if err := h.users.ResetPassword(r.Context(), sess.Username, chi.URLParam(r, "username"), req.Password); err != nil {
		writeError(w, r, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AdminHandler) Unlock(w http.ResponseWriter, r *http.Request) {
	sess, err := session(r)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	if err := h.users.Unlock(r.Context(), sess.Username, chi.URLParam(r, "username")); err != nil {
		writeError(w, r, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AdminHandler) GetSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.users.GlobalSettings(r.Context()))
}

func (h *AdminHandler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	sess, err := session(r)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	var req modelsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.log, err)
		return
	}
	st, err := h.users.UpdateGlobalSettings(r.Context(), sess.Username, req.StandardModel, req.ExpertModel)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}
