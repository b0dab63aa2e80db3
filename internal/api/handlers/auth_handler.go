package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/markdave123-py/sopassistant/internal/logging"
	"github.com/markdave123-py/sopassistant/internal/models"
	"github.com/markdave123-py/sopassistant/internal/services"
)

type AuthAPI interface {
	Login(ctx context.Context, username, password, ip string) (*services.LoginResult, error)
	Logout(ctx context.Context, sess *models.Session) error
	ChangePassword(ctx context.Context, username, current, next, keepSession string) error
}

// ProfileAPI is the self-service part of the user manager.
type ProfileAPI interface {
	Get(ctx context.Context, username string) (*models.UserView, error)
	ResolveModel(ctx context.Context, username, mode string) (string, error)
	UpdateModelPreferences(ctx context.Context, username, standard, expert string) (*models.UserView, error)
	UpdateProfile(ctx context.Context, username, name, email string) (*models.UserView, error)
	GlobalSettings(ctx context.Context) models.Settings
}

type AuthHandler struct {
	auth  AuthAPI
	users ProfileAPI
	log   logging.Logger
}

func NewAuthHandler(auth AuthAPI, users ProfileAPI, log logging.Logger) *AuthHandler {
	return &AuthHandler{auth: auth, users: users, log: log}
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.log, err)
		return
	}
	res, err := h.auth.Login(r.Context(), req.Username, req.Password, clientIP(r))
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	sess, err := session(r)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	if err := h.auth.Logout(r.Context(), sess); err != nil {
		writeError(w, r, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type meResponse struct {
	User           *models.UserView `json:"user"`
	StandardModel  string           `json:"resolved_standard_model"`
	ExpertModel    string           `json:"resolved_expert_model"`
	SessionExpires string           `json:"session_expires_at"`
}

func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	sess, err := session(r)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	ctx := r.Context()
	u, err := h.users.Get(ctx, sess.Username)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	std, err := h.users.ResolveModel(ctx, sess.Username, models.ModeStandard)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	exp, err := h.users.ResolveModel(ctx, sess.Username, models.ModeExpert)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, meResponse{
		User: u, StandardModel: std, ExpertModel: exp,
		SessionExpires: sess.ExpiresAt.Format(time.RFC3339),
	})
}

type changePasswordRequest struct {
	Current string `json:"current_password"`
	New     string `json:"new_password"`
}

func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	sess, err := session(r)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	var req changePasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.log, err)
		return
	}
	if err := h.auth.ChangePassword(r.Context(), sess.Username, req.Current, req.New, sess.ID); err != nil {
		writeError(w, r, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type modelsRequest struct {
	StandardModel string `json:"standard_model"`
	ExpertModel   string `json:"expert_model"`
}

func (h *AuthHandler) UpdateModels(w http.ResponseWriter, r *http.Request) {
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
	u, err := h.users.UpdateModelPreferences(r.Context(), sess.Username, req.StandardModel, req.ExpertModel)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

type profileRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

func (h *AuthHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	sess, err := session(r)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	var req profileRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.log, err)
		return
	}
	u, err := h.users.UpdateProfile(r.Context(), sess.Username, req.Name, req.Email)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// Models lists the selectable models and the global defaults.
func (h *AuthHandler) Models(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"available": services.AvailableModels,
		"settings":  h.users.GlobalSettings(r.Context()),
	})
}
