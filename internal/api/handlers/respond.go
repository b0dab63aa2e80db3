package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	middlewares "github.com/markdave123-py/sopassistant/internal/api/middlewares"
	"github.com/markdave123-py/sopassistant/internal/common"
	"github.com/markdave123-py/sopassistant/internal/logging"
	"github.com/markdave123-py/sopassistant/internal/models"
)

const maxJSONBody = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// StatusFor maps service errors to HTTP status codes.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, common.ErrValidation), errors.Is(err, common.ErrUnsupportedFile), errors.Is(err, common.ErrPasswordReused):
		return http.StatusBadRequest
	case errors.Is(err, common.ErrInvalidCredentials), errors.Is(err, common.ErrInvalidToken),
		errors.Is(err, common.ErrSessionExpired), errors.Is(err, common.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, common.ErrForbidden), errors.Is(err, common.ErrAccountInactive):
		return http.StatusForbidden
	case errors.Is(err, common.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, common.ErrAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, common.ErrFileTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, common.ErrAccountLocked), errors.Is(err, common.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, common.ErrNotConfigured):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError answers with {"error": ...}. Unknown errors are logged and
// hidden behind a generic message.
func writeError(w http.ResponseWriter, r *http.Request, log logging.Logger, err error) {
	status := StatusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		log.Error(r.Context(), "request failed", "method", r.Method, "path", r.URL.Path,
			"request_id", middleware.GetReqID(r.Context()), "err", err)
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]string{"error": msg})
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxJSONBody))
	if err := dec.Decode(v); err != nil {
		return common.Invalid("", fmt.Sprintf("invalid request body: %v", err))
	}
	return nil
}

// session returns the caller's session. Routes using it sit behind
// SessionAuth, so a missing session is a wiring bug.
func session(r *http.Request) (*models.Session, error) {
	s, ok := middlewares.SessionFrom(r.Context())
	if !ok {
		return nil, common.ErrUnauthorized
	}
	return s, nil
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
