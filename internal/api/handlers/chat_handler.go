package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/markdave123-py/sopassistant/internal/core/chathistory"
	"github.com/markdave123-py/sopassistant/internal/core/experts"
	"github.com/markdave123-py/sopassistant/internal/logging"
	"github.com/markdave123-py/sopassistant/internal/models"
	"github.com/markdave123-py/sopassistant/internal/services"
)

type RAG interface {
	Query(ctx context.Context, req services.QueryRequest) (*services.Answer, error)
}

type HistoryStore interface {
	Save(ctx context.Context, username string, req chathistory.SaveRequest) (*models.ChatEntry, error)
	List(ctx context.Context, username string, limit int) ([]models.ChatEntry, error)
	Get(ctx context.Context, username, id string) (*models.ChatEntry, error)
	Delete(ctx context.Context, username, id string) error
	Clear(ctx context.Context, username string) error
}

type ChatHandler struct {
	rag     RAG
	history HistoryStore
	catalog *experts.Catalog
	log     logging.Logger
}

func NewChatHandler(rag RAG, history HistoryStore, catalog *experts.Catalog, log logging.Logger) *ChatHandler {
	return &ChatHandler{rag: rag, history: history, catalog: catalog, log: log}
}

// Chat answers one question from the SOP collection.
func (h *ChatHandler) Chat(w http.ResponseWriter, r *http.Request) {
	sess, err := session(r)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	var req services.QueryRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.log, err)
		return
	}
	req.Username = sess.Username

	ans, err := h.rag.Query(r.Context(), req)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, ans)
}

func (h *ChatHandler) ListHistory(w http.ResponseWriter, r *http.Request) {
	sess, err := session(r)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	entries, err := h.history.List(r.Context(), sess.Username, limit)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"chats": entries})
}

func (h *ChatHandler) SaveHistory(w http.ResponseWriter, r *http.Request) {
	sess, err := session(r)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	var req chathistory.SaveRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.log, err)
		return
	}
	entry, err := h.history.Save(r.Context(), sess.Username, req)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

func (h *ChatHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	sess, err := session(r)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	entry, err := h.history.Get(r.Context(), sess.Username, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (h *ChatHandler) DeleteHistory(w http.ResponseWriter, r *http.Request) {
	sess, err := session(r)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	if err := h.history.Delete(r.Context(), sess.Username, chi.URLParam(r, "id")); err != nil {
		writeError(w, r, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *ChatHandler) ClearHistory(w http.ResponseWriter, r *http.Request) {
	sess, err := session(r)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	if err := h.history.Clear(r.Context(), sess.Username); err != nil {
		writeError(w, r, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Experts lists the persona catalog.
func (h *ChatHandler) Experts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"experts": h.catalog.All(), "max_per_question": experts.MaxExperts})
}
