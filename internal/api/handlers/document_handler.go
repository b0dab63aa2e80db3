package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path/filepath"

	"github.com/markdave123-py/sopassistant/internal/common"
	"github.com/markdave123-py/sopassistant/internal/core/gdrive"
	ingest "github.com/markdave123-py/sopassistant/internal/core/ingestion_engine"
	"github.com/markdave123-py/sopassistant/internal/logging"
	"github.com/markdave123-py/sopassistant/internal/models"
	"github.com/markdave123-py/sopassistant/internal/services"
)

type DocumentsAPI interface {
	Upload(ctx context.Context, actor, filename string, r io.Reader) (*services.UploadResult, error)
	Delete(ctx context.Context, actor, source string) (int, error)
	Download(ctx context.Context, actor, source string) (io.ReadCloser, string, error)
	Info(ctx context.Context) (models.CollectionInfo, error)
	Sync(ctx context.Context, actor string) (*ingest.SyncReport, error)
	Reset(ctx context.Context, actor string) error
	DriveSync(ctx context.Context, actor string) (*services.DriveSyncResult, error)
	ListFolders(ctx context.Context) ([]gdrive.File, error)
}

type DocumentHandler struct {
	docs        DocumentsAPI
	maxFileSize int64
	log         logging.Logger
}

func NewDocumentHandler(docs DocumentsAPI, maxFileSize int64, log logging.Logger) *DocumentHandler {
	return &DocumentHandler{docs: docs, maxFileSize: maxFileSize, log: log}
}

func (h *DocumentHandler) List(w http.ResponseWriter, r *http.Request) {
	info, err := h.docs.Info(r.Context())
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// Upload handles a multipart upload in the "file" field.
func (h *DocumentHandler) Upload(w http.ResponseWriter, r *http.Request) {
	sess, err := session(r)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}

	// leave room for the multipart envelope
	r.Body = http.MaxBytesReader(w, r.Body, h.maxFileSize+1<<20)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, r, h.log, common.ErrFileTooLarge)
			return
		}
		writeError(w, r, h.log, common.Invalid("file", "invalid multipart form"))
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, r, h.log, common.Invalid("file", "missing file field"))
		return
	}
	defer file.Close()

	res, err := h.docs.Upload(r.Context(), sess.Username, header.Filename, file)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (h *DocumentHandler) Delete(w http.ResponseWriter, r *http.Request) {
	sess, err := session(r)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	n, err := h.docs.Delete(r.Context(), sess.Username, r.URL.Query().Get("source"))
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted_chunks": n})
}

func (h *DocumentHandler) Download(w http.ResponseWriter, r *http.Request) {
	sess, err := session(r)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	rc, name, err := h.docs.Download(r.Context(), sess.Username, r.URL.Query().Get("source"))
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	defer rc.Close()

	ct := mime.TypeByExtension(filepath.Ext(name))
	if ct == "" {
		ct = "application/octet-stream"
	}
	w.Header().Set("Content-Type", ct)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
	if _, err := io.Copy(w, rc); err != nil {
		h.log.Warn(r.Context(), "download interrupted", "source", name, "err", err)
	}
}

func (h *DocumentHandler) Sync(w http.ResponseWriter, r *http.Request) {
	sess, err := session(r)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	report, err := h.docs.Sync(r.Context(), sess.Username)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *DocumentHandler) Reset(w http.ResponseWriter, r *http.Request) {
	sess, err := session(r)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	if err := h.docs.Reset(r.Context(), sess.Username); err != nil {
		writeError(w, r, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *DocumentHandler) DriveSync(w http.ResponseWriter, r *http.Request) {
	sess, err := session(r)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	res, err := h.docs.DriveSync(r.Context(), sess.Username)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *DocumentHandler) DriveFolders(w http.ResponseWriter, r *http.Request) {
	folders, err := h.docs.ListFolders(r.Context())
	if err != nil {
		writeError(w, r, h.log, fmt.Errorf("list drive folders: %w", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"folders": folders})
}
