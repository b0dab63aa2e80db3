package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"path"
	"path/filepath"

	"github.com/markdave123-py/sopassistant/internal/audit"
	"github.com/markdave123-py/sopassistant/internal/common"
	"github.com/markdave123-py/sopassistant/internal/core"
	"github.com/markdave123-py/sopassistant/internal/core/gdrive"
	ingest "github.com/markdave123-py/sopassistant/internal/core/ingestion_engine"
	"github.com/markdave123-py/sopassistant/internal/logging"
	"github.com/markdave123-py/sopassistant/internal/models"
	"github.com/markdave123-py/sopassistant/internal/security"
)

// Ingestor is the part of the ingestion engine the document service drives.
type Ingestor interface {
	EnqueueWait(ctx context.Context, source string) (<-chan ingest.FileResult, error)
	Sync(ctx context.Context) (*ingest.SyncReport, error)
	RemoveSource(ctx context.Context, source string) (int, error)
	Reset(ctx context.Context) error
}

// DriveSyncer downloads a Drive folder into the SOP folder.
type DriveSyncer interface {
	SyncFolder(ctx context.Context, folderID, localFolder string) ([]gdrive.SyncedFile, error)
	ListFolders(ctx context.Context, parentID string) ([]gdrive.File, error)
}

type DocumentConfig struct {
	SOPFolder     string
	DriveFolderID string
	MaxFileSize   int64
	// WaitForIngest makes Upload return only after the file is embedded.
	WaitForIngest bool
}

type UploadResult struct {
	Source  string `json:"source"`
	Size    int64  `json:"size"`
	Archive string `json:"archive,omitempty"`
	Queued  bool   `json:"queued"`
	Chunks  int    `json:"chunks"`
}

type DriveSyncResult struct {
	Downloaded []gdrive.SyncedFile `json:"downloaded"`
	Report     *ingest.SyncReport  `json:"report"`
}

type DocumentService struct {
	local   core.ObjectClient
	archive core.ObjectClient
	ingest  Ingestor
	store   core.VectorStore
	drive   DriveSyncer
	audit   *audit.Recorder
	cfg     DocumentConfig
	log     logging.Logger
}

// NewDocumentService wires the document operations. archive and drive may
// be nil when S3 or Drive are not configured.
func NewDocumentService(local, archive core.ObjectClient, ing Ingestor, store core.VectorStore, drive DriveSyncer, rec *audit.Recorder, cfg DocumentConfig, log logging.Logger) *DocumentService {
	return &DocumentService{
		local: local, archive: archive, ingest: ing, store: store, drive: drive,
		audit: rec, cfg: cfg, log: log.With("component", "documents"),
	}
}

// Upload validates the file, stores it in the SOP folder, archives it and
// schedules ingestion.
func (s *DocumentService) Upload(ctx context.Context, actor, filename string, r io.Reader) (*UploadResult, error) {
	data, err := io.ReadAll(io.LimitReader(r, s.cfg.MaxFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	head := data
	if len(head) > 512 {
		head = head[:512]
	}
	if err := security.ValidateUpload(filename, int64(len(data)), s.cfg.MaxFileSize, head); err != nil {
		s.audit.Record(ctx, audit.Event{Type: audit.SuspiciousActivity, Username: actor,
			Details: map[string]any{"action": "upload_rejected", "filename": filename, "reason": err.Error()}})
		return nil, err
	}

	source := security.SanitizeFilename(filename)
	ct := mime.TypeByExtension(filepath.Ext(source))
	if ct == "" {
		ct = "application/octet-stream"
	}

	if _, err := s.local.UploadFile(ctx, source, bytes.NewReader(data), ct); err != nil {
		return nil, fmt.Errorf("store upload: %w", err)
	}
	res := &UploadResult{Source: source, Size: int64(len(data))}

	if s.archive != nil {
		loc, err := s.archive.UploadFile(ctx, source, bytes.NewReader(data), ct)
		if err != nil {
			s.log.Warn(ctx, "archive upload failed", "source", source, "err", err)
		} else {
			res.Archive = loc
		}
	}

	done, err := s.ingest.EnqueueWait(ctx, source)
	if err != nil {
		return nil, fmt.Errorf("queue ingestion: %w", err)
	}
	res.Queued = true

	s.audit.Record(ctx, audit.Event{Type: audit.FileUpload, Username: actor,
		Details: map[string]any{"filename": source, "size": res.Size}})

	if !s.cfg.WaitForIngest {
		return res, nil
	}
	select {
	case fr := <-done:
		if fr.Err != nil {
			return res, fmt.Errorf("ingest %s: %w", source, fr.Err)
		}
		res.Chunks = fr.Chunks
		return res, nil
	case <-ctx.Done():
		return res, ctx.Err()
	}
}

// Delete removes a source file, its chunks, its Drive metadata and its
// archived copy.
func (s *DocumentService) Delete(ctx context.Context, actor, source string) (int, error) {
	source, err := cleanSource(source)
	if err != nil {
		return 0, err
	}

	n, err := s.ingest.RemoveSource(ctx, source)
	if err != nil {
		return 0, err
	}
	fileErr := s.local.DeleteFile(ctx, source)
	if fileErr != nil && !errors.Is(fileErr, common.ErrNotFound) {
		return n, fileErr
	}
	if n == 0 && errors.Is(fileErr, common.ErrNotFound) {
		return 0, fmt.Errorf("document %s: %w", source, common.ErrNotFound)
	}
	if err := s.local.DeleteFile(ctx, gdrive.MetadataPath(source)); err != nil && !errors.Is(err, common.ErrNotFound) {
		s.log.Warn(ctx, "remove drive metadata", "source", source, "err", err)
	}
	if s.archive != nil {
		if err := s.archive.DeleteFile(ctx, source); err != nil {
			s.log.Warn(ctx, "remove archived copy", "source", source, "err", err)
		}
	}

	s.audit.Record(ctx, audit.Event{Type: audit.AdminAction, Username: actor,
		Details: map[string]any{"action": "delete_document", "source": source, "chunks": n}})
	return n, nil
}

// Download opens an indexed source file for reading. The caller closes it.
func (s *DocumentService) Download(ctx context.Context, actor, source string) (io.ReadCloser, string, error) {
	source, err := cleanSource(source)
	if err != nil {
		return nil, "", err
	}
	if !ingest.IsIndexable(source) {
		return nil, "", fmt.Errorf("document %s: %w", source, common.ErrNotFound)
	}
	rc, err := s.local.GetObjectReader(ctx, source)
	if err != nil {
		return nil, "", err
	}
	s.audit.Record(ctx, audit.Event{Type: audit.FileDownload, Username: actor, Details: map[string]any{"filename": source}})
	return rc, path.Base(source), nil
}

func (s *DocumentService) Info(ctx context.Context) (models.CollectionInfo, error) {
	return s.store.Info(ctx)
}

func (s *DocumentService) Sync(ctx context.Context, actor string) (*ingest.SyncReport, error) {
	report, err := s.ingest.Sync(ctx)
	if err != nil {
		return report, err
	}
	s.audit.Record(ctx, audit.Event{Type: audit.AdminAction, Username: actor,
		Details: map[string]any{"action": "sync_documents", "processed": len(report.Processed), "removed": len(report.Removed)}})
	return report, nil
}

func (s *DocumentService) Reset(ctx context.Context, actor string) error {
	if err := s.ingest.Reset(ctx); err != nil {
		return err
	}
	s.audit.Record(ctx, audit.Event{Type: audit.AdminAction, Username: actor, Details: map[string]any{"action": "reset_vector_store"}})
	return nil
}

// DriveSync downloads the configured Drive folder and rescans the SOP folder.
func (s *DocumentService) DriveSync(ctx context.Context, actor string) (*DriveSyncResult, error) {
	if s.drive == nil || s.cfg.DriveFolderID == "" {
		return nil, fmt.Errorf("google drive: %w", common.ErrNotConfigured)
	}
	files, err := s.drive.SyncFolder(ctx, s.cfg.DriveFolderID, s.cfg.SOPFolder)
	if err != nil {
		return nil, err
	}
	report, err := s.ingest.Sync(ctx)
	if err != nil {
		return nil, err
	}
	s.audit.Record(ctx, audit.Event{Type: audit.AdminAction, Username: actor,
		Details: map[string]any{"action": "drive_sync", "downloaded": len(files), "processed": len(report.Processed)}})
	return &DriveSyncResult{Downloaded: files, Report: report}, nil
}

func (s *DocumentService) ListFolders(ctx context.Context) ([]gdrive.File, error) {
	if s.drive == nil || s.cfg.DriveFolderID == "" {
		return nil, fmt.Errorf("google drive: %w", common.ErrNotConfigured)
	}
	return s.drive.ListFolders(ctx, s.cfg.DriveFolderID)
}

func cleanSource(source string) (string, error) {
	if source == "" {
		return "", common.Invalid("source", "is required")
	}
	clean := path.Clean("/" + filepath.ToSlash(source))[1:]
	if clean == "" || clean != filepath.ToSlash(source) {
		return "", common.Invalid("source", "must be a relative path inside the SOP folder")
	}
	return clean, nil
}
