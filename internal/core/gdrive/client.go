// Package gdrive downloads SOP documents from a Google Drive folder and
// keeps their companion metadata files.
package gdrive

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/oauth2"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/markdave123-py/sopassistant/internal/logging"
	"github.com/markdave123-py/sopassistant/internal/models"
)

const (
	folderMime = "application/vnd.google-apps.folder"
	pageSize   = 1000
)

// DocumentMimeTypes are the Drive files picked up by ListDocuments.
var DocumentMimeTypes = []string{
	"application/pdf",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	"application/msword",
	"text/csv",
	"text/markdown",
	"text/plain",
}

type File struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	MimeType     string `json:"mime_type,omitempty"`
	Size         int64  `json:"size,omitempty"`
	ModifiedTime string `json:"modified_time,omitempty"`
}

// SyncedFile is one downloaded document.
type SyncedFile struct {
	Path      string `json:"path"`
	DriveID   string `json:"gdrive_id"`
	DriveLink string `json:"gdrive_link"`
	Name      string `json:"name"`
}

type Client struct {
	svc *drive.Service
	log logging.Logger
}

// New builds a client over an OAuth token source.
func New(ctx context.Context, ts oauth2.TokenSource, log logging.Logger) (*Client, error) {
	return NewWithOptions(ctx, log, option.WithTokenSource(ts))
}

// NewWithOptions passes opts straight to drive.NewService.
func NewWithOptions(ctx context.Context, log logging.Logger, opts ...option.ClientOption) (*Client, error) {
	svc, err := drive.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("drive service: %w", err)
	}
	return &Client{svc: svc, log: log.With("component", "gdrive")}, nil
}

func (c *Client) ListFolders(ctx context.Context, parentID string) ([]File, error) {
	q := fmt.Sprintf("mimeType='%s' and trashed=false", folderMime)
	if parentID != "" {
		q += fmt.Sprintf(" and '%s' in parents", escapeQuery(parentID))
	}
	return c.list(ctx, q, "nextPageToken, files(id, name, parents)")
}

func (c *Client) ListDocuments(ctx context.Context, folderID string) ([]File, error) {
	mimes := make([]string, len(DocumentMimeTypes))
	for i, m := range DocumentMimeTypes {
		mimes[i] = fmt.Sprintf("mimeType='%s'", m)
	}
	q := fmt.Sprintf("'%s' in parents and trashed=false and (%s)", escapeQuery(folderID), strings.Join(mimes, " or "))
	return c.list(ctx, q, "nextPageToken, files(id, name, mimeType, size, modifiedTime)")
}

func (c *Client) list(ctx context.Context, q, fields string) ([]File, error) {
	var out []File
	err := c.svc.Files.List().
		Q(q).
		Fields(googleapi.Field(fields)).
		PageSize(pageSize).
		Pages(ctx, func(page *drive.FileList) error {
			for _, f := range page.Files {
				out = append(out, File{ID: f.Id, Name: f.Name, MimeType: f.MimeType, Size: f.Size, ModifiedTime: f.ModifiedTime})
			}
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("drive list: %w", err)
	}
	return out, nil
}

// Download stores f under localFolder and returns the local path.
func (c *Client) Download(ctx context.Context, f File, localFolder string) (string, error) {
	resp, err := c.svc.Files.Get(f.ID).Context(ctx).Download()
	if err != nil {
		return "", fmt.Errorf("drive download %s: %w", f.Name, err)
	}
	defer resp.Body.Close()

	if err := os.MkdirAll(localFolder, 0o755); err != nil {
		return "", err
	}
	dst := filepath.Join(localFolder, localName(f.Name))

	tmp, err := os.CreateTemp(localFolder, ".download-*")
	if err != nil {
		return "", err
	}
	defer os.Remove(tmp.Name())
	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		return "", fmt.Errorf("drive download %s: %w", f.Name, err)
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return "", err
	}
	return dst, nil
}

// SyncFolder downloads every document in folderID and writes its metadata
// file. Individual download failures are logged and skipped.
func (c *Client) SyncFolder(ctx context.Context, folderID, localFolder string) ([]SyncedFile, error) {
	docs, err := c.ListDocuments(ctx, folderID)
	if err != nil {
		return nil, err
	}
	c.log.Info(ctx, "drive folder listed", "folder", folderID, "documents", len(docs))

	out := make([]SyncedFile, 0, len(docs))
	for _, d := range docs {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		p, err := c.Download(ctx, d, localFolder)
		if err != nil {
			c.log.Warn(ctx, "drive download failed", "file", d.Name, "err", err)
			continue
		}
		meta := models.DriveMetadata{DriveID: d.ID, DriveLink: ViewLink(d.ID), DriveName: d.Name}
		if err := WriteMetadata(p, meta, true); err != nil {
			c.log.Warn(ctx, "write drive metadata", "file", d.Name, "err", err)
		}
		out = append(out, SyncedFile{Path: p, DriveID: d.ID, DriveLink: meta.DriveLink, Name: d.Name})
	}
	return out, nil
}

// localName keeps Drive names as-is apart from path separators.
func localName(name string) string {
	name = strings.NewReplacer("/", "_", `\`, "_").Replace(name)
	if name == "" || name == "." || name == ".." {
		return "untitled"
	}
	return name
}

func escapeQuery(s string) string {
	return strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(s)
}
