package core

import (
	"context"
	"io"

	"github.com/markdave123-py/sopassistant/internal/models"
)

// ObjectClient stores raw document files by key.
type ObjectClient interface {
	UploadFile(ctx context.Context, key string, data io.Reader, contentType string) (location string, err error)
	GetObjectReader(ctx context.Context, key string) (io.ReadCloser, error)
	DeleteFile(ctx context.Context, key string) error
}

// VectorStore holds embedded chunks and answers nearest-neighbour queries
// by cosine distance.
type VectorStore interface {
	Add(ctx context.Context, chunks []models.DocumentChunk) error
	DeleteBySource(ctx context.Context, sources ...string) (int, error)
	Search(ctx context.Context, query []float32, k int) ([]models.SearchResult, error)
	Count(ctx context.Context) (int, error)
	Info(ctx context.Context) (models.CollectionInfo, error)
	Reset(ctx context.Context) error
}

// Flusher is implemented by stores that buffer writes. Flush makes every
// earlier Add durable.
type Flusher interface {
	Flush(ctx context.Context) error
}

// SessionStore keeps login sessions. Get returns common.ErrNotFound for
// unknown or expired sessions.
type SessionStore interface {
	Save(ctx context.Context, s *models.Session) error
	Get(ctx context.Context, id string) (*models.Session, error)
	Delete(ctx context.Context, id string) error
	DeleteByUser(ctx context.Context, username string) error
}

// CollectionName is the logical name of the SOP vector collection.
const CollectionName = "sop_documents"
