package core

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// DocumentExtractor defines the interface for extracting text from various document types.
type DocumentExtractor interface {
	// ExtractText parses data according to fileType (a lowercase extension
	// such as ".pdf") and streams non-empty text lines. Parsing runs inside
	// g so a failure cancels the rest of the pipeline.
	ExtractText(ctx context.Context, g *errgroup.Group, data []byte, fileType string) (<-chan string, error)
}
