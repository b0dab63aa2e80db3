package ingestion_engine

import (
	"context"
	"fmt"
	"time"

	"github.com/markdave123-py/sopassistant/internal/models"
)

// fileMeta is the per-file metadata copied onto every chunk.
type fileMeta struct {
	Source   string
	Filename string
	FileType string
	Hash     string
}

// ChunkID is the stable vector id of a chunk: "<source>_<pos>".
func ChunkID(source string, pos int) string {
	return fmt.Sprintf("%s_%d", source, pos)
}

// embedAndPersist consumes chunks, embeds them in batches, and writes them
// to the vector store. It returns the number of stored chunks.
func (i *DocumentIngestor) embedAndPersist(
	ctx context.Context,
	meta fileMeta,
	in <-chan chunk,
	batchSize int,
) (int, error) {
	if batchSize <= 0 {
		batchSize = 100
	}
	batch := make([]chunk, 0, batchSize)
	stored := 0

	flush := func(items []chunk) error {
		if len(items) == 0 {
			return nil
		}

		texts := make([]string, len(items))
		for idx := range items {
			texts[idx] = items[idx].Text
		}

		vecs, err := i.embedder.EmbedDocuments(ctx, texts)
		if err != nil {
			return fmt.Errorf("embed: %w", err)
		}
		if len(vecs) != len(items) {
			return fmt.Errorf("embed size mismatch: got %d want %d", len(vecs), len(items))
		}

		now := time.Now().UTC()
		rows := make([]models.DocumentChunk, len(items))
		for k := range items {
			rows[k] = models.DocumentChunk{
				ID:          ChunkID(meta.Source, items[k].Pos),
				Source:      meta.Source,
				Filename:    meta.Filename,
				ChunkID:     items[k].Pos,
				FileType:    meta.FileType,
				ContentHash: meta.Hash,
				Text:        items[k].Text,
				TokenCount:  items[k].TokenCnt,
				Embedding:   vecs[k],
				CreatedAt:   now,
			}
		}
		if err := i.store.Add(ctx, rows); err != nil {
			return fmt.Errorf("store chunks: %w", err)
		}
		stored += len(rows)
		return nil
	}

	for c := range in {
		batch = append(batch, c)
		if len(batch) == batchSize {
			if err := flush(batch); err != nil {
				return stored, err
			}
			batch = batch[:0]
		}
	}
	if err := ctx.Err(); err != nil {
		return stored, err
	}
	if err := flush(batch); err != nil {
		return stored, err
	}
	return stored, nil
}
