package ingestion_engine

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/markdave123-py/sopassistant/internal/core"
	"github.com/markdave123-py/sopassistant/internal/logging"
)

const fileTimeout = 5 * time.Minute

// FileResult is the outcome of ingesting one file.
type FileResult struct {
	Source string
	Hash   string
	Chunks int
	Err    error

	// dropped is set once the previous chunks of Source are gone.
	dropped bool
}

// NewDocumentIngestor constructs the ingestor with a bounded job queue (64).
func NewDocumentIngestor(
	root string,
	files core.ObjectClient,
	store core.VectorStore,
	emb core.EmbeddingProvider,
	extractor core.DocumentExtractor,
	index *FileIndex,
	cfg IngestConfig,
	log logging.Logger,
) *DocumentIngestor {
	return &DocumentIngestor{
		root: root, files: files, store: store, embedder: emb, extractor: extractor,
		index: index, cfg: cfg, log: log.With("component", "ingestor"),
		jobs: make(chan job, 64),
	}
}

// Start runs numWorkers goroutines draining the upload queue until ctx is done.
func (i *DocumentIngestor) Start(ctx context.Context, numWorkers int) {
	if numWorkers <= 0 {
		numWorkers = 1
	}
	for w := 1; w <= numWorkers; w++ {
		go func(w int) {
			for {
				select {
				case <-ctx.Done():
					i.log.Debug(ctx, "worker shutting down", "worker", w)
					return
				case j := <-i.jobs:
					i.log.Info(ctx, "processing queued file", "source", j.source, "worker", w)
					res := i.IngestFile(ctx, j.source)
					if res.Err != nil {
						i.log.Error(ctx, "queued file failed", "source", j.source, "err", res.Err)
					}
					if j.done != nil {
						j.done <- res
						close(j.done)
					}
				}
			}
		}(w)
	}
}

// Enqueue schedules source (relative to the SOP folder) for ingestion.
// It blocks while the queue is full, until ctx is done.
func (i *DocumentIngestor) Enqueue(ctx context.Context, source string) error {
	return i.enqueue(ctx, job{source: source})
}

// EnqueueWait schedules source and returns a channel that receives the
// result once a worker has processed it.
func (i *DocumentIngestor) EnqueueWait(ctx context.Context, source string) (<-chan FileResult, error) {
	done := make(chan FileResult, 1)
	if err := i.enqueue(ctx, job{source: source, done: done}); err != nil {
		return nil, err
	}
	return done, nil
}

func (i *DocumentIngestor) enqueue(ctx context.Context, j job) error {
	select {
	case i.jobs <- j:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IngestFile processes one file now and records its hash in the index.
func (i *DocumentIngestor) IngestFile(ctx context.Context, source string) FileResult {
	i.syncMu.Lock()
	defer i.syncMu.Unlock()

	res := i.processFile(ctx, source)
	if res.Err != nil {
		if res.dropped {
			// nothing of source is indexed any more; let the next scan pick it up
			if err := i.index.Delete(source); err != nil {
				i.log.Warn(ctx, "forget failed file", "source", source, "err", err)
			}
		}
		return res
	}
	if err := i.index.Set(source, res.Hash); err != nil {
		res.Err = fmt.Errorf("update index: %w", err)
	}
	return res
}

// processFile replaces all chunks of source with freshly embedded ones.
func (i *DocumentIngestor) processFile(ctx context.Context, source string) FileResult {
	res := FileResult{Source: source}

	proctx, cancel := context.WithTimeout(ctx, fileTimeout)
	defer cancel()

	data, err := i.readFile(proctx, source)
	if err != nil {
		res.Err = err
		return res
	}

	res.Hash, err = HashContent(bytes.NewReader(data))
	if err != nil {
		res.Err = err
		return res
	}

	// The previous version of the file is superseded, never patched.
	if _, err := i.store.DeleteBySource(proctx, source); err != nil {
		res.Err = fmt.Errorf("drop old chunks: %w", err)
		return res
	}
	res.dropped = true
	defer i.flushStore(ctx, source)

	meta := fileMeta{
		Source:   source,
		Filename: path.Base(source),
		FileType: strings.ToLower(path.Ext(source)),
		Hash:     res.Hash,
	}

	g, gctx := errgroup.WithContext(proctx)

	lineCh, err := i.extractor.ExtractText(gctx, g, data, meta.FileType)
	if err != nil {
		res.Err = err
		return res
	}

	chunkCh := streamChunk(gctx, g, lineCh, i.cfg.ChunkSize, i.cfg.ChunkOverlap)

	g.Go(func() error {
		n, err := i.embedAndPersist(gctx, meta, chunkCh, i.cfg.BatchSize)
		res.Chunks = n
		return err
	})

	if err := g.Wait(); err != nil {
		// do not leave a half-indexed file behind
		if _, derr := i.store.DeleteBySource(context.WithoutCancel(ctx), source); derr != nil {
			i.log.Warn(ctx, "cleanup after failed ingest", "source", source, "err", derr)
		}
		res.Chunks = 0
		res.Err = fmt.Errorf("ingest %s: %w", source, err)
		return res
	}

	i.log.Info(ctx, "file ingested", "source", source, "chunks", res.Chunks)
	return res
}

// flushStore makes the chunks of one file durable in stores that buffer.
func (i *DocumentIngestor) flushStore(ctx context.Context, source string) {
	f, ok := i.store.(core.Flusher)
	if !ok {
		return
	}
	if err := f.Flush(context.WithoutCancel(ctx)); err != nil {
		i.log.Warn(ctx, "flush vector store", "source", source, "err", err)
	}
}

func (i *DocumentIngestor) readFile(ctx context.Context, source string) ([]byte, error) {
	rc, err := i.files.GetObjectReader(ctx, source)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", source, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", source, err)
	}
	return data, nil
}
