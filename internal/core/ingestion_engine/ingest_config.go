package ingestion_engine

import (
	"sync"

	"github.com/markdave123-py/sopassistant/internal/core"
	"github.com/markdave123-py/sopassistant/internal/logging"
)

// IngestConfig tunes the pipeline.
//
// ChunkSize:    maximum characters of sentence text per chunk (e.g. 1000).
// ChunkOverlap: characters carried over from the previous chunk (e.g. 200).
// BatchSize:    chunks embedded and stored per batch (e.g. 100).
type IngestConfig struct {
	ChunkSize    int
	ChunkOverlap int
	BatchSize    int
}

// chunk is the internal representation passed through the pipeline.
//
// Pos:      zero-based position of the chunk inside the document (chunk_id).
// Text:     chunk content including the overlap prefix.
// TokenCnt: approximate token count.
type chunk struct {
	Pos      int
	Text     string
	TokenCnt int
}

// job is one file scheduled for ingestion.
type job struct {
	source string
	done   chan FileResult
}

// DocumentIngestor scans the SOP folder and runs the pipeline
// (extract, chunk, embed, store) for new or changed files.
//
// root:      SOP folder walked by the scanner.
// files:     reads raw files by path relative to root.
// store:     vector store receiving embedded chunks.
// embedder:  embedding provider.
// extractor: text extraction by file type.
// index:     content-hash index for skip-reprocessing.
// jobs:      queue of uploaded files for the worker pool.
type DocumentIngestor struct {
	root      string
	files     core.ObjectClient
	store     core.VectorStore
	embedder  core.EmbeddingProvider
	extractor core.DocumentExtractor
	index     *FileIndex
	cfg       IngestConfig
	log       logging.Logger
	jobs      chan job

	// syncMu keeps folder scans and queued jobs from interleaving.
	syncMu sync.Mutex
}
