package ingestion_engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/sopassistant/internal/core/object-client"
	"github.com/markdave123-py/sopassistant/internal/core/vectorstore"
	"github.com/markdave123-py/sopassistant/internal/logging"
)

// fakeEmbedder returns a 3-dim vector per text and can be told to fail on
// texts containing a marker.
type fakeEmbedder struct {
	mu     sync.Mutex
	calls  int
	failOn string
}

func (f *fakeEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if f.failOn != "" && strings.Contains(t, f.failOn) {
			return nil, errors.New("embedding quota exceeded")
		}
		out[i] = []float32{float32(len(t)), 1, 0}
	}
	return out, nil
}

func (f *fakeEmbedder) EmbedQuery(_ context.Context, q string) ([]float32, error) {
	return []float32{float32(len(q)), 1, 0}, nil
}

func (f *fakeEmbedder) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fixture struct {
	root  string
	ing   *DocumentIngestor
	store *vectorstore.MemoryStore
	emb   *fakeEmbedder
	index *FileIndex
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()

	files, err := objectclient.NewLocalClient(root)
	require.NoError(t, err)
	store, err := vectorstore.NewMemoryStore("", 3, 5)
	require.NoError(t, err)
	index, err := LoadFileIndex(filepath.Join(t.TempDir(), IndexFileName))
	require.NoError(t, err)

	emb := &fakeEmbedder{}
	ing := NewDocumentIngestor(root, files, store, emb, NewExtractor(logging.Discard()), index,
		IngestConfig{ChunkSize: 60, ChunkOverlap: 10, BatchSize: 2}, logging.Discard())

	return &fixture{root: root, ing: ing, store: store, emb: emb, index: index}
}

func (f *fixture) write(t *testing.T, rel, content string) {
	t.Helper()
	p := filepath.Join(f.root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
}
