// Package vectorstore implements core.VectorStore in memory with an
// optional on-disk snapshot.
package vectorstore

import (
	"context"
	"encoding/gob"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/markdave123-py/sopassistant/internal/core"
	"github.com/markdave123-py/sopassistant/internal/models"
)

const snapshotFile = core.CollectionName + ".gob"

// MemoryStore does brute-force cosine search over all chunks. When dir is
// set, deletes and resets rewrite dir/sop_documents.gob at once while added
// chunks are written on Flush or Close.
type MemoryStore struct {
	mu       sync.RWMutex
	chunks   map[string]models.DocumentChunk
	dim      int
	defaultK int
	dir      string
	dirty    bool
}

var (
	_ core.VectorStore = (*MemoryStore)(nil)
	_ core.Flusher     = (*MemoryStore)(nil)
)

// NewMemoryStore loads an existing snapshot from dir, if any. An empty dir
// keeps everything in memory only.
func NewMemoryStore(dir string, dim, defaultK int) (*MemoryStore, error) {
	if defaultK <= 0 {
		defaultK = 5
	}
	s := &MemoryStore{chunks: make(map[string]models.DocumentChunk), dim: dim, defaultK: defaultK, dir: dir}
	if dir == "" {
		return s, nil
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create persist dir: %w", err)
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *MemoryStore) Add(_ context.Context, chunks []models.DocumentChunk) error {
	for i := range chunks {
		if len(chunks[i].Embedding) == 0 {
			return fmt.Errorf("chunk %s: empty embedding", chunks[i].ID)
		}
		if s.dim > 0 && len(chunks[i].Embedding) != s.dim {
			return fmt.Errorf("chunk %s: embedding dimension %d, want %d", chunks[i].ID, len(chunks[i].Embedding), s.dim)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range chunks {
		s.chunks[c.ID] = c
	}
	s.dirty = true
	return nil
}

// Flush writes the snapshot if anything was added since the last write.
func (s *MemoryStore) Flush(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.dirty {
		return nil
	}
	return s.persistLocked()
}

func (s *MemoryStore) Close() error { return s.Flush(context.Background()) }

func (s *MemoryStore) DeleteBySource(_ context.Context, sources ...string) (int, error) {
	if len(sources) == 0 {
		return 0, nil
	}
	drop := make(map[string]struct{}, len(sources))
	for _, src := range sources {
		drop[src] = struct{}{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, c := range s.chunks {
		if _, ok := drop[c.Source]; ok {
			delete(s.chunks, id)
			n++
		}
	}
	if n == 0 {
		return 0, nil
	}
	return n, s.persistLocked()
}

func (s *MemoryStore) Search(_ context.Context, query []float32, k int) ([]models.SearchResult, error) {
	if len(query) == 0 {
		return nil, fmt.Errorf("empty query embedding")
	}
	if k <= 0 {
		k = s.defaultK
	}

	s.mu.RLock()
	results := make([]models.SearchResult, 0, len(s.chunks))
	for _, c := range s.chunks {
		if len(c.Embedding) != len(query) {
			continue
		}
		d := CosineDistance(query, c.Embedding)
		results = append(results, models.SearchResult{Chunk: c, Distance: d, Score: 1 - d})
	}
	s.mu.RUnlock()

	sort.Slice(results, func(i, j int) bool {
		if results[i].Distance != results[j].Distance {
			return results[i].Distance < results[j].Distance
		}
		return results[i].Chunk.ID < results[j].Chunk.ID
	})
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

func (s *MemoryStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chunks), nil
}

func (s *MemoryStore) Info(_ context.Context) (models.CollectionInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]struct{})
	for _, c := range s.chunks {
		seen[c.Source] = struct{}{}
	}
	sources := make([]string, 0, len(seen))
	for src := range seen {
		sources = append(sources, src)
	}
	sort.Strings(sources)

	return models.CollectionInfo{
		Name:            core.CollectionName,
		Count:           len(s.chunks),
		UniqueDocuments: len(sources),
		Sources:         sources,
	}, nil
}

func (s *MemoryStore) Reset(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunks = make(map[string]models.DocumentChunk)
	return s.persistLocked()
}

// CosineDistance is 1 - cos(a, b). Zero vectors are at distance 1.
func CosineDistance(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}

type snapshot struct {
	Chunks []models.DocumentChunk
}

func (s *MemoryStore) persistLocked() error {
	if s.dir == "" {
		s.dirty = false
		return nil
	}

	snap := snapshot{Chunks: make([]models.DocumentChunk, 0, len(s.chunks))}
	for _, c := range s.chunks {
		snap.Chunks = append(snap.Chunks, c)
	}

	tmp, err := os.CreateTemp(s.dir, snapshotFile+".*")
	if err != nil {
		return fmt.Errorf("persist vectors: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := gob.NewEncoder(tmp).Encode(&snap); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("encode vectors: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("persist vectors: %w", err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(s.dir, snapshotFile)); err != nil {
		return err
	}
	s.dirty = false
	return nil
}

func (s *MemoryStore) load() error {
	f, err := os.Open(filepath.Join(s.dir, snapshotFile))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open vector snapshot: %w", err)
	}
	defer f.Close()

	var snap snapshot
	if err := gob.NewDecoder(f).Decode(&snap); err != nil {
		return fmt.Errorf("decode vector snapshot: %w", err)
	}
	for _, c := range snap.Chunks {
		s.chunks[c.ID] = c
	}
	return nil
}
