package vectorstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/sopassistant/internal/models"
)

func mk(id, source string, emb ...float32) models.DocumentChunk {
	return models.DocumentChunk{ID: id, Source: source, Filename: source, Text: id, Embedding: emb}
}

func TestMemoryStore_SearchOrdersByCosine(t *testing.T) {
	ctx := context.Background()
	s, err := NewMemoryStore("", 2, 5)
	require.NoError(t, err)

	require.NoError(t, s.Add(ctx, []models.DocumentChunk{
		mk("far", "a.md", 0, 1),
		mk("near", "a.md", 1, 0.1),
		mk("mid", "b.md", 1, 1),
	}))

	got, err := s.Search(ctx, []float32{1, 0}, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "near", got[0].Chunk.ID)
	assert.Equal(t, "mid", got[1].Chunk.ID)
	assert.Greater(t, got[0].Score, got[1].Score)
	assert.InDelta(t, 1-got[0].Distance, got[0].Score, 1e-12)
}

func TestMemoryStore_DefaultK(t *testing.T) {
	ctx := context.Background()
	s, err := NewMemoryStore("", 1, 2)
	require.NoError(t, err)
	require.NoError(t, s.Add(ctx, []models.DocumentChunk{mk("a", "x", 1), mk("b", "x", 1), mk("c", "x", 1)}))

	got, err := s.Search(ctx, []float32{1}, 0)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestMemoryStore_RejectsBadEmbeddings(t *testing.T) {
	s, err := NewMemoryStore("", 3, 5)
	require.NoError(t, err)

	assert.Error(t, s.Add(context.Background(), []models.DocumentChunk{mk("a", "x")}))
	assert.Error(t, s.Add(context.Background(), []models.DocumentChunk{mk("a", "x", 1, 2)}))
	_, err = s.Search(context.Background(), nil, 1)
	assert.Error(t, err)
}

func TestMemoryStore_DeleteInfoReset(t *testing.T) {
	ctx := context.Background()
	s, err := NewMemoryStore("", 1, 5)
	require.NoError(t, err)
	require.NoError(t, s.Add(ctx, []models.DocumentChunk{mk("a_0", "a.md", 1), mk("a_1", "a.md", 1), mk("b_0", "b.md", 1)}))

	info, err := s.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.CollectionInfo{Name: "sop_documents", Count: 3, UniqueDocuments: 2, Sources: []string{"a.md", "b.md"}}, info)

	n, err := s.DeleteBySource(ctx, "a.md")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	count, _ := s.Count(ctx)
	assert.Equal(t, 1, count)

	require.NoError(t, s.Reset(ctx))
	count, _ = s.Count(ctx)
	assert.Zero(t, count)
}

func TestMemoryStore_PersistsAcrossRestart(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := NewMemoryStore(dir, 2, 5)
	require.NoError(t, err)
	require.NoError(t, s.Add(ctx, []models.DocumentChunk{mk("a_0", "a.md", 0.5, 0.5)}))
	require.NoError(t, s.Flush(ctx))

	reopened, err := NewMemoryStore(dir, 2, 5)
	require.NoError(t, err)

	got, err := reopened.Search(ctx, []float32{1, 1}, 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "a_0", got[0].Chunk.ID)
	assert.Equal(t, []float32{0.5, 0.5}, got[0].Chunk.Embedding)
}

func TestMemoryStore_AddIsBufferedUntilFlush(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	snap := filepath.Join(dir, snapshotFile)

	s, err := NewMemoryStore(dir, 2, 5)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		require.NoError(t, s.Add(ctx, []models.DocumentChunk{mk(fmt.Sprintf("a_%d", i), "a.md", 1, float32(i))}))
	}
	assert.NoFileExists(t, snap)

	require.NoError(t, s.Flush(ctx))
	require.FileExists(t, snap)
	st, err := os.Stat(snap)
	require.NoError(t, err)

	// nothing new: the snapshot is left alone
	require.NoError(t, s.Flush(ctx))
	again, err := os.Stat(snap)
	require.NoError(t, err)
	assert.Equal(t, st.ModTime(), again.ModTime())

	require.NoError(t, s.Add(ctx, []models.DocumentChunk{mk("b_0", "b.md", 0, 1)}))
	require.NoError(t, s.Close())
	reopened, err := NewMemoryStore(dir, 2, 5)
	require.NoError(t, err)
	n, err := reopened.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	// deletes are written straight away
	_, err = reopened.DeleteBySource(ctx, "a.md")
	require.NoError(t, err)
	third, err := NewMemoryStore(dir, 2, 5)
	require.NoError(t, err)
	n, err = third.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestCosineDistance(t *testing.T) {
	assert.InDelta(t, 0, CosineDistance([]float32{1, 0}, []float32{2, 0}), 1e-12)
	assert.InDelta(t, 1, CosineDistance([]float32{1, 0}, []float32{0, 1}), 1e-12)
	assert.InDelta(t, 2, CosineDistance([]float32{1, 0}, []float32{-1, 0}), 1e-12)
	assert.Equal(t, 1.0, CosineDistance([]float32{0, 0}, []float32{1, 0}))
}
