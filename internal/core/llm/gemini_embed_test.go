package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/generative-ai-go/genai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeEmbedder(batchSize int, fn func(ctx context.Context, task genai.TaskType, texts []string) ([][]float32, error)) *GeminiEmbedder {
	g := newEmbedder("", batchSize)
	g.retryDelay = time.Millisecond
	g.embedBatch = fn
	return g
}

func vecsFor(texts []string) [][]float32 {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t))}
	}
	return out
}

func TestEmbedDocuments_Batches(t *testing.T) {
	var sizes []int
	g := fakeEmbedder(2, func(_ context.Context, task genai.TaskType, texts []string) ([][]float32, error) {
		assert.Equal(t, genai.TaskTypeRetrievalDocument, task)
		sizes = append(sizes, len(texts))
		return vecsFor(texts), nil
	})

	got, err := g.EmbedDocuments(context.Background(), []string{"a", "bb", "ccc", "dddd", "eeeee"})
	require.NoError(t, err)
	require.Len(t, got, 5)
	assert.Equal(t, []int{2, 2, 1}, sizes)
	assert.Equal(t, float32(3), got[2][0])
}

func TestEmbedDocuments_Empty(t *testing.T) {
	g := fakeEmbedder(10, func(context.Context, genai.TaskType, []string) ([][]float32, error) {
		t.Fatal("should not call the API")
		return nil, nil
	})

	got, err := g.EmbedDocuments(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestEmbedQuery_RetriesThenSucceeds(t *testing.T) {
	calls := 0
	g := fakeEmbedder(10, func(_ context.Context, task genai.TaskType, texts []string) ([][]float32, error) {
		assert.Equal(t, genai.TaskTypeRetrievalQuery, task)
		calls++
		if calls < 3 {
			return nil, errors.New("503")
		}
		return vecsFor(texts), nil
	})

	v, err := g.EmbedQuery(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []float32{5}, v)
	assert.Equal(t, 3, calls)
}

func TestEmbedQuery_GivesUpAfterThreeAttempts(t *testing.T) {
	calls := 0
	g := fakeEmbedder(10, func(context.Context, genai.TaskType, []string) ([][]float32, error) {
		calls++
		return nil, errors.New("quota")
	})

	_, err := g.EmbedQuery(context.Background(), "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quota")
	assert.Equal(t, embedAttempts, calls)
}

func TestEmbed_SizeMismatchIsNotRetried(t *testing.T) {
	calls := 0
	g := fakeEmbedder(10, func(context.Context, genai.TaskType, []string) ([][]float32, error) {
		calls++
		return [][]float32{}, nil
	})

	_, err := g.EmbedDocuments(context.Background(), []string{"x"})
	require.ErrorContains(t, err, "size mismatch")
	assert.Equal(t, 1, calls)
}

func TestNewEmbedder_ClampsBatchSize(t *testing.T) {
	assert.Equal(t, maxEmbedBatch, newEmbedder("", 0).batchSize)
	assert.Equal(t, maxEmbedBatch, newEmbedder("", 500).batchSize)
	assert.Equal(t, defaultEmbedModel, newEmbedder("", 1).modelName)
}
