package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/google/generative-ai-go/genai"
	"github.com/sethvargo/go-retry"
	"google.golang.org/api/option"

	"github.com/markdave123-py/sopassistant/internal/core"
)

const (
	defaultEmbedModel = "text-embedding-004"
	maxEmbedBatch     = 100
	embedAttempts     = 3
)

type GeminiEmbedder struct {
	client     *genai.Client
	modelName  string
	batchSize  int
	retryDelay time.Duration

	// embedBatch performs one API call; swapped in tests.
	embedBatch func(ctx context.Context, task genai.TaskType, texts []string) ([][]float32, error)
}

var _ core.EmbeddingProvider = (*GeminiEmbedder)(nil)

func NewGeminiEmbedder(ctx context.Context, apiKey, modelName string, batchSize int) (*GeminiEmbedder, error) {
	cl, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, err
	}
	g := newEmbedder(modelName, batchSize)
	g.client = cl
	g.embedBatch = g.callGemini
	return g, nil
}

func newEmbedder(modelName string, batchSize int) *GeminiEmbedder {
	if modelName == "" {
		modelName = defaultEmbedModel
	}
	if batchSize <= 0 || batchSize > maxEmbedBatch {
		batchSize = maxEmbedBatch
	}
	return &GeminiEmbedder{modelName: modelName, batchSize: batchSize, retryDelay: time.Second}
}

func (g *GeminiEmbedder) Close() error {
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}

// EmbedDocuments embeds texts for storage, batchSize texts per request.
func (g *GeminiEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += g.batchSize {
		end := min(start+g.batchSize, len(texts))
		vecs, err := g.embedWithRetry(ctx, genai.TaskTypeRetrievalDocument, texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, vecs...)
	}
	return out, nil
}

func (g *GeminiEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vecs, err := g.embedWithRetry(ctx, genai.TaskTypeRetrievalQuery, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// embedWithRetry makes up to embedAttempts calls, sleeping retryDelay*n
// after the n-th failure.
func (g *GeminiEmbedder) embedWithRetry(ctx context.Context, task genai.TaskType, texts []string) ([][]float32, error) {
	var (
		attempt int
		vecs    [][]float32
	)
	linear := retry.BackoffFunc(func() (time.Duration, bool) {
		return g.retryDelay * time.Duration(attempt), false
	})

	err := retry.Do(ctx, retry.WithMaxRetries(embedAttempts-1, linear), func(ctx context.Context) error {
		attempt++
		out, err := g.embedBatch(ctx, task, texts)
		if err != nil {
			return retry.RetryableError(err)
		}
		if len(out) != len(texts) {
			return fmt.Errorf("embed size mismatch: got %d want %d", len(out), len(texts))
		}
		vecs = out
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("gemini embed after %d attempts: %w", attempt, err)
	}
	return vecs, nil
}

func (g *GeminiEmbedder) callGemini(ctx context.Context, task genai.TaskType, texts []string) ([][]float32, error) {
	em := g.client.EmbeddingModel(g.modelName)
	em.TaskType = task

	batch := em.NewBatch()
	for _, t := range texts {
		batch.AddContent(genai.Text(t))
	}

	resp, err := em.BatchEmbedContents(ctx, batch)
	if err != nil {
		return nil, fmt.Errorf("gemini batch embed: %w", err)
	}

	out := make([][]float32, 0, len(resp.Embeddings))
	for _, e := range resp.Embeddings {
		out = append(out, e.Values)
	}
	return out, nil
}
