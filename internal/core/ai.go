package core

import "context"

// EmbeddingProvider turns text into vectors. Documents and queries use
// different task types, so they are separate calls.
type EmbeddingProvider interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// GenerateRequest is one prompt for a hosted language model. An empty
// Model means the provider default; Temperature <= 0 leaves the model's.
type GenerateRequest struct {
	Model       string
	System      string
	Prompt      string
	Temperature float32
}

type LLMProvider interface {
	Generate(ctx context.Context, req GenerateRequest) (string, error)
}
