package services

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/sopassistant/internal/common"
	"github.com/markdave123-py/sopassistant/internal/core/experts"
	"github.com/markdave123-py/sopassistant/internal/core/gdrive"
	"github.com/markdave123-py/sopassistant/internal/core/vectorstore"
	"github.com/markdave123-py/sopassistant/internal/logging"
	"github.com/markdave123-py/sopassistant/internal/models"
)

type ragFixture struct {
	svc   *RAGService
	store *vectorstore.MemoryStore
	llm   *fakeLLM
	emb   *fakeEmbedder
	root  string
}

func newRAGFixture(t *testing.T) *ragFixture {
	t.Helper()
	f := &ragFixture{llm: &fakeLLM{reply: "Follow the steps."}, emb: &fakeEmbedder{}, root: t.TempDir()}

	var err error
	f.store, err = vectorstore.NewMemoryStore("", 3, 5)
	require.NoError(t, err)
	catalog, err := experts.DefaultCatalog()
	require.NoError(t, err)
	users := newUserFixture(t).users

	f.svc = NewRAGService(f.emb, f.store, f.llm, experts.NewConsultant(catalog, f.llm, logging.Discard()), users,
		RAGConfig{TopK: 5, ExpertTemperature: 0.7, SOPFolder: f.root}, logging.Discard())
	return f
}

func (f *ragFixture) add(t *testing.T, source string, pos int, text string, vec []float32) {
	t.Helper()
	require.NoError(t, f.store.Add(context.Background(), []models.DocumentChunk{{
		ID: source + "_" + string(rune('0'+pos)), Source: source, Filename: filepath.Base(source),
		ChunkID: pos, Text: text, Embedding: vec,
	}}))
}

func TestQuery_NoResultsSkipsLLM(t *testing.T) {
	f := newRAGFixture(t)

	ans, err := f.svc.Query(context.Background(), QueryRequest{Username: "user", Question: "How do I file leave?"})
	require.NoError(t, err)
	assert.Equal(t, NoResultsAnswer, ans.Text)
	assert.Empty(t, ans.Sources)
	assert.Equal(t, models.ModeStandard, ans.Mode)
	assert.Empty(t, f.llm.reqs)
}

func TestQuery_StandardPromptAndSources(t *testing.T) {
	f := newRAGFixture(t)
	f.add(t, "hr/leave.md", 0, "Submit the leave form.", []float32{1, 0, 0})
	f.add(t, "hr/leave.md", 1, "Managers approve within 2 days.", []float32{0.9, 0.1, 0})
	f.add(t, "ops/safety.pdf", 0, "Wear gloves.", []float32{0.5, 0.5, 0})
	require.NoError(t, os.MkdirAll(filepath.Join(f.root, "ops"), 0o755))
	require.NoError(t, gdrive.WriteMetadata(filepath.Join(f.root, "ops", "safety.pdf"), models.DriveMetadata{DriveID: "abc"}, false))

	ans, err := f.svc.Query(context.Background(), QueryRequest{Username: "user", Question: "How do I file leave?"})
	require.NoError(t, err)
	assert.Equal(t, "Follow the steps.", ans.Text)
	assert.Equal(t, "gemini-1.5-flash", ans.Model)
	assert.Equal(t, []models.Source{
		{Filename: "leave.md", Path: "hr/leave.md"},
		{Filename: "safety.pdf", Path: "ops/safety.pdf", Link: "https://drive.google.com/file/d/abc/view"},
	}, ans.Sources)

	require.Len(t, f.llm.reqs, 1)
	req := f.llm.reqs[0]
	assert.Equal(t, "gemini-1.5-flash", req.Model)
	assert.Contains(t, req.Prompt, "Context from SOPs:\n**From leave.md:**\nSubmit the leave form.\n\n---\n**From leave.md:**")
	assert.Contains(t, req.Prompt, "Question: How do I file leave?")
	assert.Contains(t, req.Prompt, "5. For questions about processes or lifecycles, list the steps in order")
}

func TestQuery_ExpertMode(t *testing.T) {
	f := newRAGFixture(t)
	f.add(t, "ops/safety.pdf", 0, "Wear gloves.", []float32{1, 0, 0})

	ans, err := f.svc.Query(context.Background(), QueryRequest{Username: "user", Question: "@SafetyExpert what PPE is required?", Mode: models.ModeExpert})
	require.NoError(t, err)
	assert.Equal(t, []string{"SafetyExpert"}, ans.Experts)
	assert.Equal(t, "gemini-1.5-pro", ans.Model)
	assert.Contains(t, ans.Text, "(@SafetyExpert)")

	require.Len(t, f.llm.reqs, 1)
	assert.InDelta(t, 0.7, f.llm.reqs[0].Temperature, 1e-6)
	assert.Contains(t, f.llm.reqs[0].Prompt, "Wear gloves.")
}

func TestQuery_Errors(t *testing.T) {
	f := newRAGFixture(t)
	ctx := context.Background()

	_, err := f.svc.Query(ctx, QueryRequest{Username: "user", Question: "<script>alert(1)</script>"})
	assert.ErrorIs(t, err, common.ErrValidation)

	_, err = f.svc.Query(ctx, QueryRequest{Username: "user", Question: "hello", Mode: "creative"})
	assert.ErrorIs(t, err, common.ErrValidation)

	_, err = f.svc.Query(ctx, QueryRequest{Username: "ghost", Question: "hello"})
	assert.ErrorIs(t, err, common.ErrNotFound)

	f.emb.err = errors.New("quota")
	_, err = f.svc.Query(ctx, QueryRequest{Username: "user", Question: "hello"})
	assert.ErrorContains(t, err, "embed question")
}

func TestFormatContext(t *testing.T) {
	got := FormatContext([]models.SearchResult{
		{Chunk: models.DocumentChunk{Filename: "a.md", Text: "one"}},
		{Chunk: models.DocumentChunk{Filename: "b.md", Text: "two"}},
	})
	assert.Equal(t, "**From a.md:**\none\n\n---\n**From b.md:**\ntwo\n", got)
}
