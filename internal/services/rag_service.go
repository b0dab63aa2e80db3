package services

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/markdave123-py/sopassistant/internal/core"
	"github.com/markdave123-py/sopassistant/internal/core/experts"
	"github.com/markdave123-py/sopassistant/internal/core/gdrive"
	"github.com/markdave123-py/sopassistant/internal/logging"
	"github.com/markdave123-py/sopassistant/internal/models"
	"github.com/markdave123-py/sopassistant/internal/security"
)

// NoResultsAnswer is returned when retrieval finds nothing.
const NoResultsAnswer = "I couldn't find any relevant information in the SOPs to answer your question. " +
	"Try rephrasing your question or using full terms instead of abbreviations."

const sopPrompt = `You are a helpful assistant that answers questions based on Standard Operating Procedures (SOPs).

Context from SOPs:
%s

Question: %s

Instructions:
1. Answer the question based ONLY on the provided SOP context
2. Be specific and cite the relevant SOP titles when referencing information
3. If the context doesn't contain enough information to fully answer the question, say so
4. Structure your answer clearly with bullet points or numbered lists when appropriate
5. For questions about processes or lifecycles, list the steps in order

Answer:`

// UserDirectory resolves per-user settings for a query.
type UserDirectory interface {
	Get(ctx context.Context, username string) (*models.UserView, error)
	ResolveModel(ctx context.Context, username, mode string) (string, error)
}

type RAGConfig struct {
	TopK              int
	ExpertTemperature float32
	SOPFolder         string
}

type QueryRequest struct {
	Username string `json:"-"`
	Question string `json:"question"`
	Mode     string `json:"mode"`
}

type Answer struct {
	Text    string          `json:"answer"`
	Sources []models.Source `json:"sources"`
	Model   string          `json:"model"`
	Mode    string          `json:"mode"`
	Experts []string        `json:"experts,omitempty"`
}

type RAGService struct {
	embedder   core.EmbeddingProvider
	store      core.VectorStore
	llm        core.LLMProvider
	consultant *experts.Consultant
	users      UserDirectory
	cfg        RAGConfig
	log        logging.Logger
}

func NewRAGService(emb core.EmbeddingProvider, store core.VectorStore, llm core.LLMProvider, consultant *experts.Consultant, users UserDirectory, cfg RAGConfig, log logging.Logger) *RAGService {
	if cfg.TopK <= 0 {
		cfg.TopK = 5
	}
	return &RAGService{
		embedder: emb, store: store, llm: llm, consultant: consultant, users: users,
		cfg: cfg, log: log.With("component", "rag"),
	}
}

func (s *RAGService) Query(ctx context.Context, req QueryRequest) (*Answer, error) {
	q := strings.TrimSpace(req.Question)
	if err := security.ValidateQuery(q); err != nil {
		return nil, err
	}
	mode := req.Mode
	if mode == "" {
		mode = models.ModeStandard
	}
	if mode != models.ModeStandard && mode != models.ModeExpert {
		return nil, fmt.Errorf("mode %q: %w", mode, errInvalidMode)
	}

	model, err := s.users.ResolveModel(ctx, req.Username, mode)
	if err != nil {
		return nil, err
	}

	vec, err := s.embedder.EmbedQuery(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("embed question: %w", err)
	}
	results, err := s.store.Search(ctx, vec, s.cfg.TopK)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	results = dedupe(results)

	ans := &Answer{Model: model, Mode: mode, Sources: []models.Source{}}
	if len(results) == 0 {
		ans.Text = NoResultsAnswer
		return ans, nil
	}

	sopContext := FormatContext(results)
	ans.Sources = s.sources(ctx, results)

	if mode == models.ModeExpert {
		var info *experts.UserInfo
		if u, err := s.users.Get(ctx, req.Username); err == nil {
			info = &experts.UserInfo{Name: u.Name, Role: u.Role}
		}
		c, err := s.consultant.Consult(ctx, model, s.cfg.ExpertTemperature, q, sopContext, info)
		if err != nil {
			return nil, err
		}
		ans.Text = c.Text()
		ans.Experts = c.Experts
		return ans, nil
	}

	text, err := s.llm.Generate(ctx, core.GenerateRequest{
		Model:  model,
		Prompt: fmt.Sprintf(sopPrompt, sopContext, q),
	})
	if err != nil {
		return nil, fmt.Errorf("generate answer: %w", err)
	}
	ans.Text = text
	s.log.Debug(ctx, "answered", "user", req.Username, "model", model, "chunks", len(results))
	return ans, nil
}

// FormatContext renders retrieved chunks for the prompt.
func FormatContext(results []models.SearchResult) string {
	parts := make([]string, len(results))
	for i, r := range results {
		parts[i] = fmt.Sprintf("**From %s:**\n%s\n", r.Chunk.Filename, r.Chunk.Text)
	}
	return strings.Join(parts, "\n---\n")
}

// sources lists unique filenames in retrieval order with their Drive link.
func (s *RAGService) sources(ctx context.Context, results []models.SearchResult) []models.Source {
	seen := make(map[string]bool)
	out := make([]models.Source, 0, len(results))
	for _, r := range results {
		if seen[r.Chunk.Filename] {
			continue
		}
		seen[r.Chunk.Filename] = true

		src := models.Source{Filename: r.Chunk.Filename, Path: r.Chunk.Source}
		if s.cfg.SOPFolder != "" {
			meta, err := gdrive.ReadMetadata(filepath.Join(s.cfg.SOPFolder, filepath.FromSlash(r.Chunk.Source)))
			if err == nil {
				src.Link = meta.DriveLink
			} else if !isNotFound(err) {
				s.log.Warn(ctx, "read drive metadata", "source", r.Chunk.Source, "err", err)
			}
		}
		out = append(out, src)
	}
	return out
}

func dedupe(results []models.SearchResult) []models.SearchResult {
	seen := make(map[string]bool, len(results))
	out := results[:0:0]
	for _, r := range results {
		if seen[r.Chunk.ID] {
			continue
		}
		seen[r.Chunk.ID] = true
		out = append(out, r)
	}
	return out
}
