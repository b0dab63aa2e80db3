package services

import (
	"bytes"
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/markdave123-py/sopassistant/internal/audit"
	"github.com/markdave123-py/sopassistant/internal/config"
	"github.com/markdave123-py/sopassistant/internal/core"
	"github.com/markdave123-py/sopassistant/internal/core/sessions"
	"github.com/markdave123-py/sopassistant/internal/core/userstore"
	"github.com/markdave123-py/sopassistant/internal/logging"
)

const strongPassword = "Str0ng!Passw0rd"

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type userFixture struct {
	users    *UserService
	auth     *AuthService
	store    *userstore.FileStore
	sessions *sessions.MemoryStore
	audit    *syncBuffer
	cfg      *config.Config
	now      time.Time
}

func testConfig() *config.Config {
	return &config.Config{
		AdminUsername:    config.DefaultAdminUsername,
		AdminPassword:    config.DefaultAdminPassword,
		UserUsername:     config.DefaultUserUsername,
		UserPassword:     config.DefaultUserPassword,
		DefaultModel:     "gemini-1.5-flash",
		ExpertModel:      "gemini-1.5-pro",
		JWTSecret:        "test-secret",
		SessionTimeout:   2 * time.Hour,
		MaxLoginAttempts: 3,
		LockoutDuration:  30 * time.Minute,
	}
}

func newUserFixture(t *testing.T) *userFixture {
	t.Helper()
	store, err := userstore.Open(filepath.Join(t.TempDir(), "users.json"))
	require.NoError(t, err)

	f := &userFixture{
		store:    store,
		sessions: sessions.NewMemoryStore(),
		audit:    &syncBuffer{},
		cfg:      testConfig(),
		now:      time.Now().UTC().Truncate(time.Second),
	}
	rec := audit.NewRecorder(f.audit)
	clock := func() time.Time { return f.now }

	f.users = NewUserService(store, f.sessions, rec, f.cfg, logging.Discard())
	f.users.hashCost = bcrypt.MinCost
	f.users.now = clock

	f.auth = NewAuthService(store, f.sessions, rec, AuthConfig{
		Secret:          []byte(f.cfg.JWTSecret),
		SessionTimeout:  f.cfg.SessionTimeout,
		MaxAttempts:     f.cfg.MaxLoginAttempts,
		LockoutDuration: f.cfg.LockoutDuration,
	}, logging.Discard())
	f.auth.hashCost = bcrypt.MinCost
	f.auth.now = clock

	require.NoError(t, f.users.Bootstrap(context.Background()))
	return f
}

// fakeEmbedder maps every text to the same direction so any stored chunk
// is a hit.
type fakeEmbedder struct{ err error }

func (f *fakeEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0, 0}
	}
	return out, f.err
}

func (f *fakeEmbedder) EmbedQuery(context.Context, string) ([]float32, error) {
	return []float32{1, 0, 0}, f.err
}

type fakeLLM struct {
	mu    sync.Mutex
	reqs  []core.GenerateRequest
	reply string
	err   error
}

func (f *fakeLLM) Generate(_ context.Context, req core.GenerateRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	return f.reply, f.err
}
