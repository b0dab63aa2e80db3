package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "k")
	t.Setenv("JWT_SECRET", "s")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "text-embedding-004", cfg.EmbedModel)
	assert.Equal(t, "gemini-1.5-flash", cfg.DefaultModel)
	assert.Equal(t, "gemini-1.5-pro", cfg.ExpertModel)
	assert.Equal(t, 1000, cfg.ChunkSize)
	assert.Equal(t, 200, cfg.ChunkOverlap)
	assert.Equal(t, 100, cfg.EmbeddingBatchSize)
	assert.Equal(t, 5, cfg.TopK)
	assert.Equal(t, 2*time.Hour, cfg.SessionTimeout)
	assert.Equal(t, 5, cfg.MaxLoginAttempts)
	assert.Equal(t, 30*time.Minute, cfg.LockoutDuration)
	assert.Equal(t, VectorBackendMemory, cfg.VectorBackend)
	assert.True(t, cfg.AutoSyncOnStartup)
	assert.False(t, cfg.S3Enabled())
	assert.False(t, cfg.DriveEnabled())
	assert.Equal(t, int64(50<<20), cfg.MaxFileSize())
	assert.Equal(t, []string{"http://localhost:5173", "http://localhost:8888"}, cfg.CORSOrigins)
}

func TestLoadConfig_MissingAPIKey(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")

	_, err := LoadConfig()
	require.Error(t, err)
}

func TestLoadConfig_PostgresNeedsDSN(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "k")
	t.Setenv("VECTOR_BACKEND", "postgres")
	t.Setenv("DATABASE_URL", "")

	_, err := LoadConfig()
	require.ErrorContains(t, err, "DATABASE_URL")
}

func TestLoadConfig_Overrides(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "k")
	t.Setenv("SESSION_TIMEOUT", "120")
	t.Setenv("AUTO_SYNC_ON_STARTUP", "false")
	t.Setenv("CHROMA_PERSIST_DIR", "/data/chroma")
	t.Setenv("TOP_K_RESULTS", "nope")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 120*time.Minute, cfg.SessionTimeout)
	assert.False(t, cfg.AutoSyncOnStartup)
	assert.Equal(t, "/data/chroma", cfg.VectorPersistDir)
	assert.Equal(t, 5, cfg.TopK)
	assert.NotEmpty(t, cfg.JWTSecret)
}

func TestLoadConfig_OverlapMustBeSmaller(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "k")
	t.Setenv("CHUNK_SIZE", "100")
	t.Setenv("CHUNK_OVERLAP", "100")

	_, err := LoadConfig()
	require.Error(t, err)
}
