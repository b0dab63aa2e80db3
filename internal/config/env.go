package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Shipped bootstrap credentials. An admin still using DefaultAdminPassword
// is forced to change it on first login.
const (
	DefaultAdminUsername = "admin"
	DefaultAdminPassword = "admin123"
	DefaultUserUsername  = "user"
	DefaultUserPassword  = "user123"
)

const (
	VectorBackendMemory   = "memory"
	VectorBackendPostgres = "postgres"
)

type Config struct {
	Port string

	// Gemini
	AIAPIKey          string
	EmbedModel        string
	EmbedDim          int
	DefaultModel      string
	ExpertModel       string
	ExpertTemperature float32

	// Bootstrap accounts
	AdminUsername string
	AdminPassword string
	UserUsername  string
	UserPassword  string

	// Documents and vectors
	SOPFolder          string
	VectorPersistDir   string
	VectorBackend      string
	DatabaseURL        string
	ChunkSize          int
	ChunkOverlap       int
	EmbeddingBatchSize int
	TopK               int
	IngestWorkers      int
	MaxFileSizeMB      int

	// Sessions
	RedisAddr        string
	RedisPassword    string
	RedisDB          int
	JWTSecret        string
	SessionTimeout   time.Duration
	MaxLoginAttempts int
	LockoutDuration  time.Duration

	// S3 archive (optional)
	AwsAccessKey string
	AwsSecretKey string
	AwsRegion    string
	BucketName   string

	// Google Drive (optional)
	DriveFolderID     string
	DriveClientConfig string
	DriveCredentials  string
	AutoSyncOnStartup bool

	// Flat files
	UsersFile      string
	ChatHistoryDir string
	AuditLogPath   string

	// HTTP
	CORSOrigins []string
	WebDir      string

	LogLevel  string
	LogFormat string
}

// LoadConfig loads .env (if present) and the process environment.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port: getEnv("PORT", "8080"),

		AIAPIKey:          getEnv("GEMINI_API_KEY", ""),
		EmbedModel:        getEnv("EMBED_MODEL", "text-embedding-004"),
		EmbedDim:          getEnvInt("EMBED_DIM", 768),
		DefaultModel:      getEnv("DEFAULT_MODEL", "gemini-1.5-flash"),
		ExpertModel:       getEnv("EXPERT_MODEL", "gemini-1.5-pro"),
		ExpertTemperature: getEnvFloat32("EXPERT_TEMPERATURE", 0.7),

		AdminUsername: getEnv("ADMIN_USERNAME", DefaultAdminUsername),
		AdminPassword: getEnv("ADMIN_PASSWORD", DefaultAdminPassword),
		UserUsername:  getEnv("USER_USERNAME", DefaultUserUsername),
		UserPassword:  getEnv("USER_PASSWORD", DefaultUserPassword),

		SOPFolder:          getEnv("SOP_FOLDER", "/tmp/documents"),
		VectorPersistDir:   getEnv("VECTOR_PERSIST_DIR", getEnv("CHROMA_PERSIST_DIR", "/tmp/chroma_db")),
		VectorBackend:      strings.ToLower(getEnv("VECTOR_BACKEND", VectorBackendMemory)),
		DatabaseURL:        getEnv("DATABASE_URL", ""),
		ChunkSize:          getEnvInt("CHUNK_SIZE", 1000),
		ChunkOverlap:       getEnvInt("CHUNK_OVERLAP", 200),
		EmbeddingBatchSize: getEnvInt("EMBEDDING_BATCH_SIZE", 100),
		TopK:               getEnvInt("TOP_K_RESULTS", 5),
		IngestWorkers:      getEnvInt("INGEST_WORKERS", 2),
		MaxFileSizeMB:      getEnvInt("MAX_FILE_SIZE_MB", 50),

		RedisAddr:        getEnv("REDIS_ADDR", ""),
		RedisPassword:    getEnv("REDIS_PASSWORD", ""),
		RedisDB:          getEnvInt("REDIS_DB", 0),
		JWTSecret:        getEnv("JWT_SECRET", ""),
		SessionTimeout:   getEnvDuration("SESSION_TIMEOUT", 2*time.Hour),
		MaxLoginAttempts: getEnvInt("MAX_LOGIN_ATTEMPTS", 5),
		LockoutDuration:  getEnvDuration("LOCKOUT_DURATION", 30*time.Minute),

		AwsAccessKey: getEnv("AWS_ACCESS_KEY", ""),
		AwsSecretKey: getEnv("AWS_SECRET_KEY", ""),
		AwsRegion:    getEnv("AWS_REGION", "us-east-2"),
		BucketName:   getEnv("BUCKET_NAME", ""),

		DriveFolderID:     getEnv("GOOGLE_DRIVE_FOLDER_ID", ""),
		DriveClientConfig: getEnv("GDRIVE_CLIENT_CONFIG", ""),
		DriveCredentials:  getEnv("GDRIVE_CREDENTIALS", ".gdrive_credentials.json"),
		AutoSyncOnStartup: getEnvBool("AUTO_SYNC_ON_STARTUP", true),

		UsersFile:      getEnv("USERS_FILE", "users.json"),
		ChatHistoryDir: getEnv("CHAT_HISTORY_DIR", "./chat_history"),
		AuditLogPath:   getEnv("AUDIT_LOG", "security_audit.log"),

		CORSOrigins: splitList(getEnv("CORS_ORIGINS", "http://localhost:5173,http://localhost:8888")),
		WebDir:      getEnv("WEB_DIR", "./web"),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),
	}

	if cfg.AIAPIKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY not set")
	}
	switch cfg.VectorBackend {
	case VectorBackendMemory:
	case VectorBackendPostgres:
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL not set (required by VECTOR_BACKEND=postgres)")
		}
	default:
		return nil, fmt.Errorf("unknown VECTOR_BACKEND %q", cfg.VectorBackend)
	}
	if cfg.ChunkOverlap >= cfg.ChunkSize {
		return nil, fmt.Errorf("CHUNK_OVERLAP (%d) must be smaller than CHUNK_SIZE (%d)", cfg.ChunkOverlap, cfg.ChunkSize)
	}
	if cfg.EmbeddingBatchSize <= 0 || cfg.EmbeddingBatchSize > 100 {
		log.Printf("WARN: EMBEDDING_BATCH_SIZE=%d out of range, using 100", cfg.EmbeddingBatchSize)
		cfg.EmbeddingBatchSize = 100
	}
	if cfg.JWTSecret == "" {
		log.Printf("WARN: JWT_SECRET not set, sessions will not survive a restart")
		cfg.JWTSecret = randomSecret()
	}

	return cfg, nil
}

// S3Enabled reports whether uploads are archived to S3.
func (c *Config) S3Enabled() bool {
	return c.BucketName != "" && c.AwsAccessKey != "" && c.AwsSecretKey != ""
}

// DriveEnabled reports whether a Drive folder and client config are set.
func (c *Config) DriveEnabled() bool {
	return c.DriveFolderID != "" && c.DriveClientConfig != ""
}

// MaxFileSize is the upload limit in bytes.
func (c *Config) MaxFileSize() int64 {
	return int64(c.MaxFileSizeMB) << 20
}

// Helper to read environment variables with a default fallback
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt(key string, def int) int {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("WARN: %s=%q not an int, using default %d", key, v, def)
		return def
	}
	return n
}

func getEnvFloat32(key string, def float32) float32 {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 32)
	if err != nil {
		log.Printf("WARN: %s=%q not a number, using default %v", key, v, def)
		return def
	}
	return float32(f)
}

func getEnvBool(key string, def bool) bool {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Printf("WARN: %s=%q not a bool, using default %t", key, v, def)
		return def
	}
	return b
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		// bare numbers are minutes, matching SESSION_TIMEOUT=120 style values
		if n, nerr := strconv.Atoi(v); nerr == nil {
			return time.Duration(n) * time.Minute
		}
		log.Printf("WARN: %s=%q not a duration, using default %s", key, v, def)
		return def
	}
	return d
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func randomSecret() string {
	b := make([]byte, 32)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
