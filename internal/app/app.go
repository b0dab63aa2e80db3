package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/markdave123-py/sopassistant/internal/audit"
	"github.com/markdave123-py/sopassistant/internal/common"
	"github.com/markdave123-py/sopassistant/internal/config"
	"github.com/markdave123-py/sopassistant/internal/core"
	"github.com/markdave123-py/sopassistant/internal/core/chathistory"
	db "github.com/markdave123-py/sopassistant/internal/core/database"
	"github.com/markdave123-py/sopassistant/internal/core/experts"
	"github.com/markdave123-py/sopassistant/internal/core/gdrive"
	"github.com/markdave123-py/sopassistant/internal/core/ingestion_engine"
	"github.com/markdave123-py/sopassistant/internal/core/llm"
	objectclient "github.com/markdave123-py/sopassistant/internal/core/object-client"
	"github.com/markdave123-py/sopassistant/internal/core/sessions"
	"github.com/markdave123-py/sopassistant/internal/core/userstore"
	"github.com/markdave123-py/sopassistant/internal/core/vectorstore"
	"github.com/markdave123-py/sopassistant/internal/logging"
	"github.com/markdave123-py/sopassistant/internal/services"
)

type App struct {
	Server   *Server
	Ingestor *ingestion_engine.DocumentIngestor
	Docs     *services.DocumentService

	cfg     *config.Config
	log     logging.Logger
	closers []io.Closer
}

// NewApp builds every component from cfg. Optional integrations (Redis,
// Postgres, S3, Drive) are only wired when configured.
func NewApp(ctx context.Context, cfg *config.Config, log logging.Logger) (*App, error) {
	appCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	a := &App{cfg: cfg, log: log}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	if err := os.MkdirAll(cfg.VectorPersistDir, 0o755); err != nil {
		return nil, fmt.Errorf("create persist dir: %w", err)
	}

	store, err := a.vectorStore(appCtx)
	if err != nil {
		return nil, err
	}

	sessStore, err := a.sessionStore(appCtx)
	if err != nil {
		return nil, err
	}

	local, err := objectclient.NewLocalClient(cfg.SOPFolder)
	if err != nil {
		return nil, err
	}
	var archive core.ObjectClient
	if cfg.S3Enabled() {
		s3, err := objectclient.NewS3Client(appCtx, cfg, log)
		if err != nil {
			return nil, err
		}
		archive = s3
		log.Info(ctx, "s3 archive enabled", "bucket", cfg.BucketName)
	}

	embedder, err := llm.NewGeminiEmbedder(appCtx, cfg.AIAPIKey, cfg.EmbedModel, cfg.EmbeddingBatchSize)
	if err != nil {
		return nil, fmt.Errorf("couldn't initialize the embedder, %w", err)
	}
	a.closers = append(a.closers, embedder)

	llmProvider, err := llm.NewGeminiLLM(appCtx, cfg.AIAPIKey, cfg.DefaultModel)
	if err != nil {
		return nil, fmt.Errorf("couldn't initialize the llm, %w", err)
	}
	a.closers = append(a.closers, llmProvider)

	index, err := ingestion_engine.LoadFileIndex(filepath.Join(cfg.VectorPersistDir, ingestion_engine.IndexFileName))
	if err != nil {
		return nil, err
	}
	a.Ingestor = ingestion_engine.NewDocumentIngestor(cfg.SOPFolder, local, store, embedder,
		ingestion_engine.NewExtractor(log), index,
		ingestion_engine.IngestConfig{
			ChunkSize:    cfg.ChunkSize,
			ChunkOverlap: cfg.ChunkOverlap,
			BatchSize:    cfg.EmbeddingBatchSize,
		}, log)

	users, err := userstore.Open(cfg.UsersFile)
	if err != nil {
		return nil, err
	}
	history, err := chathistory.NewFileStore(cfg.ChatHistoryDir)
	if err != nil {
		return nil, err
	}
	rec, err := audit.Open(cfg.AuditLogPath)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	a.closers = append(a.closers, rec)

	catalog, err := experts.DefaultCatalog()
	if err != nil {
		return nil, err
	}

	var drive services.DriveSyncer
	if cfg.DriveEnabled() {
		drive, err = a.driveClient(appCtx)
		if err != nil {
			log.Warn(ctx, "google drive disabled", "err", err)
			drive = nil
		}
	}

	userSvc := services.NewUserService(users, sessStore, rec, cfg, log)
	if err := userSvc.Bootstrap(appCtx); err != nil {
		return nil, fmt.Errorf("bootstrap users: %w", err)
	}
	authSvc := services.NewAuthService(users, sessStore, rec, services.AuthConfig{
		Secret:          []byte(cfg.JWTSecret),
		SessionTimeout:  cfg.SessionTimeout,
		MaxAttempts:     cfg.MaxLoginAttempts,
		LockoutDuration: cfg.LockoutDuration,
	}, log)
	a.Docs = services.NewDocumentService(local, archive, a.Ingestor, store, drive, rec, services.DocumentConfig{
		SOPFolder:     cfg.SOPFolder,
		DriveFolderID: cfg.DriveFolderID,
		MaxFileSize:   cfg.MaxFileSize(),
		WaitForIngest: true,
	}, log)
	ragSvc := services.NewRAGService(embedder, store, llmProvider, experts.NewConsultant(catalog, llmProvider, log), userSvc,
		services.RAGConfig{TopK: cfg.TopK, ExpertTemperature: cfg.ExpertTemperature, SOPFolder: cfg.SOPFolder}, log)

	a.Server = NewServer(cfg, log, Deps{
		Auth:    authSvc,
		Users:   userSvc,
		Docs:    a.Docs,
		RAG:     ragSvc,
		History: history,
		Catalog: catalog,
	})

	ok = true
	return a, nil
}

func (a *App) vectorStore(ctx context.Context) (core.VectorStore, error) {
	if a.cfg.VectorBackend == config.VectorBackendPostgres {
		pg, err := db.NewPgVectorStore(ctx, a.cfg.DatabaseURL, a.cfg.EmbedDim, a.cfg.TopK)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, pg)
		a.log.Info(ctx, "vector store ready", "backend", "postgres")
		return pg, nil
	}
	mem, err := vectorstore.NewMemoryStore(a.cfg.VectorPersistDir, a.cfg.EmbedDim, a.cfg.TopK)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, mem)
	a.log.Info(ctx, "vector store ready", "backend", "memory", "dir", a.cfg.VectorPersistDir)
	return mem, nil
}

func (a *App) sessionStore(ctx context.Context) (core.SessionStore, error) {
	if a.cfg.RedisAddr == "" {
		return sessions.NewMemoryStore(), nil
	}
	rs, err := sessions.NewRedisStore(ctx, a.cfg.RedisAddr, a.cfg.RedisPassword, a.cfg.RedisDB)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, rs)
	a.log.Info(ctx, "session store ready", "backend", "redis", "addr", a.cfg.RedisAddr)
	return rs, nil
}

func (a *App) driveClient(ctx context.Context) (*gdrive.Client, error) {
	ts, err := gdrive.TokenSource(context.WithoutCancel(ctx), a.cfg.DriveClientConfig, a.cfg.DriveCredentials)
	if err != nil {
		return nil, err
	}
	return gdrive.New(context.WithoutCancel(ctx), ts, a.log)
}

// Run starts the ingestion workers, the startup sync and the HTTP server.
// It returns once ctx is done and the server has shut down.
func (a *App) Run(ctx context.Context) error {
	a.Ingestor.Start(ctx, a.cfg.IngestWorkers)
	go a.startupSync(ctx)

	errCh := make(chan error, 1)
	go func() { errCh <- a.Server.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
	defer cancel()
	return a.Server.Shutdown(shutdownCtx)
}

// startupSync pulls Drive (when enabled) and scans the SOP folder when
// AUTO_SYNC_ON_STARTUP is set. Failures are logged only.
func (a *App) startupSync(ctx context.Context) {
	if !a.cfg.AutoSyncOnStartup {
		a.log.Info(ctx, "startup sync disabled")
		return
	}
	if a.cfg.DriveFolderID != "" {
		res, err := a.Docs.DriveSync(ctx, "system")
		switch {
		case errors.Is(err, common.ErrNotConfigured):
			a.log.Warn(ctx, "startup drive sync skipped", "err", err)
		case err != nil:
			a.log.Error(ctx, "startup drive sync failed", "err", err)
		default:
			a.log.Info(ctx, "startup drive sync done", "downloaded", len(res.Downloaded), "processed", len(res.Report.Processed))
			return
		}
	}

	report, err := a.Ingestor.Sync(ctx)
	if err != nil {
		a.log.Error(ctx, "startup folder scan failed", "err", err)
		return
	}
	a.log.Info(ctx, "startup folder scan done", "processed", len(report.Processed), "removed", len(report.Removed), "failed", len(report.Failed))
}

func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			a.log.Warn(context.Background(), "close", "err", err)
		}
	}
	a.closers = nil
}
