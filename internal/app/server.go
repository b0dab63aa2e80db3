package app

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/markdave123-py/sopassistant/internal/api/handlers"
	appMiddleware "github.com/markdave123-py/sopassistant/internal/api/middlewares"
	"github.com/markdave123-py/sopassistant/internal/config"
	"github.com/markdave123-py/sopassistant/internal/core/experts"
	"github.com/markdave123-py/sopassistant/internal/logging"
	"github.com/markdave123-py/sopassistant/internal/security"
)

const requestTimeout = 5 * time.Minute

// UserAPI is everything the routes need from the user manager.
type UserAPI interface {
	handlers.ProfileAPI
	handlers.AdminAPI
}

type Deps struct {
	Auth interface {
		handlers.AuthAPI
		appMiddleware.Authenticator
	}
	Users   UserAPI
	Docs    handlers.DocumentsAPI
	RAG     handlers.RAG
	History handlers.HistoryStore
	Catalog *experts.Catalog
}

// Server wraps the HTTP server instance and its handlers.
type Server struct {
	httpServer *http.Server
	log        logging.Logger
}

// NewServer builds and wires all routes.
func NewServer(cfg *config.Config, log logging.Logger, d Deps) *Server {
	r := NewRouter(cfg, log, d)
	return &Server{
		httpServer: &http.Server{
			Addr:              ":" + cfg.Port,
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
		},
		log: log,
	}
}

// NewRouter returns the API routes. Exposed for tests.
func NewRouter(cfg *config.Config, log logging.Logger, d Deps) http.Handler {
	authHandler := handlers.NewAuthHandler(d.Auth, d.Users, log)
	chatHandler := handlers.NewChatHandler(d.RAG, d.History, d.Catalog, log)
	docHandler := handlers.NewDocumentHandler(d.Docs, cfg.MaxFileSize(), log)
	adminHandler := handlers.NewAdminHandler(d.Users, log)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	// uploads wait for their file to be embedded
	r.Use(middleware.Timeout(requestTimeout))
	r.Use(security.Headers)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// Serve the web client when one is deployed next to the binary
	if st, err := os.Stat(cfg.WebDir); err == nil && st.IsDir() {
		r.Handle("/*", http.FileServer(http.Dir(cfg.WebDir)))
	}

	r.Route("/api", func(api chi.Router) {
		api.Post("/login", authHandler.Login)

		api.Group(func(protected chi.Router) {
			protected.Use(appMiddleware.SessionAuth(d.Auth))
			protected.Use(appMiddleware.RequireCSRF)
			protected.Use(appMiddleware.RequirePasswordCurrent(d.Users, "/api/me", "/api/me/password", "/api/logout"))

			protected.Post("/logout", authHandler.Logout)
			protected.Get("/me", authHandler.Me)
			protected.Post("/me/password", authHandler.ChangePassword)
			protected.Put("/me/models", authHandler.UpdateModels)
			protected.Put("/me/profile", authHandler.UpdateProfile)
			protected.Get("/models", authHandler.Models)

			protected.Post("/chat", chatHandler.Chat)
			protected.Get("/experts", chatHandler.Experts)

			protected.Route("/history", func(h chi.Router) {
				h.Get("/", chatHandler.ListHistory)
				h.Post("/", chatHandler.SaveHistory)
				h.Delete("/", chatHandler.ClearHistory)
				h.Get("/{id}", chatHandler.GetHistory)
				h.Delete("/{id}", chatHandler.DeleteHistory)
			})

			protected.Get("/documents", docHandler.List)
			protected.Get("/documents/download", docHandler.Download)

			protected.Group(func(admin chi.Router) {
				admin.Use(appMiddleware.RequireAdmin)

				admin.Post("/documents", docHandler.Upload)
				admin.Delete("/documents", docHandler.Delete)
				admin.Post("/documents/sync", docHandler.Sync)
				admin.Post("/documents/reset", docHandler.Reset)
				admin.Post("/drive/sync", docHandler.DriveSync)
				admin.Get("/drive/folders", docHandler.DriveFolders)

				admin.Get("/admin/users", adminHandler.ListUsers)
				admin.Post("/admin/users", adminHandler.CreateUser)
				admin.Patch("/admin/users/{username}", adminHandler.UpdateUser)
				admin.Delete("/admin/users/{username}", adminHandler.DeactivateUser)
				admin.Post("/admin/users/{username}/password", adminHandler.ResetPassword)
				admin.Post("/admin/users/{username}/unlock", adminHandler.Unlock)
				admin.Get("/admin/settings", adminHandler.GetSettings)
				admin.Put("/admin/settings", adminHandler.UpdateSettings)
			})
		})
	})

	return r
}

// Start runs the HTTP server until Shutdown.
func (s *Server) Start() error {
	s.log.Info(context.Background(), "HTTP server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info(ctx, "shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}
