package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/markdave123-py/kbingest/internal/api/handlers"
	appMiddleware "github.com/markdave123-py/kbingest/internal/api/middlewares"
	"github.com/markdave123-py/kbingest/internal/config"
	"github.com/markdave123-py/kbingest/internal/core/ingestion_engine"
)

// Server wraps the HTTP server instance and its handlers.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer builds and wires all routes.
func NewServer(cfg *config.Config, ing ingestion_engine.Ingestor, docs handlers.DocumentResetter, logger *slog.Logger) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:              ":" + cfg.Port,
			Handler:           NewRouter(cfg, ing, docs, logger),
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger: logger,
	}
}

func NewRouter(cfg *config.Config, ing ingestion_engine.Ingestor, docs handlers.DocumentResetter, logger *slog.Logger) http.Handler {
	docHandler := handlers.NewDocumentHandler(ing, docs, logger).WithJobTimeout(cfg.JobTimeout)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Client-Info", "Apikey"},
		MaxAge:         300,
	}))

	r.Get("/healthz", handlers.Healthz)

	r.Group(func(jobs chi.Router) {
		jobs.Use(appMiddleware.ServiceAuth(cfg.JWTSecret))
		jobs.Post("/process-document", docHandler.ProcessDocument)
		jobs.Post("/web-scraper", docHandler.WebScraper)
		jobs.Post("/reset-document", docHandler.ResetDocument)
	})

	return r
}

// Start runs the HTTP server until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("http server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.httpServer.Shutdown(ctx)
}
