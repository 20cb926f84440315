package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/markdave123-py/kbingest/internal/config"
	db "github.com/markdave123-py/kbingest/internal/core/database"
	"github.com/markdave123-py/kbingest/internal/core/extraction"
	"github.com/markdave123-py/kbingest/internal/core/ingestion_engine"
	"github.com/markdave123-py/kbingest/internal/core/llm"
	objectclient "github.com/markdave123-py/kbingest/internal/core/object-client"
	"github.com/markdave123-py/kbingest/internal/core/ocr"
	"github.com/markdave123-py/kbingest/internal/core/webfetch"
	"github.com/markdave123-py/kbingest/internal/services"
)

type App struct {
	DBClient     *db.DatabaseClient
	ObjectClient *objectclient.S3Client
	Ingestor     *ingestion_engine.DocumentIngestor
	Documents    *services.DocumentService
	Server       *Server

	logger *slog.Logger
}

// NewApp connects the store and blob client and wires the pipeline.
func NewApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	appCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	dbClient, err := db.NewDatabaseClient(appCtx, cfg)
	if err != nil {
		return nil, err
	}
	logger.Info("database ready")

	objClient, err := objectclient.NewS3Client(appCtx, cfg, logger)
	if err != nil {
		_ = dbClient.Close()
		return nil, err
	}
	logger.Info("object client ready", "bucket", cfg.BucketName)

	extractor := extraction.NewExtractor(
		extraction.WithLogger(logger),
		extraction.WithCloudOCR(ocr.NewDocumentClient(cfg.VisionOCRURL, cfg.VisionOCRKey, nil), objClient, cfg.SignedURLTTL),
		extraction.WithSecondaryOCR(ocr.NewBytesClient(cfg.SecondaryOCRURL, cfg.SecondaryOCRKey, nil)),
	)
	logger.Info("extractor ready", "pdf_steps", extractor.StepNames())

	fetcher := webfetch.New(
		webfetch.WithPrerenderURL(cfg.PrerenderURL),
		webfetch.WithLogger(logger),
	)
	embedders := llm.NewFactory(cfg.EmbedModel, cfg.EmbedBaseURL, cfg.EmbedRPS, nil)

	ing := ingestion_engine.NewDocumentIngestor(dbClient, objClient, extractor, fetcher, embedders,
		&ingestion_engine.IngestConfig{JobLease: cfg.JobLease},
		ingestion_engine.WithLogger(logger),
	)
	docs := services.NewDocumentService(dbClient)

	return &App{
		DBClient:     dbClient,
		ObjectClient: objClient,
		Ingestor:     ing,
		Documents:    docs,
		Server:       NewServer(cfg, ing, docs, logger),
		logger:       logger,
	}, nil
}

// Run serves HTTP until ctx is cancelled, then shuts the server down.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(a.Server.Start)
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		return a.Server.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	return nil
}

func (a *App) Close() {
	if a.DBClient != nil {
		_ = a.DBClient.Close()
	}
}
