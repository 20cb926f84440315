package ingestion_engine

import (
	"log/slog"
	"time"

	"github.com/markdave123-py/kbingest/internal/core"
	"github.com/markdave123-py/kbingest/internal/core/chunking"
)

// Ledger operation names.
const (
	OperationProcessDocument = "process-document"
	OperationWebScraper      = "web-scraper"
)

// InsufficientContentMessage is returned to web-scraper callers.
const InsufficientContentMessage = "Insufficient content extracted"

// IngestConfig tunes the job runner.
//
// JobLease:      how long a claim on a document stays exclusive.
// FailTimeout:   budget for the best-effort failed-status write after an error.
type IngestConfig struct {
	JobLease    time.Duration
	FailTimeout time.Duration
}

func DefaultIngestConfig() *IngestConfig {
	return &IngestConfig{JobLease: 15 * time.Minute, FailTimeout: 10 * time.Second}
}

// DocumentIngestor runs ingestion jobs end to end:
//
// db:         document state, chunks, tenant settings and the usage ledger.
// obj:        blob store holding uploaded files.
// extractor:  file bytes to text.
// fetcher:    URL to text.
// embedders:  per-tenant embedding clients.
// docChunker: strategy for uploaded files.
// webChunker: strategy for fetched pages.
type DocumentIngestor struct {
	db         core.DbClient
	obj        core.ObjectClient
	extractor  TextExtractor
	fetcher    PageFetcher
	embedders  EmbedderFactory
	docChunker chunking.Chunker
	webChunker chunking.Chunker
	cfg        *IngestConfig
	logger     *slog.Logger
}

var _ Ingestor = (*DocumentIngestor)(nil)

type Option func(*DocumentIngestor)

func WithChunkers(doc, web chunking.Chunker) Option {
	return func(i *DocumentIngestor) {
		if doc != nil {
			i.docChunker = doc
		}
		if web != nil {
			i.webChunker = web
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(i *DocumentIngestor) { i.logger = l }
}

func NewDocumentIngestor(db core.DbClient, obj core.ObjectClient, extractor TextExtractor, fetcher PageFetcher, embedders EmbedderFactory, cfg *IngestConfig, opts ...Option) *DocumentIngestor {
	if cfg == nil {
		cfg = DefaultIngestConfig()
	}
	if cfg.JobLease <= 0 {
		cfg.JobLease = 15 * time.Minute
	}
	if cfg.FailTimeout <= 0 {
		cfg.FailTimeout = 10 * time.Second
	}
	i := &DocumentIngestor{
		db:         db,
		obj:        obj,
		extractor:  extractor,
		fetcher:    fetcher,
		embedders:  embedders,
		docChunker: chunking.NewDocumentChunker(),
		webChunker: chunking.NewWebChunker(chunking.DefaultWindowWords, chunking.DefaultOverlapWords),
		cfg:        cfg,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(i)
	}
	i.logger = i.logger.With("component", "ingestor")
	return i
}
