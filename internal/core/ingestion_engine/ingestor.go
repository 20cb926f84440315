package ingestion_engine

import (
	"context"

	"github.com/markdave123-py/kbingest/internal/core/extraction"
	"github.com/markdave123-py/kbingest/internal/core/llm"
	"github.com/markdave123-py/kbingest/internal/core/webfetch"
)

// Ingestor runs one ingestion job synchronously per call.
type Ingestor interface {
	ProcessDocument(ctx context.Context, req ProcessRequest) (*ProcessResult, error)
	ScrapeURL(ctx context.Context, req ScrapeRequest) (*ScrapeResult, error)
}

type TextExtractor interface {
	Extract(ctx context.Context, in extraction.Input) (*extraction.Output, error)
}

type PageFetcher interface {
	Fetch(ctx context.Context, url string, forcePrerender bool) (*webfetch.Page, error)
}

// EmbedderFactory builds an embedder from a tenant's credentials.
type EmbedderFactory interface {
	New(ctx context.Context, apiKey, model string) (llm.Embedder, error)
}

type ProcessRequest struct {
	DocumentID      string
	KnowledgeBaseID string
}

type ScrapeRequest struct {
	DocumentID     string
	ForcePrerender bool
}

// Per-chunk outcomes.
const (
	ChunkSucceeded = "success"
	ChunkFailed    = "failed"
)

type ChunkResult struct {
	Index  int    `json:"index"`
	Status string `json:"status"`
	Tokens int    `json:"tokens,omitempty"`
	Error  string `json:"error,omitempty"`
}

type ProcessResult struct {
	DocumentID       string        `json:"document_id"`
	FileName         string        `json:"file_name"`
	ExtractionMethod string        `json:"extraction_method"`
	ChunksProcessed  int           `json:"chunks_processed"`
	ChunksTotal      int           `json:"chunks_total"`
	Chunks           []ChunkResult `json:"chunks"`
	Tokens           int           `json:"tokens"`
	CostUSD          float64       `json:"cost_usd"`
	Model            string        `json:"model"`
}

// ScrapeResult reports a web job. Success is false, with a nil error, when
// the page had too little text; the document is marked failed in that case.
type ScrapeResult struct {
	DocumentID      string        `json:"document_id"`
	Success         bool          `json:"success"`
	Error           string        `json:"error,omitempty"`
	URL             string        `json:"url"`
	Title           string        `json:"title"`
	Method          string        `json:"method"`
	WordCount       int           `json:"word_count"`
	ChunksProcessed int           `json:"chunks_processed"`
	ChunksTotal     int           `json:"chunks_total"`
	Chunks          []ChunkResult `json:"chunks"`
	Tokens          int           `json:"tokens"`
	CostUSD         float64       `json:"cost_usd"`
	Model           string        `json:"model"`
}
