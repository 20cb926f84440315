package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/markdave123-py/kbingest/internal/core"
	"github.com/markdave123-py/kbingest/internal/core/ingestion_engine"
)

// DocumentResetter performs the manual retry transition.
type DocumentResetter interface {
	Reset(ctx context.Context, id string) error
}

// DocumentHandler exposes the job triggers over HTTP. Each request runs its
// job to completion before responding.
type DocumentHandler struct {
	ingestor ingestion_engine.Ingestor
	docs     DocumentResetter
	timeout  time.Duration
	logger   *slog.Logger
}

// DefaultJobTimeout bounds one synchronous ingestion request.
const DefaultJobTimeout = 10 * time.Minute

func NewDocumentHandler(ing ingestion_engine.Ingestor, docs DocumentResetter, logger *slog.Logger) *DocumentHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &DocumentHandler{
		ingestor: ing,
		docs:     docs,
		timeout:  DefaultJobTimeout,
		logger:   logger.With("component", "http"),
	}
}

// WithJobTimeout overrides the per-request job deadline. The job sees the
// deadline through its ctx and the handler writes the only response.
func (h *DocumentHandler) WithJobTimeout(d time.Duration) *DocumentHandler {
	if d > 0 {
		h.timeout = d
	}
	return h
}

func (h *DocumentHandler) jobContext(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), h.timeout)
}

type processDocumentRequest struct {
	DocumentID      string `json:"documentId"`
	KnowledgeBaseID string `json:"knowledgeBaseId"`
}

type processDocumentResponse struct {
	Success         bool                           `json:"success"`
	DocumentID      string                         `json:"documentId"`
	FileName        string                         `json:"fileName"`
	ChunksProcessed int                            `json:"chunksProcessed"`
	ChunksTotal     int                            `json:"chunksTotal"`
	Chunks          []ingestion_engine.ChunkResult `json:"chunks"`
	Tokens          int                            `json:"openai_tokens"`
	CostUSD         float64                        `json:"openai_cost_usd"`
	Model           string                         `json:"model_used"`
}

type errorResponse struct {
	Error      string `json:"error"`
	DocumentID string `json:"documentId,omitempty"`
	Details    any    `json:"details,omitempty"`
}

// ProcessDocument handles POST /process-document.
func (h *DocumentHandler) ProcessDocument(w http.ResponseWriter, r *http.Request) {
	var req processDocumentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	if req.DocumentID == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "documentId is required"})
		return
	}

	ctx, cancel := h.jobContext(r)
	defer cancel()
	res, err := h.ingestor.ProcessDocument(ctx, ingestion_engine.ProcessRequest{
		DocumentID:      req.DocumentID,
		KnowledgeBaseID: req.KnowledgeBaseID,
	})
	if err != nil {
		status := statusFor(err)
		h.logger.Error("process-document failed", "document_id", req.DocumentID, "status", status, "err", err)
		writeJSON(w, status, errorResponse{Error: err.Error(), DocumentID: req.DocumentID, Details: detailsFor(err)})
		return
	}

	writeJSON(w, http.StatusOK, processDocumentResponse{
		Success:         true,
		DocumentID:      res.DocumentID,
		FileName:        res.FileName,
		ChunksProcessed: res.ChunksProcessed,
		ChunksTotal:     res.ChunksTotal,
		Chunks:          res.Chunks,
		Tokens:          res.Tokens,
		CostUSD:         res.CostUSD,
		Model:           res.Model,
	})
}

type webScraperRequest struct {
	URLID          string `json:"urlId"`
	ForcePrerender bool   `json:"forcePrerender"`
}

type webScraperResponse struct {
	Success   bool    `json:"success"`
	Error     string  `json:"error,omitempty"`
	Chunks    int     `json:"chunks"`
	WordCount int     `json:"wordCount"`
	Title     string  `json:"title"`
	Tokens    int     `json:"openai_tokens"`
	CostUSD   float64 `json:"openai_cost_usd"`
}

type webScraperRejected struct {
	Success   bool   `json:"success"`
	Error     string `json:"error"`
	WordCount *int   `json:"wordCount,omitempty"`
}

// WebScraper handles POST /web-scraper. A page with too little text is a
// 200 with success=false; other failures keep their mapped status, with
// everything that is not a missing document or a busy job reported as 400.
func (h *DocumentHandler) WebScraper(w http.ResponseWriter, r *http.Request) {
	var req webScraperRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, webScraperRejected{Error: "invalid request body"})
		return
	}
	if req.URLID == "" {
		writeJSON(w, http.StatusBadRequest, webScraperRejected{Error: "urlId is required"})
		return
	}

	ctx, cancel := h.jobContext(r)
	defer cancel()
	res, err := h.ingestor.ScrapeURL(ctx, ingestion_engine.ScrapeRequest{
		DocumentID:     req.URLID,
		ForcePrerender: req.ForcePrerender,
	})
	if err != nil {
		status := statusFor(err)
		// 404 and 409 pass through; any other scrape failure is a 400.
		if status != http.StatusNotFound && status != http.StatusConflict {
			status = http.StatusBadRequest
		}
		h.logger.Error("web-scraper failed", "document_id", req.URLID, "status", status, "err", err)
		writeJSON(w, status, webScraperRejected{Error: err.Error()})
		return
	}

	if !res.Success {
		wc := res.WordCount
		writeJSON(w, http.StatusOK, webScraperRejected{Error: res.Error, WordCount: &wc})
		return
	}
	writeJSON(w, http.StatusOK, webScraperResponse{
		Success:   true,
		Chunks:    res.ChunksProcessed,
		WordCount: res.WordCount,
		Title:     res.Title,
		Tokens:    res.Tokens,
		CostUSD:   res.CostUSD,
	})
}

type resetRequest struct {
	DocumentID string `json:"documentId"`
}

// ResetDocument handles POST /reset-document.
func (h *DocumentHandler) ResetDocument(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.DocumentID == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "documentId is required"})
		return
	}
	if err := h.docs.Reset(r.Context(), req.DocumentID); err != nil {
		writeJSON(w, statusFor(err), errorResponse{Error: err.Error(), DocumentID: req.DocumentID})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"documentId": req.DocumentID,
		"status":     "pending",
	})
}

func Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, core.ErrInvalidInput), errors.Is(err, core.ErrUnsupportedFormat):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrJobInProgress), errors.Is(err, core.ErrInvalidTransition):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func detailsFor(err error) any {
	var nte *core.NoTextExtractedError
	if errors.As(err, &nte) {
		return map[string]any{"attempted": nte.Attempted, "errors": nte.Details}
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
