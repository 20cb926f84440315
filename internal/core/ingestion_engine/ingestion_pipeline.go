package ingestion_engine

import (
	"context"
	"errors"
	"fmt"
	"maps"

	"github.com/google/uuid"

	"github.com/markdave123-py/kbingest/internal/core"
	"github.com/markdave123-py/kbingest/internal/core/chunking"
	"github.com/markdave123-py/kbingest/internal/core/extraction"
	"github.com/markdave123-py/kbingest/internal/core/llm"
	"github.com/markdave123-py/kbingest/internal/models"
)

// ProcessDocument extracts, chunks, embeds and persists one uploaded file.
func (i *DocumentIngestor) ProcessDocument(ctx context.Context, req ProcessRequest) (*ProcessResult, error) {
	doc, err := i.loadDocument(ctx, req.DocumentID)
	if err != nil {
		return nil, err
	}
	if req.KnowledgeBaseID != "" && req.KnowledgeBaseID != doc.KnowledgeBaseID {
		return nil, fmt.Errorf("%w: document %s does not belong to knowledge base %s", core.ErrInvalidInput, doc.ID, req.KnowledgeBaseID)
	}
	if doc.IsWebSource() || doc.FilePath == "" {
		return nil, fmt.Errorf("%w: document %s has no file to process", core.ErrInvalidInput, doc.ID)
	}

	release, err := i.claim(ctx, doc.ID)
	if err != nil {
		return nil, err
	}
	defer release()

	res := &ProcessResult{DocumentID: doc.ID, FileName: doc.FileName}
	if err := i.guard(ctx, doc.ID, func() error { return i.processFile(ctx, doc, res) }); err != nil {
		return nil, err
	}
	return res, nil
}

func (i *DocumentIngestor) processFile(ctx context.Context, doc *models.SourceDocument, res *ProcessResult) error {
	if err := i.db.DeleteChunksFrom(ctx, doc.ID, 1); err != nil {
		return err
	}

	emb, err := i.openEmbedder(ctx, doc.OrganizationID)
	if err != nil {
		return err
	}
	defer emb.Close()

	data, err := i.obj.GetFile(ctx, doc.FilePath)
	if err != nil {
		return fmt.Errorf("download %s: %w", doc.FilePath, err)
	}

	out, err := i.extractor.Extract(ctx, extraction.Input{
		Data:        data,
		ContentType: doc.ContentType,
		FileName:    doc.FileName,
		Locator:     doc.FilePath,
	})
	if err != nil {
		return err
	}
	res.ExtractionMethod = out.Method

	pieces := i.docChunker.Chunk(out.Text)
	i.logger.Info("document chunked",
		"document_id", doc.ID,
		"method", out.Method,
		"chunker", i.docChunker.Name(),
		"chunks", len(pieces),
	)

	b, err := i.embedAll(ctx, doc, OperationProcessDocument, pieces, emb, map[string]any{
		"fileName":          doc.FileName,
		"extraction_method": out.Method,
	})
	res.ChunksProcessed = b.processed
	res.ChunksTotal = len(pieces)
	res.Chunks = b.results
	res.Tokens = b.tokens
	res.CostUSD = b.cost
	res.Model = b.model
	return err
}

// ScrapeURL fetches a registered web source and ingests its text.
func (i *DocumentIngestor) ScrapeURL(ctx context.Context, req ScrapeRequest) (*ScrapeResult, error) {
	doc, err := i.loadDocument(ctx, req.DocumentID)
	if err != nil {
		return nil, err
	}
	if !doc.IsWebSource() {
		return nil, fmt.Errorf("%w: document %s has no url", core.ErrInvalidInput, doc.ID)
	}

	release, err := i.claim(ctx, doc.ID)
	if err != nil {
		return nil, err
	}
	defer release()

	res := &ScrapeResult{DocumentID: doc.ID, URL: doc.URL}
	err = i.guard(ctx, doc.ID, func() error { return i.scrapePage(ctx, doc, req.ForcePrerender, res) })

	var ice *core.InsufficientContentError
	switch {
	case errors.As(err, &ice):
		return &ScrapeResult{
			DocumentID: doc.ID,
			URL:        doc.URL,
			Error:      InsufficientContentMessage,
			WordCount:  ice.WordCount,
		}, nil
	case err != nil:
		return nil, err
	}
	res.Success = true
	return res, nil
}

func (i *DocumentIngestor) scrapePage(ctx context.Context, doc *models.SourceDocument, force bool, res *ScrapeResult) error {
	if err := i.db.DeleteChunksFrom(ctx, doc.ID, 1); err != nil {
		return err
	}

	emb, err := i.openEmbedder(ctx, doc.OrganizationID)
	if err != nil {
		return err
	}
	defer emb.Close()

	page, err := i.fetcher.Fetch(ctx, doc.URL, force)
	if err != nil {
		return err
	}
	res.Title = page.Title
	res.Method = page.Method
	res.WordCount = page.WordCount

	pieces := i.webChunker.Chunk(page.Text)
	i.logger.Info("page chunked",
		"document_id", doc.ID,
		"url", doc.URL,
		"method", page.Method,
		"words", page.WordCount,
		"chunks", len(pieces),
	)

	b, err := i.embedAll(ctx, doc, OperationWebScraper, pieces, emb, map[string]any{
		"source_url":   doc.URL,
		"title":        page.Title,
		"fetch_method": page.Method,
	})
	res.ChunksProcessed = b.processed
	res.ChunksTotal = len(pieces)
	res.Chunks = b.results
	res.Tokens = b.tokens
	res.CostUSD = b.cost
	res.Model = b.model
	return err
}

func (i *DocumentIngestor) loadDocument(ctx context.Context, id string) (*models.SourceDocument, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("%w: document id %q is not a uuid", core.ErrInvalidInput, id)
	}
	return i.db.GetDocumentByID(ctx, id)
}

// claim takes the job lease and returns a func that drops it.
func (i *DocumentIngestor) claim(ctx context.Context, id string) (func(), error) {
	if _, err := i.db.ClaimDocument(ctx, id, i.cfg.JobLease); err != nil {
		return nil, err
	}
	return func() {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), i.cfg.FailTimeout)
		defer cancel()
		if err := i.db.ReleaseDocument(rctx, id); err != nil {
			i.logger.Warn("release lease failed", "document_id", id, "err", err)
		}
	}, nil
}

// guard runs fn and marks the document failed if it errors or panics.
func (i *DocumentIngestor) guard(ctx context.Context, id string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("ingestion panic: %v", r)
		}
		if err != nil {
			i.markFailed(ctx, id, err)
		}
	}()
	return fn()
}

func (i *DocumentIngestor) markFailed(ctx context.Context, id string, cause error) {
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), i.cfg.FailTimeout)
	defer cancel()

	i.logger.Error("ingestion failed", "document_id", id, "err", cause)
	if err := i.db.UpdateDocumentStatus(fctx, id, models.StatusFailed, cause.Error()); err != nil {
		i.logger.Warn("mark failed", "document_id", id, "err", err)
	}
}

func (i *DocumentIngestor) openEmbedder(ctx context.Context, orgID string) (llm.Embedder, error) {
	tenant, err := i.db.GetTenantConfig(ctx, orgID)
	if errors.Is(err, core.ErrNotFound) || (err == nil && tenant.EmbeddingAPIKey == "") {
		return nil, fmt.Errorf("%w: organization %s", core.ErrMissingCredentials, orgID)
	}
	if err != nil {
		return nil, err
	}
	return i.embedders.New(ctx, tenant.EmbeddingAPIKey, tenant.EmbeddingModel)
}

type batch struct {
	processed int
	results   []ChunkResult
	tokens    int
	cost      float64
	model     string
}

// embedAll embeds and writes pieces in order. A failure on chunk 0 or a
// cancelled ctx aborts the loop and is returned; later chunk failures are
// only recorded in the results.
// The usage ledger is written once whatever the outcome.
func (i *DocumentIngestor) embedAll(ctx context.Context, doc *models.SourceDocument, operation string, pieces []chunking.Piece, emb llm.Embedder, base map[string]any) (batch, error) {
	meter := llm.NewUsageMeter(emb.ModelName())
	b := batch{model: meter.Model(), results: make([]ChunkResult, 0, len(pieces))}

	var err error
	if len(pieces) == 0 {
		err = fmt.Errorf("%w: chunker produced no chunks", core.ErrNoTextExtracted)
	}

	for _, p := range pieces {
		if cerr := ctx.Err(); cerr != nil {
			err = fmt.Errorf("job cancelled after %d of %d chunks: %w", b.processed, len(pieces), cerr)
			break
		}
		tokens, cerr := i.embedOne(ctx, doc, p, len(pieces), emb, base)
		meter.Add(tokens)
		if cerr != nil {
			if p.Index == 0 {
				err = fmt.Errorf("chunk 0: %w", cerr)
				break
			}
			i.logger.Warn("chunk failed", "document_id", doc.ID, "chunk", p.Index, "err", cerr)
			b.results = append(b.results, ChunkResult{Index: p.Index, Status: ChunkFailed, Tokens: tokens, Error: cerr.Error()})
			continue
		}
		b.processed++
		b.results = append(b.results, ChunkResult{Index: p.Index, Status: ChunkSucceeded, Tokens: tokens})
	}
	if cerr := ctx.Err(); err == nil && cerr != nil {
		err = fmt.Errorf("job cancelled after %d of %d chunks: %w", b.processed, len(pieces), cerr)
	}

	b.tokens = meter.Tokens()
	b.cost = meter.CostUSD()
	i.recordUsage(ctx, doc, operation, meter)

	i.logger.Info("chunks embedded",
		"document_id", doc.ID,
		"processed", b.processed,
		"total", len(pieces),
		"tokens", b.tokens,
		"cost_usd", b.cost,
	)
	return b, err
}

// embedOne returns the tokens billed even when the write fails afterwards.
func (i *DocumentIngestor) embedOne(ctx context.Context, doc *models.SourceDocument, p chunking.Piece, total int, emb llm.Embedder, base map[string]any) (int, error) {
	e, err := emb.Embed(ctx, p.Text)
	if err != nil {
		return 0, err
	}

	meta := make(map[string]any, len(base)+len(p.Metadata)+1)
	maps.Copy(meta, base)
	maps.Copy(meta, p.Metadata)
	if p.Index > 0 {
		meta["parentDocumentId"] = doc.ID
	}

	err = i.db.WriteChunk(ctx, &models.Chunk{
		DocumentID: doc.ID,
		Index:      p.Index,
		Content:    p.Text,
		Embedding:  e.Vector,
		TokenCount: e.Tokens,
		Metadata:   meta,
	}, total)
	return e.Tokens, err
}

func (i *DocumentIngestor) recordUsage(ctx context.Context, doc *models.SourceDocument, operation string, meter *llm.UsageMeter) {
	if meter.Tokens() <= 0 {
		return
	}
	uctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), i.cfg.FailTimeout)
	defer cancel()

	entry := &models.UsageLedgerEntry{
		KnowledgeBaseID: doc.KnowledgeBaseID,
		OrganizationID:  doc.OrganizationID,
		DocumentID:      doc.ID,
		Operation:       operation,
		Model:           meter.Model(),
		TotalTokens:     meter.Tokens(),
		CostUSD:         meter.CostUSD(),
	}
	if err := i.db.InsertUsage(uctx, entry); err != nil {
		i.logger.Warn("usage ledger write failed", "document_id", doc.ID, "err", err)
	}
}
