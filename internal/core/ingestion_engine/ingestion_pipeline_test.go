package ingestion_engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/kbingest/internal/core"
	"github.com/markdave123-py/kbingest/internal/core/extraction"
	"github.com/markdave123-py/kbingest/internal/core/llm"
	"github.com/markdave123-py/kbingest/internal/core/webfetch"
	"github.com/markdave123-py/kbingest/internal/models"
)

const (
	testOrg   = "org-1"
	testKB    = "kb-1"
	testModel = "text-embedding-3-small"
)

type harness struct {
	db      *fakeDB
	blobs   fakeBlobs
	emb     *fakeEmbedder
	factory *fakeFactory
	fetcher *fakeFetcher
	ing     *DocumentIngestor
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		db:      newFakeDB(),
		blobs:   fakeBlobs{},
		emb:     &fakeEmbedder{model: testModel, failCalls: map[int]bool{}},
		fetcher: &fakeFetcher{},
	}
	h.factory = &fakeFactory{emb: h.emb}
	h.db.tenants[testOrg] = &models.TenantConfig{OrganizationID: testOrg, EmbeddingAPIKey: "sk-test"}
	h.ing = NewDocumentIngestor(h.db, h.blobs, extraction.NewExtractor(), h.fetcher, h.factory, nil,
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	return h
}

func words(prefix string, n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf("%s%d", prefix, i)
	}
	return strings.Join(parts, " ")
}

func (h *harness) addFile(text string) string {
	id := uuid.NewString()
	h.blobs["docs/"+id+".txt"] = []byte(text)
	h.db.addDocument(models.SourceDocument{
		ID:              id,
		KnowledgeBaseID: testKB,
		OrganizationID:  testOrg,
		FileName:        "notes.txt",
		FilePath:        "docs/" + id + ".txt",
		ContentType:     "text/plain",
	})
	return id
}

func (h *harness) addURL(u string) string {
	id := uuid.NewString()
	h.db.addDocument(models.SourceDocument{
		ID:              id,
		KnowledgeBaseID: testKB,
		OrganizationID:  testOrg,
		URL:             u,
	})
	return id
}

func TestProcessDocument_AllChunks(t *testing.T) {
	h := newHarness(t)
	id := h.addFile(words("w", 1200))

	res, err := h.ing.ProcessDocument(context.Background(), ProcessRequest{DocumentID: id, KnowledgeBaseID: testKB})
	require.NoError(t, err)

	assert.Equal(t, "notes.txt", res.FileName)
	assert.Equal(t, extraction.MethodText, res.ExtractionMethod)
	assert.Equal(t, 3, res.ChunksTotal)
	assert.Equal(t, 3, res.ChunksProcessed)
	assert.Equal(t, 1200, res.Tokens)
	assert.Equal(t, testModel, res.Model)
	assert.InDelta(t, llm.Cost(testModel, 1200), res.CostUSD, 1e-9)
	for i, c := range res.Chunks {
		assert.Equal(t, i, c.Index)
		assert.Equal(t, ChunkSucceeded, c.Status)
	}
	assert.Equal(t, []int{500, 500, 200}, []int{res.Chunks[0].Tokens, res.Chunks[1].Tokens, res.Chunks[2].Tokens})

	doc := h.db.doc(id)
	assert.Equal(t, models.StatusCompleted, doc.ProcessingStatus)
	assert.Equal(t, 3, doc.ChunksCount)
	assert.Nil(t, doc.LeaseExpiresAt)
	assert.True(t, h.emb.closed)
	assert.Equal(t, "sk-test", h.factory.lastKey)
}

func TestProcessDocument_ChunkZeroMirror(t *testing.T) {
	h := newHarness(t)
	id := h.addFile(words("w", 700))

	_, err := h.ing.ProcessDocument(context.Background(), ProcessRequest{DocumentID: id})
	require.NoError(t, err)

	chunks, err := h.db.GetChunksByDocument(context.Background(), id)
	require.NoError(t, err)
	require.Len(t, chunks, 2)

	doc := h.db.doc(id)
	assert.Equal(t, chunks[0].Content, doc.Content)
	assert.Equal(t, chunks[0].Embedding, doc.Embedding)
	assert.Equal(t, "notes.txt", doc.Metadata["fileName"])
	assert.Equal(t, extraction.MethodText, doc.Metadata["extraction_method"])
	assert.NotContains(t, chunks[0].Metadata, "parentDocumentId")
	assert.Equal(t, id, chunks[1].Metadata["parentDocumentId"])
	assert.Equal(t, 1, chunks[1].Metadata["chunkIndex"])
	assert.Equal(t, 2, chunks[1].Metadata["totalChunks"])
}

func TestProcessDocument_PartialSuccess(t *testing.T) {
	h := newHarness(t)
	id := h.addFile(words("w", 1200))
	h.emb.failCalls[2] = true

	res, err := h.ing.ProcessDocument(context.Background(), ProcessRequest{DocumentID: id})
	require.NoError(t, err)

	assert.Equal(t, 3, res.ChunksTotal)
	assert.Equal(t, 2, res.ChunksProcessed)
	require.Len(t, res.Chunks, 3)
	assert.Equal(t, ChunkFailed, res.Chunks[2].Status)
	assert.Contains(t, res.Chunks[2].Error, "embedding API error")
	assert.Equal(t, 1000, res.Tokens)

	assert.Equal(t, models.StatusCompleted, h.db.doc(id).ProcessingStatus)
	require.Len(t, h.db.usage, 1)
	assert.Equal(t, 1000, h.db.usage[0].TotalTokens)
}

func TestProcessDocument_CancelledAfterChunkZero(t *testing.T) {
	h := newHarness(t)
	id := h.addFile(words("w", 5000))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.emb.afterCall = func(n int) {
		if n == 0 {
			cancel()
		}
	}

	res, err := h.ing.ProcessDocument(ctx, ProcessRequest{DocumentID: id})
	require.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, res)
	assert.Equal(t, 1, h.emb.calls, "no chunk is embedded after cancellation")

	doc := h.db.doc(id)
	assert.Equal(t, models.StatusFailed, doc.ProcessingStatus)
	assert.Contains(t, doc.ErrorMessage, "cancelled after 1 of 10 chunks")
	assert.Nil(t, doc.LeaseExpiresAt)

	// tokens spent before the cancel are still billed
	require.Len(t, h.db.usage, 1)
	assert.Equal(t, 500, h.db.usage[0].TotalTokens)
}

func TestProcessDocument_CancelledDuringLastChunk(t *testing.T) {
	h := newHarness(t)
	id := h.addFile(words("w", 700))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.emb.afterCall = func(n int) {
		if n == 1 {
			cancel()
		}
	}

	_, err := h.ing.ProcessDocument(ctx, ProcessRequest{DocumentID: id})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 2, h.emb.calls)

	doc := h.db.doc(id)
	assert.Equal(t, models.StatusFailed, doc.ProcessingStatus)
	assert.Contains(t, doc.ErrorMessage, "cancelled after 2 of 2 chunks")
}

func TestProcessDocument_ChunkZeroFailureAborts(t *testing.T) {
	h := newHarness(t)
	id := h.addFile(words("w", 1200))
	h.emb.failCalls[0] = true

	_, err := h.ing.ProcessDocument(context.Background(), ProcessRequest{DocumentID: id})
	require.ErrorIs(t, err, core.ErrEmbeddingAPI)

	doc := h.db.doc(id)
	assert.Equal(t, models.StatusFailed, doc.ProcessingStatus)
	assert.Contains(t, doc.ErrorMessage, "chunk 0")
	assert.Equal(t, 1, h.emb.calls, "no chunk after 0 is attempted")
	assert.Empty(t, h.db.usage)
}

func TestProcessDocument_ChunkZeroWriteFailure(t *testing.T) {
	h := newHarness(t)
	id := h.addFile(words("w", 700))
	h.db.writeErrs[0] = errBoom

	_, err := h.ing.ProcessDocument(context.Background(), ProcessRequest{DocumentID: id})
	require.ErrorIs(t, err, core.ErrPersistence)

	assert.Equal(t, models.StatusFailed, h.db.doc(id).ProcessingStatus)
	// the embedding was billed even though the write failed
	require.Len(t, h.db.usage, 1)
	assert.Equal(t, 500, h.db.usage[0].TotalTokens)
}

func TestProcessDocument_LedgerWrittenOnce(t *testing.T) {
	h := newHarness(t)
	id := h.addFile(words("w", 1200))

	_, err := h.ing.ProcessDocument(context.Background(), ProcessRequest{DocumentID: id})
	require.NoError(t, err)

	require.Len(t, h.db.usage, 1)
	e := h.db.usage[0]
	assert.Equal(t, OperationProcessDocument, e.Operation)
	assert.Equal(t, testKB, e.KnowledgeBaseID)
	assert.Equal(t, testOrg, e.OrganizationID)
	assert.Equal(t, id, e.DocumentID)
	assert.Equal(t, testModel, e.Model)
	assert.Equal(t, 1200, e.TotalTokens)
}

func TestProcessDocument_RetryDropsStaleChunks(t *testing.T) {
	h := newHarness(t)
	id := h.addFile(words("w", 1200))

	_, err := h.ing.ProcessDocument(context.Background(), ProcessRequest{DocumentID: id})
	require.NoError(t, err)

	h.blobs["docs/"+id+".txt"] = []byte(words("v", 300))
	res, err := h.ing.ProcessDocument(context.Background(), ProcessRequest{DocumentID: id})
	require.NoError(t, err)
	assert.Equal(t, 1, res.ChunksTotal)

	chunks, err := h.db.GetChunksByDocument(context.Background(), id)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.True(t, strings.HasPrefix(chunks[0].Content, "v0 "))
	assert.Equal(t, 1, h.db.doc(id).ChunksCount)
}

func TestProcessDocument_MissingCredentials(t *testing.T) {
	h := newHarness(t)
	id := h.addFile(words("w", 10))
	h.db.tenants[testOrg].EmbeddingAPIKey = ""

	_, err := h.ing.ProcessDocument(context.Background(), ProcessRequest{DocumentID: id})
	require.ErrorIs(t, err, core.ErrMissingCredentials)
	assert.Equal(t, models.StatusFailed, h.db.doc(id).ProcessingStatus)

	delete(h.db.tenants, testOrg)
	_, err = h.ing.ProcessDocument(context.Background(), ProcessRequest{DocumentID: id})
	assert.ErrorIs(t, err, core.ErrMissingCredentials)
}

func TestProcessDocument_JobInProgress(t *testing.T) {
	h := newHarness(t)
	id := h.addFile(words("w", 10))
	_, err := h.db.ClaimDocument(context.Background(), id, DefaultIngestConfig().JobLease)
	require.NoError(t, err)

	_, err = h.ing.ProcessDocument(context.Background(), ProcessRequest{DocumentID: id})
	require.ErrorIs(t, err, core.ErrJobInProgress)
	assert.Equal(t, 0, h.emb.calls)
	assert.Equal(t, 0, h.db.releases, "a rejected claim must not drop the holder's lease")
}

func TestProcessDocument_InvalidRequests(t *testing.T) {
	h := newHarness(t)
	id := h.addFile(words("w", 10))
	webID := h.addURL("https://example.com")

	_, err := h.ing.ProcessDocument(context.Background(), ProcessRequest{DocumentID: "not-a-uuid"})
	assert.ErrorIs(t, err, core.ErrInvalidInput)

	_, err = h.ing.ProcessDocument(context.Background(), ProcessRequest{DocumentID: uuid.NewString()})
	assert.ErrorIs(t, err, core.ErrNotFound)

	_, err = h.ing.ProcessDocument(context.Background(), ProcessRequest{DocumentID: id, KnowledgeBaseID: "other"})
	assert.ErrorIs(t, err, core.ErrInvalidInput)

	_, err = h.ing.ProcessDocument(context.Background(), ProcessRequest{DocumentID: webID})
	assert.ErrorIs(t, err, core.ErrInvalidInput)

	assert.Equal(t, models.StatusPending, h.db.doc(id).ProcessingStatus)
}

func TestProcessDocument_ExtractionFailureMarksFailed(t *testing.T) {
	h := newHarness(t)
	id := h.addFile("   \n\n  ")

	_, err := h.ing.ProcessDocument(context.Background(), ProcessRequest{DocumentID: id})
	require.ErrorIs(t, err, core.ErrNoTextExtracted)

	doc := h.db.doc(id)
	assert.Equal(t, models.StatusFailed, doc.ProcessingStatus)
	assert.Contains(t, doc.ErrorMessage, "no text extracted")
	assert.Nil(t, doc.LeaseExpiresAt)
}

func TestProcessDocument_MissingBlob(t *testing.T) {
	h := newHarness(t)
	id := h.addFile(words("w", 10))
	delete(h.blobs, "docs/"+id+".txt")

	_, err := h.ing.ProcessDocument(context.Background(), ProcessRequest{DocumentID: id})
	require.ErrorIs(t, err, core.ErrNotFound)
	assert.Equal(t, models.StatusFailed, h.db.doc(id).ProcessingStatus)
}

type panicExtractor struct{}

func (panicExtractor) Extract(context.Context, extraction.Input) (*extraction.Output, error) {
	panic("corrupt parser state")
}

func TestProcessDocument_PanicMarksFailed(t *testing.T) {
	h := newHarness(t)
	id := h.addFile(words("w", 10))
	h.ing.extractor = panicExtractor{}

	_, err := h.ing.ProcessDocument(context.Background(), ProcessRequest{DocumentID: id})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "corrupt parser state")

	doc := h.db.doc(id)
	assert.Equal(t, models.StatusFailed, doc.ProcessingStatus)
	assert.Nil(t, doc.LeaseExpiresAt)
}

func TestScrapeURL_Success(t *testing.T) {
	h := newHarness(t)
	id := h.addURL("https://example.com/post")
	h.fetcher.page = &webfetch.Page{
		URL:       "https://example.com/post",
		Title:     "A Post",
		Text:      words("p", 700),
		WordCount: 700,
		Method:    webfetch.MethodDirect,
	}

	res, err := h.ing.ScrapeURL(context.Background(), ScrapeRequest{DocumentID: id, ForcePrerender: true})
	require.NoError(t, err)

	assert.True(t, h.fetcher.forced)
	assert.True(t, res.Success)
	assert.Equal(t, "A Post", res.Title)
	assert.Equal(t, 700, res.WordCount)
	assert.Equal(t, 2, res.ChunksTotal)
	assert.Equal(t, 2, res.ChunksProcessed)
	// 500 + 250 with a 50-word overlap
	assert.Equal(t, 750, res.Tokens)

	chunks, err := h.db.GetChunksByDocument(context.Background(), id)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, "https://example.com/post", chunks[1].Metadata["source_url"])
	assert.Equal(t, "A Post", chunks[1].Metadata["title"])
	assert.Equal(t, id, chunks[1].Metadata["parentDocumentId"])

	require.Len(t, h.db.usage, 1)
	assert.Equal(t, OperationWebScraper, h.db.usage[0].Operation)
	assert.Equal(t, models.StatusCompleted, h.db.doc(id).ProcessingStatus)
}

func TestScrapeURL_InsufficientContent(t *testing.T) {
	h := newHarness(t)
	id := h.addURL("https://example.com/spa")
	h.fetcher.err = &core.InsufficientContentError{WordCount: 12, Minimum: webfetch.MinWords}

	res, err := h.ing.ScrapeURL(context.Background(), ScrapeRequest{DocumentID: id})
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.Equal(t, InsufficientContentMessage, res.Error)
	assert.Equal(t, 12, res.WordCount)

	doc := h.db.doc(id)
	assert.Equal(t, models.StatusFailed, doc.ProcessingStatus)
	assert.Contains(t, doc.ErrorMessage, "insufficient content")
	assert.Equal(t, 0, h.emb.calls)
	assert.Empty(t, h.db.usage)
}

func TestScrapeURL_FetchError(t *testing.T) {
	h := newHarness(t)
	id := h.addURL("https://example.com/down")
	h.fetcher.err = fmt.Errorf("%w: status 503", core.ErrFetch)

	_, err := h.ing.ScrapeURL(context.Background(), ScrapeRequest{DocumentID: id})
	require.ErrorIs(t, err, core.ErrFetch)
	assert.Equal(t, models.StatusFailed, h.db.doc(id).ProcessingStatus)
}

func TestScrapeURL_RejectsFileDocuments(t *testing.T) {
	h := newHarness(t)
	id := h.addFile(words("w", 10))

	_, err := h.ing.ScrapeURL(context.Background(), ScrapeRequest{DocumentID: id})
	assert.ErrorIs(t, err, core.ErrInvalidInput)
}
