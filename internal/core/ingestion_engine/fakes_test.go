package ingestion_engine

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/markdave123-py/kbingest/internal/core"
	"github.com/markdave123-py/kbingest/internal/core/chunking"
	"github.com/markdave123-py/kbingest/internal/core/llm"
	"github.com/markdave123-py/kbingest/internal/core/webfetch"
	"github.com/markdave123-py/kbingest/internal/models"
)

type fakeDB struct {
	mu        sync.Mutex
	docs      map[string]*models.SourceDocument
	chunks    map[string]map[int]models.Chunk
	tenants   map[string]*models.TenantConfig
	usage     []models.UsageLedgerEntry
	writeErrs map[int]error
	releases  int
}

var _ core.DbClient = (*fakeDB)(nil)

func newFakeDB() *fakeDB {
	return &fakeDB{
		docs:      map[string]*models.SourceDocument{},
		chunks:    map[string]map[int]models.Chunk{},
		tenants:   map[string]*models.TenantConfig{},
		writeErrs: map[int]error{},
	}
}

func (f *fakeDB) addDocument(d models.SourceDocument) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if d.ProcessingStatus == "" {
		d.ProcessingStatus = models.StatusPending
	}
	f.docs[d.ID] = &d
}

func (f *fakeDB) doc(id string) models.SourceDocument {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.docs[id]
}

func (f *fakeDB) GetDocumentByID(_ context.Context, id string) (*models.SourceDocument, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.docs[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (f *fakeDB) ClaimDocument(_ context.Context, id string, lease time.Duration) (*models.SourceDocument, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.docs[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	if d.LeaseExpiresAt != nil && d.LeaseExpiresAt.After(time.Now()) {
		return nil, core.ErrJobInProgress
	}
	exp := time.Now().Add(lease)
	d.LeaseExpiresAt = &exp
	d.ProcessingStatus = models.StatusProcessing
	cp := *d
	return &cp, nil
}

func (f *fakeDB) ReleaseDocument(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.releases++
	if d, ok := f.docs[id]; ok {
		d.LeaseExpiresAt = nil
	}
	return nil
}

func (f *fakeDB) UpdateDocumentStatus(_ context.Context, id, status, errMsg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.docs[id]
	if !ok {
		return core.ErrNotFound
	}
	if !models.CanTransition(d.ProcessingStatus, status) {
		return core.ErrInvalidTransition
	}
	d.ProcessingStatus = status
	d.ErrorMessage = errMsg
	if status != models.StatusProcessing {
		d.LeaseExpiresAt = nil
	}
	return nil
}

func (f *fakeDB) ResetDocument(_ context.Context, id string) error {
	return f.UpdateDocumentStatus(context.Background(), id, models.StatusPending, "")
}

func (f *fakeDB) WriteChunk(_ context.Context, c *models.Chunk, total int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.writeErrs[c.Index]; err != nil {
		return fmt.Errorf("%w: %v", core.ErrPersistence, err)
	}
	d, ok := f.docs[c.DocumentID]
	if !ok {
		return core.ErrNotFound
	}
	if f.chunks[c.DocumentID] == nil {
		f.chunks[c.DocumentID] = map[int]models.Chunk{}
	}
	f.chunks[c.DocumentID][c.Index] = *c
	if c.Index == 0 {
		d.Content = c.Content
		d.Embedding = c.Embedding
		d.ProcessingStatus = models.StatusCompleted
		d.ChunksCount = total
		d.ErrorMessage = ""
		if d.Metadata == nil {
			d.Metadata = map[string]any{}
		}
		maps.Copy(d.Metadata, c.Metadata)
	}
	return nil
}

func (f *fakeDB) DeleteChunksFrom(_ context.Context, documentID string, fromIndex int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for idx := range f.chunks[documentID] {
		if idx >= fromIndex {
			delete(f.chunks[documentID], idx)
		}
	}
	return nil
}

func (f *fakeDB) GetChunksByDocument(_ context.Context, documentID string) ([]models.Chunk, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.Chunk, 0, len(f.chunks[documentID]))
	for i := 0; i < len(f.chunks[documentID]); i++ {
		if c, ok := f.chunks[documentID][i]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeDB) GetTenantConfig(_ context.Context, organizationID string) (*models.TenantConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tenants[organizationID]
	if !ok {
		return nil, core.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (f *fakeDB) InsertUsage(_ context.Context, e *models.UsageLedgerEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.usage = append(f.usage, *e)
	return nil
}

func (f *fakeDB) Close() error { return nil }

type fakeBlobs map[string][]byte

func (b fakeBlobs) GetFile(_ context.Context, locator string) ([]byte, error) {
	data, ok := b[locator]
	if !ok {
		return nil, core.ErrNotFound
	}
	return data, nil
}

func (b fakeBlobs) PresignURL(_ context.Context, locator string, _ time.Duration) (string, error) {
	return "https://blobs.example/" + locator, nil
}

// fakeEmbedder fails the calls whose zero-based number is listed in failCalls.
type fakeEmbedder struct {
	mu        sync.Mutex
	model     string
	calls     int
	failCalls map[int]bool
	closed    bool
	// afterCall runs once a call has produced its result.
	afterCall func(n int)
}

func (e *fakeEmbedder) Embed(ctx context.Context, text string) (core.Embedding, error) {
	e.mu.Lock()
	n := e.calls
	e.calls++
	e.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return core.Embedding{}, err
	}
	if e.failCalls[n] {
		return core.Embedding{}, fmt.Errorf("%w: status 500", core.ErrEmbeddingAPI)
	}
	if e.afterCall != nil {
		defer e.afterCall(n)
	}
	return core.Embedding{Vector: []float32{0.1, 0.2, 0.3, 0.4}, Tokens: chunking.CountWords(text)}, nil
}

func (e *fakeEmbedder) ModelName() string { return e.model }
func (e *fakeEmbedder) Dimensions() int   { return 4 }
func (e *fakeEmbedder) Close() error {
	e.closed = true
	return nil
}

type fakeFactory struct {
	emb     *fakeEmbedder
	lastKey string
}

func (f *fakeFactory) New(_ context.Context, apiKey, model string) (llm.Embedder, error) {
	f.lastKey = apiKey
	if model != "" {
		f.emb.model = model
	}
	return f.emb, nil
}

type fakeFetcher struct {
	page   *webfetch.Page
	err    error
	forced bool
}

func (f *fakeFetcher) Fetch(_ context.Context, _ string, force bool) (*webfetch.Page, error) {
	f.forced = force
	if f.err != nil {
		return nil, f.err
	}
	return f.page, nil
}

var errBoom = errors.New("boom")
