package core

import (
	"context"
	"time"

	"github.com/markdave123-py/kbingest/internal/models"
)

// DbClient defines all persistence operations the ingestion pipeline needs.
// It abstracts Postgres/pgvector so higher layers never depend on a specific DB.
type DbClient interface {
	GetDocumentByID(ctx context.Context, id string) (*models.SourceDocument, error)

	// ClaimDocument moves a document to processing under a lease. It fails with
	// ErrJobInProgress while another unexpired claim holds the row.
	ClaimDocument(ctx context.Context, id string, lease time.Duration) (*models.SourceDocument, error)
	// ReleaseDocument drops the lease taken by ClaimDocument.
	ReleaseDocument(ctx context.Context, id string) error
	UpdateDocumentStatus(ctx context.Context, id, status, errMsg string) error
	ResetDocument(ctx context.Context, id string) error

	// WriteChunk persists one chunk in its own transaction. Index 0 is also
	// mirrored into the document row together with the job totals.
	WriteChunk(ctx context.Context, chunk *models.Chunk, total int) error
	DeleteChunksFrom(ctx context.Context, documentID string, fromIndex int) error
	GetChunksByDocument(ctx context.Context, documentID string) ([]models.Chunk, error)

	GetTenantConfig(ctx context.Context, organizationID string) (*models.TenantConfig, error)
	InsertUsage(ctx context.Context, entry *models.UsageLedgerEntry) error

	Close() error
}

// ObjectClient defines read access to the blob store holding uploaded files.
// It's abstract so S3 can be replaced with MinIO, Supabase storage, etc.
type ObjectClient interface {
	GetFile(ctx context.Context, locator string) ([]byte, error)
	// PresignURL returns a time-limited URL a third party can download the object from.
	PresignURL(ctx context.Context, locator string, ttl time.Duration) (string, error)
}

// Embedding is one vector plus the tokens billed for producing it.
type Embedding struct {
	Vector []float32
	Tokens int
}

type EmbeddingProvider interface {
	Embed(ctx context.Context, text string) (Embedding, error)
	ModelName() string
	Dimensions() int
}
