package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/markdave123-py/kbingest/internal/config"
	"github.com/markdave123-py/kbingest/internal/core"
	"github.com/markdave123-py/kbingest/internal/models"
)

var _ core.DbClient = (*DatabaseClient)(nil)

type DatabaseClient struct {
	db *sql.DB
}

// NewDatabaseClient opens the pool, pings, and bootstraps the schema.
// When SSL_CERT_PATH is set the connection is verified against that CA.
func NewDatabaseClient(ctx context.Context, cfg *config.Config) (*DatabaseClient, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database client configuration is nil")
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is empty")
	}

	dsn := cfg.DatabaseURL
	if cfg.SslCertPath != "" {
		if _, err := os.Stat(cfg.SslCertPath); err != nil {
			return nil, fmt.Errorf("ssl cert not accessible at %q: %w", cfg.SslCertPath, err)
		}
		u, err := url.Parse(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("invalid DATABASE_URL: %w", err)
		}
		q := u.Query()
		q.Set("sslmode", "verify-ca")
		q.Set("sslrootcert", cfg.SslCertPath)
		u.RawQuery = q.Encode()
		dsn = u.String()
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	if err := EnsureBootstrapped(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bootstrap: %w", err)
	}

	return &DatabaseClient{db: db}, nil
}

func (c *DatabaseClient) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

const documentColumns = `
	id::text, COALESCE(knowledge_base_id, ''), COALESCE(organization_id, ''), COALESCE(agent_id, ''),
	COALESCE(file_name, ''), COALESCE(file_path, ''), COALESCE(url, ''), COALESCE(content_type, ''),
	processing_status, chunks_count, COALESCE(error_message, ''), metadata, COALESCE(content, ''),
	lease_expires_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*models.SourceDocument, error) {
	var (
		d     models.SourceDocument
		meta  []byte
		lease sql.NullTime
	)
	err := row.Scan(
		&d.ID, &d.KnowledgeBaseID, &d.OrganizationID, &d.AgentID,
		&d.FileName, &d.FilePath, &d.URL, &d.ContentType,
		&d.ProcessingStatus, &d.ChunksCount, &d.ErrorMessage, &meta, &d.Content,
		&lease, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if lease.Valid {
		t := lease.Time
		d.LeaseExpiresAt = &t
	}
	d.Metadata = map[string]any{}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &d.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return &d, nil
}

func (c *DatabaseClient) GetDocumentByID(ctx context.Context, id string) (*models.SourceDocument, error) {
	q := `SELECT ` + documentColumns + ` FROM documents WHERE id = $1`
	d, err := scanDocument(c.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: document %s", core.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get document: %v", core.ErrPersistence, err)
	}
	return d, nil
}

// ClaimDocument sets processing under a lease unless an unexpired lease is held.
func (c *DatabaseClient) ClaimDocument(ctx context.Context, id string, lease time.Duration) (*models.SourceDocument, error) {
	q := `
		UPDATE documents
		SET processing_status = 'processing',
		    lease_expires_at = now() + ($2::float8 * interval '1 second'),
		    error_message = NULL,
		    updated_at = now()
		WHERE id = $1
		  AND (lease_expires_at IS NULL OR lease_expires_at < now())
		RETURNING ` + documentColumns

	d, err := scanDocument(c.db.QueryRowContext(ctx, q, id, lease.Seconds()))
	if err == nil {
		return d, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: claim document: %v", core.ErrPersistence, err)
	}

	if _, getErr := c.GetDocumentByID(ctx, id); getErr != nil {
		return nil, getErr
	}
	return nil, fmt.Errorf("%w: document %s", core.ErrJobInProgress, id)
}

func (c *DatabaseClient) ReleaseDocument(ctx context.Context, id string) error {
	_, err := c.db.ExecContext(ctx, `UPDATE documents SET lease_expires_at = NULL WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("%w: release document: %v", core.ErrPersistence, err)
	}
	return nil
}

// UpdateDocumentStatus moves the document to status if the transition is allowed.
// Leaving processing also drops the lease.
func (c *DatabaseClient) UpdateDocumentStatus(ctx context.Context, id, status, errMsg string) error {
	return c.withTx(ctx, func(tx *sql.Tx) error {
		var current string
		err := tx.QueryRowContext(ctx, `SELECT processing_status FROM documents WHERE id = $1 FOR UPDATE`, id).Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: document %s", core.ErrNotFound, id)
		}
		if err != nil {
			return fmt.Errorf("%w: lock document: %v", core.ErrPersistence, err)
		}
		if !models.CanTransition(current, status) {
			return fmt.Errorf("%w: %s -> %s", core.ErrInvalidTransition, current, status)
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE documents
			SET processing_status = $2,
			    error_message = NULLIF($3, ''),
			    lease_expires_at = CASE WHEN $2 = 'processing' THEN lease_expires_at ELSE NULL END,
			    updated_at = now()
			WHERE id = $1`, id, status, errMsg)
		if err != nil {
			return fmt.Errorf("%w: update status: %v", core.ErrPersistence, err)
		}
		return nil
	})
}

// ResetDocument puts a finished document back to pending for a manual retry.
// A processing document can only be reset once its lease has expired.
func (c *DatabaseClient) ResetDocument(ctx context.Context, id string) error {
	return c.withTx(ctx, func(tx *sql.Tx) error {
		var (
			current string
			live    bool
		)
		err := tx.QueryRowContext(ctx, `
			SELECT processing_status, COALESCE(lease_expires_at > now(), false)
			FROM documents WHERE id = $1 FOR UPDATE`, id).Scan(&current, &live)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: document %s", core.ErrNotFound, id)
		}
		if err != nil {
			return fmt.Errorf("%w: lock document: %v", core.ErrPersistence, err)
		}

		switch {
		case live:
			return fmt.Errorf("%w: document %s", core.ErrJobInProgress, id)
		case current == models.StatusPending:
			return nil
		case current != models.StatusProcessing && !models.CanTransition(current, models.StatusPending):
			return fmt.Errorf("%w: %s -> %s", core.ErrInvalidTransition, current, models.StatusPending)
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE documents
			SET processing_status = 'pending', error_message = NULL, lease_expires_at = NULL, updated_at = now()
			WHERE id = $1`, id)
		if err != nil {
			return fmt.Errorf("%w: reset document: %v", core.ErrPersistence, err)
		}
		return nil
	})
}

// WriteChunk upserts one chunk. Chunk 0 is also mirrored into the document
// row in the same transaction, which marks the document completed.
func (c *DatabaseClient) WriteChunk(ctx context.Context, chunk *models.Chunk, total int) error {
	if chunk == nil {
		return fmt.Errorf("%w: nil chunk", core.ErrPersistence)
	}
	if chunk.ID == "" {
		chunk.ID = uuid.NewString()
	}
	meta, err := json.Marshal(nonNil(chunk.Metadata))
	if err != nil {
		return fmt.Errorf("%w: encode chunk metadata: %v", core.ErrPersistence, err)
	}
	vec := pgvector.NewVector(chunk.Embedding)

	return c.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO document_chunks (id, document_id, chunk_index, content, embedding, token_count, metadata)
			VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb)
			ON CONFLICT (document_id, chunk_index) DO UPDATE
			SET content = EXCLUDED.content,
			    embedding = EXCLUDED.embedding,
			    token_count = EXCLUDED.token_count,
			    metadata = EXCLUDED.metadata,
			    updated_at = now()`,
			chunk.ID, chunk.DocumentID, chunk.Index, chunk.Content, vec, chunk.TokenCount, string(meta))
		if err != nil {
			return fmt.Errorf("%w: upsert chunk %d: %v", core.ErrPersistence, chunk.Index, err)
		}

		if chunk.Index != 0 {
			return nil
		}

		res, err := tx.ExecContext(ctx, `
			UPDATE documents
			SET content = $2,
			    embedding = $3,
			    processing_status = 'completed',
			    chunks_count = $4,
			    error_message = NULL,
			    metadata = metadata || $5::jsonb,
			    updated_at = now()
			WHERE id = $1`,
			chunk.DocumentID, chunk.Content, vec, total, string(meta))
		if err != nil {
			return fmt.Errorf("%w: mirror chunk 0: %v", core.ErrPersistence, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("%w: document %s", core.ErrNotFound, chunk.DocumentID)
		}
		return nil
	})
}

func (c *DatabaseClient) DeleteChunksFrom(ctx context.Context, documentID string, fromIndex int) error {
	_, err := c.db.ExecContext(ctx,
		`DELETE FROM document_chunks WHERE document_id = $1 AND chunk_index >= $2`, documentID, fromIndex)
	if err != nil {
		return fmt.Errorf("%w: delete chunks: %v", core.ErrPersistence, err)
	}
	return nil
}

func (c *DatabaseClient) GetChunksByDocument(ctx context.Context, documentID string) ([]models.Chunk, error) {
	const q = `
		SELECT id::text, document_id::text, chunk_index, content, embedding, token_count, metadata, created_at
		FROM document_chunks
		WHERE document_id = $1
		ORDER BY chunk_index ASC
	`
	rows, err := c.db.QueryContext(ctx, q, documentID)
	if err != nil {
		return nil, fmt.Errorf("%w: list chunks: %v", core.ErrPersistence, err)
	}
	defer rows.Close()

	var out []models.Chunk
	for rows.Next() {
		var (
			ch   models.Chunk
			emb  pgvector.Vector
			meta []byte
		)
		if err := rows.Scan(&ch.ID, &ch.DocumentID, &ch.Index, &ch.Content, &emb, &ch.TokenCount, &meta, &ch.CreatedAt); err != nil {
			return nil, fmt.Errorf("%w: scan chunk: %v", core.ErrPersistence, err)
		}
		ch.Embedding = emb.Slice()
		if err := json.Unmarshal(meta, &ch.Metadata); err != nil {
			return nil, fmt.Errorf("%w: decode chunk metadata: %v", core.ErrPersistence, err)
		}
		out = append(out, ch)
	}
	return out, rows.Err()
}

func (c *DatabaseClient) GetTenantConfig(ctx context.Context, organizationID string) (*models.TenantConfig, error) {
	const q = `
		SELECT organization_id, COALESCE(embedding_api_key, ''), COALESCE(embedding_model, '')
		FROM organization_settings
		WHERE organization_id = $1
	`
	var t models.TenantConfig
	err := c.db.QueryRowContext(ctx, q, organizationID).Scan(&t.OrganizationID, &t.EmbeddingAPIKey, &t.EmbeddingModel)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: organization settings %s", core.ErrNotFound, organizationID)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get tenant config: %v", core.ErrPersistence, err)
	}
	return &t, nil
}

func (c *DatabaseClient) InsertUsage(ctx context.Context, entry *models.UsageLedgerEntry) error {
	if entry == nil {
		return fmt.Errorf("%w: nil usage entry", core.ErrPersistence)
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	const q = `
		INSERT INTO embedding_usage
			(id, knowledge_base_id, organization_id, document_id, operation, model, total_tokens, cost_usd)
		VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), $4, $5, $6, $7, $8)
	`
	_, err := c.db.ExecContext(ctx, q,
		entry.ID, entry.KnowledgeBaseID, entry.OrganizationID, entry.DocumentID,
		entry.Operation, entry.Model, entry.TotalTokens, entry.CostUSD)
	if err != nil {
		return fmt.Errorf("%w: insert usage: %v", core.ErrPersistence, err)
	}
	return nil
}

func (c *DatabaseClient) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := c.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return fmt.Errorf("%w: begin tx: %v", core.ErrPersistence, err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", core.ErrPersistence, err)
	}
	return nil
}

func nonNil(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
