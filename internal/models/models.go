package models

import (
	"time"
)

// Processing states of a SourceDocument.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// transitions lists the allowed processing_status moves.
var transitions = map[string][]string{
	StatusPending:    {StatusProcessing},
	StatusProcessing: {StatusCompleted, StatusFailed},
	StatusCompleted:  {StatusPending, StatusProcessing, StatusFailed},
	StatusFailed:     {StatusPending, StatusProcessing},
}

// CanTransition reports whether a document may move from one status to another.
// Re-running a finished job goes straight to processing; a manual reset goes to pending.
// Chunk 0 marks a document completed while its job still runs, so a job
// abandoned after that point moves it from completed to failed.
func CanTransition(from, to string) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// SourceDocument is one uploaded file or one crawled URL awaiting ingestion.
// Chunk 0 of a finished job is mirrored into Content and Embedding.
type SourceDocument struct {
	ID               string         `db:"id" json:"id"`
	KnowledgeBaseID  string         `db:"knowledge_base_id" json:"knowledge_base_id"`
	OrganizationID   string         `db:"organization_id" json:"organization_id"`
	AgentID          string         `db:"agent_id" json:"agent_id"`
	FileName         string         `db:"file_name" json:"file_name"`
	FilePath         string         `db:"file_path" json:"file_path"` // storage key or object URL
	URL              string         `db:"url" json:"url"`             // set for web sources
	ContentType      string         `db:"content_type" json:"content_type"`
	ProcessingStatus string         `db:"processing_status" json:"processing_status"`
	ChunksCount      int            `db:"chunks_count" json:"chunks_count"`
	ErrorMessage     string         `db:"error_message" json:"error_message,omitempty"`
	Metadata         map[string]any `db:"metadata" json:"metadata"`
	Content          string         `db:"content" json:"content,omitempty"`
	Embedding        []float32      `db:"embedding" json:"-"`
	LeaseExpiresAt   *time.Time     `db:"lease_expires_at" json:"-"`
	CreatedAt        time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time      `db:"updated_at" json:"updated_at"`
}

// IsWebSource reports whether the document was registered from a URL.
func (d *SourceDocument) IsWebSource() bool {
	return d.URL != ""
}

// Chunk is one embedded slice of a document's text.
type Chunk struct {
	ID         string         `db:"id" json:"id"`
	DocumentID string         `db:"document_id" json:"document_id"`
	Index      int            `db:"chunk_index" json:"chunk_index"`
	Content    string         `db:"content" json:"content"`
	Embedding  []float32      `db:"embedding" json:"-"`
	TokenCount int            `db:"token_count" json:"token_count"`
	Metadata   map[string]any `db:"metadata" json:"metadata"`
	CreatedAt  time.Time      `db:"created_at" json:"created_at"`
}

// UsageLedgerEntry records the embedding spend of one finished job.
type UsageLedgerEntry struct {
	ID              string    `db:"id" json:"id"`
	KnowledgeBaseID string    `db:"knowledge_base_id" json:"knowledge_base_id"`
	OrganizationID  string    `db:"organization_id" json:"organization_id"`
	DocumentID      string    `db:"document_id" json:"document_id"`
	Operation       string    `db:"operation" json:"operation"` // process-document | web-scraper
	Model           string    `db:"model" json:"model"`
	TotalTokens     int       `db:"total_tokens" json:"total_tokens"`
	CostUSD         float64   `db:"cost_usd" json:"cost_usd"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
}

// TenantConfig carries everything a job needs from its organization.
// It is loaded once at job start and passed down explicitly.
type TenantConfig struct {
	OrganizationID  string `db:"organization_id" json:"organization_id"`
	EmbeddingAPIKey string `db:"embedding_api_key" json:"-"`
	EmbeddingModel  string `db:"embedding_model" json:"embedding_model"`
}
