package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/markdave123-py/kbingest/internal/core"
	"github.com/markdave123-py/kbingest/internal/models"
)

// DocumentService exposes the operator-facing reads and the manual reset
// on top of the store. Ingestion itself lives in ingestion_engine.
type DocumentService struct {
	db core.DbClient
}

func NewDocumentService(db core.DbClient) *DocumentService {
	return &DocumentService{db: db}
}

// DocumentStatus is a document row plus its stored chunk count.
type DocumentStatus struct {
	Document     *models.SourceDocument `json:"document"`
	StoredChunks int                    `json:"stored_chunks"`
}

func (s *DocumentService) Get(ctx context.Context, id string) (*models.SourceDocument, error) {
	if err := validID(id); err != nil {
		return nil, err
	}
	return s.db.GetDocumentByID(ctx, id)
}

func (s *DocumentService) Status(ctx context.Context, id string) (*DocumentStatus, error) {
	doc, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	chunks, err := s.db.GetChunksByDocument(ctx, id)
	if err != nil {
		return nil, err
	}
	return &DocumentStatus{Document: doc, StoredChunks: len(chunks)}, nil
}

func (s *DocumentService) Chunks(ctx context.Context, id string) ([]models.Chunk, error) {
	if err := validID(id); err != nil {
		return nil, err
	}
	return s.db.GetChunksByDocument(ctx, id)
}

// Reset moves a finished document back to pending so it can be re-run.
func (s *DocumentService) Reset(ctx context.Context, id string) error {
	if err := validID(id); err != nil {
		return err
	}
	return s.db.ResetDocument(ctx, id)
}

func validID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("%w: document id %q is not a uuid", core.ErrInvalidInput, id)
	}
	return nil
}
