package interfaces

import (
	"context"
	"time"

	"github.com/secmon-lab/ingestd/pkg/domain/model"
	"github.com/secmon-lab/ingestd/pkg/domain/types"
)

// KnowledgeDocRepository persists knowledge documents, scoped by business (tenant)
type KnowledgeDocRepository interface {
	// Create stores a new document; an empty ID is generated
	Create(ctx context.Context, doc *model.KnowledgeDoc) (*model.KnowledgeDoc, error)

	// Get returns ErrNotFound when the document does not exist
	Get(ctx context.Context, businessID string, id model.KnowledgeDocID) (*model.KnowledgeDoc, error)

	// IncrementAttempts atomically increments the processing attempt counter
	IncrementAttempts(ctx context.Context, businessID string, id model.KnowledgeDocID) error

	// Finalize marks the document active with its ingestion result and clears any error
	Finalize(ctx context.Context, businessID string, id model.KnowledgeDocID, result model.KnowledgeDocResult) error

	// Fail marks the document failed with a structured reason
	Fail(ctx context.Context, businessID string, id model.KnowledgeDocID, failure *model.Failure) error

	// FailIfStatus fails the document only if it is still in the expected status.
	// Returns false when the status did not match.
	FailIfStatus(ctx context.Context, businessID string, id model.KnowledgeDocID, expected types.DocStatus, failure *model.Failure) (bool, error)

	// UpdateCatalogExtraction overwrites the catalog extraction sub-status
	UpdateCatalogExtraction(ctx context.Context, businessID string, id model.KnowledgeDocID, ce model.CatalogExtraction) error

	// ListStale returns documents across tenants in the given status not updated since before
	ListStale(ctx context.Context, status types.DocStatus, before time.Time, limit int) ([]*model.KnowledgeDoc, error)
}

// KnowledgeChunkRepository persists retrieval chunks under their document
type KnowledgeChunkRepository interface {
	// PutBatch upserts chunks keyed by (docID, textHash). A batch is not atomic
	// with other batches.
	PutBatch(ctx context.Context, businessID string, docID model.KnowledgeDocID, chunks []*model.KnowledgeChunk) error

	// List returns the chunks of a document ordered by ChunkIndex
	List(ctx context.Context, businessID string, docID model.KnowledgeDocID) ([]*model.KnowledgeChunk, error)

	// CountActiveByTenant counts active chunks of every document of the business
	CountActiveByTenant(ctx context.Context, businessID string) (int, error)

	// CountActiveByDoc counts active chunks of one document
	CountActiveByDoc(ctx context.Context, businessID string, docID model.KnowledgeDocID) (int, error)

	// FindNearest returns up to limit active chunks of the business ordered by
	// cosine similarity to embedding
	FindNearest(ctx context.Context, businessID string, embedding []float32, limit int) ([]*model.KnowledgeChunk, error)
}
