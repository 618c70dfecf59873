package interfaces

import (
	"context"
	"time"

	"github.com/secmon-lab/ingestd/pkg/domain/model"
	"github.com/secmon-lab/ingestd/pkg/domain/types"
)

// CatalogJobRepository persists catalog ingest jobs, scoped by market (tenant)
type CatalogJobRepository interface {
	Create(ctx context.Context, job *model.CatalogIngestJob) (*model.CatalogIngestJob, error)

	// Get returns ErrNotFound when the job does not exist
	Get(ctx context.Context, marketID string, id model.JobID) (*model.CatalogIngestJob, error)

	// FindActiveByIdempotencyKey returns a queued, processing or needs_review job with
	// the key, or nil when none exists
	FindActiveByIdempotencyKey(ctx context.Context, marketID, key string) (*model.CatalogIngestJob, error)

	// MarkProcessing transitions queued to processing and increments attempts.
	// Returns false without writing when the job is not queued.
	MarkProcessing(ctx context.Context, marketID string, id model.JobID) (bool, error)

	// MarkNeedsReview records the proposal and moves the job to needs_review
	MarkNeedsReview(ctx context.Context, marketID string, id model.JobID, proposalID model.ProposalID) error

	// Fail marks the job failed with a structured reason
	Fail(ctx context.Context, marketID string, id model.JobID, failure *model.Failure) error

	// FailIfStatus fails the job only if it is still in the expected status
	FailIfStatus(ctx context.Context, marketID string, id model.JobID, expected types.JobStatus, failure *model.Failure) (bool, error)

	// ListStale returns jobs across tenants in the given status not updated since before
	ListStale(ctx context.Context, status types.JobStatus, before time.Time, limit int) ([]*model.CatalogIngestJob, error)
}

// ProposalRepository persists ingest proposals under their listing
type ProposalRepository interface {
	Create(ctx context.Context, proposal *model.IngestProposal) (*model.IngestProposal, error)

	// Get returns ErrNotFound when the proposal does not exist
	Get(ctx context.Context, marketID, listingID string, id model.ProposalID) (*model.IngestProposal, error)
}

// CatalogItemRepository reads live catalog items of a listing
type CatalogItemRepository interface {
	List(ctx context.Context, marketID, listingID string, kind types.CatalogKind) ([]*model.CatalogItem, error)
}
