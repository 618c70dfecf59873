package interfaces

import (
	"context"

	"github.com/secmon-lab/ingestd/pkg/domain/model"
)

// Repository defines the interface for data persistence
type Repository interface {
	KnowledgeDoc() KnowledgeDocRepository
	KnowledgeChunk() KnowledgeChunkRepository
	CatalogJob() CatalogJobRepository
	Proposal() ProposalRepository
	CatalogItem() CatalogItemRepository

	// ApplyProposal upserts every proposal item into the listing's kind
	// subcollection (merge), marks the proposal applied and the originating job
	// applied. All writes commit in one transaction. A proposal that is not in
	// proposed status fails with ErrProposalDecided.
	ApplyProposal(ctx context.Context, marketID, listingID string, id model.ProposalID) (*model.IngestProposal, error)

	// RejectProposal marks the proposal rejected and the originating job failed
	// in one transaction, with the same status precondition as ApplyProposal.
	RejectProposal(ctx context.Context, marketID, listingID string, id model.ProposalID, reason *model.Failure) (*model.IngestProposal, error)

	Close() error
}
