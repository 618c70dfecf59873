package firestore

import (
	"context"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/ingestd/pkg/domain/interfaces"
	"github.com/secmon-lab/ingestd/pkg/domain/model"
	"github.com/secmon-lab/ingestd/pkg/domain/types"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// decideProposal reads the proposal and its job, checks the proposal is still
// proposed and hands both to write. All reads happen before any write as
// Firestore transactions require.
func (f *Firestore) decideProposal(ctx context.Context, marketID, listingID string, id model.ProposalID,
	write func(tx *firestore.Transaction, p *model.IngestProposal, jobRef *firestore.DocumentRef, jobExists bool, now time.Time) error,
) (*model.IngestProposal, error) {
	ref := f.proposal.proposalRef(marketID, listingID, id)

	var decided *model.IngestProposal
	err := f.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return goerr.Wrap(ErrNotFound, "proposal not found",
					goerr.V("market_id", marketID), goerr.V("listing_id", listingID), goerr.V("proposal_id", id))
			}
			return err
		}
		p, err := snapshotToProposal(snap)
		if err != nil {
			return goerr.Wrap(err, "failed to unmarshal proposal", goerr.V("proposal_id", id))
		}
		if p.Status != types.ProposalStatusProposed {
			return goerr.Wrap(interfaces.ErrProposalDecided, "proposal is not proposed",
				goerr.V(interfaces.StatusKey, p.Status), goerr.V("proposal_id", id))
		}

		// proposals from the knowledge catalog sub-flow have no job
		var jobRef *firestore.DocumentRef
		jobExists := false
		if p.JobID != "" {
			jobRef = f.catalogJob.jobsCollection(marketID).Doc(string(p.JobID))
			jobExists = true
			if _, err := tx.Get(jobRef); err != nil {
				if status.Code(err) != codes.NotFound {
					return err
				}
				jobExists = false
			}
		}

		now := time.Now().UTC()
		if err := write(tx, p, jobRef, jobExists, now); err != nil {
			return err
		}
		decided = p
		return nil
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to decide proposal", goerr.V("proposal_id", id))
	}
	return decided, nil
}

func (f *Firestore) ApplyProposal(ctx context.Context, marketID, listingID string, id model.ProposalID) (*model.IngestProposal, error) {
	return f.decideProposal(ctx, marketID, listingID, id,
		func(tx *firestore.Transaction, p *model.IngestProposal, jobRef *firestore.DocumentRef, jobExists bool, now time.Time) error {
			items := f.catalogItem.itemsCollection(marketID, listingID, p.Kind)
			for _, item := range p.Items {
				if err := tx.Set(items.Doc(item.ID), itemMergeData(item), firestore.MergeAll); err != nil {
					return err
				}
			}

			if err := tx.Update(f.proposal.proposalRef(marketID, listingID, id), []firestore.Update{
				{Path: "Status", Value: string(types.ProposalStatusApplied)},
				{Path: "DecidedAt", Value: now},
				{Path: "UpdatedAt", Value: now},
			}); err != nil {
				return err
			}

			if jobExists {
				if err := tx.Update(jobRef, []firestore.Update{
					{Path: "Status", Value: string(types.JobStatusApplied)},
					{Path: "UpdatedAt", Value: now},
				}); err != nil {
					return err
				}
			}

			p.Status = types.ProposalStatusApplied
			p.DecidedAt = now
			p.UpdatedAt = now
			return nil
		})
}

func (f *Firestore) RejectProposal(ctx context.Context, marketID, listingID string, id model.ProposalID, reason *model.Failure) (*model.IngestProposal, error) {
	return f.decideProposal(ctx, marketID, listingID, id,
		func(tx *firestore.Transaction, p *model.IngestProposal, jobRef *firestore.DocumentRef, jobExists bool, now time.Time) error {
			if err := tx.Update(f.proposal.proposalRef(marketID, listingID, id), []firestore.Update{
				{Path: "Status", Value: string(types.ProposalStatusRejected)},
				{Path: "DecidedAt", Value: now},
				{Path: "UpdatedAt", Value: now},
			}); err != nil {
				return err
			}

			if jobExists {
				if err := tx.Update(jobRef, []firestore.Update{
					{Path: "Status", Value: string(types.JobStatusFailed)},
					{Path: "Error", Value: toFailureDoc(reason)},
					{Path: "UpdatedAt", Value: now},
				}); err != nil {
					return err
				}
			}

			p.Status = types.ProposalStatusRejected
			p.DecidedAt = now
			p.UpdatedAt = now
			return nil
		})
}
