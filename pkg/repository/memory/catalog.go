package memory

import (
	"context"
	"sort"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/ingestd/pkg/domain/interfaces"
	"github.com/secmon-lab/ingestd/pkg/domain/model"
	"github.com/secmon-lab/ingestd/pkg/domain/types"
)

type catalogJobRepository struct {
	s *store
}

func jobKey(marketID string, id model.JobID) tenantKey[model.JobID] {
	return tenantKey[model.JobID]{tenant: marketID, id: id}
}

func (r *catalogJobRepository) Create(ctx context.Context, job *model.CatalogIngestJob) (*model.CatalogIngestJob, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	now := time.Now().UTC()
	created := copyJob(job)
	if created.ID == "" {
		created.ID = model.NewJobID()
	}
	if created.Status == "" {
		created.Status = types.JobStatusQueued
	}
	created.CreatedAt = now
	created.UpdatedAt = now

	r.s.jobs[jobKey(created.MarketID, created.ID)] = created
	return copyJob(created), nil
}

// lookup must be called with the lock held
func (r *catalogJobRepository) lookup(marketID string, id model.JobID) (*model.CatalogIngestJob, error) {
	job, ok := r.s.jobs[jobKey(marketID, id)]
	if !ok {
		return nil, goerr.Wrap(ErrNotFound, "catalog job not found",
			goerr.V("market_id", marketID), goerr.V("job_id", id))
	}
	return job, nil
}

func (r *catalogJobRepository) Get(ctx context.Context, marketID string, id model.JobID) (*model.CatalogIngestJob, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	job, err := r.lookup(marketID, id)
	if err != nil {
		return nil, err
	}
	return copyJob(job), nil
}

func (r *catalogJobRepository) FindActiveByIdempotencyKey(ctx context.Context, marketID, key string) (*model.CatalogIngestJob, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var found *model.CatalogIngestJob
	for k, job := range r.s.jobs {
		if k.tenant != marketID || job.IdempotencyKey != key || job.Status.IsTerminal() {
			continue
		}
		if found == nil || job.CreatedAt.Before(found.CreatedAt) {
			found = job
		}
	}
	if found == nil {
		return nil, nil
	}
	return copyJob(found), nil
}

func (r *catalogJobRepository) MarkProcessing(ctx context.Context, marketID string, id model.JobID) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	job, err := r.lookup(marketID, id)
	if err != nil {
		return false, err
	}
	if job.Status != types.JobStatusQueued {
		return false, nil
	}
	job.Status = types.JobStatusProcessing
	job.Attempts++
	job.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (r *catalogJobRepository) MarkNeedsReview(ctx context.Context, marketID string, id model.JobID, proposalID model.ProposalID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	job, err := r.lookup(marketID, id)
	if err != nil {
		return err
	}
	job.Status = types.JobStatusNeedsReview
	job.ProposalID = proposalID
	job.Error = nil
	job.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *catalogJobRepository) Fail(ctx context.Context, marketID string, id model.JobID, failure *model.Failure) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	job, err := r.lookup(marketID, id)
	if err != nil {
		return err
	}
	job.Status = types.JobStatusFailed
	job.Error = copyFailure(failure)
	job.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *catalogJobRepository) FailIfStatus(ctx context.Context, marketID string, id model.JobID, expected types.JobStatus, failure *model.Failure) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	job, err := r.lookup(marketID, id)
	if err != nil {
		return false, err
	}
	if job.Status != expected {
		return false, nil
	}
	job.Status = types.JobStatusFailed
	job.Error = copyFailure(failure)
	job.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (r *catalogJobRepository) ListStale(ctx context.Context, status types.JobStatus, before time.Time, limit int) ([]*model.CatalogIngestJob, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var result []*model.CatalogIngestJob
	for _, job := range r.s.jobs {
		if job.Status == status && job.UpdatedAt.Before(before) {
			result = append(result, copyJob(job))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].UpdatedAt.Before(result[j].UpdatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

type proposalRepository struct {
	s *store
}

func (r *proposalRepository) Create(ctx context.Context, proposal *model.IngestProposal) (*model.IngestProposal, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	now := time.Now().UTC()
	created := copyProposal(proposal)
	if created.ID == "" {
		created.ID = model.NewProposalID()
	}
	if created.Status == "" {
		created.Status = types.ProposalStatusProposed
	}
	created.CreatedAt = now
	created.UpdatedAt = now

	key := listingKey{marketID: created.MarketID, listingID: created.ListingID}
	if _, ok := r.s.proposals[key]; !ok {
		r.s.proposals[key] = make(map[model.ProposalID]*model.IngestProposal)
	}
	r.s.proposals[key][created.ID] = created
	return copyProposal(created), nil
}

// lookup must be called with the lock held
func (r *proposalRepository) lookup(marketID, listingID string, id model.ProposalID) (*model.IngestProposal, error) {
	p, ok := r.s.proposals[listingKey{marketID: marketID, listingID: listingID}][id]
	if !ok {
		return nil, goerr.Wrap(ErrNotFound, "proposal not found",
			goerr.V("market_id", marketID), goerr.V("listing_id", listingID), goerr.V("proposal_id", id))
	}
	return p, nil
}

func (r *proposalRepository) Get(ctx context.Context, marketID, listingID string, id model.ProposalID) (*model.IngestProposal, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	p, err := r.lookup(marketID, listingID, id)
	if err != nil {
		return nil, err
	}
	return copyProposal(p), nil
}

type catalogItemRepository struct {
	s *store
}

func (r *catalogItemRepository) List(ctx context.Context, marketID, listingID string, kind types.CatalogKind) ([]*model.CatalogItem, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	items := r.s.items[itemsKey{marketID: marketID, listingID: listingID, kind: kind}]
	result := make([]*model.CatalogItem, 0, len(items))
	for _, item := range items {
		copied := *item
		result = append(result, &copied)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].SortOrder != result[j].SortOrder {
			return result[i].SortOrder < result[j].SortOrder
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

// Fault injection points of ApplyProposal and RejectProposal
const (
	FaultAfterItemUpsert    = "after_item_upsert"
	FaultAfterProposalWrite = "after_proposal_write"
)

func (m *Memory) ApplyProposal(ctx context.Context, marketID, listingID string, id model.ProposalID) (*model.IngestProposal, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()

	stored, err := m.proposal.lookup(marketID, listingID, id)
	if err != nil {
		return nil, err
	}
	if stored.Status != types.ProposalStatusProposed {
		return nil, goerr.Wrap(interfaces.ErrProposalDecided, "proposal is not proposed",
			goerr.V(interfaces.StatusKey, stored.Status), goerr.V("proposal_id", id))
	}

	// Writes are staged on copies and swapped in only after every step succeeded
	key := itemsKey{marketID: marketID, listingID: listingID, kind: stored.Kind}
	items := make(map[string]*model.CatalogItem, len(m.s.items[key])+len(stored.Items))
	for k, v := range m.s.items[key] {
		items[k] = v
	}
	for _, item := range stored.Items {
		copied := item
		items[item.ID] = &copied
	}
	if err := m.s.injectFault(FaultAfterItemUpsert); err != nil {
		return nil, goerr.Wrap(err, "apply proposal aborted")
	}

	now := time.Now().UTC()
	proposal := copyProposal(stored)
	proposal.Status = types.ProposalStatusApplied
	proposal.DecidedAt = now
	proposal.UpdatedAt = now
	if err := m.s.injectFault(FaultAfterProposalWrite); err != nil {
		return nil, goerr.Wrap(err, "apply proposal aborted")
	}

	var job *model.CatalogIngestJob
	if current, ok := m.s.jobs[jobKey(marketID, proposal.JobID)]; ok {
		job = copyJob(current)
		job.Status = types.JobStatusApplied
		job.UpdatedAt = now
	}

	m.s.items[key] = items
	m.s.proposals[listingKey{marketID: marketID, listingID: listingID}][id] = proposal
	if job != nil {
		m.s.jobs[jobKey(marketID, job.ID)] = job
	}

	return copyProposal(proposal), nil
}

func (m *Memory) RejectProposal(ctx context.Context, marketID, listingID string, id model.ProposalID, reason *model.Failure) (*model.IngestProposal, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()

	stored, err := m.proposal.lookup(marketID, listingID, id)
	if err != nil {
		return nil, err
	}
	if stored.Status != types.ProposalStatusProposed {
		return nil, goerr.Wrap(interfaces.ErrProposalDecided, "proposal is not proposed",
			goerr.V(interfaces.StatusKey, stored.Status), goerr.V("proposal_id", id))
	}

	now := time.Now().UTC()
	proposal := copyProposal(stored)
	proposal.Status = types.ProposalStatusRejected
	proposal.DecidedAt = now
	proposal.UpdatedAt = now
	if err := m.s.injectFault(FaultAfterProposalWrite); err != nil {
		return nil, goerr.Wrap(err, "reject proposal aborted")
	}

	if current, ok := m.s.jobs[jobKey(marketID, proposal.JobID)]; ok {
		job := copyJob(current)
		job.Status = types.JobStatusFailed
		job.Error = copyFailure(reason)
		job.UpdatedAt = now
		m.s.jobs[jobKey(marketID, job.ID)] = job
	}
	m.s.proposals[listingKey{marketID: marketID, listingID: listingID}][id] = proposal

	return copyProposal(proposal), nil
}
