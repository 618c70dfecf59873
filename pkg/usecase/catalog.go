package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/ingestd/pkg/domain/interfaces"
	"github.com/secmon-lab/ingestd/pkg/domain/model"
	"github.com/secmon-lab/ingestd/pkg/domain/model/config"
	"github.com/secmon-lab/ingestd/pkg/domain/types"
	"github.com/secmon-lab/ingestd/pkg/service/catalog"
	"github.com/secmon-lab/ingestd/pkg/service/document"
	"github.com/secmon-lab/ingestd/pkg/utils/errutil"
	"github.com/secmon-lab/ingestd/pkg/utils/logging"
	"github.com/secmon-lab/ingestd/pkg/utils/metrics"
	"golang.org/x/sync/errgroup"
)

// sourceSeparator joins the text of several sources of one job
const sourceSeparator = "\n\n"

// CatalogUseCase drives catalog ingest jobs from creation to a reviewable proposal
type CatalogUseCase struct {
	repo      interfaces.Repository
	extractor TextExtractor
	structure catalog.Service
	cfg       config.IngestConfig
}

func NewCatalogUseCase(repo interfaces.Repository, extractor TextExtractor, structure catalog.Service, cfg config.IngestConfig) *CatalogUseCase {
	return &CatalogUseCase{
		repo:      repo,
		extractor: extractor,
		structure: structure,
		cfg:       cfg,
	}
}

// CreateJobRequest is the job creation input as received from the API
type CreateJobRequest struct {
	MarketID  string         `json:"marketId"`
	ListingID string         `json:"listingId"`
	Kind      string         `json:"kind"`
	Sources   []model.Source `json:"sources"`
}

// CreateJob validates the request and returns a queued job. When a job with
// the same idempotency key is still queued, processing or needs_review, it is
// returned instead and reused is true. The lookup is not a lock: two
// concurrent identical requests may both create a job.
func (uc *CatalogUseCase) CreateJob(ctx context.Context, req CreateJobRequest) (job *model.CatalogIngestJob, reused bool, err error) {
	marketID := strings.TrimSpace(req.MarketID)
	listingID := strings.TrimSpace(req.ListingID)
	if marketID == "" || listingID == "" {
		return nil, false, goerr.Wrap(ErrInvalidRequest, "marketId and listingId are required")
	}
	kind, err := types.ParseCatalogKind(strings.TrimSpace(req.Kind))
	if err != nil {
		return nil, false, goerr.Wrap(ErrInvalidRequest, err.Error(), goerr.V("kind", req.Kind))
	}
	sources, err := model.NormalizeSources(req.Sources)
	if err != nil {
		return nil, false, goerr.Wrap(ErrInvalidRequest, err.Error())
	}

	key := model.IdempotencyKey(listingID, kind, sources)
	existing, err := uc.repo.CatalogJob().FindActiveByIdempotencyKey(ctx, marketID, key)
	if err != nil {
		return nil, false, goerr.Wrap(err, "failed to look up job by idempotency key", goerr.V(TenantKey, marketID))
	}
	if existing != nil {
		logging.From(ctx).Info("Reusing catalog job",
			TenantKey, marketID, JobIDKey, existing.ID, "status", existing.Status)
		return existing, true, nil
	}

	created, err := uc.repo.CatalogJob().Create(ctx, &model.CatalogIngestJob{
		MarketID:       marketID,
		ListingID:      listingID,
		Kind:           kind,
		Sources:        sources,
		IdempotencyKey: key,
		Status:         types.JobStatusQueued,
	})
	if err != nil {
		return nil, false, goerr.Wrap(err, "failed to create catalog job", goerr.V(TenantKey, marketID))
	}

	logging.From(ctx).Info("Catalog job created",
		TenantKey, marketID, JobIDKey, created.ID, "kind", kind, "sources", len(sources))
	return created, false, nil
}

// Run processes a queued job. Redelivered triggers for a job that is no longer
// queued are a no-op. On failure the job is recorded failed and the error is
// returned.
func (uc *CatalogUseCase) Run(ctx context.Context, marketID string, jobID model.JobID) error {
	logger := logging.From(ctx).With(TenantKey, marketID, JobIDKey, jobID)
	ctx = logging.With(ctx, logger)

	job, err := uc.repo.CatalogJob().Get(ctx, marketID, jobID)
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			return goerr.Wrap(ErrJobNotFound, "catalog job not found", goerr.V(TenantKey, marketID), goerr.V(JobIDKey, jobID))
		}
		return goerr.Wrap(err, "failed to get catalog job", goerr.V(TenantKey, marketID), goerr.V(JobIDKey, jobID))
	}
	if job.Status != types.JobStatusQueued {
		logger.Info("Skipping catalog job not in queued status", "status", job.Status)
		return nil
	}

	ok, err := uc.repo.CatalogJob().MarkProcessing(ctx, marketID, jobID)
	if err != nil {
		return goerr.Wrap(err, "failed to mark catalog job processing", goerr.V(TenantKey, marketID), goerr.V(JobIDKey, jobID))
	}
	if !ok {
		logger.Info("Catalog job was claimed by another run")
		return nil
	}

	started := time.Now()
	proposal, err := uc.run(ctx, job)
	if err != nil {
		failure := model.FailureOf(err)
		if ferr := uc.repo.CatalogJob().Fail(ctx, marketID, jobID, failure); ferr != nil {
			errutil.Handle(ctx, ferr, "failed to record catalog job failure")
		}
		metrics.ObserveIngest(metrics.FlowCatalog, string(types.JobStatusFailed), started)
		logger.Warn("Catalog job failed", "code", failure.Code, "error", err.Error())
		return goerr.Wrap(err, "catalog job failed", goerr.V(TenantKey, marketID), goerr.V(JobIDKey, jobID))
	}

	metrics.ObserveIngest(metrics.FlowCatalog, string(types.JobStatusNeedsReview), started)
	logger.Info("Catalog job needs review",
		ProposalIDKey, proposal.ID, "items", len(proposal.Items), "warnings", len(proposal.Warnings))
	return nil
}

func (uc *CatalogUseCase) run(ctx context.Context, job *model.CatalogIngestJob) (*model.IngestProposal, error) {
	if uc.extractor == nil || uc.structure == nil {
		return nil, goerr.Wrap(ErrNotConfigured, "catalog extraction requires an extractor and a structuring service")
	}

	text, items, err := uc.extractAll(ctx, job.Sources)
	if err != nil {
		return nil, err
	}
	// structured items from embedded data are terse, so the minimum only
	// applies to free text
	if items == 0 && utf8.RuneCountInString(text) < uc.cfg.Catalog.MinTextChars {
		return nil, goerr.Wrap(model.Errorf(model.CodeTextTooShort, "%d chars", utf8.RuneCountInString(text)),
			"combined source text is too short")
	}

	proposal, err := uc.propose(ctx, job.MarketID, job.ListingID, job.ID, job.Kind, job.Sources, text)
	if err != nil {
		return nil, err
	}

	if err := uc.repo.CatalogJob().MarkNeedsReview(ctx, job.MarketID, job.ID, proposal.ID); err != nil {
		return nil, goerr.Wrap(err, "failed to mark catalog job needs_review", goerr.V(ProposalIDKey, proposal.ID))
	}
	return proposal, nil
}

// extractAll extracts every source concurrently and joins the non-empty texts
// in source order. The first failure cancels the rest.
func (uc *CatalogUseCase) extractAll(ctx context.Context, sources []model.Source) (string, int, error) {
	results := make([]*document.Result, len(sources))

	eg, ctx := errgroup.WithContext(ctx)
	for i, src := range sources {
		eg.Go(func() error {
			res, err := uc.extractor.Extract(ctx, src, document.PathCatalog)
			if err != nil {
				return goerr.Wrap(err, "failed to extract source", goerr.V("index", i), goerr.V("type", src.Type))
			}
			results[i] = res
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return "", 0, err
	}

	parts := make([]string, 0, len(results))
	items := 0
	for _, res := range results {
		items += res.Items
		if t := strings.TrimSpace(res.Text); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, sourceSeparator), items, nil
}

// propose structures text into items, diffs them against the listing and
// stores a new proposal
func (uc *CatalogUseCase) propose(ctx context.Context, marketID, listingID string, jobID model.JobID, kind types.CatalogKind, sources []model.Source, text string) (*model.IngestProposal, error) {
	if uc.structure == nil {
		return nil, goerr.Wrap(ErrNotConfigured, "catalog structuring service is not configured")
	}

	result, err := uc.structure.Structure(ctx, catalog.Input{Kind: kind, Text: text})
	if err != nil {
		return nil, err
	}

	current, err := uc.repo.CatalogItem().List(ctx, marketID, listingID, kind)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list current catalog items", goerr.V("listing_id", listingID))
	}

	proposal, err := uc.repo.Proposal().Create(ctx, &model.IngestProposal{
		MarketID:  marketID,
		ListingID: listingID,
		JobID:     jobID,
		Kind:      kind,
		Sources:   sources,
		Status:    types.ProposalStatusProposed,
		Items:     result.Items,
		Warnings:  result.Warnings,
		Diff:      catalog.Diff(current, result.Items),
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create proposal", goerr.V("listing_id", listingID))
	}
	return proposal, nil
}

// ApplyProposal writes the proposal items into the listing and closes the
// proposal and its job in one transaction
func (uc *CatalogUseCase) ApplyProposal(ctx context.Context, marketID, listingID string, id model.ProposalID) (*model.IngestProposal, error) {
	applied, err := uc.repo.ApplyProposal(ctx, marketID, listingID, id)
	if err != nil {
		return nil, decisionError(err, marketID, id)
	}

	logging.From(ctx).Info("Proposal applied",
		TenantKey, marketID, "listing_id", listingID, ProposalIDKey, id, JobIDKey, applied.JobID, "items", len(applied.Items))
	return applied, nil
}

// RejectProposal rejects the proposal and fails its job
func (uc *CatalogUseCase) RejectProposal(ctx context.Context, marketID, listingID string, id model.ProposalID) (*model.IngestProposal, error) {
	reason := &model.Failure{Code: model.CodeRejectedByAdmin, Message: model.CodeRejectedByAdmin.Message()}
	rejected, err := uc.repo.RejectProposal(ctx, marketID, listingID, id, reason)
	if err != nil {
		return nil, decisionError(err, marketID, id)
	}

	logging.From(ctx).Info("Proposal rejected",
		TenantKey, marketID, "listing_id", listingID, ProposalIDKey, id, JobIDKey, rejected.JobID)
	return rejected, nil
}

func decisionError(err error, marketID string, id model.ProposalID) error {
	switch {
	case errors.Is(err, interfaces.ErrNotFound):
		return goerr.Wrap(ErrProposalNotFound, "proposal not found", goerr.V(TenantKey, marketID), goerr.V(ProposalIDKey, id))
	case errors.Is(err, interfaces.ErrProposalDecided):
		status := "decided"
		if ge := goerr.Unwrap(err); ge != nil {
			if v, ok := ge.Values()[interfaces.StatusKey]; ok {
				status = fmt.Sprint(v)
			}
		}
		return goerr.Wrap(ErrProposalDecided, "proposal already "+status, goerr.V(TenantKey, marketID), goerr.V(ProposalIDKey, id))
	default:
		return goerr.Wrap(err, "failed to decide proposal", goerr.V(TenantKey, marketID), goerr.V(ProposalIDKey, id))
	}
}
