package worker

import (
	"context"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/ingestd/pkg/domain/interfaces"
	"github.com/secmon-lab/ingestd/pkg/domain/model"
	"github.com/secmon-lab/ingestd/pkg/domain/types"
	"github.com/secmon-lab/ingestd/pkg/utils/logging"
)

// sweepBatchSize bounds how many entities one sweep cycle fails per kind
const sweepBatchSize = 100

// StaleSweeper fails knowledge documents and catalog jobs left in processing
// longer than maxAge, e.g. after a crash in the middle of a run.
//
// Architecture assumptions:
// - Transitions are conditional on the entity still being processing, so
// several instances may sweep concurrently
type StaleSweeper struct {
	repo     interfaces.Repository
	interval time.Duration
	maxAge   time.Duration
	now      func() time.Time
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// SweeperOption configures a StaleSweeper
type SweeperOption func(*StaleSweeper)

// WithClock overrides the time source
func WithClock(now func() time.Time) SweeperOption {
	return func(w *StaleSweeper) {
		w.now = now
	}
}

// NewStaleSweeper creates a new sweeper
func NewStaleSweeper(repo interfaces.Repository, interval, maxAge time.Duration, opts ...SweeperOption) *StaleSweeper {
	w := &StaleSweeper{
		repo:     repo,
		interval: interval,
		maxAge:   maxAge,
		now:      time.Now,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start begins the background sweep loop. The first sweep runs immediately in
// the background and does not block server startup.
func (w *StaleSweeper) Start(ctx context.Context) error {
	logging.Default().Info("Stale sweeper starting",
		"interval", w.interval.String(),
		"max_age", w.maxAge.String())

	go w.run(ctx)

	return nil
}

// Stop signals the worker to stop and waits for completion
func (w *StaleSweeper) Stop() {
	logging.Default().Info("Stale sweeper stopping")
	close(w.stopCh)
	<-w.doneCh
	logging.Default().Info("Stale sweeper stopped")
}

func (w *StaleSweeper) run(ctx context.Context) {
	defer close(w.doneCh)

	if _, err := w.Sweep(ctx); err != nil {
		logging.Default().Error("Initial stale sweep failed (will retry next interval)",
			"error", err.Error())
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := w.Sweep(ctx); err != nil {
				logging.Default().Error("Stale sweep failed (will retry next interval)",
					"error", err.Error())
			}

		case <-w.stopCh:
			return

		case <-ctx.Done():
			logging.Default().Info("Stale sweeper context cancelled")
			return
		}
	}
}

// Sweep runs one cycle and returns how many entities were failed
func (w *StaleSweeper) Sweep(ctx context.Context) (int, error) {
	before := w.now().Add(-w.maxAge)
	failure := &model.Failure{Code: model.CodeStaleProcessing, Message: model.CodeStaleProcessing.Message()}
	swept := 0

	docs, err := w.repo.KnowledgeDoc().ListStale(ctx, types.DocStatusProcessing, before, sweepBatchSize)
	if err != nil {
		return swept, goerr.Wrap(err, "failed to list stale knowledge docs")
	}
	for _, doc := range docs {
		ok, err := w.repo.KnowledgeDoc().FailIfStatus(ctx, doc.BusinessID, doc.ID, types.DocStatusProcessing, failure)
		if err != nil {
			return swept, goerr.Wrap(err, "failed to fail stale knowledge doc",
				goerr.V("tenant", doc.BusinessID), goerr.V("doc_id", doc.ID))
		}
		if ok {
			swept++
			logging.Default().Warn("Failed stale knowledge doc",
				"tenant", doc.BusinessID, "doc_id", doc.ID, "updated_at", doc.UpdatedAt)
		}
	}

	jobs, err := w.repo.CatalogJob().ListStale(ctx, types.JobStatusProcessing, before, sweepBatchSize)
	if err != nil {
		return swept, goerr.Wrap(err, "failed to list stale catalog jobs")
	}
	for _, job := range jobs {
		ok, err := w.repo.CatalogJob().FailIfStatus(ctx, job.MarketID, job.ID, types.JobStatusProcessing, failure)
		if err != nil {
			return swept, goerr.Wrap(err, "failed to fail stale catalog job",
				goerr.V("tenant", job.MarketID), goerr.V("job_id", job.ID))
		}
		if ok {
			swept++
			logging.Default().Warn("Failed stale catalog job",
				"tenant", job.MarketID, "job_id", job.ID, "updated_at", job.UpdatedAt)
		}
	}

	return swept, nil
}
