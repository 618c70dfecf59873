package http

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/secmon-lab/ingestd/pkg/domain/model"
	"github.com/secmon-lab/ingestd/pkg/usecase"
	"github.com/secmon-lab/ingestd/pkg/utils/errutil"
	"github.com/secmon-lab/ingestd/pkg/utils/metrics"
)

// CatalogUseCase is the catalog flow as seen by the HTTP layer
type CatalogUseCase interface {
	CreateJob(ctx context.Context, req usecase.CreateJobRequest) (*model.CatalogIngestJob, bool, error)
	Run(ctx context.Context, marketID string, jobID model.JobID) error
	ApplyProposal(ctx context.Context, marketID, listingID string, id model.ProposalID) (*model.IngestProposal, error)
	RejectProposal(ctx context.Context, marketID, listingID string, id model.ProposalID) (*model.IngestProposal, error)
}

// JobNotifier announces queued catalog jobs to the workers that run them
type JobNotifier interface {
	NotifyCatalogJob(ctx context.Context, job *model.CatalogIngestJob) error
}

// KnowledgeUseCase is the knowledge flow as seen by the HTTP layer
type KnowledgeUseCase interface {
	Ingest(ctx context.Context, businessID string, docID model.KnowledgeDocID) error
	Search(ctx context.Context, businessID, query string, limit int) ([]*model.KnowledgeChunk, error)
}

type Server struct {
	router        *chi.Mux
	catalog       CatalogUseCase
	knowledge     KnowledgeUseCase
	notifier      JobNotifier
	inlineRun     bool
	enableHooks   bool
	enableMetrics bool
	maxBodyBytes  int64
}

type Options func(*Server)

// WithHooks enables the push trigger endpoints under /hooks/ingest
func WithHooks(enabled bool) Options {
	return func(s *Server) {
		s.enableHooks = enabled
	}
}

// WithMetrics exposes the Prometheus registry at /metrics
func WithMetrics(enabled bool) Options {
	return func(s *Server) {
		s.enableMetrics = enabled
	}
}

// WithJobNotifier publishes a trigger for every created or still queued job
func WithJobNotifier(n JobNotifier) Options {
	return func(s *Server) {
		s.notifier = n
	}
}

// WithInlineRun runs queued jobs in this process when no notifier is set
func WithInlineRun(enabled bool) Options {
	return func(s *Server) {
		s.inlineRun = enabled
	}
}

func WithMaxBodyBytes(n int64) Options {
	return func(s *Server) {
		s.maxBodyBytes = n
	}
}

func New(catalogUC CatalogUseCase, knowledgeUC KnowledgeUseCase, opts ...Options) *Server {
	r := chi.NewRouter()

	s := &Server{
		router:        r,
		catalog:       catalogUC,
		knowledge:     knowledgeUC,
		enableHooks:   true,
		enableMetrics: true,
		maxBodyBytes:  1 << 20,
	}
	for _, opt := range opts {
		opt(s)
	}

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(accessLogger)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/health", healthHandler)
	if s.enableMetrics {
		r.Handle("/metrics", metrics.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(limitBody(s.maxBodyBytes))
		r.Post("/catalog-ingest/jobs", s.createCatalogJob)
		r.Post("/businesses/{businessID}/knowledge/search", s.searchKnowledge)
		r.Route("/markets/{marketID}/listings/{listingID}/proposals/{proposalID}", func(r chi.Router) {
			r.Post("/apply", s.applyProposal)
			r.Post("/reject", s.rejectProposal)
		})
	})

	if s.enableHooks {
		r.Route("/hooks/ingest", func(r chi.Router) {
			r.Use(limitBody(s.maxBodyBytes))
			r.Post("/knowledge", s.knowledgeHook)
			r.Post("/catalog", s.catalogHook)
		})
	}

	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	errutil.WriteJSON(r.Context(), w, http.StatusOK, map[string]any{"status": "ok"})
}
