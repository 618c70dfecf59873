package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/ingestd/pkg/domain/model"
	"github.com/secmon-lab/ingestd/pkg/domain/types"
	"github.com/secmon-lab/ingestd/pkg/usecase"
	"github.com/secmon-lab/ingestd/pkg/utils/async"
	"github.com/secmon-lab/ingestd/pkg/utils/errutil"
)

type createJobResponse struct {
	Success bool        `json:"success"`
	JobID   model.JobID `json:"jobId"`
	Reused  bool        `json:"reused"`
}

type decisionResponse struct {
	Success    bool             `json:"success"`
	ProposalID model.ProposalID `json:"proposalId"`
	Status     string           `json:"status"`
}

func (s *Server) createCatalogJob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req usecase.CreateJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errutil.HandleHTTP(ctx, w, goerr.Wrap(err, "invalid request body"), http.StatusBadRequest)
		return
	}

	job, reused, err := s.catalog.CreateJob(ctx, req)
	if err != nil {
		errutil.HandleHTTP(ctx, w, err, statusOf(err))
		return
	}

	// a reused job that never left the queue is announced again
	switch {
	case job.Status != types.JobStatusQueued:
	case s.notifier != nil:
		if err := s.notifier.NotifyCatalogJob(ctx, job); err != nil {
			errutil.HandleHTTP(ctx, w, goerr.Wrap(err, "failed to announce catalog job", goerr.V("job_id", job.ID)), http.StatusInternalServerError)
			return
		}
	case s.inlineRun:
		marketID, jobID := job.MarketID, job.ID
		async.Dispatch(ctx, func(ctx context.Context) error {
			return s.catalog.Run(ctx, marketID, jobID)
		})
	}

	errutil.WriteJSON(ctx, w, http.StatusOK, createJobResponse{Success: true, JobID: job.ID, Reused: reused})
}

type searchRequest struct {
	Query string `json:"query"`
	Limit int    `json:"limit"`
}

type searchHit struct {
	DocID      model.KnowledgeDocID `json:"docId"`
	ChunkIndex int                  `json:"chunkIndex"`
	Text       string               `json:"text"`
}

type searchResponse struct {
	Success bool        `json:"success"`
	Chunks  []searchHit `json:"chunks"`
}

func (s *Server) searchKnowledge(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	businessID := chi.URLParam(r, "businessID")

	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errutil.HandleHTTP(ctx, w, goerr.Wrap(err, "invalid request body"), http.StatusBadRequest)
		return
	}

	chunks, err := s.knowledge.Search(ctx, businessID, req.Query, req.Limit)
	if err != nil {
		errutil.HandleHTTP(ctx, w, err, statusOf(err))
		return
	}

	hits := make([]searchHit, len(chunks))
	for i, c := range chunks {
		hits[i] = searchHit{DocID: c.DocID, ChunkIndex: c.ChunkIndex, Text: c.Text}
	}
	errutil.WriteJSON(ctx, w, http.StatusOK, searchResponse{Success: true, Chunks: hits})
}

func (s *Server) applyProposal(w http.ResponseWriter, r *http.Request) {
	s.decide(w, r, s.catalog.ApplyProposal)
}

func (s *Server) rejectProposal(w http.ResponseWriter, r *http.Request) {
	s.decide(w, r, s.catalog.RejectProposal)
}

type decideFunc func(ctx context.Context, marketID, listingID string, id model.ProposalID) (*model.IngestProposal, error)

func (s *Server) decide(w http.ResponseWriter, r *http.Request, fn decideFunc) {
	ctx := r.Context()
	marketID := chi.URLParam(r, "marketID")
	listingID := chi.URLParam(r, "listingID")
	id := model.ProposalID(chi.URLParam(r, "proposalID"))

	proposal, err := fn(ctx, marketID, listingID, id)
	if err != nil {
		errutil.HandleHTTP(ctx, w, err, statusOf(err))
		return
	}

	errutil.WriteJSON(ctx, w, http.StatusOK, decisionResponse{
		Success:    true,
		ProposalID: proposal.ID,
		Status:     proposal.Status.String(),
	})
}

// statusOf maps usecase errors to HTTP status codes
func statusOf(err error) int {
	switch {
	case errors.Is(err, usecase.ErrInvalidRequest),
		errors.Is(err, usecase.ErrProposalDecided),
		errors.Is(err, model.ErrInvalidTrigger):
		return http.StatusBadRequest
	case errors.Is(err, usecase.ErrProposalNotFound),
		errors.Is(err, usecase.ErrDocNotFound),
		errors.Is(err, usecase.ErrJobNotFound):
		return http.StatusNotFound
	case errors.Is(err, usecase.ErrNotConfigured):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
