package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/ingestd/pkg/domain/model"
	"github.com/secmon-lab/ingestd/pkg/usecase"
	"github.com/secmon-lab/ingestd/pkg/utils/errutil"
)

type hookResponse struct {
	Success bool            `json:"success"`
	Code    model.ErrorCode `json:"code,omitempty"`
	Message string          `json:"message,omitempty"`
}

// knowledgeHook runs knowledge ingestion for a pushed trigger. The run is
// detached from the request so a dropped connection does not abort it midway.
func (s *Server) knowledgeHook(w http.ResponseWriter, r *http.Request) {
	var trigger model.KnowledgeTrigger
	if !decodeTrigger(w, r, &trigger) {
		return
	}

	err := s.knowledge.Ingest(context.WithoutCancel(r.Context()), trigger.BusinessID, trigger.DocID)
	writeHookResult(r.Context(), w, err)
}

func (s *Server) catalogHook(w http.ResponseWriter, r *http.Request) {
	var trigger model.CatalogTrigger
	if !decodeTrigger(w, r, &trigger) {
		return
	}

	err := s.catalog.Run(context.WithoutCancel(r.Context()), trigger.MarketID, trigger.JobID)
	writeHookResult(r.Context(), w, err)
}

type trigger interface {
	Validate() error
}

func decodeTrigger(w http.ResponseWriter, r *http.Request, t trigger) bool {
	if err := json.NewDecoder(r.Body).Decode(t); err != nil {
		errutil.HandleHTTP(r.Context(), w, goerr.Wrap(err, "invalid trigger body"), http.StatusBadRequest)
		return false
	}
	if err := t.Validate(); err != nil {
		errutil.HandleHTTP(r.Context(), w, err, http.StatusBadRequest)
		return false
	}
	return true
}

func writeHookResult(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		errutil.WriteJSON(ctx, w, http.StatusOK, hookResponse{Success: true})
		return
	}

	if errors.Is(err, usecase.ErrDocNotFound) || errors.Is(err, usecase.ErrJobNotFound) {
		errutil.HandleHTTP(ctx, w, err, http.StatusNotFound)
		return
	}

	// classified failures are already logged and recorded by the orchestrator
	failure := model.FailureOf(err)
	if failure.Code == model.CodeInternal {
		errutil.Handle(ctx, err, "ingestion trigger failed")
	}
	errutil.WriteJSON(ctx, w, http.StatusInternalServerError, hookResponse{
		Code:    failure.Code,
		Message: failure.Message,
	})
}
