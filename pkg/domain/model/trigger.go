package model

import "github.com/m-mizutani/goerr/v2"

// ErrInvalidTrigger is returned for trigger payloads missing identifiers
var ErrInvalidTrigger = goerr.New("invalid trigger payload")

// KnowledgeTrigger is the event payload that starts knowledge ingestion of a document.
// Delivery is at-least-once.
type KnowledgeTrigger struct {
	BusinessID string         `json:"businessId"`
	DocID      KnowledgeDocID `json:"docId"`
}

func (t KnowledgeTrigger) Validate() error {
	if t.BusinessID == "" || t.DocID == "" {
		return goerr.Wrap(ErrInvalidTrigger, "businessId and docId are required",
			goerr.V("businessId", t.BusinessID), goerr.V("docId", t.DocID))
	}
	return nil
}

// CatalogTrigger is the event payload that starts a catalog ingest job.
// Delivery is at-least-once.
type CatalogTrigger struct {
	MarketID string `json:"marketId"`
	JobID    JobID  `json:"jobId"`
}

func (t CatalogTrigger) Validate() error {
	if t.MarketID == "" || t.JobID == "" {
		return goerr.Wrap(ErrInvalidTrigger, "marketId and jobId are required",
			goerr.V("marketId", t.MarketID), goerr.V("jobId", t.JobID))
	}
	return nil
}
