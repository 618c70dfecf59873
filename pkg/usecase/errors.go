package usecase

import "errors"

// Sentinel errors for use case layer
var (
	// Not found errors
	ErrDocNotFound      = errors.New("knowledge doc not found")
	ErrJobNotFound      = errors.New("catalog job not found")
	ErrProposalNotFound = errors.New("proposal not found")

	// Status errors
	ErrProposalDecided = errors.New("proposal already decided")

	// Request errors
	ErrInvalidRequest = errors.New("invalid request")

	// Wiring errors
	ErrNotConfigured = errors.New("ingestion dependency not configured")
)

// Context keys for error values
const (
	TenantKey     = "tenant"
	DocIDKey      = "doc_id"
	JobIDKey      = "job_id"
	ProposalIDKey = "proposal_id"
)
