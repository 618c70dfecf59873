package types

import "fmt"

// JobStatus represents the status of a catalog ingest job
type JobStatus string

const (
	JobStatusQueued      JobStatus = "queued"
	JobStatusProcessing  JobStatus = "processing"
	JobStatusNeedsReview JobStatus = "needs_review"
	JobStatusApplied     JobStatus = "applied"
	JobStatusFailed      JobStatus = "failed"
)

// AllJobStatuses returns all valid job statuses
func AllJobStatuses() []JobStatus {
	return []JobStatus{
		JobStatusQueued,
		JobStatusProcessing,
		JobStatusNeedsReview,
		JobStatusApplied,
		JobStatusFailed,
	}
}

// IsValid checks if the job status is valid
func (s JobStatus) IsValid() bool {
	switch s {
	case JobStatusQueued,
		JobStatusProcessing,
		JobStatusNeedsReview,
		JobStatusApplied,
		JobStatusFailed:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no further orchestrator transition can happen.
// needs_review is not terminal: a human decision is still pending.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusApplied || s == JobStatusFailed
}

func (s JobStatus) String() string {
	return string(s)
}

// ParseJobStatus parses a string into a JobStatus
func ParseJobStatus(s string) (JobStatus, error) {
	status := JobStatus(s)
	if !status.IsValid() {
		return "", fmt.Errorf("invalid job status: %s", s)
	}
	return status, nil
}

// ProposalStatus represents the review status of an ingest proposal
type ProposalStatus string

const (
	ProposalStatusProposed ProposalStatus = "proposed"
	ProposalStatusApplied  ProposalStatus = "applied"
	ProposalStatusRejected ProposalStatus = "rejected"
)

// IsValid checks if the proposal status is valid
func (s ProposalStatus) IsValid() bool {
	switch s {
	case ProposalStatusProposed,
		ProposalStatusApplied,
		ProposalStatusRejected:
		return true
	default:
		return false
	}
}

func (s ProposalStatus) String() string {
	return string(s)
}
