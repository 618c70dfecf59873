package interfaces

import "github.com/m-mizutani/goerr/v2"

// Sentinel errors shared by repository implementations
var (
	ErrNotFound        = goerr.New("not found")
	ErrProposalDecided = goerr.New("proposal already decided")
)

// Context keys for error values
const (
	StatusKey = "status"
)
