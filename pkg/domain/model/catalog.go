package model

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/secmon-lab/ingestd/pkg/domain/types"
)

// JobID is a UUID-based identifier for CatalogIngestJob
type JobID string

// NewJobID generates a new UUID v4 JobID
func NewJobID() JobID {
	return JobID(uuid.New().String())
}

// ProposalID is a UUID-based identifier for IngestProposal
type ProposalID string

// NewProposalID generates a new UUID v4 ProposalID
func NewProposalID() ProposalID {
	return ProposalID(uuid.New().String())
}

// CatalogIngestJob extracts catalog items of one kind for a listing from a set of sources
type CatalogIngestJob struct {
	ID             JobID
	MarketID       string
	ListingID      string
	Kind           types.CatalogKind
	Sources        []Source
	IdempotencyKey string
	Status         types.JobStatus
	ProposalID     ProposalID
	Attempts       int
	Error          *Failure
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// DiffSummary compares proposal items with the listing's current items
type DiffSummary struct {
	Added   int
	Updated int
	Removed int
}

// IngestProposal is a reviewable extraction result stored under the target listing
type IngestProposal struct {
	ID        ProposalID
	MarketID  string
	ListingID string
	JobID     JobID
	Kind      types.CatalogKind
	Sources   []Source
	Status    types.ProposalStatus
	Items     []CatalogItem
	Warnings  []string
	Diff      DiffSummary
	CreatedAt time.Time
	UpdatedAt time.Time
	DecidedAt time.Time
}

// CatalogItem is a normalized catalog entry. ID is deterministic so re-extraction of
// the same content maps onto the same stored item.
type CatalogItem struct {
	ID          string
	Name        string
	Description string
	Price       float64
	Currency    types.Currency
	Category    string
	Available   bool
	ImageURL    string
	SortOrder   int
}

// CatalogItemID derives the deterministic item id from kind, name, price, currency and category
func CatalogItemID(kind types.CatalogKind, name string, price float64, currency types.Currency, category string) string {
	parts := []string{
		kind.String(),
		strings.ToLower(strings.TrimSpace(name)),
		strconv.FormatFloat(price, 'f', -1, 64),
		currency.String(),
		strings.ToLower(strings.TrimSpace(category)),
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "\x1f")))
	return hex.EncodeToString(sum[:])[:24]
}
