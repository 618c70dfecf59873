package types

import "fmt"

// DocStatus represents the lifecycle status of a knowledge document
type DocStatus string

const (
	DocStatusProcessing DocStatus = "processing"
	DocStatusActive     DocStatus = "active"
	DocStatusFailed     DocStatus = "failed"
	DocStatusDisabled   DocStatus = "disabled"
)

// AllDocStatuses returns all valid document statuses
func AllDocStatuses() []DocStatus {
	return []DocStatus{
		DocStatusProcessing,
		DocStatusActive,
		DocStatusFailed,
		DocStatusDisabled,
	}
}

// IsValid checks if the document status is valid
func (s DocStatus) IsValid() bool {
	switch s {
	case DocStatusProcessing,
		DocStatusActive,
		DocStatusFailed,
		DocStatusDisabled:
		return true
	default:
		return false
	}
}

func (s DocStatus) String() string {
	return string(s)
}

// ParseDocStatus parses a string into a DocStatus
func ParseDocStatus(s string) (DocStatus, error) {
	status := DocStatus(s)
	if !status.IsValid() {
		return "", fmt.Errorf("invalid document status: %s", s)
	}
	return status, nil
}

// ChunkStatus represents whether a chunk participates in retrieval
type ChunkStatus string

const (
	ChunkStatusActive   ChunkStatus = "active"
	ChunkStatusDisabled ChunkStatus = "disabled"
)

// IsValid checks if the chunk status is valid
func (s ChunkStatus) IsValid() bool {
	return s == ChunkStatusActive || s == ChunkStatusDisabled
}

func (s ChunkStatus) String() string {
	return string(s)
}

// CatalogExtractionStatus is the sub-status of the optional catalog extraction
// that may follow knowledge ingestion
type CatalogExtractionStatus string

const (
	CatalogExtractionSkipped    CatalogExtractionStatus = "skipped"
	CatalogExtractionProcessing CatalogExtractionStatus = "processing"
	CatalogExtractionDone       CatalogExtractionStatus = "done"
	CatalogExtractionFailed     CatalogExtractionStatus = "failed"
)

// IsValid checks if the catalog extraction status is valid
func (s CatalogExtractionStatus) IsValid() bool {
	switch s {
	case CatalogExtractionSkipped,
		CatalogExtractionProcessing,
		CatalogExtractionDone,
		CatalogExtractionFailed:
		return true
	default:
		return false
	}
}

func (s CatalogExtractionStatus) String() string {
	return string(s)
}
