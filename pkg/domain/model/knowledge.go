package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/secmon-lab/ingestd/pkg/domain/types"
)

// EmbeddingDimension is the dimension of the embedding vector
// Gemini text-embedding-004 uses 768 dimensions
const EmbeddingDimension = 768

// KnowledgeDocID is a UUID-based identifier for KnowledgeDoc
type KnowledgeDocID string

// NewKnowledgeDocID generates a new UUID v4 KnowledgeDocID
func NewKnowledgeDocID() KnowledgeDocID {
	return KnowledgeDocID(uuid.New().String())
}

// KnowledgeDoc is a business supplied document that is ingested into retrieval chunks.
// It is created by the API layer in processing status and mutated only by the
// knowledge ingestion flow.
type KnowledgeDoc struct {
	ID         KnowledgeDocID
	BusinessID string
	SourceType types.SourceType
	SourceName string
	SourceURL  string // url sources
	Bucket     string // optional bucket override for file sources
	FilePath   string // object path for pdf/image sources
	Text       string // inline text for text sources
	MimeType   string

	Status      types.DocStatus
	ChunkCount  int
	ContentHash string
	PageCount   int // 0 when unknown
	Attempts    int
	Error       *Failure

	// Optional catalog extraction after successful ingestion
	ExtractCatalog    bool
	MarketID          string
	ListingID         string
	CatalogKind       types.CatalogKind
	CatalogExtraction CatalogExtraction

	CreatedAt time.Time
	UpdatedAt time.Time
}

// CatalogExtraction is the best-effort sub-status of a document's catalog extraction
type CatalogExtraction struct {
	Status     types.CatalogExtractionStatus
	ProposalID ProposalID
	Error      *Failure
	UpdatedAt  time.Time
}

// Source returns the ingestion source described by the document
func (d *KnowledgeDoc) Source() Source {
	switch d.SourceType {
	case types.SourceTypeText:
		return NewTextSource(d.Text)
	case types.SourceTypeURL:
		return NewURLSource(d.SourceURL)
	default:
		return Source{
			Type:        d.SourceType,
			URL:         d.SourceURL,
			Bucket:      d.Bucket,
			StoragePath: d.FilePath,
			MimeType:    d.MimeType,
		}
	}
}

// KnowledgeDocResult holds the fields written when a document becomes active
type KnowledgeDocResult struct {
	ChunkCount  int
	ContentHash string
	MimeType    string
	PageCount   int
}

// KnowledgeChunk is a retrieval fragment of a KnowledgeDoc. TextHash is the
// document-scoped identity of the chunk and its storage key.
type KnowledgeChunk struct {
	DocID      KnowledgeDocID
	BusinessID string
	ChunkIndex int
	Text       string
	TextHash   string
	Embedding  []float32
	Status     types.ChunkStatus
	CreatedAt  time.Time
}
