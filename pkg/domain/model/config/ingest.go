package config

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/m-mizutani/goerr/v2"
)

// IngestConfig is constructed once at process start and passed to every
// extraction and ingestion component
type IngestConfig struct {
	Chunk     ChunkConfig
	Fetch     FetchConfig
	Web       WebConfig
	PDF       PdfPolicy
	Embedding EmbeddingConfig
	Knowledge KnowledgeConfig
	Catalog   CatalogConfig
}

// ChunkConfig controls boundary-aware splitting
type ChunkConfig struct {
	Size       int // target window in characters
	Overlap    int
	SnapWindow int // max look-ahead from the raw cut to a sentence end or newline
	MinChars   int // shorter chunks are dropped
}

// FetchConfig controls the guarded HTTP fetch
type FetchConfig struct {
	Timeout      time.Duration
	DNSTimeout   time.Duration
	MaxRedirects int
	UserAgent    string

	CatalogHTMLMaxBytes   int64
	CatalogBinaryMaxBytes int64
	KnowledgeMaxBytes     int64
}

// WebConfig controls the tiered web extraction
type WebConfig struct {
	StaticMinChars    int // candidate content selector must exceed this
	EmbeddedThreshold int // Tier 2 runs when Tier 1 text is shorter
	HeadlessMinChars  int // rendered text accepted without structured items
	MaxFollowLinks    int
	HeadlessTimeout   time.Duration
	HeadlessExtraWait time.Duration
}

// PdfPolicy decides whether a local text-layer parse is good enough or the PDF
// should go through AI vision
type PdfPolicy struct {
	MinChars              int
	MinCharsPerPage       int
	MaxPages              int
	RejectReplacementChar bool
}

// LooksBad reports whether locally parsed text should be discarded in favor of AI vision
func (p PdfPolicy) LooksBad(text string, pages int) bool {
	n := utf8.RuneCountInString(strings.TrimSpace(text))
	if n < p.MinChars {
		return true
	}
	if p.RejectReplacementChar && strings.ContainsRune(text, utf8.RuneError) {
		return true
	}
	if pages > 0 && n/pages < p.MinCharsPerPage {
		return true
	}
	return false
}

// TooManyPages reports whether the page count exceeds the configured maximum
func (p PdfPolicy) TooManyPages(pages int) bool {
	return p.MaxPages > 0 && pages > p.MaxPages
}

// EmbeddingConfig bounds calls to the embedding provider
type EmbeddingConfig struct {
	RatePerSecond float64
	Burst         int
	Workers       int           // 1 embeds strictly sequentially
	Timeout       time.Duration // per provider call
}

// KnowledgeConfig controls the knowledge ingestion flow
type KnowledgeConfig struct {
	MinTextChars   int
	TenantChunkCap int
	FlushBatchSize int
}

// CatalogConfig controls the catalog ingestion flow
type CatalogConfig struct {
	MinTextChars        int
	RequireNameInSource bool
	LLMTimeout          time.Duration // per structuring call
}

// DefaultIngestConfig returns the production defaults
func DefaultIngestConfig() IngestConfig {
	return IngestConfig{
		Chunk: ChunkConfig{
			Size:       1200,
			Overlap:    150,
			SnapWindow: 200,
			MinChars:   50,
		},
		Fetch: FetchConfig{
			Timeout:               12 * time.Second,
			DNSTimeout:            1500 * time.Millisecond,
			MaxRedirects:          5,
			UserAgent:             "Mozilla/5.0 (compatible; ingestd/1.0)",
			CatalogHTMLMaxBytes:   750 * 1024,
			CatalogBinaryMaxBytes: 12 * 1024 * 1024,
			KnowledgeMaxBytes:     250 * 1024,
		},
		Web: WebConfig{
			StaticMinChars:    80,
			EmbeddedThreshold: 200,
			HeadlessMinChars:  200,
			MaxFollowLinks:    4,
			HeadlessTimeout:   45 * time.Second,
			HeadlessExtraWait: 3 * time.Second,
		},
		PDF: PdfPolicy{
			MinChars:              200,
			MinCharsPerPage:       50,
			MaxPages:              50,
			RejectReplacementChar: true,
		},
		Embedding: EmbeddingConfig{
			RatePerSecond: 5,
			Burst:         1,
			Workers:       1,
			Timeout:       30 * time.Second,
		},
		Knowledge: KnowledgeConfig{
			MinTextChars:   50,
			TenantChunkCap: 500,
			FlushBatchSize: 75,
		},
		Catalog: CatalogConfig{
			MinTextChars:        50,
			RequireNameInSource: true,
			LLMTimeout:          2 * time.Minute,
		},
	}
}

// Validate checks internal consistency of the configuration
func (c IngestConfig) Validate() error {
	if c.Chunk.Size <= 0 {
		return goerr.New("chunk size must be positive", goerr.V("size", c.Chunk.Size))
	}
	if c.Chunk.Overlap < 0 || c.Chunk.Overlap >= c.Chunk.Size {
		return goerr.New("chunk overlap must be in [0, size)", goerr.V("overlap", c.Chunk.Overlap), goerr.V("size", c.Chunk.Size))
	}
	if c.Chunk.SnapWindow < 0 {
		return goerr.New("chunk snap window must not be negative", goerr.V("snap_window", c.Chunk.SnapWindow))
	}
	if c.Fetch.Timeout <= 0 || c.Fetch.DNSTimeout <= 0 {
		return goerr.New("fetch timeouts must be positive")
	}
	if c.Fetch.MaxRedirects < 0 {
		return goerr.New("max redirects must not be negative", goerr.V("max_redirects", c.Fetch.MaxRedirects))
	}
	if c.Fetch.CatalogHTMLMaxBytes <= 0 || c.Fetch.CatalogBinaryMaxBytes <= 0 || c.Fetch.KnowledgeMaxBytes <= 0 {
		return goerr.New("byte ceilings must be positive")
	}
	if c.Knowledge.TenantChunkCap <= 0 {
		return goerr.New("tenant chunk cap must be positive", goerr.V("cap", c.Knowledge.TenantChunkCap))
	}
	if c.Knowledge.FlushBatchSize <= 0 {
		return goerr.New("flush batch size must be positive", goerr.V("batch", c.Knowledge.FlushBatchSize))
	}
	if c.Embedding.RatePerSecond <= 0 || c.Embedding.Burst <= 0 || c.Embedding.Workers <= 0 {
		return goerr.New("embedding rate, burst and workers must be positive")
	}
	if c.Embedding.Timeout <= 0 || c.Catalog.LLMTimeout <= 0 {
		return goerr.New("AI call timeouts must be positive",
			goerr.V("embedding_timeout", c.Embedding.Timeout), goerr.V("llm_timeout", c.Catalog.LLMTimeout))
	}
	return nil
}
