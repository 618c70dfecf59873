package config

import (
	"log/slog"
	"os"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/pelletier/go-toml/v2"
	domainConfig "github.com/secmon-lab/ingestd/pkg/domain/model/config"
	"github.com/urfave/cli/v3"
)

// Duration decodes TOML strings like "12s" or "1500ms"
type Duration time.Duration

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return goerr.Wrap(ErrInvalidConfig, "invalid duration", goerr.V("value", string(b)))
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// IngestFile is the TOML shape of the ingestion policy. Keys absent from the
// file keep their default values.
type IngestFile struct {
	Chunk struct {
		Size       int `toml:"size"`
		Overlap    int `toml:"overlap"`
		SnapWindow int `toml:"snap_window"`
		MinChars   int `toml:"min_chars"`
	} `toml:"chunk"`

	Fetch struct {
		Timeout               Duration `toml:"timeout"`
		DNSTimeout            Duration `toml:"dns_timeout"`
		MaxRedirects          int      `toml:"max_redirects"`
		UserAgent             string   `toml:"user_agent"`
		CatalogHTMLMaxBytes   int64    `toml:"catalog_html_max_bytes"`
		CatalogBinaryMaxBytes int64    `toml:"catalog_binary_max_bytes"`
		KnowledgeMaxBytes     int64    `toml:"knowledge_max_bytes"`
	} `toml:"fetch"`

	Web struct {
		StaticMinChars    int      `toml:"static_min_chars"`
		EmbeddedThreshold int      `toml:"embedded_threshold"`
		HeadlessMinChars  int      `toml:"headless_min_chars"`
		MaxFollowLinks    int      `toml:"max_follow_links"`
		HeadlessTimeout   Duration `toml:"headless_timeout"`
		HeadlessExtraWait Duration `toml:"headless_extra_wait"`
	} `toml:"web"`

	PDF struct {
		MinChars              int  `toml:"min_chars"`
		MinCharsPerPage       int  `toml:"min_chars_per_page"`
		MaxPages              int  `toml:"max_pages"`
		RejectReplacementChar bool `toml:"reject_replacement_char"`
	} `toml:"pdf"`

	Embedding struct {
		RatePerSecond float64  `toml:"rate_per_second"`
		Burst         int      `toml:"burst"`
		Workers       int      `toml:"workers"`
		Timeout       Duration `toml:"timeout"`
	} `toml:"embedding"`

	Knowledge struct {
		MinTextChars   int `toml:"min_text_chars"`
		TenantChunkCap int `toml:"tenant_chunk_cap"`
		FlushBatchSize int `toml:"flush_batch_size"`
	} `toml:"knowledge"`

	Catalog struct {
		MinTextChars        int      `toml:"min_text_chars"`
		RequireNameInSource bool     `toml:"require_name_in_source"`
		LLMTimeout          Duration `toml:"llm_timeout"`
	} `toml:"catalog"`
}

func newIngestFile(d domainConfig.IngestConfig) *IngestFile {
	var f IngestFile
	f.Chunk.Size, f.Chunk.Overlap, f.Chunk.SnapWindow, f.Chunk.MinChars = d.Chunk.Size, d.Chunk.Overlap, d.Chunk.SnapWindow, d.Chunk.MinChars

	f.Fetch.Timeout = Duration(d.Fetch.Timeout)
	f.Fetch.DNSTimeout = Duration(d.Fetch.DNSTimeout)
	f.Fetch.MaxRedirects = d.Fetch.MaxRedirects
	f.Fetch.UserAgent = d.Fetch.UserAgent
	f.Fetch.CatalogHTMLMaxBytes = d.Fetch.CatalogHTMLMaxBytes
	f.Fetch.CatalogBinaryMaxBytes = d.Fetch.CatalogBinaryMaxBytes
	f.Fetch.KnowledgeMaxBytes = d.Fetch.KnowledgeMaxBytes

	f.Web.StaticMinChars = d.Web.StaticMinChars
	f.Web.EmbeddedThreshold = d.Web.EmbeddedThreshold
	f.Web.HeadlessMinChars = d.Web.HeadlessMinChars
	f.Web.MaxFollowLinks = d.Web.MaxFollowLinks
	f.Web.HeadlessTimeout = Duration(d.Web.HeadlessTimeout)
	f.Web.HeadlessExtraWait = Duration(d.Web.HeadlessExtraWait)

	f.PDF.MinChars = d.PDF.MinChars
	f.PDF.MinCharsPerPage = d.PDF.MinCharsPerPage
	f.PDF.MaxPages = d.PDF.MaxPages
	f.PDF.RejectReplacementChar = d.PDF.RejectReplacementChar

	f.Embedding.RatePerSecond = d.Embedding.RatePerSecond
	f.Embedding.Burst = d.Embedding.Burst
	f.Embedding.Workers = d.Embedding.Workers
	f.Embedding.Timeout = Duration(d.Embedding.Timeout)

	f.Knowledge.MinTextChars = d.Knowledge.MinTextChars
	f.Knowledge.TenantChunkCap = d.Knowledge.TenantChunkCap
	f.Knowledge.FlushBatchSize = d.Knowledge.FlushBatchSize

	f.Catalog.MinTextChars = d.Catalog.MinTextChars
	f.Catalog.RequireNameInSource = d.Catalog.RequireNameInSource
	f.Catalog.LLMTimeout = Duration(d.Catalog.LLMTimeout)
	return &f
}

// ToDomain converts the file into the domain ingestion config
func (f *IngestFile) ToDomain() domainConfig.IngestConfig {
	return domainConfig.IngestConfig{
		Chunk: domainConfig.ChunkConfig{
			Size:       f.Chunk.Size,
			Overlap:    f.Chunk.Overlap,
			SnapWindow: f.Chunk.SnapWindow,
			MinChars:   f.Chunk.MinChars,
		},
		Fetch: domainConfig.FetchConfig{
			Timeout:               time.Duration(f.Fetch.Timeout),
			DNSTimeout:            time.Duration(f.Fetch.DNSTimeout),
			MaxRedirects:          f.Fetch.MaxRedirects,
			UserAgent:             f.Fetch.UserAgent,
			CatalogHTMLMaxBytes:   f.Fetch.CatalogHTMLMaxBytes,
			CatalogBinaryMaxBytes: f.Fetch.CatalogBinaryMaxBytes,
			KnowledgeMaxBytes:     f.Fetch.KnowledgeMaxBytes,
		},
		Web: domainConfig.WebConfig{
			StaticMinChars:    f.Web.StaticMinChars,
			EmbeddedThreshold: f.Web.EmbeddedThreshold,
			HeadlessMinChars:  f.Web.HeadlessMinChars,
			MaxFollowLinks:    f.Web.MaxFollowLinks,
			HeadlessTimeout:   time.Duration(f.Web.HeadlessTimeout),
			HeadlessExtraWait: time.Duration(f.Web.HeadlessExtraWait),
		},
		PDF: domainConfig.PdfPolicy{
			MinChars:              f.PDF.MinChars,
			MinCharsPerPage:       f.PDF.MinCharsPerPage,
			MaxPages:              f.PDF.MaxPages,
			RejectReplacementChar: f.PDF.RejectReplacementChar,
		},
		Embedding: domainConfig.EmbeddingConfig{
			RatePerSecond: f.Embedding.RatePerSecond,
			Burst:         f.Embedding.Burst,
			Workers:       f.Embedding.Workers,
			Timeout:       time.Duration(f.Embedding.Timeout),
		},
		Knowledge: domainConfig.KnowledgeConfig{
			MinTextChars:   f.Knowledge.MinTextChars,
			TenantChunkCap: f.Knowledge.TenantChunkCap,
			FlushBatchSize: f.Knowledge.FlushBatchSize,
		},
		Catalog: domainConfig.CatalogConfig{
			MinTextChars:        f.Catalog.MinTextChars,
			RequireNameInSource: f.Catalog.RequireNameInSource,
			LLMTimeout:          time.Duration(f.Catalog.LLMTimeout),
		},
	}
}

// LoadIngestConfiguration reads a TOML policy file on top of the defaults
func LoadIngestConfiguration(path string) (domainConfig.IngestConfig, error) {
	// #nosec G304 - path is expected to be provided by CLI argument
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return domainConfig.IngestConfig{}, goerr.Wrap(ErrConfigNotFound, "ingest config not found", goerr.V(ConfigPathKey, path))
		}
		return domainConfig.IngestConfig{}, goerr.Wrap(err, "failed to read config file", goerr.V(ConfigPathKey, path))
	}

	file := newIngestFile(domainConfig.DefaultIngestConfig())
	if err := toml.Unmarshal(data, file); err != nil {
		return domainConfig.IngestConfig{}, goerr.Wrap(ErrInvalidConfig, "failed to parse TOML config",
			goerr.V(ConfigPathKey, path), goerr.V("cause", err.Error()))
	}

	cfg := file.ToDomain()
	if err := cfg.Validate(); err != nil {
		return domainConfig.IngestConfig{}, goerr.Wrap(ErrInvalidConfig, "config validation failed",
			goerr.V(ConfigPathKey, path), goerr.V("cause", err.Error()))
	}
	return cfg, nil
}

// Ingest holds CLI flags for the ingestion policy
type Ingest struct {
	path string
}

func (i *Ingest) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "ingest-config",
			Category:    "Ingestion",
			Usage:       "Path to a TOML file overriding ingestion limits and thresholds",
			Sources:     cli.EnvVars("INGESTD_INGEST_CONFIG"),
			Destination: &i.path,
		},
	}
}

func (i Ingest) LogValue() slog.Value {
	return slog.GroupValue(slog.String("path", i.path))
}

// Configure returns the defaults when no file is given
func (i *Ingest) Configure() (domainConfig.IngestConfig, error) {
	if i.path == "" {
		return domainConfig.DefaultIngestConfig(), nil
	}
	return LoadIngestConfiguration(i.path)
}
