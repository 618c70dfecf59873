package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/ingestd/pkg/cli/config"
	domainConfig "github.com/secmon-lab/ingestd/pkg/domain/model/config"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ingest.toml")
	gt.NoError(t, os.WriteFile(path, []byte(content), 0600)).Required()
	return path
}

func TestLoadIngestConfiguration(t *testing.T) {
	t.Run("overrides only the keys present", func(t *testing.T) {
		path := writeConfig(t, `
[chunk]
size = 800
overlap = 100

[fetch]
timeout = "20s"
dns_timeout = "500ms"

[knowledge]
tenant_chunk_cap = 1000

[embedding]
timeout = "10s"

[catalog]
require_name_in_source = false
llm_timeout = "90s"
`)
		cfg, err := config.LoadIngestConfiguration(path)
		gt.NoError(t, err).Required()

		def := domainConfig.DefaultIngestConfig()
		gt.Value(t, cfg.Chunk.Size).Equal(800)
		gt.Value(t, cfg.Chunk.Overlap).Equal(100)
		gt.Value(t, cfg.Chunk.SnapWindow).Equal(def.Chunk.SnapWindow)
		gt.Value(t, cfg.Fetch.Timeout).Equal(20 * time.Second)
		gt.Value(t, cfg.Fetch.DNSTimeout).Equal(500 * time.Millisecond)
		gt.Value(t, cfg.Fetch.MaxRedirects).Equal(def.Fetch.MaxRedirects)
		gt.Value(t, cfg.Knowledge.TenantChunkCap).Equal(1000)
		gt.Value(t, cfg.Knowledge.FlushBatchSize).Equal(def.Knowledge.FlushBatchSize)
		gt.Bool(t, cfg.Catalog.RequireNameInSource).False()
		gt.Value(t, cfg.Embedding.Timeout).Equal(10 * time.Second)
		gt.Value(t, cfg.Embedding.RatePerSecond).Equal(def.Embedding.RatePerSecond)
		gt.Value(t, cfg.Catalog.LLMTimeout).Equal(90 * time.Second)
		gt.Value(t, cfg.Web).Equal(def.Web)
		gt.Value(t, cfg.PDF).Equal(def.PDF)
	})

	t.Run("non positive AI timeout is rejected", func(t *testing.T) {
		_, err := config.LoadIngestConfiguration(writeConfig(t, "[catalog]\nllm_timeout = \"0s\"\n"))
		gt.Bool(t, errors.Is(err, config.ErrInvalidConfig)).True()
	})

	t.Run("empty file yields defaults", func(t *testing.T) {
		cfg, err := config.LoadIngestConfiguration(writeConfig(t, ""))
		gt.NoError(t, err).Required()
		gt.Value(t, cfg).Equal(domainConfig.DefaultIngestConfig())
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := config.LoadIngestConfiguration(filepath.Join(t.TempDir(), "nope.toml"))
		gt.Error(t, err)
		gt.Bool(t, errors.Is(err, config.ErrConfigNotFound)).True()
	})

	t.Run("invalid duration", func(t *testing.T) {
		_, err := config.LoadIngestConfiguration(writeConfig(t, "[fetch]\ntimeout = \"soon\"\n"))
		gt.Error(t, err)
		gt.Bool(t, errors.Is(err, config.ErrInvalidConfig)).True()
	})

	t.Run("malformed toml", func(t *testing.T) {
		_, err := config.LoadIngestConfiguration(writeConfig(t, "[chunk\nsize = 1"))
		gt.Error(t, err)
		gt.Bool(t, errors.Is(err, config.ErrInvalidConfig)).True()
	})

	t.Run("overlap not smaller than size fails validation", func(t *testing.T) {
		_, err := config.LoadIngestConfiguration(writeConfig(t, "[chunk]\nsize = 100\noverlap = 100\n"))
		gt.Error(t, err)
		gt.Bool(t, errors.Is(err, config.ErrInvalidConfig)).True()
	})
}

func TestIngest_Configure(t *testing.T) {
	t.Run("no path returns defaults", func(t *testing.T) {
		cfg, err := config.NewIngestForTest("").Configure()
		gt.NoError(t, err)
		gt.Value(t, cfg).Equal(domainConfig.DefaultIngestConfig())
	})

	t.Run("path is loaded", func(t *testing.T) {
		cfg, err := config.NewIngestForTest(writeConfig(t, "[web]\nmax_follow_links = 2\n")).Configure()
		gt.NoError(t, err)
		gt.Value(t, cfg.Web.MaxFollowLinks).Equal(2)
	})
}

func TestDuration_RoundTrip(t *testing.T) {
	var d config.Duration
	gt.NoError(t, d.UnmarshalText([]byte("1m30s")))
	gt.Value(t, time.Duration(d)).Equal(90 * time.Second)

	b, err := d.MarshalText()
	gt.NoError(t, err)
	gt.Value(t, string(b)).Equal("1m30s")
}
