package cli

import (
	"context"

	"github.com/secmon-lab/ingestd/pkg/cli/config"
	domainConfig "github.com/secmon-lab/ingestd/pkg/domain/model/config"
	"github.com/secmon-lab/ingestd/pkg/service/document"
)

var GetIndexConfig = getIndexConfig

var (
	ExtractSource = extractSource
	PrintResult   = printResult
	PrintFailure  = printFailure
)

func NewExtractorForTest(ctx context.Context, cfg domainConfig.IngestConfig) (*document.Extractor, error) {
	return newExtractor(ctx, cfg, extractorDeps{
		geminiCfg: &config.Gemini{},
		renderCfg: &config.Render{},
	})
}
