package cli

import (
	"context"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/ingestd/pkg/cli/config"
	domainConfig "github.com/secmon-lab/ingestd/pkg/domain/model/config"
	"github.com/secmon-lab/ingestd/pkg/service/document"
	"github.com/secmon-lab/ingestd/pkg/service/fetch"
	"github.com/secmon-lab/ingestd/pkg/service/pdftext"
	"github.com/secmon-lab/ingestd/pkg/service/storage"
	"github.com/secmon-lab/ingestd/pkg/service/urlguard"
	"github.com/secmon-lab/ingestd/pkg/service/webextract"
	"github.com/secmon-lab/ingestd/pkg/utils/logging"
)

// extractorDeps are the optional collaborators of the document extractor
type extractorDeps struct {
	geminiCfg *config.Gemini
	renderCfg *config.Render
	objects   storage.Service
}

// newExtractor builds the guarded fetch, web tiers, PDF and vision pipeline
func newExtractor(ctx context.Context, cfg domainConfig.IngestConfig, deps extractorDeps) (*document.Extractor, error) {
	guard := urlguard.New(urlguard.WithDNSTimeout(cfg.Fetch.DNSTimeout))
	fetcher := fetch.New(guard, cfg.Fetch)

	var webOpts []webextract.Option
	renderer, err := deps.renderCfg.Configure(cfg.Web)
	if err != nil {
		return nil, err
	}
	if renderer != nil {
		webOpts = append(webOpts, webextract.WithHeadless(webextract.NewHeadless(renderer, cfg.Web)))
		logging.Default().Info("Headless rendering enabled")
	} else {
		logging.Default().Info("Render endpoint not configured, Tier 3 extraction is disabled")
	}
	pages := webextract.New(cfg.Web, webOpts...)

	opts := []document.Option{
		document.WithPDFParser(pdftext.New(pdftext.WithMaxPages(cfg.PDF.MaxPages))),
	}

	v, err := deps.geminiCfg.ConfigureVision(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to configure vision")
	}
	if v != nil {
		opts = append(opts, document.WithVision(v))
	} else {
		logging.Default().Info("Vision not configured, images and scanned PDFs cannot be read")
	}

	if deps.objects != nil {
		opts = append(opts, document.WithObjectReader(deps.objects))
	}

	return document.New(fetcher, pages, cfg, opts...), nil
}
