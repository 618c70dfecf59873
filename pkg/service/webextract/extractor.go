package webextract

import (
	"context"
	"log/slog"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/ingestd/pkg/domain/model"
	"github.com/secmon-lab/ingestd/pkg/domain/model/config"
	"github.com/secmon-lab/ingestd/pkg/service/fetch"
	"github.com/secmon-lab/ingestd/pkg/utils/logging"
	"github.com/secmon-lab/ingestd/pkg/utils/metrics"
)

// Result is the text recovered from a web page and the tier that produced it
type Result struct {
	Text  string
	Tier  string
	Items []Item
	Links []Link
	URL   string
}

// Extractor runs Tier 1, Tier 2 and Tier 3 over a fetched page until one
// yields usable text or a terminal classification is reached.
type Extractor struct {
	cfg      config.WebConfig
	headless *Headless
}

type Option func(*Extractor)

// WithHeadless enables Tier 3
func WithHeadless(h *Headless) Option {
	return func(x *Extractor) {
		x.headless = h
	}
}

func New(cfg config.WebConfig, opts ...Option) *Extractor {
	x := &Extractor{cfg: cfg}
	for _, opt := range opts {
		opt(x)
	}
	return x
}

// ExtractPage classifies and extracts an HTML response
func (x *Extractor) ExtractPage(ctx context.Context, resp *fetch.Response) (*Result, error) {
	pageURL := resp.URL.String()
	logger := logging.From(ctx).With(slog.String("url", pageURL))

	if err := ClassifyBlocking(resp.StatusCode, resp.Body); err != nil {
		metrics.ObserveBlocked(string(model.CodeOf(err)))
		return nil, goerr.Wrap(err, "page is blocked", goerr.V("url", pageURL), goerr.V("status", resp.StatusCode))
	}
	if !resp.IsSuccess() {
		return nil, goerr.Wrap(model.Errorf(model.CodeURLFetchFailed, "HTTP %d", resp.StatusCode), "unexpected status", goerr.V("url", pageURL))
	}

	static, err := ExtractStatic(resp.Body, resp.URL, x.cfg)
	if err != nil {
		return nil, goerr.Wrap(model.NewIngestError(model.CodeExtractionFailed, "unparsable html"), err.Error())
	}
	if runeLen(static.Text) >= x.cfg.EmbeddedThreshold {
		metrics.ObserveTier(metrics.TierStatic, "ok")
		logger.Debug("static extraction succeeded", slog.Int("chars", runeLen(static.Text)), slog.Int("links", len(static.Links)))
		return &Result{Text: static.Text, Tier: metrics.TierStatic, Links: static.Links, URL: pageURL}, nil
	}
	metrics.ObserveTier(metrics.TierStatic, "short")

	emb, err := ExtractEmbedded(resp.Body)
	if err != nil {
		return nil, goerr.Wrap(model.NewIngestError(model.CodeExtractionFailed, "unparsable html"), err.Error())
	}
	if len(emb.Items) > 0 {
		metrics.ObserveTier(metrics.TierEmbedded, "ok")
		logger.Debug("embedded json extraction succeeded", slog.String("source", emb.Source), slog.Int("items", len(emb.Items)))
		return &Result{Text: emb.Text, Tier: metrics.TierEmbedded, Items: emb.Items, URL: pageURL}, nil
	}
	metrics.ObserveTier(metrics.TierEmbedded, "empty")

	if shell := DetectSPAShell(resp.Body); shell != nil {
		logger.Debug("page looks like a javascript shell")
		if x.headless == nil {
			metrics.ObserveTier(metrics.TierHeadless, "unavailable")
			return nil, goerr.Wrap(model.NewIngestError(model.CodeHeadlessUnavailable, ""), shell.Error(), goerr.V("url", pageURL))
		}
		return x.headless.Extract(ctx, pageURL)
	}

	return &Result{Text: static.Text, Tier: metrics.TierStatic, Links: static.Links, URL: pageURL}, nil
}
