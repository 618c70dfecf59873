package webextract

import (
	"context"
	"log/slog"
	"net/url"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/ingestd/pkg/domain/model"
	"github.com/secmon-lab/ingestd/pkg/domain/model/config"
	"github.com/secmon-lab/ingestd/pkg/utils/logging"
	"github.com/secmon-lab/ingestd/pkg/utils/metrics"
)

// Renderer returns fully rendered HTML for a page. Failures are classified as
// headless_blocked, headless_timeout or headless_error.
type Renderer interface {
	Render(ctx context.Context, pageURL string) ([]byte, error)
}

// Headless is Tier 3
type Headless struct {
	renderer Renderer
	cfg      config.WebConfig
}

func NewHeadless(renderer Renderer, cfg config.WebConfig) *Headless {
	return &Headless{renderer: renderer, cfg: cfg}
}

// Extract renders pageURL and rescans it for structured data. Without items,
// visible text longer than HeadlessMinChars is still returned.
func (h *Headless) Extract(ctx context.Context, pageURL string) (*Result, error) {
	html, err := h.renderer.Render(ctx, pageURL)
	if err != nil {
		metrics.ObserveTier(metrics.TierHeadless, "error")
		return nil, err
	}

	doc, err := parseHTML(html)
	if err != nil {
		metrics.ObserveTier(metrics.TierHeadless, "error")
		return nil, goerr.Wrap(model.NewIngestError(model.CodeHeadlessError, "unparsable html"), err.Error())
	}

	emb := extractEmbedded(doc, string(html))
	if len(emb.Items) == 0 {
		emb = scanInlineJSON(doc)
	}
	if len(emb.Items) > 0 {
		metrics.ObserveTier(metrics.TierHeadless, "items")
		logging.From(ctx).Debug("headless render yielded items", slog.String("url", pageURL), slog.Int("items", len(emb.Items)), slog.String("source", emb.Source))
		return &Result{Text: emb.Text, Tier: metrics.TierHeadless, Items: emb.Items, URL: pageURL}, nil
	}

	base, _ := url.Parse(pageURL)
	static, err := ExtractStatic(html, base, h.cfg)
	if err != nil {
		metrics.ObserveTier(metrics.TierHeadless, "error")
		return nil, err
	}
	if runeLen(static.Text) > h.cfg.HeadlessMinChars {
		metrics.ObserveTier(metrics.TierHeadless, "text")
		logging.From(ctx).Debug("headless render found no items, using visible text", slog.String("url", pageURL), slog.Int("chars", runeLen(static.Text)))
		return &Result{Text: static.Text, Tier: metrics.TierHeadless, URL: pageURL}, nil
	}

	metrics.ObserveTier(metrics.TierHeadless, "empty")
	return nil, goerr.Wrap(model.NewIngestError(model.CodeHeadlessNoItems, ""), "rendered page has no usable content", goerr.V("url", pageURL))
}
