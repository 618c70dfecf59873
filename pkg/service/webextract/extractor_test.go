package webextract_test

import (
	"context"
	"net/url"
	"strings"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/ingestd/pkg/domain/model"
	"github.com/secmon-lab/ingestd/pkg/domain/model/config"
	"github.com/secmon-lab/ingestd/pkg/service/fetch"
	"github.com/secmon-lab/ingestd/pkg/service/webextract"
)

type mockRenderer struct {
	renderFn func(ctx context.Context, pageURL string) ([]byte, error)
	calls    int
}

func (m *mockRenderer) Render(ctx context.Context, pageURL string) ([]byte, error) {
	m.calls++
	return m.renderFn(ctx, pageURL)
}

func page(t *testing.T, status int, body string) *fetch.Response {
	t.Helper()
	u, err := url.Parse("https://shop.example/menu")
	gt.NoError(t, err).Required()
	return &fetch.Response{URL: u, StatusCode: status, ContentType: "text/html", Body: []byte(body)}
}

func newExtractor(r *mockRenderer) *webextract.Extractor {
	cfg := config.DefaultIngestConfig().Web
	return webextract.New(cfg, webextract.WithHeadless(webextract.NewHeadless(r, cfg)))
}

func failingRenderer(t *testing.T) *mockRenderer {
	return &mockRenderer{renderFn: func(context.Context, string) ([]byte, error) {
		t.Error("renderer must not be called")
		return nil, nil
	}}
}

func TestExtractPage_StaticTier(t *testing.T) {
	r := failingRenderer(t)
	body := `<html><body><main><p>` + strings.Repeat("Chicken shish 280 TRY. ", 15) + `</p><a href="/drinks-menu">Drinks</a></main></body></html>`

	res, err := newExtractor(r).ExtractPage(context.Background(), page(t, 200, body))
	gt.NoError(t, err).Required()
	gt.Value(t, res.Tier).Equal("static")
	gt.Array(t, res.Links).Length(1)
	gt.Value(t, r.calls).Equal(0)
}

func TestExtractPage_DetectionScriptKeepsStaticText(t *testing.T) {
	res, err := newExtractor(failingRenderer(t)).ExtractPage(context.Background(), page(t, 200, insightsMenuPage()))
	gt.NoError(t, err).Required()
	gt.Value(t, res.Tier).Equal("static")
	gt.String(t, res.Text).Contains("Adana kebab")
}

func TestExtractPage_EmbeddedTierWithoutHeadless(t *testing.T) {
	r := failingRenderer(t)

	res, err := newExtractor(r).ExtractPage(context.Background(), page(t, 200, nextDataPage))
	gt.NoError(t, err).Required()
	gt.Value(t, res.Tier).Equal("embedded")
	gt.Array(t, res.Items).Length(1).Required()
	gt.Value(t, res.Items[0].Name).Equal("Coffee")
	gt.Value(t, r.calls).Equal(0)
}

func TestExtractPage_BlockedIsFatal(t *testing.T) {
	r := failingRenderer(t)

	_, err := newExtractor(r).ExtractPage(context.Background(), page(t, 403, `<html><body><div id="root"></div></body></html>`))
	gt.Value(t, model.CodeOf(err)).Equal(model.CodeBlocked403)
	gt.String(t, model.FailureOf(err).Message).Contains("denied")
	gt.Value(t, r.calls).Equal(0)
}

func TestExtractPage_NonSuccessStatus(t *testing.T) {
	_, err := newExtractor(failingRenderer(t)).ExtractPage(context.Background(), page(t, 500, "oops"))
	gt.Value(t, model.CodeOf(err)).Equal(model.CodeURLFetchFailed)
}

const shellPage = `<html><body><noscript>Please enable JavaScript</noscript><div id="root"></div>
<script src="/1.js"></script><script src="/2.js"></script><script src="/3.js"></script><script src="/4.js"></script></body></html>`

func TestExtractPage_ShellGoesHeadless(t *testing.T) {
	r := &mockRenderer{renderFn: func(_ context.Context, pageURL string) ([]byte, error) {
		return []byte(`<html><body><div id="root"><script type="application/ld+json">
{"@type":"Product","name":"Room service breakfast","offers":{"price":"25","priceCurrency":"USD"}}</script></div></body></html>`), nil
	}}

	res, err := newExtractor(r).ExtractPage(context.Background(), page(t, 200, shellPage))
	gt.NoError(t, err).Required()
	gt.Value(t, res.Tier).Equal("headless")
	gt.Value(t, r.calls).Equal(1)
	gt.String(t, res.Text).Contains("Price: USD 25")
}

func TestExtractPage_ShellWithoutHeadless(t *testing.T) {
	x := webextract.New(config.DefaultIngestConfig().Web)

	_, err := x.ExtractPage(context.Background(), page(t, 200, shellPage))
	gt.Value(t, model.CodeOf(err)).Equal(model.CodeHeadlessUnavailable)
}

func TestExtractPage_ShortNonShellReturnsText(t *testing.T) {
	res, err := newExtractor(failingRenderer(t)).ExtractPage(context.Background(), page(t, 200, `<html><body><p>Closed today.</p></body></html>`))
	gt.NoError(t, err).Required()
	gt.Value(t, res.Text).Equal("Closed today.")
}
