package webextract_test

import (
	"net/url"
	"strings"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/ingestd/pkg/domain/model/config"
	"github.com/secmon-lab/ingestd/pkg/service/webextract"
)

func mustURL(t *testing.T, s string) *url.URL {
	t.Helper()
	u, err := url.Parse(s)
	gt.NoError(t, err).Required()
	return u
}

func TestExtractStatic_SelectsContent(t *testing.T) {
	html := `<html><head><style>.x{}</style><script>var a = "secret script";</script></head><body>
<header><a href="/">Home</a></header>
<nav>Navigation text that should vanish</nav>
<div class="site-sidebar">Sidebar text</div>
<main>
  <h1>Our Menu</h1>
  <p>Adana Kebab with grilled peppers and lavash bread - 350 TRY</p>
  <p>Iskender with yogurt and tomato butter sauce - 420 TRY</p>
</main>
<footer>Copyright</footer>
</body></html>`

	res, err := webextract.ExtractStatic([]byte(html), mustURL(t, "https://shop.example/"), config.DefaultIngestConfig().Web)
	gt.NoError(t, err).Required()
	gt.String(t, res.Text).Contains("Adana Kebab")
	gt.String(t, res.Text).Contains("420 TRY")
	gt.Bool(t, strings.Contains(res.Text, "Navigation")).False()
	gt.Bool(t, strings.Contains(res.Text, "Sidebar")).False()
	gt.Bool(t, strings.Contains(res.Text, "secret script")).False()
	gt.Bool(t, strings.Contains(res.Text, "Copyright")).False()
}

func TestExtractStatic_FallsBackToBody(t *testing.T) {
	html := `<html><body><main>tiny</main><div><p>` + strings.Repeat("Lentil soup 90 TRY. ", 10) + `</p></div></body></html>`

	res, err := webextract.ExtractStatic([]byte(html), mustURL(t, "https://shop.example/"), config.DefaultIngestConfig().Web)
	gt.NoError(t, err).Required()
	gt.String(t, res.Text).Contains("Lentil soup")
}

func TestExtractStatic_Links(t *testing.T) {
	html := `<html><body><main>
<a href="/menu">Our menu</a>
<a href="/menu#drinks">Drinks menu</a>
<a href="/files/price-list.pdf">Price list</a>
<a href="/img/menu.jpg">Menu photo</a>
<a href="/about">About us</a>
<a href="https://other.example/menu">Partner menu</a>
<a href="/spa-services">Spa</a>
<a href="/catalog">Catalog</a>
</main></body></html>`

	res, err := webextract.ExtractStatic([]byte(html), mustURL(t, "https://shop.example/home"), config.DefaultIngestConfig().Web)
	gt.NoError(t, err).Required()
	gt.Array(t, res.Links).Length(4).Required()

	// pdf: price keyword (2) + list text (2) + pdf (5)
	gt.Value(t, res.Links[0].URL).Equal("https://shop.example/files/price-list.pdf")
	gt.Value(t, res.Links[0].Kind).Equal(webextract.LinkPDF)

	var urls []string
	for _, l := range res.Links {
		urls = append(urls, l.URL)
		gt.Bool(t, strings.HasPrefix(l.URL, "https://shop.example/")).True()
		gt.Number(t, l.Score).GreaterOrEqual(2)
	}
	gt.Array(t, urls).Has("https://shop.example/img/menu.jpg")
	for _, u := range urls {
		gt.Value(t, u).NotEqual("https://shop.example/about")
	}
}
