package webextract_test

import (
	"strings"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/ingestd/pkg/service/webextract"
)

const nextDataPage = `<html><head></head><body><div id="__next"></div>
<script id="__NEXT_DATA__" type="application/json">{"props":{"pageProps":{}},"products":[{"name":"Coffee","price":5,"priceCurrency":"EUR"}]}</script>
<script src="/_next/a.js"></script><script src="/_next/b.js"></script><script src="/_next/c.js"></script><script src="/_next/d.js"></script>
</body></html>`

func TestExtractEmbedded_NextData(t *testing.T) {
	res, err := webextract.ExtractEmbedded([]byte(nextDataPage))
	gt.NoError(t, err).Required()
	gt.Value(t, res.Source).Equal("__NEXT_DATA__")
	gt.Array(t, res.Items).Length(1).Required()
	gt.Value(t, res.Items[0]).Equal(webextract.Item{Name: "Coffee", Price: "5", Currency: "EUR"})
	gt.Value(t, res.Text).Equal("Coffee\nPrice: EUR 5")
}

func TestExtractEmbedded_WindowStateWithTrailingCommas(t *testing.T) {
	html := `<html><body><script>
window.__INITIAL_STATE__ = {"catalog": {"items": [
  {"title": "Deep tissue massage", "prices": [{"amount": 60, "currency": "GBP"}], "category": {"name": "Massage"},},
  {"title": "Facial", "price": "45.50",},
],},};
</script></body></html>`

	res, err := webextract.ExtractEmbedded([]byte(html))
	gt.NoError(t, err).Required()
	gt.Value(t, res.Source).Equal("window.__INITIAL_STATE__")
	gt.Array(t, res.Items).Length(2).Required()
	gt.Value(t, res.Items[0]).Equal(webextract.Item{Name: "Deep tissue massage", Price: "60", Currency: "GBP", Category: "Massage"})
	gt.Value(t, res.Items[1].Price).Equal("45.50")
}

func TestExtractEmbedded_RelayEdges(t *testing.T) {
	html := `<html><body><script id="__APOLLO_STATE__" type="application/json">
{"data":{"menu":{"edges":[{"node":{"name":"Baklava","price":{"amount":120,"currencyCode":"TRY"}}},{"node":{"name":"Kunefe","price":{"amount":150,"currencyCode":"TRY"}}}]}}}
</script></body></html>`

	res, err := webextract.ExtractEmbedded([]byte(html))
	gt.NoError(t, err).Required()
	gt.Array(t, res.Items).Length(2).Required()
	gt.Value(t, res.Items[1]).Equal(webextract.Item{Name: "Kunefe", Price: "150", Currency: "TRY"})
}

func TestExtractEmbedded_JSONLDMenu(t *testing.T) {
	html := `<html><head>
<script type="application/ld+json">
{"@context":"https://schema.org","@type":"Restaurant","name":"Kebapci","hasMenu":{"@type":"Menu","hasMenuSection":[
  {"@type":"MenuSection","name":"Mains","hasMenuItem":[
    {"@type":"MenuItem","name":"Adana","description":"Spicy minced lamb","offers":{"@type":"Offer","price":"350","priceCurrency":"TRY"}}
  ]},
  {"@type":"MenuSection","name":"Desserts","hasMenuItem":{"@type":"MenuItem","name":"Sutlac","offers":[{"price":90,"priceCurrency":"TRY"}]}}
]}}
</script>
<script type="application/ld+json">
{"@context":"https://schema.org","@type":"ItemList","itemListElement":[{"@type":"ListItem","position":1,"item":{"@type":"Product","name":"Gift card","offers":{"price":"500","priceCurrency":"TRY"}}}]}
</script>
</head><body></body></html>`

	res, err := webextract.ExtractEmbedded([]byte(html))
	gt.NoError(t, err).Required()
	gt.Value(t, res.Source).Equal("ld+json")
	gt.Array(t, res.Items).Length(3).Required()
	gt.Value(t, res.Items[0]).Equal(webextract.Item{Name: "Adana", Description: "Spicy minced lamb", Price: "350", Currency: "TRY", Category: "Mains"})
	gt.Value(t, res.Items[1]).Equal(webextract.Item{Name: "Sutlac", Price: "90", Currency: "TRY", Category: "Desserts"})
	gt.Value(t, res.Items[2].Name).Equal("Gift card")
	gt.String(t, res.Text).Contains("Price: TRY 350")
	gt.String(t, res.Text).Contains("Category: Desserts")
}

func TestExtractEmbedded_DepthBound(t *testing.T) {
	wrap := func(levels int) string {
		doc := `{"products":[{"name":"Hidden","price":1}]}`
		for i := 0; i < levels; i++ {
			doc = `{"x":` + doc + `}`
		}
		return `<html><body><script id="__NEXT_DATA__" type="application/json">` + doc + `</script></body></html>`
	}

	res, err := webextract.ExtractEmbedded([]byte(wrap(2)))
	gt.NoError(t, err).Required()
	gt.Array(t, res.Items).Length(1)

	res, err = webextract.ExtractEmbedded([]byte(wrap(15)))
	gt.NoError(t, err).Required()
	gt.Array(t, res.Items).Length(0)
}

func TestExtractEmbedded_NothingFound(t *testing.T) {
	html := `<html><body><script>var nav = [{"title":"Home"},{"title":"About"}];</script><p>hello</p></body></html>`

	res, err := webextract.ExtractEmbedded([]byte(html))
	gt.NoError(t, err).Required()
	gt.Array(t, res.Items).Length(0)
	gt.Bool(t, strings.TrimSpace(res.Text) == "").True()
}
