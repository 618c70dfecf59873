package webextract

import (
	"bytes"
	"net/url"
	"path"
	"regexp"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/ingestd/pkg/domain/model/config"
)

// LinkKind tells how a follow-up link should be extracted
type LinkKind string

const (
	LinkHTML  LinkKind = "html"
	LinkPDF   LinkKind = "pdf"
	LinkImage LinkKind = "image"
)

// Link is a same-origin follow-up candidate
type Link struct {
	URL   string
	Text  string
	Kind  LinkKind
	Score int
}

// StaticResult is the output of Tier 1
type StaticResult struct {
	Text  string
	Links []Link
}

const maxFollowLinks = 4

var (
	junkElements = "script, style, noscript, template, nav, footer, header, aside, iframe, form, svg, button, dialog"
	junkPattern  = regexp.MustCompile(`(?i)(^|[\s_-])(nav|navbar|navigation|footer|header|sidebar|cookie|breadcrumbs?)([\s_-]|$)`)

	contentSelectors = []string{"main", "article", "[role=main]", ".content", "#content", ".main", "#main", "body"}

	linkKeywords = []string{
		"menu", "menü", "price", "pricing", "fiyat", "services", "hizmet", "spa", "catalog", "catalogue", "katalog",
		"products", "ürün", "rooms", "tickets", "bilet", "offers", "treatments", "wellness", "food", "drinks", "wine",
	}
	imageExts = map[string]struct{}{".jpg": {}, ".jpeg": {}, ".png": {}, ".webp": {}, ".gif": {}}
)

func parseHTML(body []byte) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to parse html")
	}
	return doc, nil
}

// ExtractStatic pulls visible text from server rendered HTML and scores
// same-origin follow-up links.
func ExtractStatic(body []byte, base *url.URL, cfg config.WebConfig) (*StaticResult, error) {
	doc, err := parseHTML(body)
	if err != nil {
		return nil, err
	}

	limit := cfg.MaxFollowLinks
	if limit <= 0 {
		limit = maxFollowLinks
	}
	links := scoreLinks(doc, base, limit)

	stripJunk(doc)

	var text string
	for _, selector := range contentSelectors {
		sel := doc.Find(selector).First()
		if sel.Length() == 0 {
			continue
		}
		text = selectionText(sel)
		if runeLen(text) > cfg.StaticMinChars {
			break
		}
	}

	return &StaticResult{Text: text, Links: links}, nil
}

func stripJunk(doc *goquery.Document) {
	doc.Find(junkElements).Remove()
	doc.Find("[class], [id]").Each(func(_ int, s *goquery.Selection) {
		switch goquery.NodeName(s) {
		case "html", "body", "main", "article":
			return
		}
		class, _ := s.Attr("class")
		id, _ := s.Attr("id")
		if junkPattern.MatchString(class) || junkPattern.MatchString(id) {
			s.Remove()
		}
	})
}

func scoreLinks(doc *goquery.Document, base *url.URL, limit int) []Link {
	if base == nil {
		return nil
	}

	seen := map[string]struct{}{}
	var links []Link
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		ref, err := url.Parse(strings.TrimSpace(href))
		if err != nil {
			return
		}
		u := base.ResolveReference(ref)
		u.Fragment = ""
		if u.Scheme != base.Scheme || !strings.EqualFold(u.Host, base.Host) {
			return
		}
		key := u.String()
		if key == base.String() {
			return
		}
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}

		label := strings.Join(strings.Fields(s.Text()), " ")
		link := Link{URL: key, Text: label, Kind: LinkHTML}
		link.Score = scoreLink(strings.ToLower(u.Path+"?"+u.RawQuery), strings.ToLower(label))

		ext := strings.ToLower(path.Ext(u.Path))
		switch {
		case ext == ".pdf":
			link.Kind = LinkPDF
			link.Score += 5
		case isImageExt(ext):
			link.Kind = LinkImage
			link.Score += 3
		}

		if link.Score > 0 {
			links = append(links, link)
		}
	})

	sort.SliceStable(links, func(i, j int) bool {
		return links[i].Score > links[j].Score
	})
	if len(links) > limit {
		links = links[:limit]
	}
	return links
}

func scoreLink(href, label string) int {
	score := 0
	for _, kw := range linkKeywords {
		if strings.Contains(href, kw) || strings.Contains(label, kw) {
			score += 2
		}
	}
	return score
}

func isImageExt(ext string) bool {
	_, ok := imageExts[ext]
	return ok
}
