package webextract

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/tidwall/gjson"
)

// Item is a product-like record recovered from structured data in a page
type Item struct {
	Name        string
	Description string
	Price       string
	Currency    string
	Category    string
}

// EmbeddedResult is the output of Tier 2. Source names the pattern that matched.
type EmbeddedResult struct {
	Text   string
	Items  []Item
	Source string
}

const maxJSONDepth = 10

var (
	hydrationScriptIDs = []string{"__NEXT_DATA__", "__NUXT_DATA__", "ng-state", "__APOLLO_STATE__"}
	windowStatePattern = regexp.MustCompile(`window\.__(INITIAL_STATE|PRELOADED_STATE|APOLLO_STATE|APP_STATE|REDUX_STATE|INITIAL_DATA)__\s*=\s*`)
	trailingComma      = regexp.MustCompile(`,\s*([\]}])`)

	// product containers whose elements qualify with a name alone
	strictContainers = map[string]struct{}{
		"products": {}, "menuitems": {}, "menu": {}, "services": {}, "offerings": {}, "catalog": {},
	}
	// generic containers that are traversed first
	containerKeys = map[string]struct{}{
		"products": {}, "items": {}, "menuitems": {}, "menu": {}, "services": {}, "offerings": {},
		"catalog": {}, "data": {}, "results": {}, "edges": {}, "nodes": {},
	}
)

// ExtractEmbedded mines framework hydration payloads, window state assignments
// and JSON-LD blocks, in that order, and renders found items as a line oriented
// text block.
func ExtractEmbedded(body []byte) (*EmbeddedResult, error) {
	doc, err := parseHTML(body)
	if err != nil {
		return nil, err
	}
	return extractEmbedded(doc, string(body)), nil
}

func extractEmbedded(doc *goquery.Document, raw string) *EmbeddedResult {
	for _, id := range hydrationScriptIDs {
		sel := doc.Find("script#" + id).First()
		if sel.Length() == 0 {
			continue
		}
		if v, ok := parseLenient(sel.Text()); ok {
			if items := collectItems(v); len(items) > 0 {
				return newEmbeddedResult(items, id)
			}
		}
	}

	for _, loc := range windowStatePattern.FindAllStringSubmatchIndex(raw, -1) {
		blob, ok := balancedJSON(raw, loc[1])
		if !ok {
			continue
		}
		if v, ok := parseLenient(blob); ok {
			if items := collectItems(v); len(items) > 0 {
				return newEmbeddedResult(items, "window.__"+raw[loc[2]:loc[3]]+"__")
			}
		}
	}

	ld := newVisitor()
	doc.Find(`script[type="application/ld+json"]`).Each(func(_ int, s *goquery.Selection) {
		if v, ok := parseLenient(s.Text()); ok {
			ld.visitLD(v, 0, "")
		}
	})
	if len(ld.items) > 0 {
		return newEmbeddedResult(ld.items, "ld+json")
	}

	return &EmbeddedResult{}
}

// scanInlineJSON is the last resort for rendered pages: every inline script is
// searched for object or array literals that mention a name or title key.
func scanInlineJSON(doc *goquery.Document) *EmbeddedResult {
	v := newVisitor()
	attempts := 0
	doc.Find("script:not([src])").Each(func(_ int, s *goquery.Selection) {
		if t, _ := s.Attr("type"); t == "application/ld+json" {
			return
		}
		text := s.Text()
		for i := 0; i < len(text) && attempts < 200; i++ {
			if text[i] != '{' && text[i] != '[' {
				continue
			}
			end := i + 200
			if end > len(text) {
				end = len(text)
			}
			window := text[i:end]
			if !strings.Contains(window, `"name"`) && !strings.Contains(window, `"title"`) {
				continue
			}
			attempts++
			blob, ok := balancedJSON(text, i)
			if !ok {
				continue
			}
			if parsed, ok := parseLenient(blob); ok {
				before := len(v.items)
				v.visit(parsed, 0, false)
				if len(v.items) > before {
					i += len(blob) - 1
				}
			}
		}
	})
	if len(v.items) == 0 {
		return &EmbeddedResult{}
	}
	return newEmbeddedResult(v.items, "inline")
}

func newEmbeddedResult(items []Item, source string) *EmbeddedResult {
	return &EmbeddedResult{Text: itemsText(items), Items: items, Source: source}
}

// parseLenient validates raw as JSON and retries once with trailing commas removed
func parseLenient(raw string) (gjson.Result, bool) {
	raw = strings.TrimSuffix(strings.TrimSpace(raw), ";")
	if raw == "" {
		return gjson.Result{}, false
	}
	if gjson.Valid(raw) {
		return gjson.Parse(raw), true
	}
	fixed := trailingComma.ReplaceAllString(raw, "$1")
	if gjson.Valid(fixed) {
		return gjson.Parse(fixed), true
	}
	return gjson.Result{}, false
}

// balancedJSON returns the object or array literal starting at the first
// non-space byte at or after i.
func balancedJSON(s string, i int) (string, bool) {
	for i < len(s) && (s[i] == ' ' || s[i] == '\n' || s[i] == '\t' || s[i] == '\r') {
		i++
	}
	if i >= len(s) || (s[i] != '{' && s[i] != '[') {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for j := i; j < len(s); j++ {
		c := s[j]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{', '[':
			depth++
		case '}', ']':
			depth--
			if depth == 0 {
				return s[i : j+1], true
			}
		}
	}
	return "", false
}

type visitor struct {
	items []Item
	seen  map[string]struct{}
}

func newVisitor() *visitor {
	return &visitor{seen: map[string]struct{}{}}
}

func collectItems(v gjson.Result) []Item {
	vis := newVisitor()
	vis.visit(v, 0, false)
	return vis.items
}

func (v *visitor) add(item Item) {
	key := strings.ToLower(item.Name) + "\x1f" + item.Price + "\x1f" + strings.ToLower(item.Category)
	if _, ok := v.seen[key]; ok {
		return
	}
	v.seen[key] = struct{}{}
	v.items = append(v.items, item)
}

// visit walks a generic JSON value looking for arrays of product-like objects
func (v *visitor) visit(r gjson.Result, depth int, strict bool) {
	if depth > maxJSONDepth {
		return
	}

	switch {
	case r.IsArray():
		for _, elem := range r.Array() {
			node := unwrapNode(elem)
			if item, ok := toItem(node, strict); ok {
				v.add(item)
				continue
			}
			v.visit(elem, depth+1, strict)
		}

	case r.IsObject():
		// container keys first so their items keep page order ahead of incidental matches
		var rest []gjson.Result
		r.ForEach(func(key, value gjson.Result) bool {
			k := strings.ToLower(key.String())
			_, isStrict := strictContainers[k]
			if _, ok := containerKeys[k]; ok {
				v.visit(value, depth+1, isStrict)
			} else {
				rest = append(rest, value)
			}
			return true
		})
		for _, value := range rest {
			v.visit(value, depth+1, false)
		}
	}
}

// unwrapNode unwraps relay style {node: {...}} edges
func unwrapNode(r gjson.Result) gjson.Result {
	if !r.IsObject() {
		return r
	}
	if node := field(r, "node"); node.IsObject() {
		return node
	}
	return r
}

// field looks a key up without gjson path syntax, since JSON-LD keys start with '@'
func field(r gjson.Result, names ...string) gjson.Result {
	var found gjson.Result
	for _, name := range names {
		r.ForEach(func(key, value gjson.Result) bool {
			if key.String() == name {
				found = value
				return false
			}
			return true
		})
		if found.Exists() {
			return found
		}
	}
	return found
}

func toItem(r gjson.Result, strict bool) (Item, bool) {
	if !r.IsObject() {
		return Item{}, false
	}
	name := stringOf(field(r, "name", "title", "productName"))
	if name == "" {
		return Item{}, false
	}

	priceField := field(r, "price", "prices", "priceRange")
	if !priceField.Exists() && !strict {
		return Item{}, false
	}

	price, currency := priceOf(priceField, 0)
	if c := stringOf(field(r, "priceCurrency", "currency", "currencyCode")); c != "" {
		currency = c
	}

	return Item{
		Name:        name,
		Description: stringOf(field(r, "description", "desc", "shortDescription")),
		Price:       price,
		Currency:    currency,
		Category:    stringOf(field(r, "category", "categoryName", "section")),
	}, true
}

// stringOf returns a string value, the name of an object value, or the first
// string of a localized {lang: text} object
func stringOf(r gjson.Result) string {
	switch {
	case r.Type == gjson.String:
		return strings.TrimSpace(r.Str)
	case r.Type == gjson.Number:
		return r.Raw
	case r.IsObject():
		if n := field(r, "name", "title"); n.Type == gjson.String {
			return strings.TrimSpace(n.Str)
		}
		var first string
		r.ForEach(func(_, value gjson.Result) bool {
			if value.Type == gjson.String {
				first = strings.TrimSpace(value.Str)
				return false
			}
			return true
		})
		return first
	}
	return ""
}

func priceOf(r gjson.Result, depth int) (price, currency string) {
	if depth > 3 {
		return "", ""
	}
	switch {
	case r.Type == gjson.Number:
		return strconv.FormatFloat(r.Float(), 'f', -1, 64), ""
	case r.Type == gjson.String:
		return strings.TrimSpace(r.Str), ""
	case r.IsArray():
		for _, elem := range r.Array() {
			if p, c := priceOf(elem, depth+1); p != "" {
				return p, c
			}
		}
	case r.IsObject():
		p, _ := priceOf(field(r, "amount", "value", "price", "lowPrice", "formatted"), depth+1)
		c := stringOf(field(r, "currency", "currencyCode", "priceCurrency"))
		return p, c
	}
	return "", ""
}

func itemsText(items []Item) string {
	var b strings.Builder
	for i, item := range items {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(item.Name)
		b.WriteString("\n")
		if item.Description != "" {
			b.WriteString(item.Description)
			b.WriteString("\n")
		}
		if item.Price != "" {
			b.WriteString("Price: ")
			b.WriteString(strings.TrimSpace(item.Currency + " " + item.Price))
			b.WriteString("\n")
		}
		if item.Category != "" {
			b.WriteString("Category: ")
			b.WriteString(item.Category)
			b.WriteString("\n")
		}
	}
	return strings.TrimSpace(b.String())
}
