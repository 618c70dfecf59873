package catalog

import (
	"strconv"
	"strings"
	"unicode"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/ingestd/pkg/domain/model"
	"github.com/secmon-lab/ingestd/pkg/domain/types"
	"github.com/tidwall/gjson"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// errNoArray is returned when the reply has no [...] section
var errNoArray = goerr.New("no JSON array in LLM reply")

// parseItems takes the first '[' to the last ']' of the reply and reads items
// from it. Elements without a name are skipped.
func parseItems(reply string) ([]rawItem, error) {
	start := strings.Index(reply, "[")
	end := strings.LastIndex(reply, "]")
	if start < 0 || end <= start {
		return nil, goerr.Wrap(errNoArray, "failed to locate items", goerr.V("reply", reply))
	}

	body := reply[start : end+1]
	if !gjson.Valid(body) {
		return nil, goerr.New("invalid JSON array in LLM reply", goerr.V("reply", reply))
	}

	var items []rawItem
	for _, el := range gjson.Parse(body).Array() {
		if !el.IsObject() {
			continue
		}
		name := strings.TrimSpace(el.Get("name").String())
		if name == "" {
			continue
		}
		item := rawItem{
			Name:        name,
			Description: strings.TrimSpace(el.Get("description").String()),
			Currency:    strings.TrimSpace(el.Get("currency").String()),
			Category:    strings.TrimSpace(el.Get("category").String()),
		}
		if p := el.Get("price"); p.Exists() {
			item.Price, item.HasPrice = parsePrice(p)
		}
		items = append(items, item)
	}
	return items, nil
}

func parsePrice(v gjson.Result) (float64, bool) {
	switch v.Type {
	case gjson.Number:
		return v.Float(), v.Float() > 0
	case gjson.String:
		p, ok := ParsePriceString(v.Str)
		return p, ok && p > 0
	default:
		return 0, false
	}
}

// ParsePriceString coerces a price string to a number by keeping digits and
// separators. With both '.' and ',' present the last one is the decimal mark; a
// lone separator followed by exactly three digits is a thousands separator.
func ParsePriceString(s string) (float64, bool) {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsDigit(r) || r == '.' || r == ',' {
			b.WriteRune(r)
		}
	}
	num := strings.Trim(b.String(), ".,")
	if num == "" {
		return 0, false
	}

	lastDot := strings.LastIndex(num, ".")
	lastComma := strings.LastIndex(num, ",")
	switch {
	case lastDot >= 0 && lastComma >= 0:
		if lastDot > lastComma {
			num = strings.ReplaceAll(num, ",", "")
		} else {
			num = strings.ReplaceAll(num, ".", "")
			num = strings.Replace(num, ",", ".", 1)
		}
	case lastComma >= 0:
		num = singleSeparator(num, ",")
	case lastDot >= 0:
		num = singleSeparator(num, ".")
	}

	f, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

func singleSeparator(num, sep string) string {
	parts := strings.Split(num, sep)
	if len(parts) > 2 || len(parts[len(parts)-1]) == 3 {
		return strings.Join(parts, "")
	}
	return strings.Join(parts, ".")
}

// normalizeItems applies the catalog item rules and drops duplicate ids.
// It returns the items and how many of them have no price.
func normalizeItems(kind types.CatalogKind, raws []rawItem) ([]model.CatalogItem, int) {
	items := make([]model.CatalogItem, 0, len(raws))
	seen := make(map[string]struct{}, len(raws))
	missingPrice := 0

	for _, r := range raws {
		currency := types.ParseCurrency(r.Currency)
		item := model.CatalogItem{
			Name:        collapseSpaces(r.Name),
			Description: collapseSpaces(r.Description),
			Price:       r.Price,
			Currency:    currency,
			Category:    collapseSpaces(r.Category),
			Available:   true,
		}
		if !r.HasPrice {
			item.Price = 0
		}
		item.ID = model.CatalogItemID(kind, item.Name, item.Price, item.Currency, item.Category)
		if _, ok := seen[item.ID]; ok {
			continue
		}
		seen[item.ID] = struct{}{}

		if !r.HasPrice {
			missingPrice++
		}
		items = append(items, item)
	}
	return items, missingPrice
}

func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// filterContained drops items whose name does not appear in the source text
func filterContained(items []model.CatalogItem, source string) ([]model.CatalogItem, int) {
	folded := Fold(source)
	kept := items[:0]
	dropped := 0
	for _, item := range items {
		if ContainsName(folded, item.Name) {
			kept = append(kept, item)
			continue
		}
		dropped++
	}
	return kept, dropped
}

// ContainsName reports whether name appears in an already folded source text.
// Every name token of three or more letters must be present; short names are
// matched as a whole.
func ContainsName(foldedSource, name string) bool {
	n := Fold(name)
	if n == "" {
		return false
	}

	var tokens []string
	for _, tok := range strings.FieldsFunc(n, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		if len([]rune(tok)) >= 3 {
			tokens = append(tokens, tok)
		}
	}
	if len(tokens) == 0 {
		return strings.Contains(foldedSource, n)
	}
	for _, tok := range tokens {
		if !strings.Contains(foldedSource, tok) {
			return false
		}
	}
	return true
}

var foldReplacer = strings.NewReplacer("ı", "i", "İ", "i", "ß", "ss", "ø", "o", "æ", "ae", "œ", "oe")

// Fold lowercases s, strips diacritics and collapses whitespace
func Fold(s string) string {
	s = foldReplacer.Replace(strings.ToLower(s))
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return collapseSpaces(out)
}
