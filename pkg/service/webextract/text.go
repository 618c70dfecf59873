package webextract

import (
	"regexp"
	"strings"
	"unicode/utf8"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
)

var (
	spaceRun   = regexp.MustCompile(`[ \t\f\v\x{00a0}]+`)
	blankLines = regexp.MustCompile(`\n{3,}`)
)

// newConverter renders a selection as readable markdown-ish text. Links keep only
// their label and images are dropped so that URLs do not crowd the LLM input.
func newConverter() *md.Converter {
	conv := md.NewConverter("", true, &md.Options{EscapeMode: "disabled"})
	conv.Remove("script", "style", "noscript", "template", "svg", "canvas", "picture", "video", "audio")
	conv.AddRules(
		md.Rule{
			Filter: []string{"a"},
			Replacement: func(content string, _ *goquery.Selection, _ *md.Options) *string {
				return md.String(content)
			},
		},
		md.Rule{
			Filter: []string{"img"},
			Replacement: func(string, *goquery.Selection, *md.Options) *string {
				return md.String("")
			},
		},
	)
	return conv
}

var converter = newConverter()

func selectionText(sel *goquery.Selection) string {
	return NormalizeText(converter.Convert(sel))
}

// NormalizeText collapses horizontal whitespace, trims every line and squeezes
// runs of blank lines to one.
func NormalizeText(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(spaceRun.ReplaceAllString(line, " "))
	}
	s = strings.Join(lines, "\n")
	s = blankLines.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}
