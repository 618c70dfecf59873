package webextract

import (
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/secmon-lab/ingestd/pkg/domain/model"
)

// challengeSignatures only occur on interstitial challenge pages
var challengeSignatures = []string{
	"<title>just a moment...</title>",
	"<title>attention required! | cloudflare</title>",
	"cf-browser-verification",
	"id=\"challenge-form\"",
	"cf-chl-",
	"px-captcha",
	"captcha-delivery",
}

// challengeMarkers also show up on normal pages (bot detection scripts,
// footer text), so they count only when the page has almost no visible text
// or the server answered 503
var challengeMarkers = []string{
	"cf-challenge",
	"challenge-platform",
	"checking your browser",
	"please verify you are a human",
	"verify you are human",
	"hcaptcha-challenge",
	"are you a robot",
}

var shellPhrases = []string{"enable javascript", "javascript is required", "javascript is disabled", "loading..."}

var appRootSelectors = "#root, #app, #__next, #__nuxt, [data-reactroot], app-root, [ng-version]"

const (
	shellMinChars   = 100
	shellShortChars = 500
)

// ClassifyBlocking returns a terminal blocking classification or nil. It applies
// to any response regardless of whether extraction succeeded.
func ClassifyBlocking(status int, body []byte) error {
	switch status {
	case http.StatusForbidden:
		return model.NewIngestError(model.CodeBlocked403, "")
	case http.StatusTooManyRequests:
		return model.NewIngestError(model.CodeRateLimited429, "")
	}

	lower := strings.ToLower(string(body))
	for _, sig := range challengeSignatures {
		if strings.Contains(lower, sig) {
			return model.Errorf(model.CodeCaptchaChallenge, "signature %q", sig)
		}
	}
	for _, marker := range challengeMarkers {
		if !strings.Contains(lower, marker) {
			continue
		}
		if status == http.StatusServiceUnavailable || visibleRunes(body) < shellShortChars {
			return model.Errorf(model.CodeCaptchaChallenge, "marker %q", marker)
		}
		return nil
	}
	return nil
}

// visibleRunes counts body text outside scripts and styles
func visibleRunes(body []byte) int {
	doc, err := parseHTML(body)
	if err != nil {
		return 0
	}
	return runeLen(visibleText(doc))
}

func visibleText(doc *goquery.Document) string {
	visible := doc.Find("body").Clone()
	visible.Find("script, style, noscript, template").Remove()
	return strings.Join(strings.Fields(visible.Text()), " ")
}

// DetectSPAShell returns js_shell_detected when at least two shell signals are
// present: almost no body text, loading or enable-javascript phrasing, an empty
// app root, or many scripts, each with a short body.
func DetectSPAShell(body []byte) error {
	doc, err := parseHTML(body)
	if err != nil {
		return nil
	}
	if detectShell(doc) {
		return model.NewIngestError(model.CodeJSShellDetected, "")
	}
	return nil
}

func detectShell(doc *goquery.Document) bool {
	scripts := doc.Find("script").Length()
	phraseText := strings.ToLower(doc.Find("body").Text())

	n := runeLen(visibleText(doc))
	short := n < shellShortChars

	signals := 0
	if n < shellMinChars {
		signals++
	}
	if short {
		for _, p := range shellPhrases {
			if strings.Contains(phraseText, p) {
				signals++
				break
			}
		}
		if doc.Find(appRootSelectors).Length() > 0 {
			signals++
		}
		if scripts > 3 {
			signals++
		}
	}
	return signals >= 2
}
