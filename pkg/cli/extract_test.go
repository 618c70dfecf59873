package cli_test

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/fatih/color"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/ingestd/pkg/cli"
	"github.com/secmon-lab/ingestd/pkg/domain/model"
	domainConfig "github.com/secmon-lab/ingestd/pkg/domain/model/config"
	"github.com/secmon-lab/ingestd/pkg/domain/types"
	"github.com/secmon-lab/ingestd/pkg/service/document"
	"github.com/secmon-lab/ingestd/pkg/service/webextract"
)

func TestExtractSource(t *testing.T) {
	t.Run("url", func(t *testing.T) {
		src, err := cli.ExtractSource("https://example.com/menu", "", "")
		gt.NoError(t, err)
		gt.Value(t, src.Type).Equal(types.SourceTypeURL)
		gt.Value(t, src.URL).Equal("https://example.com/menu")
	})

	t.Run("inline text", func(t *testing.T) {
		src, err := cli.ExtractSource("", "hello", "")
		gt.NoError(t, err)
		gt.Value(t, src.Type).Equal(types.SourceTypeText)
		gt.Value(t, src.Text).Equal("hello")
	})

	t.Run("file is read as text", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "notes.txt")
		gt.NoError(t, os.WriteFile(path, []byte("opening hours 9-17"), 0600)).Required()

		src, err := cli.ExtractSource("", "", path)
		gt.NoError(t, err)
		gt.Value(t, src.Text).Equal("opening hours 9-17")
	})

	t.Run("exactly one source is required", func(t *testing.T) {
		_, err := cli.ExtractSource("", "", "")
		gt.Error(t, err)
		_, err = cli.ExtractSource("https://example.com", "text", "")
		gt.Error(t, err)
	})
}

func TestExtractor_InlineText(t *testing.T) {
	x, err := cli.NewExtractorForTest(t.Context(), domainConfig.DefaultIngestConfig())
	gt.NoError(t, err).Required()

	res, err := x.Extract(t.Context(), model.NewTextSource("  Menu:\r\n Kebab - 150 TRY  "), document.PathKnowledge)
	gt.NoError(t, err).Required()
	gt.Value(t, res.Method).Equal(document.MethodText)
	gt.String(t, res.Text).Contains("Kebab - 150 TRY")
}

func TestPrintResult(t *testing.T) {
	color.NoColor = true

	var buf bytes.Buffer
	cli.PrintResult(&buf, &document.Result{
		Text:     "Coffee 5 EUR",
		MimeType: "text/html",
		Method:   "static",
		Links:    []webextract.Link{{URL: "https://example.com/menu.pdf", Kind: webextract.LinkPDF, Score: 12}},
	})

	out := buf.String()
	gt.String(t, out).Contains("method: static")
	gt.String(t, out).Contains("chars:  12")
	gt.String(t, out).Contains("pdf")
	gt.String(t, out).Contains("https://example.com/menu.pdf")
	gt.String(t, out).Contains("Coffee 5 EUR")
}

func TestPrintFailure(t *testing.T) {
	color.NoColor = true

	var buf bytes.Buffer
	cli.PrintFailure(&buf, goerr.Wrap(model.NewIngestError(model.CodeBlocked403, ""), "blocked"))
	gt.String(t, buf.String()).Contains("blocked_403: Access to the website was denied")
}
