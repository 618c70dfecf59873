package pdftext

import (
	"bytes"
	"context"
	"log/slog"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/ingestd/pkg/utils/logging"
)

// Result is the text layer of a PDF and its declared page count
type Result struct {
	Text  string
	Pages int
}

// Parser extracts the embedded text layer of a PDF without any AI call. A failed
// parse is a normal outcome for scanned documents and callers fall back to vision.
type Parser interface {
	Parse(ctx context.Context, data []byte) (*Result, error)
}

type parser struct {
	maxPages int
}

type Option func(*parser)

// WithMaxPages skips text extraction when the document declares more pages.
// The page count is still reported so that callers can reject it.
func WithMaxPages(n int) Option {
	return func(p *parser) {
		p.maxPages = n
	}
}

func New(opts ...Option) Parser {
	p := &parser{}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *parser) Parse(ctx context.Context, data []byte) (result *Result, err error) {
	// the pdf package panics on some malformed inputs
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = goerr.New("pdf parser panicked", goerr.V("panic", r))
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to open pdf")
	}

	pages := reader.NumPage()
	if p.maxPages > 0 && pages > p.maxPages {
		return &Result{Pages: pages}, nil
	}

	var b strings.Builder
	for i := 1; i <= pages; i++ {
		if err := ctx.Err(); err != nil {
			return nil, goerr.Wrap(err, "pdf parse cancelled")
		}

		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			logging.From(ctx).Debug("failed to read pdf page", slog.Int("page", i), slog.Any("error", err))
			continue
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(text)
	}

	return &Result{Text: b.String(), Pages: pages}, nil
}
