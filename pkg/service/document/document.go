package document

import (
	"context"
	"log/slog"
	"mime"
	"net/http"
	"path"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/ingestd/pkg/domain/model"
	"github.com/secmon-lab/ingestd/pkg/domain/model/config"
	"github.com/secmon-lab/ingestd/pkg/domain/types"
	"github.com/secmon-lab/ingestd/pkg/service/fetch"
	"github.com/secmon-lab/ingestd/pkg/service/pdftext"
	"github.com/secmon-lab/ingestd/pkg/service/storage"
	"github.com/secmon-lab/ingestd/pkg/service/webextract"
	"github.com/secmon-lab/ingestd/pkg/utils/logging"
)

// Path selects the size ceilings and whether follow-up links are fetched
type Path string

const (
	PathKnowledge Path = "knowledge"
	PathCatalog   Path = "catalog"
)

// Extraction methods reported in Result.Method
const (
	MethodText    = "text"
	MethodPDFText = "pdf_text"
	MethodVision  = "vision"
)

const mimePDF = "application/pdf"

// Result is the normalized text of one source
type Result struct {
	Text      string
	MimeType  string
	PageCount int
	Method    string
	Links     []webextract.Link
	Items     int // structured items recovered from embedded data
}

// Fetcher is the guarded HTTP client
type Fetcher interface {
	Get(ctx context.Context, rawURL string, limit fetch.Limit) (*fetch.Response, error)
}

// PageExtractor runs the web tiers over a fetched HTML response
type PageExtractor interface {
	ExtractPage(ctx context.Context, resp *fetch.Response) (*webextract.Result, error)
}

// ObjectReader reads uploaded files
type ObjectReader interface {
	Read(ctx context.Context, bucket, path string, maxBytes int64) (*storage.Object, error)
}

// Vision transcribes images and PDFs
type Vision interface {
	ExtractText(ctx context.Context, data []byte, mimeType string) (string, error)
}

// Extractor dispatches a Source to the matching extraction strategy
type Extractor struct {
	fetcher Fetcher
	pages   PageExtractor
	pdf     pdftext.Parser
	vision  Vision
	objects ObjectReader
	cfg     config.IngestConfig
}

type Option func(*Extractor)

func WithPDFParser(p pdftext.Parser) Option {
	return func(x *Extractor) {
		x.pdf = p
	}
}

func WithVision(v Vision) Option {
	return func(x *Extractor) {
		x.vision = v
	}
}

func WithObjectReader(r ObjectReader) Option {
	return func(x *Extractor) {
		x.objects = r
	}
}

func New(fetcher Fetcher, pages PageExtractor, cfg config.IngestConfig, opts ...Option) *Extractor {
	x := &Extractor{fetcher: fetcher, pages: pages, cfg: cfg}
	for _, opt := range opts {
		opt(x)
	}
	return x
}

func (x *Extractor) limit(p Path) fetch.Limit {
	if p == PathCatalog {
		return fetch.Limit{MaxBytes: x.cfg.Fetch.CatalogBinaryMaxBytes, MaxHTMLBytes: x.cfg.Fetch.CatalogHTMLMaxBytes}
	}
	return fetch.Limit{MaxBytes: x.cfg.Fetch.KnowledgeMaxBytes}
}

// Extract returns the normalized text of src
func (x *Extractor) Extract(ctx context.Context, src model.Source, p Path) (*Result, error) {
	var (
		res *Result
		err error
	)

	switch src.Type {
	case types.SourceTypeText:
		res = &Result{Text: src.Text, MimeType: "text/plain", Method: MethodText}
	case types.SourceTypeURL:
		res, err = x.extractURL(ctx, src.URL, p)
	case types.SourceTypePDF:
		res, err = x.extractFile(ctx, src, p, mimePDF)
	case types.SourceTypeImage:
		res, err = x.extractFile(ctx, src, p, src.MimeType)
	default:
		return nil, goerr.Wrap(model.Errorf(model.CodeUnsupportedSource, "%s", src.Type), "unsupported source type")
	}
	if err != nil {
		return nil, err
	}

	res.Text = webextract.NormalizeText(res.Text)
	return res, nil
}

func (x *Extractor) extractURL(ctx context.Context, rawURL string, p Path) (*Result, error) {
	resp, err := x.fetcher.Get(ctx, rawURL, x.limit(p))
	if err != nil {
		return nil, err
	}

	mimeType := baseMimeType(resp.ContentType)
	if resp.IsSuccess() {
		switch {
		case mimeType == mimePDF || (mimeType == "application/octet-stream" && strings.EqualFold(path.Ext(resp.URL.Path), ".pdf")):
			return x.extractPDF(ctx, resp.Body)
		case strings.HasPrefix(mimeType, "image/"):
			return x.extractImage(ctx, resp.Body, mimeType)
		}
	}

	page, err := x.pages.ExtractPage(ctx, resp)
	if err != nil {
		return nil, err
	}
	res := &Result{Text: page.Text, MimeType: "text/html", Method: page.Tier, Links: page.Links, Items: len(page.Items)}

	if p == PathCatalog && len(page.Links) > 0 {
		if extra := x.followLinks(ctx, page.Links); extra != "" {
			res.Text = res.Text + "\n\n" + extra
		}
	}
	return res, nil
}

func (x *Extractor) extractFile(ctx context.Context, src model.Source, p Path, mimeType string) (*Result, error) {
	var data []byte
	switch {
	case src.StoragePath != "":
		if x.objects == nil {
			return nil, goerr.Wrap(model.NewIngestError(model.CodeUnsupportedSource, "object storage is not configured"), "cannot read uploaded file")
		}
		obj, err := x.objects.Read(ctx, src.Bucket, src.StoragePath, x.limit(p).MaxBytes)
		if err != nil {
			return nil, err
		}
		data = obj.Data
		if mimeType == "" {
			mimeType = baseMimeType(obj.ContentType)
		}
	case src.URL != "":
		resp, err := x.fetcher.Get(ctx, src.URL, x.limit(p))
		if err != nil {
			return nil, err
		}
		if !resp.IsSuccess() {
			if err := webextract.ClassifyBlocking(resp.StatusCode, resp.Body); err != nil {
				return nil, goerr.Wrap(err, "file download blocked", goerr.V("url", src.URL))
			}
			return nil, goerr.Wrap(model.Errorf(model.CodeURLFetchFailed, "HTTP %d", resp.StatusCode), "file download failed", goerr.V("url", src.URL))
		}
		data = resp.Body
		if mimeType == "" {
			mimeType = baseMimeType(resp.ContentType)
		}
	default:
		return nil, goerr.Wrap(model.NewIngestError(model.CodeUnsupportedSource, "missing file location"), "cannot locate file", goerr.V("type", src.Type))
	}

	if src.Type == types.SourceTypePDF {
		return x.extractPDF(ctx, data)
	}
	if mimeType == "" || !strings.HasPrefix(mimeType, "image/") {
		mimeType = http.DetectContentType(data)
	}
	return x.extractImage(ctx, data, mimeType)
}

// extractPDF parses the text layer first and only calls vision when the result
// looks bad. A page count over the limit fails without any AI call.
func (x *Extractor) extractPDF(ctx context.Context, data []byte) (*Result, error) {
	logger := logging.From(ctx)
	res := &Result{MimeType: mimePDF}

	if x.pdf != nil {
		parsed, err := x.pdf.Parse(ctx, data)
		switch {
		case err != nil:
			logger.Debug("local pdf parse failed, using vision", slog.Any("error", err))
		case x.cfg.PDF.TooManyPages(parsed.Pages):
			return nil, goerr.Wrap(model.Errorf(model.CodePDFTooManyPages, "%d pages", parsed.Pages), "pdf exceeds page limit",
				goerr.V("pages", parsed.Pages), goerr.V("max", x.cfg.PDF.MaxPages))
		case x.cfg.PDF.LooksBad(parsed.Text, parsed.Pages):
			res.PageCount = parsed.Pages
			logger.Debug("pdf text layer looks bad, using vision", slog.Int("pages", parsed.Pages), slog.Int("chars", len(parsed.Text)))
		default:
			res.Text = parsed.Text
			res.PageCount = parsed.Pages
			res.Method = MethodPDFText
			return res, nil
		}
	}

	if x.vision == nil {
		return nil, goerr.Wrap(model.NewIngestError(model.CodeExtractionFailed, "pdf has no usable text layer"), "vision is not configured")
	}
	text, err := x.vision.ExtractText(ctx, data, mimePDF)
	if err != nil {
		return nil, err
	}
	res.Text = text
	res.Method = MethodVision
	return res, nil
}

func (x *Extractor) extractImage(ctx context.Context, data []byte, mimeType string) (*Result, error) {
	if x.vision == nil {
		return nil, goerr.Wrap(model.NewIngestError(model.CodeUnsupportedSource, "image extraction is not configured"), "vision is not configured")
	}
	text, err := x.vision.ExtractText(ctx, data, mimeType)
	if err != nil {
		return nil, err
	}
	return &Result{Text: text, MimeType: mimeType, Method: MethodVision}, nil
}

func baseMimeType(contentType string) string {
	if contentType == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))
	}
	return mt
}
