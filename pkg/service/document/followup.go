package document

import (
	"context"
	"log/slog"
	"strings"

	"github.com/secmon-lab/ingestd/pkg/domain/model"
	"github.com/secmon-lab/ingestd/pkg/service/webextract"
	"github.com/secmon-lab/ingestd/pkg/utils/logging"
	"golang.org/x/sync/errgroup"
)

const followUpConcurrency = 2

// followLinks extracts scored same-origin links and joins their text in link
// order. Every link passes through the guarded fetcher; failures are skipped.
func (x *Extractor) followLinks(ctx context.Context, links []webextract.Link) string {
	texts := make([]string, len(links))

	var eg errgroup.Group
	eg.SetLimit(followUpConcurrency)
	for i, link := range links {
		eg.Go(func() error {
			text, err := x.followLink(ctx, link)
			if err != nil {
				logging.From(ctx).Info("skipping follow-up link",
					slog.String("link", link.URL),
					slog.String("code", string(model.CodeOf(err))),
					slog.Any("error", err))
				return nil
			}
			texts[i] = text
			return nil
		})
	}
	_ = eg.Wait()

	var parts []string
	for _, t := range texts {
		if t = strings.TrimSpace(t); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, "\n\n")
}

func (x *Extractor) followLink(ctx context.Context, link webextract.Link) (string, error) {
	resp, err := x.fetcher.Get(ctx, link.URL, x.limit(PathCatalog))
	if err != nil {
		return "", err
	}
	if !resp.IsSuccess() {
		return "", model.Errorf(model.CodeURLFetchFailed, "HTTP %d", resp.StatusCode)
	}

	mimeType := baseMimeType(resp.ContentType)
	switch {
	case link.Kind == webextract.LinkPDF || mimeType == mimePDF:
		res, err := x.extractPDF(ctx, resp.Body)
		if err != nil {
			return "", err
		}
		return res.Text, nil

	case link.Kind == webextract.LinkImage || strings.HasPrefix(mimeType, "image/"):
		if !strings.HasPrefix(mimeType, "image/") {
			mimeType = "image/jpeg"
		}
		res, err := x.extractImage(ctx, resp.Body, mimeType)
		if err != nil {
			return "", err
		}
		return res.Text, nil
	}

	if err := webextract.ClassifyBlocking(resp.StatusCode, resp.Body); err != nil {
		return "", err
	}
	static, err := webextract.ExtractStatic(resp.Body, resp.URL, x.cfg.Web)
	if err != nil {
		return "", err
	}
	return static.Text, nil
}
