package model

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/url"
	"sort"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/ingestd/pkg/domain/types"
)

// ErrInvalidSource is returned when a source descriptor cannot be normalized
var ErrInvalidSource = goerr.New("invalid source")

// Source describes where ingestion content comes from. Exactly one of URL,
// StoragePath or Text is meaningful depending on Type. Sources are immutable once
// attached to a job or document.
type Source struct {
	Type        types.SourceType `json:"type"`
	URL         string           `json:"url,omitempty"`
	Bucket      string           `json:"bucket,omitempty"`
	StoragePath string           `json:"storagePath,omitempty"`
	Text        string           `json:"text,omitempty"`
	MimeType    string           `json:"mimeType,omitempty"`
}

func NewURLSource(u string) Source {
	return Source{Type: types.SourceTypeURL, URL: u}
}

func NewTextSource(text string) Source {
	return Source{Type: types.SourceTypeText, Text: text}
}

func NewPDFSource(storagePath string) Source {
	return Source{Type: types.SourceTypePDF, StoragePath: storagePath, MimeType: "application/pdf"}
}

func NewImageSource(storagePath, mimeType string) Source {
	return Source{Type: types.SourceTypeImage, StoragePath: storagePath, MimeType: mimeType}
}

// Ref returns the identifying reference of the source (URL, object path or a text digest)
func (s Source) Ref() string {
	switch s.Type {
	case types.SourceTypeURL:
		return s.URL
	case types.SourceTypePDF, types.SourceTypeImage:
		if s.Bucket != "" {
			return s.Bucket + "/" + s.StoragePath
		}
		return s.StoragePath
	case types.SourceTypeText:
		return "text:" + HashText(s.Text)
	default:
		return ""
	}
}

// NormalizeSource trims the descriptor and resolves storage paths. A pdf or image
// source that only carries a URL is resolved against the known storage download URL
// shapes; if no object path can be derived it is demoted to a plain url source.
func NormalizeSource(raw Source) (Source, error) {
	src := Source{
		Type:        types.SourceType(strings.ToLower(strings.TrimSpace(string(raw.Type)))),
		URL:         strings.TrimSpace(raw.URL),
		Bucket:      strings.TrimSpace(raw.Bucket),
		StoragePath: strings.TrimLeft(strings.TrimSpace(raw.StoragePath), "/"),
		MimeType:    strings.TrimSpace(raw.MimeType),
	}

	switch src.Type {
	case types.SourceTypeText:
		src.Text = strings.TrimSpace(raw.Text)
		if src.Text == "" {
			return Source{}, goerr.Wrap(ErrInvalidSource, "text source requires text")
		}
		src.URL, src.Bucket, src.StoragePath = "", "", ""

	case types.SourceTypeURL:
		if src.URL == "" {
			return Source{}, goerr.Wrap(ErrInvalidSource, "url source requires url")
		}
		src.Bucket, src.StoragePath = "", ""

	case types.SourceTypePDF, types.SourceTypeImage:
		if src.StoragePath != "" {
			src.URL = ""
			break
		}
		if src.URL == "" {
			return Source{}, goerr.Wrap(ErrInvalidSource, "binary source requires storagePath or url", goerr.V("type", src.Type))
		}
		if bucket, path, ok := ResolveStoragePath(src.URL); ok {
			src.Bucket, src.StoragePath, src.URL = bucket, path, ""
			break
		}
		src.Type = types.SourceTypeURL
		src.MimeType = ""

	default:
		return Source{}, goerr.Wrap(ErrInvalidSource, "unknown source type", goerr.V("type", raw.Type))
	}

	return src, nil
}

// NormalizeSources normalizes every source, failing on the first invalid one
func NormalizeSources(raw []Source) ([]Source, error) {
	if len(raw) == 0 {
		return nil, goerr.Wrap(ErrInvalidSource, "at least one source is required")
	}
	out := make([]Source, 0, len(raw))
	for i, s := range raw {
		n, err := NormalizeSource(s)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to normalize source", goerr.V("index", i))
		}
		out = append(out, n)
	}
	return out, nil
}

// ResolveStoragePath extracts bucket and object path from public storage download URLs:
//
//	https://firebasestorage.googleapis.com/v0/b/{bucket}/o/{urlEncodedPath}?alt=media&token=...
//	https://storage.googleapis.com/{bucket}/{path}
func ResolveStoragePath(rawURL string) (bucket, path string, ok bool) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return "", "", false
	}

	segments := strings.Split(strings.TrimPrefix(u.EscapedPath(), "/"), "/")
	switch strings.ToLower(u.Hostname()) {
	case "firebasestorage.googleapis.com":
		// v0 / b / {bucket} / o / {encodedPath}
		if len(segments) < 5 || segments[0] != "v0" || segments[1] != "b" || segments[3] != "o" {
			return "", "", false
		}
		p, err := url.PathUnescape(strings.Join(segments[4:], "/"))
		if err != nil || p == "" {
			return "", "", false
		}
		return segments[2], p, true

	case "storage.googleapis.com":
		if len(segments) < 2 || segments[0] == "" {
			return "", "", false
		}
		p, err := url.PathUnescape(strings.Join(segments[1:], "/"))
		if err != nil || p == "" {
			return "", "", false
		}
		return segments[0], p, true
	}

	return "", "", false
}

type idempotencySource struct {
	Type string `json:"type"`
	Ref  string `json:"ref"`
}

type idempotencyInput struct {
	ListingID string              `json:"listingId"`
	Kind      string              `json:"kind"`
	Sources   []idempotencySource `json:"sources"`
}

// IdempotencyKey is a pure function of listing, kind and normalized sources. Sources
// are reduced to (type, ref) pairs and sorted, so field order and source order in the
// request do not change the key.
func IdempotencyKey(listingID string, kind types.CatalogKind, sources []Source) string {
	in := idempotencyInput{
		ListingID: listingID,
		Kind:      kind.String(),
		Sources:   make([]idempotencySource, 0, len(sources)),
	}
	for _, s := range sources {
		in.Sources = append(in.Sources, idempotencySource{Type: s.Type.String(), Ref: s.Ref()})
	}
	sort.Slice(in.Sources, func(i, j int) bool {
		if in.Sources[i].Type != in.Sources[j].Type {
			return in.Sources[i].Type < in.Sources[j].Type
		}
		return in.Sources[i].Ref < in.Sources[j].Ref
	})

	// cannot fail: only string fields
	data, _ := json.Marshal(in)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// HashText returns the hex SHA-256 digest of text
func HashText(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
