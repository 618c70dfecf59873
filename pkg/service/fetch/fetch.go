package fetch

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/ingestd/pkg/domain/model"
	"github.com/secmon-lab/ingestd/pkg/domain/model/config"
	"github.com/secmon-lab/ingestd/pkg/service/urlguard"
	"github.com/secmon-lab/ingestd/pkg/utils/safe"
)

// Limit bounds the accepted body size. MaxHTMLBytes applies to text/html
// responses when set, MaxBytes to everything else.
type Limit struct {
	MaxBytes     int64
	MaxHTMLBytes int64
}

func (l Limit) forContentType(contentType string) int64 {
	if l.MaxHTMLBytes > 0 && strings.Contains(contentType, "html") {
		return l.MaxHTMLBytes
	}
	return l.MaxBytes
}

// Response is the final non-redirect response of a guarded fetch
type Response struct {
	URL         *url.URL
	StatusCode  int
	Header      http.Header
	ContentType string
	Body        []byte
}

// IsSuccess reports a 2xx status
func (r *Response) IsSuccess() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Outcome is the result of a single hop
type Outcome interface {
	outcome()
}

// Ok carries a terminal response
type Ok struct{ Response *Response }

// Blocked means the hop target violated the URL policy; nothing was fetched
type Blocked struct{ Err error }

// Redirect points to the next hop
type Redirect struct{ Next string }

// Failed is a transport, timeout or size failure
type Failed struct{ Err error }

func (Ok) outcome()       {}
func (Blocked) outcome()  {}
func (Redirect) outcome() {}
func (Failed) outcome()   {}

// Client performs guarded GET requests. Redirects are followed manually so that
// every hop passes the guard, and dials are pinned to addresses the guard accepted.
type Client struct {
	guard        *urlguard.Guard
	httpClient   *http.Client
	timeout      time.Duration
	maxRedirects int
	userAgent    string
}

type Option func(*Client)

// WithTransport replaces the HTTP transport
func WithTransport(rt http.RoundTripper) Option {
	return func(c *Client) {
		c.httpClient.Transport = rt
	}
}

// New creates a Client
func New(guard *urlguard.Guard, cfg config.FetchConfig, opts ...Option) *Client {
	c := &Client{
		guard:        guard,
		timeout:      cfg.Timeout,
		maxRedirects: cfg.MaxRedirects,
		userAgent:    cfg.UserAgent,
	}
	c.httpClient = &http.Client{
		Transport: newTransport(guard),
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func newTransport(guard *urlguard.Guard) *http.Transport {
	dialer := &net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
	}

	// Re-validate at dial time so a DNS answer that changed after the guard
	// check cannot reach a private address.
	dial := func(ctx context.Context, network, addr string) (net.Conn, error) {
		host, port, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, goerr.Wrap(err, "invalid dial address", goerr.V("addr", addr))
		}

		var ips []net.IPAddr
		if ip := net.ParseIP(host); ip != nil {
			if urlguard.IsPrivateIP(ip) {
				return nil, model.Errorf(model.CodeURLNotAllowed, "private address")
			}
			ips = []net.IPAddr{{IP: ip}}
		} else if ips, err = guard.Resolve(ctx, host); err != nil {
			return nil, err
		}

		var lastErr error
		for _, ip := range ips {
			conn, err := dialer.DialContext(ctx, network, net.JoinHostPort(ip.IP.String(), port))
			if err == nil {
				return conn, nil
			}
			lastErr = err
		}
		return nil, goerr.Wrap(lastErr, "failed to connect to any resolved address", goerr.V("host", host))
	}

	return &http.Transport{
		Proxy:                 nil,
		DialContext:           dial,
		TLSHandshakeTimeout:   10 * time.Second,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
}

// Get fetches rawURL, following at most the configured number of redirects.
// Non-2xx responses are returned as-is for the caller to classify.
func (c *Client) Get(ctx context.Context, rawURL string, limit Limit) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	target := rawURL
	hopsRemaining := c.maxRedirects
	for {
		switch o := c.step(ctx, target, limit).(type) {
		case Ok:
			return o.Response, nil
		case Blocked:
			return nil, o.Err
		case Failed:
			return nil, o.Err
		case Redirect:
			if hopsRemaining == 0 {
				return nil, goerr.Wrap(model.Errorf(model.CodeURLFetchFailed, "too many redirects"),
					"redirect limit exceeded", goerr.V("url", rawURL), goerr.V("max", c.maxRedirects))
			}
			hopsRemaining--
			target = o.Next
		}
	}
}

func (c *Client) step(ctx context.Context, target string, limit Limit) Outcome {
	u, err := c.guard.AssertAllowed(ctx, target)
	if err != nil {
		return Blocked{Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return Failed{Err: goerr.Wrap(model.NewIngestError(model.CodeURLFetchFailed, "invalid request"), err.Error())}
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,application/pdf,image/*,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.8,tr;q=0.6")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if model.HasCode(err, model.CodeURLNotAllowed) || model.HasCode(err, model.CodeDNSTimeout) {
			return Blocked{Err: err}
		}
		if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) {
			return Failed{Err: goerr.Wrap(model.NewIngestError(model.CodeURLFetchFailed, "timeout"), "fetch timed out", goerr.V("url", u.String()))}
		}
		return Failed{Err: goerr.Wrap(model.NewIngestError(model.CodeURLFetchFailed, ""), err.Error(), goerr.V("url", u.String()))}
	}
	defer safe.Close(ctx, resp.Body)

	if isRedirect(resp.StatusCode) {
		next, err := resp.Location()
		if err != nil {
			return Failed{Err: goerr.Wrap(model.NewIngestError(model.CodeURLFetchFailed, "redirect without location"), "bad redirect", goerr.V("url", u.String()))}
		}
		return Redirect{Next: next.String()}
	}

	contentType := strings.ToLower(resp.Header.Get("Content-Type"))
	maxBytes := limit.forContentType(contentType)
	if resp.ContentLength > maxBytes {
		return Failed{Err: goerr.Wrap(model.NewIngestError(model.CodeURLTooLarge, ""), "content length exceeds limit",
			goerr.V("url", u.String()), goerr.V("content_length", resp.ContentLength), goerr.V("limit", maxBytes))}
	}

	body, err := safe.ReadAtMost(resp.Body, maxBytes)
	if err != nil {
		if errors.Is(err, safe.ErrTooLarge) {
			return Failed{Err: goerr.Wrap(model.NewIngestError(model.CodeURLTooLarge, ""), "body exceeds limit", goerr.V("url", u.String()), goerr.V("limit", maxBytes))}
		}
		if ctx.Err() != nil {
			return Failed{Err: goerr.Wrap(model.NewIngestError(model.CodeURLFetchFailed, "timeout"), "body read timed out", goerr.V("url", u.String()))}
		}
		return Failed{Err: goerr.Wrap(model.NewIngestError(model.CodeURLFetchFailed, ""), err.Error(), goerr.V("url", u.String()))}
	}

	return Ok{Response: &Response{
		URL:         u,
		StatusCode:  resp.StatusCode,
		Header:      resp.Header,
		ContentType: contentType,
		Body:        body,
	}}
}

func isRedirect(status int) bool {
	switch status {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	}
	return false
}
