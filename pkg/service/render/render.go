package render

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/ingestd/pkg/domain/model"
	"github.com/secmon-lab/ingestd/pkg/domain/model/config"
	"github.com/secmon-lab/ingestd/pkg/utils/safe"
)

const defaultMaxBytes = 5 * 1024 * 1024

// Client renders pages in a managed remote browser
type Client interface {
	Render(ctx context.Context, pageURL string) ([]byte, error)
}

type client struct {
	endpoint   *url.URL
	token      string
	httpClient *http.Client
	timeout    time.Duration
	extraWait  time.Duration
	maxBytes   int64
}

type Option func(*client)

// WithHTTPClient replaces the HTTP client used to reach the render service
func WithHTTPClient(hc *http.Client) Option {
	return func(c *client) {
		c.httpClient = hc
	}
}

// WithMaxBytes bounds the rendered HTML size
func WithMaxBytes(n int64) Option {
	return func(c *client) {
		c.maxBytes = n
	}
}

type gotoOptions struct {
	WaitUntil string `json:"waitUntil"`
	Timeout   int64  `json:"timeout"`
}

type contentRequest struct {
	URL            string      `json:"url"`
	GotoOptions    gotoOptions `json:"gotoOptions"`
	WaitForTimeout int64       `json:"waitForTimeout,omitempty"`
	BestAttempt    bool        `json:"bestAttempt"`
}

// New creates a client for a Browserless compatible /content endpoint
func New(endpoint, token string, cfg config.WebConfig, opts ...Option) (Client, error) {
	if endpoint == "" {
		return nil, goerr.New("render endpoint is required")
	}
	u, err := url.Parse(strings.TrimSuffix(endpoint, "/"))
	if err != nil {
		return nil, goerr.Wrap(err, "invalid render endpoint", goerr.V("endpoint", endpoint))
	}

	c := &client{
		endpoint:   u,
		token:      token,
		httpClient: &http.Client{},
		timeout:    cfg.HeadlessTimeout,
		extraWait:  cfg.HeadlessExtraWait,
		maxBytes:   defaultMaxBytes,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *client) Render(ctx context.Context, pageURL string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	navTimeout := c.timeout - c.extraWait
	if navTimeout <= 0 {
		navTimeout = c.timeout
	}
	payload, err := json.Marshal(contentRequest{
		URL:            pageURL,
		GotoOptions:    gotoOptions{WaitUntil: "networkidle2", Timeout: navTimeout.Milliseconds()},
		WaitForTimeout: c.extraWait.Milliseconds(),
		BestAttempt:    true,
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to marshal render request")
	}

	target := *c.endpoint
	target.Path += "/content"
	q := target.Query()
	q.Set("stealth", "true")
	if c.token != "" {
		q.Set("token", c.token)
	}
	target.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.String(), bytes.NewReader(payload))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create render request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) {
			return nil, goerr.Wrap(model.NewIngestError(model.CodeHeadlessTimeout, ""), "render timed out", goerr.V("url", pageURL))
		}
		// the request URL carries the token, so only the page is recorded
		return nil, goerr.Wrap(model.NewIngestError(model.CodeHeadlessError, "request failed"), "render request failed", goerr.V("url", pageURL))
	}
	defer safe.Close(ctx, resp.Body)

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, goerr.Wrap(model.NewIngestError(model.CodeHeadlessBlocked, ""), "render service rate limited", goerr.V("url", pageURL))
	case resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode == http.StatusGatewayTimeout:
		return nil, goerr.Wrap(model.NewIngestError(model.CodeHeadlessTimeout, ""), "render service timed out", goerr.V("url", pageURL), goerr.V("status", resp.StatusCode))
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, goerr.Wrap(model.Errorf(model.CodeHeadlessError, "HTTP %d", resp.StatusCode), "render service failed", goerr.V("url", pageURL))
	}

	body, err := safe.ReadAtMost(resp.Body, c.maxBytes)
	if err != nil {
		if ctx.Err() != nil {
			return nil, goerr.Wrap(model.NewIngestError(model.CodeHeadlessTimeout, ""), "render read timed out", goerr.V("url", pageURL))
		}
		return nil, goerr.Wrap(model.NewIngestError(model.CodeHeadlessError, "response unreadable"), err.Error(), goerr.V("url", pageURL))
	}
	return body, nil
}
