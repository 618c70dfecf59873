package usecase_test

import (
	"context"
	"net/url"
	"sync"
	"testing"

	"github.com/m-mizutani/gollem"
	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/ingestd/pkg/domain/interfaces"
	"github.com/secmon-lab/ingestd/pkg/domain/model"
	"github.com/secmon-lab/ingestd/pkg/domain/model/config"
	"github.com/secmon-lab/ingestd/pkg/service/catalog"
	"github.com/secmon-lab/ingestd/pkg/service/document"
	"github.com/secmon-lab/ingestd/pkg/service/embedding"
	"github.com/secmon-lab/ingestd/pkg/service/fetch"
	"github.com/secmon-lab/ingestd/pkg/service/webextract"
	"github.com/secmon-lab/ingestd/pkg/usecase"
)

// mockLLMSession is a mock gollem Session for testing
type mockLLMSession struct {
	generateContentFn func(ctx context.Context, input ...gollem.Input) (*gollem.Response, error)
}

func (s *mockLLMSession) GenerateContent(ctx context.Context, input ...gollem.Input) (*gollem.Response, error) {
	return s.generateContentFn(ctx, input...)
}

func (s *mockLLMSession) GenerateStream(ctx context.Context, input ...gollem.Input) (<-chan *gollem.Response, error) {
	return nil, nil
}

func (s *mockLLMSession) Generate(ctx context.Context, input []gollem.Input, opts ...gollem.GenerateOption) (*gollem.Response, error) {
	return s.generateContentFn(ctx, input...)
}

func (s *mockLLMSession) Stream(ctx context.Context, input []gollem.Input, opts ...gollem.GenerateOption) (<-chan *gollem.Response, error) {
	return nil, nil
}

func (s *mockLLMSession) History() (*gollem.History, error) {
	return nil, nil
}

func (s *mockLLMSession) AppendHistory(*gollem.History) error {
	return nil
}

func (s *mockLLMSession) CountToken(ctx context.Context, input ...gollem.Input) (int, error) {
	return 0, nil
}

// mockLLMClient answers structuring sessions with reply and embeds every
// text as a constant vector
type mockLLMClient struct {
	mu         sync.Mutex
	reply      string
	sessionErr error
	embedded   int
	prompts    []string
}

func (c *mockLLMClient) NewSession(ctx context.Context, options ...gollem.SessionOption) (gollem.Session, error) {
	if c.sessionErr != nil {
		return nil, c.sessionErr
	}
	return &mockLLMSession{
		generateContentFn: func(ctx context.Context, input ...gollem.Input) (*gollem.Response, error) {
			c.mu.Lock()
			for _, in := range input {
				if txt, ok := in.(gollem.Text); ok {
					c.prompts = append(c.prompts, string(txt))
				}
			}
			c.mu.Unlock()
			return &gollem.Response{Texts: []string{c.reply}}, nil
		},
	}, nil
}

func (c *mockLLMClient) GenerateEmbedding(ctx context.Context, dimension int, input []string) ([][]float64, error) {
	c.mu.Lock()
	c.embedded += len(input)
	c.mu.Unlock()

	vectors := make([][]float64, len(input))
	for i := range input {
		vectors[i] = make([]float64, dimension)
		vectors[i][0] = 1
	}
	return vectors, nil
}

func (c *mockLLMClient) lastPrompt() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.prompts) == 0 {
		return ""
	}
	return c.prompts[len(c.prompts)-1]
}

func (c *mockLLMClient) embedCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.embedded
}

type mockFetcher struct {
	responses map[string]*fetch.Response
}

func (m *mockFetcher) Get(_ context.Context, rawURL string, _ fetch.Limit) (*fetch.Response, error) {
	if resp, ok := m.responses[rawURL]; ok {
		return resp, nil
	}
	return nil, model.NewIngestError(model.CodeURLFetchFailed, "not found")
}

func htmlResponse(rawURL string, status int, body string) *fetch.Response {
	u, _ := url.Parse(rawURL)
	return &fetch.Response{URL: u, StatusCode: status, ContentType: "text/html; charset=utf-8", Body: []byte(body)}
}

type mockRenderer struct {
	mu    sync.Mutex
	calls int
}

func (m *mockRenderer) Render(context.Context, string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	return nil, model.NewIngestError(model.CodeHeadlessError, "not expected")
}

// mockExtractor returns canned results per source reference
type mockExtractor struct {
	mu      sync.Mutex
	results map[string]*document.Result
	errs    map[string]error
	calls   int
}

func (m *mockExtractor) Extract(_ context.Context, src model.Source, _ document.Path) (*document.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if err, ok := m.errs[src.Ref()]; ok {
		return nil, err
	}
	if res, ok := m.results[src.Ref()]; ok {
		return res, nil
	}
	return &document.Result{Text: src.Text, MimeType: "text/plain", Method: document.MethodText}, nil
}

type testEnv struct {
	repo     interfaces.Repository
	llm      *mockLLMClient
	renderer *mockRenderer
	uc       *usecase.UseCases
}

type envOption func(*envConfig)

type envConfig struct {
	cfg       config.IngestConfig
	fetcher   document.Fetcher
	extractor usecase.TextExtractor
	reply     string
}

func withConfig(cfg config.IngestConfig) envOption {
	return func(c *envConfig) { c.cfg = cfg }
}

func withFetcher(f document.Fetcher) envOption {
	return func(c *envConfig) { c.fetcher = f }
}

func withExtractor(x usecase.TextExtractor) envOption {
	return func(c *envConfig) { c.extractor = x }
}

func withReply(reply string) envOption {
	return func(c *envConfig) { c.reply = reply }
}

func newTestEnv(t *testing.T, repo interfaces.Repository, opts ...envOption) *testEnv {
	t.Helper()

	ec := &envConfig{
		cfg:     config.DefaultIngestConfig(),
		fetcher: &mockFetcher{},
		reply:   `{"items":[]}`,
	}
	for _, opt := range opts {
		opt(ec)
	}
	// tests should not wait on the production rate limit
	ec.cfg.Embedding.RatePerSecond = 1000
	ec.cfg.Embedding.Burst = 100

	llm := &mockLLMClient{reply: ec.reply}
	renderer := &mockRenderer{}

	extractor := ec.extractor
	if extractor == nil {
		pages := webextract.New(ec.cfg.Web, webextract.WithHeadless(webextract.NewHeadless(renderer, ec.cfg.Web)))
		extractor = document.New(ec.fetcher, pages, ec.cfg)
	}

	embedder, err := embedding.New(llm, ec.cfg.Embedding)
	gt.NoError(t, err).Required()
	structure, err := catalog.New(llm, ec.cfg.Catalog)
	gt.NoError(t, err).Required()

	uc := usecase.New(repo,
		usecase.WithIngestConfig(ec.cfg),
		usecase.WithExtractor(extractor),
		usecase.WithEmbedder(embedder),
		usecase.WithCatalogService(structure),
	)

	return &testEnv{repo: repo, llm: llm, renderer: renderer, uc: uc}
}
