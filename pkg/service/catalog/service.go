package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gollem"
	"github.com/secmon-lab/ingestd/pkg/domain/model"
	"github.com/secmon-lab/ingestd/pkg/domain/model/config"
	"github.com/secmon-lab/ingestd/pkg/utils/logging"
)

// defaultMaxInputChars bounds the source text passed to the LLM
const defaultMaxInputChars = 60000

// client implements Service interface
type client struct {
	llmClient     gollem.LLMClient
	cfg           config.CatalogConfig
	maxInputChars int
}

// Option is a functional option for client configuration
type Option func(*client)

// WithMaxInputChars overrides how much source text is sent to the LLM
func WithMaxInputChars(n int) Option {
	return func(c *client) {
		c.maxInputChars = n
	}
}

// New creates a new catalog structuring service with the provided LLM client
func New(llmClient gollem.LLMClient, cfg config.CatalogConfig, opts ...Option) (Service, error) {
	if llmClient == nil {
		return nil, goerr.New("LLM client is required")
	}

	c := &client{
		llmClient:     llmClient,
		cfg:           cfg,
		maxInputChars: defaultMaxInputChars,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

func (c *client) Structure(ctx context.Context, input Input) (*Result, error) {
	if !input.Kind.IsValid() {
		return nil, goerr.New("invalid catalog kind", goerr.V("kind", input.Kind))
	}

	callCtx := ctx
	if c.cfg.LLMTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, c.cfg.LLMTimeout)
		defer cancel()
	}

	session, err := c.llmClient.NewSession(callCtx,
		gollem.WithSessionContentType(gollem.ContentTypeJSON),
		gollem.WithSessionResponseSchema(buildResponseSchema()),
		gollem.WithSessionSystemPrompt(buildSystemPrompt(input.Kind)),
	)
	if err != nil {
		return nil, goerr.Wrap(model.NewIngestError(model.CodeStructuringFailed, "session"),
			"failed to create LLM session", goerr.V("cause", err.Error()))
	}

	text := truncateRunes(input.Text, c.maxInputChars)
	resp, err := session.GenerateContent(callCtx, gollem.Text(buildUserPrompt(input.Kind, text)))
	if err != nil {
		reason := "generate"
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			reason = "LLM call timed out"
		}
		return nil, goerr.Wrap(model.NewIngestError(model.CodeStructuringFailed, reason),
			"failed to generate content from LLM", goerr.V("cause", err.Error()), goerr.V("timeout", c.cfg.LLMTimeout))
	}

	var reply string
	if resp != nil {
		reply = strings.Join(resp.Texts, "")
	}

	raws, err := parseItems(reply)
	if err != nil {
		logging.From(ctx).Warn("discarding unparsable LLM reply", "error", err, "kind", input.Kind)
		raws = nil
	}

	items, missingPrice := normalizeItems(input.Kind, raws)

	var notFound int
	if c.cfg.RequireNameInSource {
		items, notFound = filterContained(items, input.Text)
	}
	for i := range items {
		items[i].SortOrder = i
	}

	return &Result{
		Items:    items,
		Warnings: buildWarnings(len(items), missingPrice, notFound),
	}, nil
}

func buildWarnings(items, missingPrice, notFound int) []string {
	var warnings []string
	if items == 0 {
		warnings = append(warnings, "no items extracted")
	}
	if missingPrice > 0 {
		warnings = append(warnings, fmt.Sprintf("%d item(s) missing price", missingPrice))
	}
	if notFound > 0 {
		warnings = append(warnings, fmt.Sprintf("%d item(s) not found in source", notFound))
	}
	return warnings
}

func truncateRunes(s string, n int) string {
	if n <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
