package vision

import (
	"context"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/ingestd/pkg/domain/model"
	"google.golang.org/genai"
)

const (
	defaultModel   = "gemini-2.5-flash"
	defaultTimeout = 90 * time.Second

	systemPrompt = `You transcribe documents. Extract all text from the provided file.
Preserve prices exactly as written, including currency symbols and decimals.
Keep item names, descriptions and section headings in their original language and order.
Return plain text only: no markdown, no commentary, no translation.`
)

// Client extracts text from images and PDFs with a multimodal model
type Client interface {
	ExtractText(ctx context.Context, data []byte, mimeType string) (string, error)
}

type client struct {
	genai   *genai.Client
	model   string
	timeout time.Duration
}

type Option func(*client)

// WithModel sets the multimodal model name
func WithModel(model string) Option {
	return func(c *client) {
		c.model = model
	}
}

// WithTimeout bounds a single extraction call
func WithTimeout(d time.Duration) Option {
	return func(c *client) {
		c.timeout = d
	}
}

// New creates a Vertex AI backed client
func New(ctx context.Context, projectID, location string, opts ...Option) (Client, error) {
	if projectID == "" {
		return nil, goerr.New("project ID is required for vision client")
	}
	if location == "" {
		return nil, goerr.New("location is required for vision client")
	}

	gc, err := genai.NewClient(ctx, &genai.ClientConfig{
		Project:  projectID,
		Location: location,
		Backend:  genai.BackendVertexAI,
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create genai client", goerr.V("project_id", projectID), goerr.V("location", location))
	}

	c := &client{genai: gc, model: defaultModel, timeout: defaultTimeout}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *client) ExtractText(ctx context.Context, data []byte, mimeType string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromBytes(data, mimeType),
			genai.NewPartFromText("Extract all text from this file. Preserve prices verbatim."),
		}, genai.RoleUser),
	}
	cfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(systemPrompt, genai.RoleUser),
		Temperature:       genai.Ptr[float32](0),
		ResponseMIMEType:  "text/plain",
	}

	resp, err := c.genai.Models.GenerateContent(ctx, c.model, contents, cfg)
	if err != nil {
		return "", goerr.Wrap(model.NewIngestError(model.CodeExtractionFailed, "vision call failed"), err.Error(),
			goerr.V("model", c.model), goerr.V("mime_type", mimeType))
	}

	return CleanOutput(resp.Text()), nil
}

// CleanOutput strips a surrounding code fence that models sometimes add
func CleanOutput(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
