package config

import (
	"context"
	"log/slog"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gollem"
	"github.com/m-mizutani/gollem/llm/gemini"
	"github.com/secmon-lab/ingestd/pkg/service/vision"
	"github.com/urfave/cli/v3"
)

// Gemini holds configuration for the Gemini LLM client and the vision extractor
type Gemini struct {
	projectID   string
	location    string
	visionModel string
}

// Flags returns CLI flags for Gemini configuration
func (g *Gemini) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "gemini-project",
			Category:    "Gemini",
			Usage:       "Google Cloud project ID for Gemini API",
			Sources:     cli.EnvVars("INGESTD_GEMINI_PROJECT"),
			Destination: &g.projectID,
		},
		&cli.StringFlag{
			Name:        "gemini-location",
			Category:    "Gemini",
			Usage:       "Google Cloud location for Gemini API",
			Value:       "us-central1",
			Sources:     cli.EnvVars("INGESTD_GEMINI_LOCATION"),
			Destination: &g.location,
		},
		&cli.StringFlag{
			Name:        "vision-model",
			Category:    "Gemini",
			Usage:       "Multimodal model used to read images and scanned PDFs (empty for the built-in default)",
			Sources:     cli.EnvVars("INGESTD_VISION_MODEL"),
			Destination: &g.visionModel,
		},
	}
}

func (g Gemini) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("project_id", g.projectID),
		slog.String("location", g.location),
		slog.String("vision_model", g.visionModel),
	)
}

// Enabled reports whether a project is configured
func (g *Gemini) Enabled() bool {
	return g.projectID != ""
}

// Configure creates a new Gemini LLM client from the configured flags.
// Returns nil if projectID is not configured (embedding and structuring are disabled).
func (g *Gemini) Configure(ctx context.Context) (gollem.LLMClient, error) {
	if g.projectID == "" {
		return nil, nil
	}

	client, err := gemini.New(ctx, g.projectID, g.location)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create Gemini client")
	}

	return client, nil
}

// ConfigureVision creates the vision client, or nil when no project is configured
func (g *Gemini) ConfigureVision(ctx context.Context) (vision.Client, error) {
	if g.projectID == "" {
		return nil, nil
	}

	var opts []vision.Option
	if g.visionModel != "" {
		opts = append(opts, vision.WithModel(g.visionModel))
	}
	client, err := vision.New(ctx, g.projectID, g.location, opts...)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create vision client")
	}
	return client, nil
}
