package config

import (
	"log/slog"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/ingestd/pkg/domain/model/config"
	"github.com/secmon-lab/ingestd/pkg/service/render"
	"github.com/urfave/cli/v3"
)

// Render holds flags for the headless rendering endpoint (Tier 3)
type Render struct {
	endpoint string
	token    string
}

func (r *Render) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "render-endpoint",
			Category:    "Render",
			Usage:       "Base URL of a Browserless compatible rendering service. Headless extraction is disabled when empty",
			Sources:     cli.EnvVars("INGESTD_RENDER_ENDPOINT"),
			Destination: &r.endpoint,
		},
		&cli.StringFlag{
			Name:        "render-token",
			Category:    "Render",
			Usage:       "Token for the rendering service",
			Sources:     cli.EnvVars("INGESTD_RENDER_TOKEN"),
			Destination: &r.token,
		},
	}
}

func (r Render) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("endpoint", r.endpoint),
		slog.Bool("token_set", r.token != ""),
	)
}

// Configure returns nil when no endpoint is set
func (r *Render) Configure(cfg config.WebConfig) (render.Client, error) {
	if r.endpoint == "" {
		return nil, nil
	}
	c, err := render.New(r.endpoint, r.token, cfg)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to initialize render client")
	}
	return c, nil
}
