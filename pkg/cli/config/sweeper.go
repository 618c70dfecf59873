package config

import (
	"log/slog"
	"time"

	"github.com/secmon-lab/ingestd/pkg/domain/interfaces"
	"github.com/secmon-lab/ingestd/pkg/service/worker"
	"github.com/urfave/cli/v3"
)

// Sweeper holds flags for the stale processing sweeper
type Sweeper struct {
	interval time.Duration
	maxAge   time.Duration
}

func (s *Sweeper) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.DurationFlag{
			Name:        "sweep-interval",
			Category:    "Sweeper",
			Usage:       "Interval between stale processing sweeps (0 disables the sweeper)",
			Value:       5 * time.Minute,
			Sources:     cli.EnvVars("INGESTD_SWEEP_INTERVAL"),
			Destination: &s.interval,
		},
		&cli.DurationFlag{
			Name:        "sweep-max-age",
			Category:    "Sweeper",
			Usage:       "Age after which processing work is marked failed",
			Value:       30 * time.Minute,
			Sources:     cli.EnvVars("INGESTD_SWEEP_MAX_AGE"),
			Destination: &s.maxAge,
		},
	}
}

func (s Sweeper) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Duration("interval", s.interval),
		slog.Duration("max_age", s.maxAge),
	)
}

// Configure returns nil when the sweeper is disabled
func (s *Sweeper) Configure(repo interfaces.Repository) *worker.StaleSweeper {
	if s.interval <= 0 {
		return nil
	}
	return worker.NewStaleSweeper(repo, s.interval, s.maxAge)
}
