package config

import (
	"context"
	"log/slog"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/ingestd/pkg/service/storage"
	"github.com/urfave/cli/v3"
)

// Storage holds flags for reading uploaded files from Cloud Storage
type Storage struct {
	enabled       bool
	defaultBucket string
}

func (s *Storage) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.BoolFlag{
			Name:        "storage-enabled",
			Category:    "Storage",
			Usage:       "Read pdf and image sources from Cloud Storage",
			Sources:     cli.EnvVars("INGESTD_STORAGE_ENABLED"),
			Destination: &s.enabled,
		},
		&cli.StringFlag{
			Name:        "storage-bucket",
			Category:    "Storage",
			Usage:       "Bucket used for sources that carry a path without a bucket",
			Sources:     cli.EnvVars("INGESTD_STORAGE_BUCKET"),
			Destination: &s.defaultBucket,
		},
	}
}

func (s Storage) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Bool("enabled", s.enabled),
		slog.String("default_bucket", s.defaultBucket),
	)
}

// Configure returns nil when storage is disabled. File sources then fail as unsupported.
func (s *Storage) Configure(ctx context.Context) (storage.Service, error) {
	if !s.enabled && s.defaultBucket == "" {
		return nil, nil
	}

	var opts []storage.Option
	if s.defaultBucket != "" {
		opts = append(opts, storage.WithDefaultBucket(s.defaultBucket))
	}
	svc, err := storage.New(ctx, opts)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to initialize storage service")
	}
	return svc, nil
}
