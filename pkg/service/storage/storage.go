package storage

import (
	"context"
	"errors"

	gcs "cloud.google.com/go/storage"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/ingestd/pkg/domain/model"
	"github.com/secmon-lab/ingestd/pkg/utils/safe"
	"google.golang.org/api/option"
)

// Object is a downloaded object body with its stored content type
type Object struct {
	Data        []byte
	ContentType string
}

// Service reads uploaded pdf and image sources from object storage
type Service interface {
	Read(ctx context.Context, bucket, path string, maxBytes int64) (*Object, error)
	Close() error
}

type client struct {
	gcs           *gcs.Client
	defaultBucket string
}

type Option func(*client)

// WithDefaultBucket is used for sources that carry a path without a bucket
func WithDefaultBucket(bucket string) Option {
	return func(c *client) {
		c.defaultBucket = bucket
	}
}

// New creates a Cloud Storage backed Service
func New(ctx context.Context, opts []Option, clientOpts ...option.ClientOption) (Service, error) {
	gc, err := gcs.NewClient(ctx, clientOpts...)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create storage client")
	}
	c := &client{gcs: gc}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *client) Read(ctx context.Context, bucket, path string, maxBytes int64) (*Object, error) {
	if bucket == "" {
		bucket = c.defaultBucket
	}
	if bucket == "" || path == "" {
		return nil, goerr.Wrap(model.NewIngestError(model.CodeUnsupportedSource, "missing storage location"), "cannot read object",
			goerr.V("bucket", bucket), goerr.V("path", path))
	}

	r, err := c.gcs.Bucket(bucket).Object(path).NewReader(ctx)
	if err != nil {
		if errors.Is(err, gcs.ErrObjectNotExist) {
			return nil, goerr.Wrap(model.NewIngestError(model.CodeExtractionFailed, "file not found"), "object does not exist",
				goerr.V("bucket", bucket), goerr.V("path", path))
		}
		return nil, goerr.Wrap(err, "failed to open object", goerr.V("bucket", bucket), goerr.V("path", path))
	}
	defer safe.Close(ctx, r)

	if r.Attrs.Size > maxBytes {
		return nil, goerr.Wrap(model.NewIngestError(model.CodeURLTooLarge, ""), "object exceeds limit",
			goerr.V("bucket", bucket), goerr.V("path", path), goerr.V("size", r.Attrs.Size))
	}

	data, err := safe.ReadAtMost(r, maxBytes)
	if err != nil {
		if errors.Is(err, safe.ErrTooLarge) {
			return nil, goerr.Wrap(model.NewIngestError(model.CodeURLTooLarge, ""), "object exceeds limit", goerr.V("path", path))
		}
		return nil, goerr.Wrap(err, "failed to read object", goerr.V("bucket", bucket), goerr.V("path", path))
	}

	return &Object{Data: data, ContentType: r.Attrs.ContentType}, nil
}

func (c *client) Close() error {
	if err := c.gcs.Close(); err != nil {
		return goerr.Wrap(err, "failed to close storage client")
	}
	return nil
}
