package usecase

import (
	"context"

	"github.com/secmon-lab/ingestd/pkg/domain/interfaces"
	"github.com/secmon-lab/ingestd/pkg/domain/model"
	"github.com/secmon-lab/ingestd/pkg/domain/model/config"
	"github.com/secmon-lab/ingestd/pkg/service/catalog"
	"github.com/secmon-lab/ingestd/pkg/service/document"
)

// TextExtractor turns a source into normalized text
type TextExtractor interface {
	Extract(ctx context.Context, src model.Source, p document.Path) (*document.Result, error)
}

// Embedder returns one vector per text, in input order
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

type UseCases struct {
	repo      interfaces.Repository
	cfg       config.IngestConfig
	extractor TextExtractor
	embedder  Embedder
	structure catalog.Service

	Knowledge *KnowledgeUseCase
	Catalog   *CatalogUseCase
}

type Option func(*UseCases)

func WithIngestConfig(cfg config.IngestConfig) Option {
	return func(uc *UseCases) {
		uc.cfg = cfg
	}
}

func WithExtractor(x TextExtractor) Option {
	return func(uc *UseCases) {
		uc.extractor = x
	}
}

func WithEmbedder(e Embedder) Option {
	return func(uc *UseCases) {
		uc.embedder = e
	}
}

// WithCatalogService sets the LLM structuring service used by catalog jobs
// and the knowledge catalog sub-flow
func WithCatalogService(svc catalog.Service) Option {
	return func(uc *UseCases) {
		uc.structure = svc
	}
}

func New(repo interfaces.Repository, opts ...Option) *UseCases {
	uc := &UseCases{
		repo: repo,
		cfg:  config.DefaultIngestConfig(),
	}

	for _, opt := range opts {
		opt(uc)
	}

	uc.Catalog = NewCatalogUseCase(repo, uc.extractor, uc.structure, uc.cfg)
	uc.Knowledge = NewKnowledgeUseCase(repo, uc.extractor, uc.embedder, uc.Catalog, uc.cfg)

	return uc
}
