package usecase

import (
	"context"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/ingestd/pkg/domain/model"
)

const (
	DefaultSearchLimit = 5
	MaxSearchLimit     = 20
)

// Search embeds query and returns the nearest active chunks of the business
func (uc *KnowledgeUseCase) Search(ctx context.Context, businessID, query string, limit int) ([]*model.KnowledgeChunk, error) {
	query = strings.TrimSpace(query)
	if businessID == "" || query == "" {
		return nil, goerr.Wrap(ErrInvalidRequest, "business and query are required", goerr.V(TenantKey, businessID))
	}
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	limit = min(limit, MaxSearchLimit)

	if uc.embedder == nil {
		return nil, goerr.Wrap(ErrNotConfigured, "knowledge search requires an embedder")
	}

	vectors, err := uc.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to embed query", goerr.V(TenantKey, businessID))
	}
	if len(vectors) != 1 {
		return nil, goerr.New("unexpected embedding count", goerr.V("count", len(vectors)))
	}

	chunks, err := uc.repo.KnowledgeChunk().FindNearest(ctx, businessID, vectors[0], limit)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to search chunks", goerr.V(TenantKey, businessID))
	}
	return chunks, nil
}
