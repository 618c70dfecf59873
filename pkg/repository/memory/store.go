package memory

import (
	"sync"

	"github.com/secmon-lab/ingestd/pkg/domain/model"
	"github.com/secmon-lab/ingestd/pkg/domain/types"
)

type tenantKey[ID comparable] struct {
	tenant string
	id     ID
}

type listingKey struct {
	marketID  string
	listingID string
}

type itemsKey struct {
	marketID  string
	listingID string
	kind      types.CatalogKind
}

type store struct {
	mu sync.RWMutex

	docs      map[tenantKey[model.KnowledgeDocID]]*model.KnowledgeDoc
	chunks    map[tenantKey[model.KnowledgeDocID]]map[string]*model.KnowledgeChunk
	jobs      map[tenantKey[model.JobID]]*model.CatalogIngestJob
	proposals map[listingKey]map[model.ProposalID]*model.IngestProposal
	items     map[itemsKey]map[string]*model.CatalogItem

	fault func(point string) error
}

func newStore() *store {
	return &store{
		docs:      make(map[tenantKey[model.KnowledgeDocID]]*model.KnowledgeDoc),
		chunks:    make(map[tenantKey[model.KnowledgeDocID]]map[string]*model.KnowledgeChunk),
		jobs:      make(map[tenantKey[model.JobID]]*model.CatalogIngestJob),
		proposals: make(map[listingKey]map[model.ProposalID]*model.IngestProposal),
		items:     make(map[itemsKey]map[string]*model.CatalogItem),
	}
}

func (s *store) injectFault(point string) error {
	if s.fault == nil {
		return nil
	}
	return s.fault(point)
}

func copyFailure(f *model.Failure) *model.Failure {
	if f == nil {
		return nil
	}
	copied := *f
	return &copied
}

func copySources(src []model.Source) []model.Source {
	if src == nil {
		return nil
	}
	copied := make([]model.Source, len(src))
	copy(copied, src)
	return copied
}

func copyDoc(d *model.KnowledgeDoc) *model.KnowledgeDoc {
	copied := *d
	copied.Error = copyFailure(d.Error)
	copied.CatalogExtraction.Error = copyFailure(d.CatalogExtraction.Error)
	return &copied
}

func copyChunk(c *model.KnowledgeChunk) *model.KnowledgeChunk {
	copied := *c
	if c.Embedding != nil {
		copied.Embedding = make([]float32, len(c.Embedding))
		copy(copied.Embedding, c.Embedding)
	}
	return &copied
}

func copyJob(j *model.CatalogIngestJob) *model.CatalogIngestJob {
	copied := *j
	copied.Sources = copySources(j.Sources)
	copied.Error = copyFailure(j.Error)
	return &copied
}

func copyProposal(p *model.IngestProposal) *model.IngestProposal {
	copied := *p
	copied.Sources = copySources(p.Sources)
	if p.Items != nil {
		copied.Items = make([]model.CatalogItem, len(p.Items))
		copy(copied.Items, p.Items)
	}
	if p.Warnings != nil {
		copied.Warnings = make([]string, len(p.Warnings))
		copy(copied.Warnings, p.Warnings)
	}
	return &copied
}
