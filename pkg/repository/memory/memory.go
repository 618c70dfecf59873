package memory

import (
	"github.com/secmon-lab/ingestd/pkg/domain/interfaces"
)

// ErrNotFound is returned when an entity does not exist
var ErrNotFound = interfaces.ErrNotFound

// Repository is an alias for Memory to match the pattern
type Repository = Memory

// Memory keeps every entity behind one lock so that multi-entity operations
// commit or roll back as a unit, like a store transaction
type Memory struct {
	s *store

	knowledgeDoc   *knowledgeDocRepository
	knowledgeChunk *knowledgeChunkRepository
	catalogJob     *catalogJobRepository
	proposal       *proposalRepository
	catalogItem    *catalogItemRepository
}

var _ interfaces.Repository = &Memory{}

// Option configures the memory repository
type Option func(*Memory)

// WithFaultInjector installs a hook called at named points inside multi-entity
// operations. A non-nil return aborts the operation and discards its writes.
func WithFaultInjector(fn func(point string) error) Option {
	return func(m *Memory) {
		m.s.fault = fn
	}
}

func New(opts ...Option) *Memory {
	s := newStore()
	m := &Memory{
		s:              s,
		knowledgeDoc:   &knowledgeDocRepository{s: s},
		knowledgeChunk: &knowledgeChunkRepository{s: s},
		catalogJob:     &catalogJobRepository{s: s},
		proposal:       &proposalRepository{s: s},
		catalogItem:    &catalogItemRepository{s: s},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Memory) KnowledgeDoc() interfaces.KnowledgeDocRepository {
	return m.knowledgeDoc
}

func (m *Memory) KnowledgeChunk() interfaces.KnowledgeChunkRepository {
	return m.knowledgeChunk
}

func (m *Memory) CatalogJob() interfaces.CatalogJobRepository {
	return m.catalogJob
}

func (m *Memory) Proposal() interfaces.ProposalRepository {
	return m.proposal
}

func (m *Memory) CatalogItem() interfaces.CatalogItemRepository {
	return m.catalogItem
}

func (m *Memory) Close() error {
	return nil
}
