package firestore

import (
	"context"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/firestore/apiv1/firestorepb"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/ingestd/pkg/domain/interfaces"
)

// ErrNotFound is returned when a document does not exist
var ErrNotFound = interfaces.ErrNotFound

// Collection names
const (
	collBusinesses    = "businesses"
	collKnowledgeDocs = "knowledgeDocs"
	collChunks        = "chunks"
	collMarkets       = "markets"
	collJobs          = "catalogIngestJobs"
	collListings      = "listings"
	collProposals     = "ingestProposals"
)

type Firestore struct {
	client         *firestore.Client
	knowledgeDoc   *knowledgeDocRepository
	knowledgeChunk *knowledgeChunkRepository
	catalogJob     *catalogJobRepository
	proposal       *proposalRepository
	catalogItem    *catalogItemRepository
}

var _ interfaces.Repository = &Firestore{}

type Option func(*Firestore)

// WithCollectionPrefix prefixes top level collection names, e.g. for test isolation
func WithCollectionPrefix(prefix string) Option {
	return func(f *Firestore) {
		f.knowledgeDoc.prefix = prefix
		f.knowledgeChunk.prefix = prefix
		f.catalogJob.prefix = prefix
		f.proposal.prefix = prefix
		f.catalogItem.prefix = prefix
	}
}

func New(ctx context.Context, projectID, databaseID string, opts ...Option) (*Firestore, error) {
	if databaseID == "" {
		databaseID = firestore.DefaultDatabaseID
	}
	client, err := firestore.NewClientWithDatabase(ctx, projectID, databaseID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create firestore client",
			goerr.V("projectID", projectID), goerr.V("databaseID", databaseID))
	}

	f := &Firestore{
		client:         client,
		knowledgeDoc:   &knowledgeDocRepository{client: client},
		knowledgeChunk: &knowledgeChunkRepository{client: client},
		catalogJob:     &catalogJobRepository{client: client},
		proposal:       &proposalRepository{client: client},
		catalogItem:    &catalogItemRepository{client: client},
	}

	for _, opt := range opts {
		opt(f)
	}

	return f, nil
}

func (f *Firestore) KnowledgeDoc() interfaces.KnowledgeDocRepository {
	return f.knowledgeDoc
}

func (f *Firestore) KnowledgeChunk() interfaces.KnowledgeChunkRepository {
	return f.knowledgeChunk
}

func (f *Firestore) CatalogJob() interfaces.CatalogJobRepository {
	return f.catalogJob
}

func (f *Firestore) Proposal() interfaces.ProposalRepository {
	return f.proposal
}

func (f *Firestore) CatalogItem() interfaces.CatalogItemRepository {
	return f.catalogItem
}

func (f *Firestore) Close() error {
	if f.client != nil {
		return f.client.Close()
	}
	return nil
}

// countOf runs a count aggregation and reads the integer result
func countOf(ctx context.Context, q firestore.Query) (int, error) {
	res, err := q.NewAggregationQuery().WithCount("count").Get(ctx)
	if err != nil {
		return 0, goerr.Wrap(err, "failed to run count aggregation")
	}
	v, ok := res["count"].(*firestorepb.Value)
	if !ok {
		return 0, goerr.New("unexpected count aggregation result", goerr.V("result", res))
	}
	return int(v.GetIntegerValue()), nil
}
