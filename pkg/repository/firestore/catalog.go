package firestore

import (
	"context"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/ingestd/pkg/domain/model"
	"github.com/secmon-lab/ingestd/pkg/domain/types"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type sourceDoc struct {
	Type        string `firestore:"Type"`
	URL         string `firestore:"URL,omitempty"`
	Bucket      string `firestore:"Bucket,omitempty"`
	StoragePath string `firestore:"StoragePath,omitempty"`
	Text        string `firestore:"Text,omitempty"`
	MimeType    string `firestore:"MimeType,omitempty"`
}

func toSourceDocs(sources []model.Source) []sourceDoc {
	docs := make([]sourceDoc, len(sources))
	for i, s := range sources {
		docs[i] = sourceDoc{
			Type:        string(s.Type),
			URL:         s.URL,
			Bucket:      s.Bucket,
			StoragePath: s.StoragePath,
			Text:        s.Text,
			MimeType:    s.MimeType,
		}
	}
	return docs
}

func fromSourceDocs(docs []sourceDoc) []model.Source {
	sources := make([]model.Source, len(docs))
	for i, d := range docs {
		sources[i] = model.Source{
			Type:        types.SourceType(d.Type),
			URL:         d.URL,
			Bucket:      d.Bucket,
			StoragePath: d.StoragePath,
			Text:        d.Text,
			MimeType:    d.MimeType,
		}
	}
	return sources
}

// catalogJobDoc is the Firestore document representation of model.CatalogIngestJob
type catalogJobDoc struct {
	ID             string      `firestore:"ID"`
	MarketID       string      `firestore:"MarketID"`
	ListingID      string      `firestore:"ListingID"`
	Kind           string      `firestore:"Kind"`
	Sources        []sourceDoc `firestore:"Sources"`
	IdempotencyKey string      `firestore:"IdempotencyKey"`
	Status         string      `firestore:"Status"`
	ProposalID     string      `firestore:"ProposalID"`
	Attempts       int         `firestore:"Attempts"`
	Error          *failureDoc `firestore:"Error"`
	CreatedAt      time.Time   `firestore:"CreatedAt"`
	UpdatedAt      time.Time   `firestore:"UpdatedAt"`
}

func toCatalogJobDoc(j *model.CatalogIngestJob) *catalogJobDoc {
	return &catalogJobDoc{
		ID:             string(j.ID),
		MarketID:       j.MarketID,
		ListingID:      j.ListingID,
		Kind:           string(j.Kind),
		Sources:        toSourceDocs(j.Sources),
		IdempotencyKey: j.IdempotencyKey,
		Status:         string(j.Status),
		ProposalID:     string(j.ProposalID),
		Attempts:       j.Attempts,
		Error:          toFailureDoc(j.Error),
		CreatedAt:      j.CreatedAt,
		UpdatedAt:      j.UpdatedAt,
	}
}

func snapshotToCatalogJob(snap *firestore.DocumentSnapshot) (*model.CatalogIngestJob, error) {
	var d catalogJobDoc
	if err := snap.DataTo(&d); err != nil {
		return nil, err
	}
	return &model.CatalogIngestJob{
		ID:             model.JobID(d.ID),
		MarketID:       d.MarketID,
		ListingID:      d.ListingID,
		Kind:           types.CatalogKind(d.Kind),
		Sources:        fromSourceDocs(d.Sources),
		IdempotencyKey: d.IdempotencyKey,
		Status:         types.JobStatus(d.Status),
		ProposalID:     model.ProposalID(d.ProposalID),
		Attempts:       d.Attempts,
		Error:          fromFailureDoc(d.Error),
		CreatedAt:      d.CreatedAt,
		UpdatedAt:      d.UpdatedAt,
	}, nil
}

type catalogJobRepository struct {
	client *firestore.Client
	prefix string
}

func (r *catalogJobRepository) jobsCollection(marketID string) *firestore.CollectionRef {
	return r.client.Collection(r.prefix + collMarkets).Doc(marketID).Collection(collJobs)
}

func (r *catalogJobRepository) Create(ctx context.Context, job *model.CatalogIngestJob) (*model.CatalogIngestJob, error) {
	now := time.Now().UTC()
	created := *job
	if created.ID == "" {
		created.ID = model.NewJobID()
	}
	if created.Status == "" {
		created.Status = types.JobStatusQueued
	}
	created.CreatedAt = now
	created.UpdatedAt = now

	ref := r.jobsCollection(created.MarketID).Doc(string(created.ID))
	if _, err := ref.Create(ctx, toCatalogJobDoc(&created)); err != nil {
		return nil, goerr.Wrap(err, "failed to create catalog job", goerr.V("job_id", created.ID))
	}
	return &created, nil
}

func (r *catalogJobRepository) Get(ctx context.Context, marketID string, id model.JobID) (*model.CatalogIngestJob, error) {
	snap, err := r.jobsCollection(marketID).Doc(string(id)).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, goerr.Wrap(ErrNotFound, "catalog job not found",
				goerr.V("market_id", marketID), goerr.V("job_id", id))
		}
		return nil, goerr.Wrap(err, "failed to get catalog job", goerr.V("job_id", id))
	}
	job, err := snapshotToCatalogJob(snap)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to unmarshal catalog job", goerr.V("job_id", id))
	}
	return job, nil
}

func (r *catalogJobRepository) FindActiveByIdempotencyKey(ctx context.Context, marketID, key string) (*model.CatalogIngestJob, error) {
	active := []string{
		string(types.JobStatusQueued),
		string(types.JobStatusProcessing),
		string(types.JobStatusNeedsReview),
	}
	iter := r.jobsCollection(marketID).
		Where("IdempotencyKey", "==", key).
		Where("Status", "in", active).
		OrderBy("CreatedAt", firestore.Asc).
		Limit(1).
		Documents(ctx)
	defer iter.Stop()

	snap, err := iter.Next()
	if err == iterator.Done {
		return nil, nil
	}
	if err != nil {
		return nil, goerr.Wrap(err, "failed to query catalog jobs by idempotency key", goerr.V("market_id", marketID))
	}
	job, err := snapshotToCatalogJob(snap)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to unmarshal catalog job", goerr.V("path", snap.Ref.Path))
	}
	return job, nil
}

// transition updates the job inside a transaction when its status is expected.
// An empty expected status matches any status.
func (r *catalogJobRepository) transition(ctx context.Context, marketID string, id model.JobID, expected types.JobStatus, updates []firestore.Update) (bool, error) {
	ref := r.jobsCollection(marketID).Doc(string(id))
	changed := false
	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		changed = false
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		if expected != "" {
			current, err := snap.DataAt("Status")
			if err != nil {
				return err
			}
			if current != string(expected) {
				return nil
			}
		}
		changed = true
		return tx.Update(ref, append(updates, firestore.Update{Path: "UpdatedAt", Value: time.Now().UTC()}))
	})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return false, goerr.Wrap(ErrNotFound, "catalog job not found",
				goerr.V("market_id", marketID), goerr.V("job_id", id))
		}
		return false, goerr.Wrap(err, "failed to update catalog job", goerr.V("job_id", id))
	}
	return changed, nil
}

func (r *catalogJobRepository) MarkProcessing(ctx context.Context, marketID string, id model.JobID) (bool, error) {
	return r.transition(ctx, marketID, id, types.JobStatusQueued, []firestore.Update{
		{Path: "Status", Value: string(types.JobStatusProcessing)},
		{Path: "Attempts", Value: firestore.Increment(1)},
	})
}

func (r *catalogJobRepository) MarkNeedsReview(ctx context.Context, marketID string, id model.JobID, proposalID model.ProposalID) error {
	_, err := r.transition(ctx, marketID, id, "", []firestore.Update{
		{Path: "Status", Value: string(types.JobStatusNeedsReview)},
		{Path: "ProposalID", Value: string(proposalID)},
		{Path: "Error", Value: nil},
	})
	return err
}

func (r *catalogJobRepository) Fail(ctx context.Context, marketID string, id model.JobID, failure *model.Failure) error {
	_, err := r.transition(ctx, marketID, id, "", []firestore.Update{
		{Path: "Status", Value: string(types.JobStatusFailed)},
		{Path: "Error", Value: toFailureDoc(failure)},
	})
	return err
}

func (r *catalogJobRepository) FailIfStatus(ctx context.Context, marketID string, id model.JobID, expected types.JobStatus, failure *model.Failure) (bool, error) {
	return r.transition(ctx, marketID, id, expected, []firestore.Update{
		{Path: "Status", Value: string(types.JobStatusFailed)},
		{Path: "Error", Value: toFailureDoc(failure)},
	})
}

func (r *catalogJobRepository) ListStale(ctx context.Context, st types.JobStatus, before time.Time, limit int) ([]*model.CatalogIngestJob, error) {
	q := r.client.CollectionGroup(collJobs).
		Where("Status", "==", string(st)).
		Where("UpdatedAt", "<", before).
		OrderBy("UpdatedAt", firestore.Asc)
	if limit > 0 {
		q = q.Limit(limit)
	}

	iter := q.Documents(ctx)
	defer iter.Stop()

	var jobs []*model.CatalogIngestJob
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to iterate stale catalog jobs")
		}
		job, err := snapshotToCatalogJob(snap)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to unmarshal catalog job", goerr.V("path", snap.Ref.Path))
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

type catalogItemDoc struct {
	ID          string  `firestore:"ID"`
	Name        string  `firestore:"Name"`
	Description string  `firestore:"Description"`
	Price       float64 `firestore:"Price"`
	Currency    string  `firestore:"Currency"`
	Category    string  `firestore:"Category"`
	Available   bool    `firestore:"Available"`
	ImageURL    string  `firestore:"ImageURL"`
	SortOrder   int     `firestore:"SortOrder"`
}

func toCatalogItemDoc(item model.CatalogItem) catalogItemDoc {
	return catalogItemDoc{
		ID:          item.ID,
		Name:        item.Name,
		Description: item.Description,
		Price:       item.Price,
		Currency:    string(item.Currency),
		Category:    item.Category,
		Available:   item.Available,
		ImageURL:    item.ImageURL,
		SortOrder:   item.SortOrder,
	}
}

func fromCatalogItemDoc(d catalogItemDoc) model.CatalogItem {
	return model.CatalogItem{
		ID:          d.ID,
		Name:        d.Name,
		Description: d.Description,
		Price:       d.Price,
		Currency:    types.Currency(d.Currency),
		Category:    d.Category,
		Available:   d.Available,
		ImageURL:    d.ImageURL,
		SortOrder:   d.SortOrder,
	}
}

// itemMergeData is the map form of an item for Set with MergeAll, which
// leaves fields written by other systems untouched
func itemMergeData(item model.CatalogItem) map[string]any {
	return map[string]any{
		"ID":          item.ID,
		"Name":        item.Name,
		"Description": item.Description,
		"Price":       item.Price,
		"Currency":    string(item.Currency),
		"Category":    item.Category,
		"Available":   item.Available,
		"ImageURL":    item.ImageURL,
		"SortOrder":   item.SortOrder,
		"UpdatedAt":   time.Now().UTC(),
	}
}

// ingestProposalDoc is stored at markets/{marketId}/listings/{listingId}/ingestProposals/{id}
type ingestProposalDoc struct {
	ID        string           `firestore:"ID"`
	MarketID  string           `firestore:"MarketID"`
	ListingID string           `firestore:"ListingID"`
	JobID     string           `firestore:"JobID"`
	Kind      string           `firestore:"Kind"`
	Sources   []sourceDoc      `firestore:"Sources"`
	Status    string           `firestore:"Status"`
	Items     []catalogItemDoc `firestore:"Items"`
	Warnings  []string         `firestore:"Warnings"`
	Diff      diffSummaryDoc   `firestore:"DiffSummary"`
	CreatedAt time.Time        `firestore:"CreatedAt"`
	UpdatedAt time.Time        `firestore:"UpdatedAt"`
	DecidedAt time.Time        `firestore:"DecidedAt"`
}

type diffSummaryDoc struct {
	Added   int `firestore:"Added"`
	Updated int `firestore:"Updated"`
	Removed int `firestore:"Removed"`
}

func toIngestProposalDoc(p *model.IngestProposal) *ingestProposalDoc {
	items := make([]catalogItemDoc, len(p.Items))
	for i, item := range p.Items {
		items[i] = toCatalogItemDoc(item)
	}
	return &ingestProposalDoc{
		ID:        string(p.ID),
		MarketID:  p.MarketID,
		ListingID: p.ListingID,
		JobID:     string(p.JobID),
		Kind:      string(p.Kind),
		Sources:   toSourceDocs(p.Sources),
		Status:    string(p.Status),
		Items:     items,
		Warnings:  p.Warnings,
		Diff:      diffSummaryDoc{Added: p.Diff.Added, Updated: p.Diff.Updated, Removed: p.Diff.Removed},
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
		DecidedAt: p.DecidedAt,
	}
}

func snapshotToProposal(snap *firestore.DocumentSnapshot) (*model.IngestProposal, error) {
	var d ingestProposalDoc
	if err := snap.DataTo(&d); err != nil {
		return nil, err
	}
	items := make([]model.CatalogItem, len(d.Items))
	for i, item := range d.Items {
		items[i] = fromCatalogItemDoc(item)
	}
	return &model.IngestProposal{
		ID:        model.ProposalID(d.ID),
		MarketID:  d.MarketID,
		ListingID: d.ListingID,
		JobID:     model.JobID(d.JobID),
		Kind:      types.CatalogKind(d.Kind),
		Sources:   fromSourceDocs(d.Sources),
		Status:    types.ProposalStatus(d.Status),
		Items:     items,
		Warnings:  d.Warnings,
		Diff:      model.DiffSummary{Added: d.Diff.Added, Updated: d.Diff.Updated, Removed: d.Diff.Removed},
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
		DecidedAt: d.DecidedAt,
	}, nil
}

func listingRef(client *firestore.Client, prefix, marketID, listingID string) *firestore.DocumentRef {
	return client.Collection(prefix + collMarkets).Doc(marketID).Collection(collListings).Doc(listingID)
}

type proposalRepository struct {
	client *firestore.Client
	prefix string
}

func (r *proposalRepository) proposalRef(marketID, listingID string, id model.ProposalID) *firestore.DocumentRef {
	return listingRef(r.client, r.prefix, marketID, listingID).Collection(collProposals).Doc(string(id))
}

func (r *proposalRepository) Create(ctx context.Context, proposal *model.IngestProposal) (*model.IngestProposal, error) {
	now := time.Now().UTC()
	created := *proposal
	if created.ID == "" {
		created.ID = model.NewProposalID()
	}
	if created.Status == "" {
		created.Status = types.ProposalStatusProposed
	}
	created.CreatedAt = now
	created.UpdatedAt = now

	ref := r.proposalRef(created.MarketID, created.ListingID, created.ID)
	if _, err := ref.Create(ctx, toIngestProposalDoc(&created)); err != nil {
		return nil, goerr.Wrap(err, "failed to create proposal", goerr.V("proposal_id", created.ID))
	}
	return &created, nil
}

func (r *proposalRepository) Get(ctx context.Context, marketID, listingID string, id model.ProposalID) (*model.IngestProposal, error) {
	snap, err := r.proposalRef(marketID, listingID, id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, goerr.Wrap(ErrNotFound, "proposal not found",
				goerr.V("market_id", marketID), goerr.V("listing_id", listingID), goerr.V("proposal_id", id))
		}
		return nil, goerr.Wrap(err, "failed to get proposal", goerr.V("proposal_id", id))
	}
	p, err := snapshotToProposal(snap)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to unmarshal proposal", goerr.V("proposal_id", id))
	}
	return p, nil
}

type catalogItemRepository struct {
	client *firestore.Client
	prefix string
}

func (r *catalogItemRepository) itemsCollection(marketID, listingID string, kind types.CatalogKind) *firestore.CollectionRef {
	return listingRef(r.client, r.prefix, marketID, listingID).Collection(string(kind))
}

func (r *catalogItemRepository) List(ctx context.Context, marketID, listingID string, kind types.CatalogKind) ([]*model.CatalogItem, error) {
	iter := r.itemsCollection(marketID, listingID, kind).OrderBy("SortOrder", firestore.Asc).Documents(ctx)
	defer iter.Stop()

	items := make([]*model.CatalogItem, 0)
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to iterate catalog items", goerr.V("kind", kind))
		}
		var d catalogItemDoc
		if err := snap.DataTo(&d); err != nil {
			return nil, goerr.Wrap(err, "failed to unmarshal catalog item", goerr.V("path", snap.Ref.Path))
		}
		item := fromCatalogItemDoc(d)
		items = append(items, &item)
	}
	return items, nil
}
