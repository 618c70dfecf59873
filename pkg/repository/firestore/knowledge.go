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

type failureDoc struct {
	Code    string `firestore:"Code"`
	Message string `firestore:"Message"`
}

func toFailureDoc(f *model.Failure) *failureDoc {
	if f == nil {
		return nil
	}
	return &failureDoc{Code: string(f.Code), Message: f.Message}
}

func fromFailureDoc(d *failureDoc) *model.Failure {
	if d == nil {
		return nil
	}
	return &model.Failure{Code: model.ErrorCode(d.Code), Message: d.Message}
}

type catalogExtractionDoc struct {
	Status     string      `firestore:"Status"`
	ProposalID string      `firestore:"ProposalID"`
	Error      *failureDoc `firestore:"Error"`
	UpdatedAt  time.Time   `firestore:"UpdatedAt"`
}

// knowledgeDocDoc is the Firestore document representation of model.KnowledgeDoc
type knowledgeDocDoc struct {
	ID         string `firestore:"ID"`
	BusinessID string `firestore:"BusinessID"`
	SourceType string `firestore:"SourceType"`
	SourceName string `firestore:"SourceName"`
	SourceURL  string `firestore:"SourceURL"`
	Bucket     string `firestore:"Bucket"`
	FilePath   string `firestore:"FilePath"`
	Text       string `firestore:"Text"`
	MimeType   string `firestore:"MimeType"`

	Status      string      `firestore:"Status"`
	ChunkCount  int         `firestore:"ChunkCount"`
	ContentHash string      `firestore:"ContentHash"`
	PageCount   int         `firestore:"PageCount"`
	Attempts    int         `firestore:"Attempts"`
	Error       *failureDoc `firestore:"Error"`

	ExtractCatalog    bool                 `firestore:"ExtractCatalog"`
	MarketID          string               `firestore:"MarketID"`
	ListingID         string               `firestore:"ListingID"`
	CatalogKind       string               `firestore:"CatalogKind"`
	CatalogExtraction catalogExtractionDoc `firestore:"CatalogExtraction"`

	CreatedAt time.Time `firestore:"CreatedAt"`
	UpdatedAt time.Time `firestore:"UpdatedAt"`
}

func toKnowledgeDocDoc(d *model.KnowledgeDoc) *knowledgeDocDoc {
	return &knowledgeDocDoc{
		ID:          string(d.ID),
		BusinessID:  d.BusinessID,
		SourceType:  string(d.SourceType),
		SourceName:  d.SourceName,
		SourceURL:   d.SourceURL,
		Bucket:      d.Bucket,
		FilePath:    d.FilePath,
		Text:        d.Text,
		MimeType:    d.MimeType,
		Status:      string(d.Status),
		ChunkCount:  d.ChunkCount,
		ContentHash: d.ContentHash,
		PageCount:   d.PageCount,
		Attempts:    d.Attempts,
		Error:       toFailureDoc(d.Error),

		ExtractCatalog: d.ExtractCatalog,
		MarketID:       d.MarketID,
		ListingID:      d.ListingID,
		CatalogKind:    string(d.CatalogKind),
		CatalogExtraction: catalogExtractionDoc{
			Status:     string(d.CatalogExtraction.Status),
			ProposalID: string(d.CatalogExtraction.ProposalID),
			Error:      toFailureDoc(d.CatalogExtraction.Error),
			UpdatedAt:  d.CatalogExtraction.UpdatedAt,
		},

		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
}

func fromKnowledgeDocDoc(d *knowledgeDocDoc) *model.KnowledgeDoc {
	return &model.KnowledgeDoc{
		ID:          model.KnowledgeDocID(d.ID),
		BusinessID:  d.BusinessID,
		SourceType:  types.SourceType(d.SourceType),
		SourceName:  d.SourceName,
		SourceURL:   d.SourceURL,
		Bucket:      d.Bucket,
		FilePath:    d.FilePath,
		Text:        d.Text,
		MimeType:    d.MimeType,
		Status:      types.DocStatus(d.Status),
		ChunkCount:  d.ChunkCount,
		ContentHash: d.ContentHash,
		PageCount:   d.PageCount,
		Attempts:    d.Attempts,
		Error:       fromFailureDoc(d.Error),

		ExtractCatalog: d.ExtractCatalog,
		MarketID:       d.MarketID,
		ListingID:      d.ListingID,
		CatalogKind:    types.CatalogKind(d.CatalogKind),
		CatalogExtraction: model.CatalogExtraction{
			Status:     types.CatalogExtractionStatus(d.CatalogExtraction.Status),
			ProposalID: model.ProposalID(d.CatalogExtraction.ProposalID),
			Error:      fromFailureDoc(d.CatalogExtraction.Error),
			UpdatedAt:  d.CatalogExtraction.UpdatedAt,
		},

		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
}

func snapshotToKnowledgeDoc(snap *firestore.DocumentSnapshot) (*model.KnowledgeDoc, error) {
	var d knowledgeDocDoc
	if err := snap.DataTo(&d); err != nil {
		return nil, err
	}
	return fromKnowledgeDocDoc(&d), nil
}

type knowledgeDocRepository struct {
	client *firestore.Client
	prefix string
}

func (r *knowledgeDocRepository) docsCollection(businessID string) *firestore.CollectionRef {
	return r.client.Collection(r.prefix + collBusinesses).Doc(businessID).Collection(collKnowledgeDocs)
}

func (r *knowledgeDocRepository) Create(ctx context.Context, doc *model.KnowledgeDoc) (*model.KnowledgeDoc, error) {
	now := time.Now().UTC()
	created := *doc
	if created.ID == "" {
		created.ID = model.NewKnowledgeDocID()
	}
	if created.Status == "" {
		created.Status = types.DocStatusProcessing
	}
	created.CreatedAt = now
	created.UpdatedAt = now

	ref := r.docsCollection(created.BusinessID).Doc(string(created.ID))
	if _, err := ref.Create(ctx, toKnowledgeDocDoc(&created)); err != nil {
		return nil, goerr.Wrap(err, "failed to create knowledge doc", goerr.V("doc_id", created.ID))
	}
	return &created, nil
}

func (r *knowledgeDocRepository) Get(ctx context.Context, businessID string, id model.KnowledgeDocID) (*model.KnowledgeDoc, error) {
	snap, err := r.docsCollection(businessID).Doc(string(id)).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, goerr.Wrap(ErrNotFound, "knowledge doc not found",
				goerr.V("business_id", businessID), goerr.V("doc_id", id))
		}
		return nil, goerr.Wrap(err, "failed to get knowledge doc", goerr.V("doc_id", id))
	}

	doc, err := snapshotToKnowledgeDoc(snap)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to unmarshal knowledge doc", goerr.V("doc_id", id))
	}
	return doc, nil
}

func (r *knowledgeDocRepository) update(ctx context.Context, businessID string, id model.KnowledgeDocID, updates []firestore.Update) error {
	updates = append(updates, firestore.Update{Path: "UpdatedAt", Value: time.Now().UTC()})
	if _, err := r.docsCollection(businessID).Doc(string(id)).Update(ctx, updates); err != nil {
		if status.Code(err) == codes.NotFound {
			return goerr.Wrap(ErrNotFound, "knowledge doc not found",
				goerr.V("business_id", businessID), goerr.V("doc_id", id))
		}
		return goerr.Wrap(err, "failed to update knowledge doc", goerr.V("doc_id", id))
	}
	return nil
}

func (r *knowledgeDocRepository) IncrementAttempts(ctx context.Context, businessID string, id model.KnowledgeDocID) error {
	return r.update(ctx, businessID, id, []firestore.Update{
		{Path: "Attempts", Value: firestore.Increment(1)},
	})
}

func (r *knowledgeDocRepository) Finalize(ctx context.Context, businessID string, id model.KnowledgeDocID, result model.KnowledgeDocResult) error {
	return r.update(ctx, businessID, id, []firestore.Update{
		{Path: "Status", Value: string(types.DocStatusActive)},
		{Path: "ChunkCount", Value: result.ChunkCount},
		{Path: "ContentHash", Value: result.ContentHash},
		{Path: "MimeType", Value: result.MimeType},
		{Path: "PageCount", Value: result.PageCount},
		{Path: "Error", Value: nil},
	})
}

func (r *knowledgeDocRepository) Fail(ctx context.Context, businessID string, id model.KnowledgeDocID, failure *model.Failure) error {
	return r.update(ctx, businessID, id, []firestore.Update{
		{Path: "Status", Value: string(types.DocStatusFailed)},
		{Path: "Error", Value: toFailureDoc(failure)},
	})
}

func (r *knowledgeDocRepository) FailIfStatus(ctx context.Context, businessID string, id model.KnowledgeDocID, expected types.DocStatus, failure *model.Failure) (bool, error) {
	ref := r.docsCollection(businessID).Doc(string(id))
	changed := false
	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		changed = false
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		current, err := snap.DataAt("Status")
		if err != nil {
			return err
		}
		if current != string(expected) {
			return nil
		}
		changed = true
		return tx.Update(ref, []firestore.Update{
			{Path: "Status", Value: string(types.DocStatusFailed)},
			{Path: "Error", Value: toFailureDoc(failure)},
			{Path: "UpdatedAt", Value: time.Now().UTC()},
		})
	})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return false, goerr.Wrap(ErrNotFound, "knowledge doc not found",
				goerr.V("business_id", businessID), goerr.V("doc_id", id))
		}
		return false, goerr.Wrap(err, "failed to fail knowledge doc", goerr.V("doc_id", id))
	}
	return changed, nil
}

func (r *knowledgeDocRepository) UpdateCatalogExtraction(ctx context.Context, businessID string, id model.KnowledgeDocID, ce model.CatalogExtraction) error {
	ce.UpdatedAt = time.Now().UTC()
	return r.update(ctx, businessID, id, []firestore.Update{
		{Path: "CatalogExtraction", Value: catalogExtractionDoc{
			Status:     string(ce.Status),
			ProposalID: string(ce.ProposalID),
			Error:      toFailureDoc(ce.Error),
			UpdatedAt:  ce.UpdatedAt,
		}},
	})
}

func (r *knowledgeDocRepository) ListStale(ctx context.Context, st types.DocStatus, before time.Time, limit int) ([]*model.KnowledgeDoc, error) {
	q := r.client.CollectionGroup(collKnowledgeDocs).
		Where("Status", "==", string(st)).
		Where("UpdatedAt", "<", before).
		OrderBy("UpdatedAt", firestore.Asc)
	if limit > 0 {
		q = q.Limit(limit)
	}

	iter := q.Documents(ctx)
	defer iter.Stop()

	var docs []*model.KnowledgeDoc
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to iterate stale knowledge docs")
		}
		doc, err := snapshotToKnowledgeDoc(snap)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to unmarshal knowledge doc", goerr.V("path", snap.Ref.Path))
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// knowledgeChunkDoc is stored at .../knowledgeDocs/{docId}/chunks/{textHash}.
// Embedding is stored as firestore.Vector32 so that FindNearest vector search works.
type knowledgeChunkDoc struct {
	DocID      string             `firestore:"DocID"`
	BusinessID string             `firestore:"BusinessID"`
	ChunkIndex int                `firestore:"ChunkIndex"`
	Text       string             `firestore:"Text"`
	TextHash   string             `firestore:"TextHash"`
	Embedding  firestore.Vector32 `firestore:"Embedding,omitempty"`
	Status     string             `firestore:"Status"`
	CreatedAt  time.Time          `firestore:"CreatedAt"`
}

type knowledgeChunkRepository struct {
	client *firestore.Client
	prefix string
}

func (r *knowledgeChunkRepository) chunksCollection(businessID string, docID model.KnowledgeDocID) *firestore.CollectionRef {
	return r.client.Collection(r.prefix + collBusinesses).Doc(businessID).
		Collection(collKnowledgeDocs).Doc(string(docID)).Collection(collChunks)
}

func (r *knowledgeChunkRepository) PutBatch(ctx context.Context, businessID string, docID model.KnowledgeDocID, chunks []*model.KnowledgeChunk) error {
	if len(chunks) == 0 {
		return nil
	}

	// Use BulkWriter which automatically handles batching
	bulkWriter := r.client.BulkWriter(ctx)
	defer bulkWriter.End()

	now := time.Now().UTC()
	jobs := make([]*firestore.BulkWriterJob, 0, len(chunks))
	for _, c := range chunks {
		if c.TextHash == "" {
			return goerr.New("chunk text hash is required", goerr.V("doc_id", docID), goerr.V("index", c.ChunkIndex))
		}
		d := &knowledgeChunkDoc{
			DocID:      string(docID),
			BusinessID: businessID,
			ChunkIndex: c.ChunkIndex,
			Text:       c.Text,
			TextHash:   c.TextHash,
			Status:     string(c.Status),
			CreatedAt:  now,
		}
		if len(c.Embedding) > 0 {
			d.Embedding = firestore.Vector32(c.Embedding)
		}
		job, err := bulkWriter.Set(r.chunksCollection(businessID, docID).Doc(c.TextHash), d)
		if err != nil {
			return goerr.Wrap(err, "failed to add Set operation to bulk writer", goerr.V("text_hash", c.TextHash))
		}
		jobs = append(jobs, job)
	}

	// Flush and wait for all operations to complete
	bulkWriter.Flush()

	for _, job := range jobs {
		if _, err := job.Results(); err != nil {
			return goerr.Wrap(err, "failed to write chunk", goerr.V("doc_id", docID))
		}
	}
	return nil
}

func (r *knowledgeChunkRepository) List(ctx context.Context, businessID string, docID model.KnowledgeDocID) ([]*model.KnowledgeChunk, error) {
	iter := r.chunksCollection(businessID, docID).OrderBy("ChunkIndex", firestore.Asc).Documents(ctx)
	defer iter.Stop()

	chunks := make([]*model.KnowledgeChunk, 0)
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to iterate chunks", goerr.V("doc_id", docID))
		}
		c, err := snapshotToChunk(snap)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
	}
	return chunks, nil
}

func snapshotToChunk(snap *firestore.DocumentSnapshot) (*model.KnowledgeChunk, error) {
	var d knowledgeChunkDoc
	if err := snap.DataTo(&d); err != nil {
		return nil, goerr.Wrap(err, "failed to unmarshal chunk", goerr.V("path", snap.Ref.Path))
	}
	c := &model.KnowledgeChunk{
		DocID:      model.KnowledgeDocID(d.DocID),
		BusinessID: d.BusinessID,
		ChunkIndex: d.ChunkIndex,
		Text:       d.Text,
		TextHash:   d.TextHash,
		Status:     types.ChunkStatus(d.Status),
		CreatedAt:  d.CreatedAt,
	}
	if len(d.Embedding) > 0 {
		c.Embedding = []float32(d.Embedding)
	}
	return c, nil
}

func (r *knowledgeChunkRepository) CountActiveByTenant(ctx context.Context, businessID string) (int, error) {
	q := r.client.CollectionGroup(collChunks).
		Where("BusinessID", "==", businessID).
		Where("Status", "==", string(types.ChunkStatusActive))
	n, err := countOf(ctx, q)
	if err != nil {
		return 0, goerr.Wrap(err, "failed to count tenant chunks", goerr.V("business_id", businessID))
	}
	return n, nil
}

func (r *knowledgeChunkRepository) CountActiveByDoc(ctx context.Context, businessID string, docID model.KnowledgeDocID) (int, error) {
	q := r.chunksCollection(businessID, docID).Where("Status", "==", string(types.ChunkStatusActive))
	n, err := countOf(ctx, q)
	if err != nil {
		return 0, goerr.Wrap(err, "failed to count doc chunks", goerr.V("doc_id", docID))
	}
	return n, nil
}

func (r *knowledgeChunkRepository) FindNearest(ctx context.Context, businessID string, embedding []float32, limit int) ([]*model.KnowledgeChunk, error) {
	if limit <= 0 {
		return []*model.KnowledgeChunk{}, nil
	}
	vq := r.client.CollectionGroup(collChunks).
		Where("BusinessID", "==", businessID).
		Where("Status", "==", string(types.ChunkStatusActive)).
		FindNearest("Embedding", firestore.Vector32(embedding), limit, firestore.DistanceMeasureCosine, nil)

	iter := vq.Documents(ctx)
	defer iter.Stop()

	chunks := make([]*model.KnowledgeChunk, 0, limit)
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to iterate chunk vector search results", goerr.V("business_id", businessID))
		}
		c, err := snapshotToChunk(snap)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
	}
	return chunks, nil
}
