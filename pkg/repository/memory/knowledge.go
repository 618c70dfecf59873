package memory

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/ingestd/pkg/domain/model"
	"github.com/secmon-lab/ingestd/pkg/domain/types"
)

type knowledgeDocRepository struct {
	s *store
}

func docKey(businessID string, id model.KnowledgeDocID) tenantKey[model.KnowledgeDocID] {
	return tenantKey[model.KnowledgeDocID]{tenant: businessID, id: id}
}

func (r *knowledgeDocRepository) Create(ctx context.Context, doc *model.KnowledgeDoc) (*model.KnowledgeDoc, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	now := time.Now().UTC()
	created := copyDoc(doc)
	if created.ID == "" {
		created.ID = model.NewKnowledgeDocID()
	}
	if created.Status == "" {
		created.Status = types.DocStatusProcessing
	}
	created.CreatedAt = now
	created.UpdatedAt = now

	r.s.docs[docKey(created.BusinessID, created.ID)] = created
	return copyDoc(created), nil
}

// lookup must be called with the lock held
func (r *knowledgeDocRepository) lookup(businessID string, id model.KnowledgeDocID) (*model.KnowledgeDoc, error) {
	doc, ok := r.s.docs[docKey(businessID, id)]
	if !ok {
		return nil, goerr.Wrap(ErrNotFound, "knowledge doc not found",
			goerr.V("business_id", businessID), goerr.V("doc_id", id))
	}
	return doc, nil
}

func (r *knowledgeDocRepository) Get(ctx context.Context, businessID string, id model.KnowledgeDocID) (*model.KnowledgeDoc, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	doc, err := r.lookup(businessID, id)
	if err != nil {
		return nil, err
	}
	return copyDoc(doc), nil
}

func (r *knowledgeDocRepository) IncrementAttempts(ctx context.Context, businessID string, id model.KnowledgeDocID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	doc, err := r.lookup(businessID, id)
	if err != nil {
		return err
	}
	doc.Attempts++
	doc.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *knowledgeDocRepository) Finalize(ctx context.Context, businessID string, id model.KnowledgeDocID, result model.KnowledgeDocResult) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	doc, err := r.lookup(businessID, id)
	if err != nil {
		return err
	}
	doc.Status = types.DocStatusActive
	doc.ChunkCount = result.ChunkCount
	doc.ContentHash = result.ContentHash
	doc.MimeType = result.MimeType
	doc.PageCount = result.PageCount
	doc.Error = nil
	doc.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *knowledgeDocRepository) Fail(ctx context.Context, businessID string, id model.KnowledgeDocID, failure *model.Failure) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	doc, err := r.lookup(businessID, id)
	if err != nil {
		return err
	}
	doc.Status = types.DocStatusFailed
	doc.Error = copyFailure(failure)
	doc.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *knowledgeDocRepository) FailIfStatus(ctx context.Context, businessID string, id model.KnowledgeDocID, expected types.DocStatus, failure *model.Failure) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	doc, err := r.lookup(businessID, id)
	if err != nil {
		return false, err
	}
	if doc.Status != expected {
		return false, nil
	}
	doc.Status = types.DocStatusFailed
	doc.Error = copyFailure(failure)
	doc.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (r *knowledgeDocRepository) UpdateCatalogExtraction(ctx context.Context, businessID string, id model.KnowledgeDocID, ce model.CatalogExtraction) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	doc, err := r.lookup(businessID, id)
	if err != nil {
		return err
	}
	ce.Error = copyFailure(ce.Error)
	ce.UpdatedAt = time.Now().UTC()
	doc.CatalogExtraction = ce
	return nil
}

func (r *knowledgeDocRepository) ListStale(ctx context.Context, status types.DocStatus, before time.Time, limit int) ([]*model.KnowledgeDoc, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var result []*model.KnowledgeDoc
	for _, doc := range r.s.docs {
		if doc.Status == status && doc.UpdatedAt.Before(before) {
			result = append(result, copyDoc(doc))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].UpdatedAt.Before(result[j].UpdatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

type knowledgeChunkRepository struct {
	s *store
}

func (r *knowledgeChunkRepository) PutBatch(ctx context.Context, businessID string, docID model.KnowledgeDocID, chunks []*model.KnowledgeChunk) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	key := docKey(businessID, docID)
	if _, ok := r.s.chunks[key]; !ok {
		r.s.chunks[key] = make(map[string]*model.KnowledgeChunk)
	}

	now := time.Now().UTC()
	for _, c := range chunks {
		if c.TextHash == "" {
			return goerr.New("chunk text hash is required", goerr.V("doc_id", docID), goerr.V("index", c.ChunkIndex))
		}
		stored := copyChunk(c)
		stored.DocID = docID
		stored.BusinessID = businessID
		if existing, ok := r.s.chunks[key][c.TextHash]; ok {
			stored.CreatedAt = existing.CreatedAt
		} else {
			stored.CreatedAt = now
		}
		r.s.chunks[key][c.TextHash] = stored
	}
	return nil
}

func (r *knowledgeChunkRepository) List(ctx context.Context, businessID string, docID model.KnowledgeDocID) ([]*model.KnowledgeChunk, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	result := make([]*model.KnowledgeChunk, 0, len(r.s.chunks[docKey(businessID, docID)]))
	for _, c := range r.s.chunks[docKey(businessID, docID)] {
		result = append(result, copyChunk(c))
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].ChunkIndex < result[j].ChunkIndex
	})
	return result, nil
}

func (r *knowledgeChunkRepository) CountActiveByTenant(ctx context.Context, businessID string) (int, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	count := 0
	for key, chunks := range r.s.chunks {
		if key.tenant != businessID {
			continue
		}
		for _, c := range chunks {
			if c.Status == types.ChunkStatusActive {
				count++
			}
		}
	}
	return count, nil
}

func (r *knowledgeChunkRepository) CountActiveByDoc(ctx context.Context, businessID string, docID model.KnowledgeDocID) (int, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	count := 0
	for _, c := range r.s.chunks[docKey(businessID, docID)] {
		if c.Status == types.ChunkStatusActive {
			count++
		}
	}
	return count, nil
}

func (r *knowledgeChunkRepository) FindNearest(ctx context.Context, businessID string, embedding []float32, limit int) ([]*model.KnowledgeChunk, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	type scored struct {
		chunk *model.KnowledgeChunk
		score float64
	}

	var candidates []scored
	for key, chunks := range r.s.chunks {
		if key.tenant != businessID {
			continue
		}
		for _, c := range chunks {
			if c.Status != types.ChunkStatusActive || len(c.Embedding) == 0 {
				continue
			}
			candidates = append(candidates, scored{chunk: c, score: cosineSimilarity(embedding, c.Embedding)})
		}
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		// stable order for equal scores
		if candidates[i].chunk.DocID != candidates[j].chunk.DocID {
			return candidates[i].chunk.DocID < candidates[j].chunk.DocID
		}
		return candidates[i].chunk.ChunkIndex < candidates[j].chunk.ChunkIndex
	})

	limit = max(0, min(limit, len(candidates)))

	result := make([]*model.KnowledgeChunk, limit)
	for i := 0; i < limit; i++ {
		result[i] = copyChunk(candidates[i].chunk)
	}
	return result, nil
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	denom := math.Sqrt(normA) * math.Sqrt(normB)
	if denom == 0 {
		return 0
	}
	return dot / denom
}
