package usecase

import (
	"context"
	"errors"
	"time"
	"unicode/utf8"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/ingestd/pkg/domain/interfaces"
	"github.com/secmon-lab/ingestd/pkg/domain/model"
	"github.com/secmon-lab/ingestd/pkg/domain/model/config"
	"github.com/secmon-lab/ingestd/pkg/domain/types"
	"github.com/secmon-lab/ingestd/pkg/service/chunker"
	"github.com/secmon-lab/ingestd/pkg/service/document"
	"github.com/secmon-lab/ingestd/pkg/utils/errutil"
	"github.com/secmon-lab/ingestd/pkg/utils/logging"
	"github.com/secmon-lab/ingestd/pkg/utils/metrics"
)

// KnowledgeUseCase ingests knowledge documents into embedded retrieval chunks
type KnowledgeUseCase struct {
	repo      interfaces.Repository
	extractor TextExtractor
	embedder  Embedder
	catalog   *CatalogUseCase
	cfg       config.IngestConfig
}

func NewKnowledgeUseCase(repo interfaces.Repository, extractor TextExtractor, embedder Embedder, catalogUC *CatalogUseCase, cfg config.IngestConfig) *KnowledgeUseCase {
	return &KnowledgeUseCase{
		repo:      repo,
		extractor: extractor,
		embedder:  embedder,
		catalog:   catalogUC,
		cfg:       cfg,
	}
}

// ingested is what a successful run knows about the document content
type ingested struct {
	text   string
	result model.KnowledgeDocResult
}

// Ingest runs the document through extract, chunk, embed and persist, then
// marks it active. A document that is not processing is left untouched so
// redelivered triggers are a no-op. Any failure marks the document failed and
// is returned. The optional catalog sub-flow runs afterwards and never fails
// the ingestion.
func (uc *KnowledgeUseCase) Ingest(ctx context.Context, businessID string, docID model.KnowledgeDocID) error {
	logger := logging.From(ctx).With(TenantKey, businessID, DocIDKey, docID)
	ctx = logging.With(ctx, logger)

	doc, err := uc.repo.KnowledgeDoc().Get(ctx, businessID, docID)
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			return goerr.Wrap(ErrDocNotFound, "knowledge doc not found", goerr.V(TenantKey, businessID), goerr.V(DocIDKey, docID))
		}
		return goerr.Wrap(err, "failed to get knowledge doc", goerr.V(TenantKey, businessID), goerr.V(DocIDKey, docID))
	}
	if doc.Status != types.DocStatusProcessing {
		logger.Info("Skipping knowledge doc not in processing status", "status", doc.Status)
		return nil
	}

	if err := uc.repo.KnowledgeDoc().IncrementAttempts(ctx, businessID, docID); err != nil {
		return goerr.Wrap(err, "failed to increment attempts", goerr.V(TenantKey, businessID), goerr.V(DocIDKey, docID))
	}

	started := time.Now()
	out, err := uc.ingest(ctx, doc)
	if err != nil {
		failure := model.FailureOf(err)
		if ferr := uc.repo.KnowledgeDoc().Fail(ctx, businessID, docID, failure); ferr != nil {
			errutil.Handle(ctx, ferr, "failed to record knowledge doc failure")
		}
		metrics.ObserveIngest(metrics.FlowKnowledge, string(types.DocStatusFailed), started)
		logger.Warn("Knowledge ingestion failed", "code", failure.Code, "error", err.Error())
		return goerr.Wrap(err, "knowledge ingestion failed", goerr.V(TenantKey, businessID), goerr.V(DocIDKey, docID))
	}

	metrics.ObserveIngest(metrics.FlowKnowledge, string(types.DocStatusActive), started)
	logger.Info("Knowledge doc active",
		"chunks", out.result.ChunkCount, "mime_type", out.result.MimeType, "pages", out.result.PageCount)

	uc.extractCatalog(ctx, doc, out.text)
	return nil
}

func (uc *KnowledgeUseCase) ingest(ctx context.Context, doc *model.KnowledgeDoc) (*ingested, error) {
	if uc.extractor == nil || uc.embedder == nil {
		return nil, goerr.Wrap(ErrNotConfigured, "knowledge ingestion requires an extractor and an embedder")
	}

	res, err := uc.extractor.Extract(ctx, doc.Source(), document.PathKnowledge)
	if err != nil {
		return nil, err
	}

	// inline text is taken as given; extracted text must reach the minimum
	text := res.Text
	minChars := uc.cfg.Knowledge.MinTextChars
	if doc.SourceType == types.SourceTypeText {
		minChars = 1
	}
	if n := utf8.RuneCountInString(text); n < minChars {
		return nil, goerr.Wrap(model.Errorf(model.CodeTextTooShort, "%d chars", n), "extracted text is too short")
	}
	contentHash := model.HashText(text)

	chunks := chunker.Build(text, uc.cfg.Chunk)
	if len(chunks) == 0 {
		return nil, goerr.Wrap(model.NewIngestError(model.CodeTextTooShort, "no chunk long enough"), "text produced no chunks")
	}

	tenantActive, err := uc.repo.KnowledgeChunk().CountActiveByTenant(ctx, doc.BusinessID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to count tenant chunks")
	}
	docActive, err := uc.repo.KnowledgeChunk().CountActiveByDoc(ctx, doc.BusinessID, doc.ID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to count document chunks")
	}
	if err := chunker.CheckQuota(tenantActive, docActive, len(chunks), uc.cfg.Knowledge.TenantChunkCap); err != nil {
		return nil, err
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vectors, err := uc.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, err
	}

	if err := uc.flush(ctx, doc, chunks, vectors); err != nil {
		return nil, err
	}

	result := model.KnowledgeDocResult{
		ChunkCount:  len(chunks),
		ContentHash: contentHash,
		MimeType:    res.MimeType,
		PageCount:   res.PageCount,
	}
	if err := uc.repo.KnowledgeDoc().Finalize(ctx, doc.BusinessID, doc.ID, result); err != nil {
		return nil, goerr.Wrap(err, "failed to finalize knowledge doc")
	}
	return &ingested{text: text, result: result}, nil
}

// flush writes chunks in batches of FlushBatchSize. Batches are independent;
// a partial write is repaired by the next run because chunks upsert by hash.
func (uc *KnowledgeUseCase) flush(ctx context.Context, doc *model.KnowledgeDoc, chunks []chunker.Chunk, vectors [][]float32) error {
	batchSize := max(uc.cfg.Knowledge.FlushBatchSize, 1)
	buf := make([]*model.KnowledgeChunk, 0, batchSize)

	for i, c := range chunks {
		buf = append(buf, &model.KnowledgeChunk{
			DocID:      doc.ID,
			BusinessID: doc.BusinessID,
			ChunkIndex: c.Index,
			Text:       c.Text,
			TextHash:   c.Hash,
			Embedding:  vectors[i],
			Status:     types.ChunkStatusActive,
		})
		if len(buf) == batchSize || i == len(chunks)-1 {
			if err := uc.repo.KnowledgeChunk().PutBatch(ctx, doc.BusinessID, doc.ID, buf); err != nil {
				return goerr.Wrap(err, "failed to write chunk batch", goerr.V("upto", i), goerr.V("batch", len(buf)))
			}
			buf = make([]*model.KnowledgeChunk, 0, batchSize)
		}
	}
	return nil
}

// extractCatalog runs the opt-in catalog sub-flow. Its outcome is recorded on
// the document and never reverts the active status.
func (uc *KnowledgeUseCase) extractCatalog(ctx context.Context, doc *model.KnowledgeDoc, text string) {
	logger := logging.From(ctx)
	record := func(ce model.CatalogExtraction) {
		ce.UpdatedAt = time.Now().UTC()
		if err := uc.repo.KnowledgeDoc().UpdateCatalogExtraction(ctx, doc.BusinessID, doc.ID, ce); err != nil {
			errutil.Handle(ctx, err, "failed to record catalog extraction status")
		}
	}

	if !doc.ExtractCatalog || doc.MarketID == "" || doc.ListingID == "" || !doc.CatalogKind.IsValid() {
		record(model.CatalogExtraction{Status: types.CatalogExtractionSkipped})
		return
	}

	record(model.CatalogExtraction{Status: types.CatalogExtractionProcessing})

	proposal, err := uc.catalog.propose(ctx, doc.MarketID, doc.ListingID, "", doc.CatalogKind, []model.Source{doc.Source()}, text)
	if err != nil {
		failure := model.FailureOf(err)
		logger.Warn("Catalog extraction failed", "code", failure.Code, "error", err.Error())
		record(model.CatalogExtraction{Status: types.CatalogExtractionFailed, Error: failure})
		return
	}

	logger.Info("Catalog extraction proposed", ProposalIDKey, proposal.ID, "items", len(proposal.Items))
	record(model.CatalogExtraction{Status: types.CatalogExtractionDone, ProposalID: proposal.ID})
}
