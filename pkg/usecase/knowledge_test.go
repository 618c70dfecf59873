package usecase_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/ingestd/pkg/domain/interfaces"
	"github.com/secmon-lab/ingestd/pkg/domain/model"
	"github.com/secmon-lab/ingestd/pkg/domain/model/config"
	"github.com/secmon-lab/ingestd/pkg/domain/types"
	"github.com/secmon-lab/ingestd/pkg/repository/memory"
	"github.com/secmon-lab/ingestd/pkg/service/document"
	"github.com/secmon-lab/ingestd/pkg/usecase"
)

// countingRepo records the size of every chunk batch written
type countingRepo struct {
	interfaces.Repository
	chunks *countingChunks
}

func (r *countingRepo) KnowledgeChunk() interfaces.KnowledgeChunkRepository {
	return r.chunks
}

type countingChunks struct {
	interfaces.KnowledgeChunkRepository
	batches []int
}

func (c *countingChunks) PutBatch(ctx context.Context, businessID string, docID model.KnowledgeDocID, chunks []*model.KnowledgeChunk) error {
	c.batches = append(c.batches, len(chunks))
	return c.KnowledgeChunkRepository.PutBatch(ctx, businessID, docID, chunks)
}

func newCountingRepo() *countingRepo {
	mem := memory.New()
	return &countingRepo{Repository: mem, chunks: &countingChunks{KnowledgeChunkRepository: mem.KnowledgeChunk()}}
}

func createDoc(t *testing.T, repo interfaces.Repository, doc *model.KnowledgeDoc) *model.KnowledgeDoc {
	t.Helper()
	created, err := repo.KnowledgeDoc().Create(context.Background(), doc)
	gt.NoError(t, err).Required()
	return created
}

// sectionText returns n distinct segments of exactly size runes
func sectionText(n, size int) string {
	var b strings.Builder
	for i := 0; i < n; i++ {
		prefix := fmt.Sprintf("section-%02d-", i)
		b.WriteString(prefix + strings.Repeat("x", size-len(prefix)))
	}
	return b.String()
}

func smallChunkConfig() config.IngestConfig {
	cfg := config.DefaultIngestConfig()
	cfg.Chunk = config.ChunkConfig{Size: 100, Overlap: 0, SnapWindow: 0, MinChars: 10}
	return cfg
}

func TestKnowledgeIngest_TextSource(t *testing.T) {
	ctx := context.Background()
	repo := memory.New()
	env := newTestEnv(t, repo)

	doc := createDoc(t, repo, &model.KnowledgeDoc{
		BusinessID: "biz-1",
		SourceType: types.SourceTypeText,
		SourceName: "menu",
		Text:       "Menu: Kebab - 150 TRY",
	})

	gt.NoError(t, env.uc.Knowledge.Ingest(ctx, "biz-1", doc.ID)).Required()

	got, err := repo.KnowledgeDoc().Get(ctx, "biz-1", doc.ID)
	gt.NoError(t, err).Required()
	gt.Value(t, got.Status).Equal(types.DocStatusActive)
	gt.Number(t, got.ChunkCount).GreaterOrEqual(1)
	gt.Value(t, got.ContentHash).Equal(model.HashText("Menu: Kebab - 150 TRY"))
	gt.Value(t, got.MimeType).Equal("text/plain")
	gt.Value(t, got.Attempts).Equal(1)
	gt.Value(t, got.CatalogExtraction.Status).Equal(types.CatalogExtractionSkipped)

	chunks, err := repo.KnowledgeChunk().List(ctx, "biz-1", doc.ID)
	gt.NoError(t, err).Required()
	gt.Array(t, chunks).Length(got.ChunkCount).Required()
	gt.Value(t, chunks[0].Status).Equal(types.ChunkStatusActive)
	gt.Array(t, chunks[0].Embedding).Length(model.EmbeddingDimension)

	t.Run("redelivery is a no-op", func(t *testing.T) {
		gt.NoError(t, env.uc.Knowledge.Ingest(ctx, "biz-1", doc.ID)).Required()

		again, err := repo.KnowledgeDoc().Get(ctx, "biz-1", doc.ID)
		gt.NoError(t, err).Required()
		gt.Value(t, again.Attempts).Equal(1)
		gt.Value(t, env.llm.embedCount()).Equal(got.ChunkCount)
	})
}

func TestKnowledgeIngest_NotFound(t *testing.T) {
	env := newTestEnv(t, memory.New())
	err := env.uc.Knowledge.Ingest(context.Background(), "biz-1", model.NewKnowledgeDocID())
	gt.Bool(t, errors.Is(err, usecase.ErrDocNotFound)).True()
}

func TestKnowledgeIngest_ChunkIdempotence(t *testing.T) {
	ctx := context.Background()
	repo := memory.New()
	cfg := smallChunkConfig()
	env := newTestEnv(t, repo, withConfig(cfg))
	text := sectionText(6, 100)

	doc := createDoc(t, repo, &model.KnowledgeDoc{BusinessID: "biz-1", SourceType: types.SourceTypeText, Text: text})

	// an earlier attempt crashed after writing part of the chunks
	partial := []*model.KnowledgeChunk{}
	for i, piece := range []string{text[:100], text[100:200]} {
		partial = append(partial, &model.KnowledgeChunk{
			ChunkIndex: i,
			Text:       piece,
			TextHash:   model.HashText(piece),
			Status:     types.ChunkStatusActive,
		})
	}
	gt.NoError(t, repo.KnowledgeChunk().PutBatch(ctx, "biz-1", doc.ID, partial)).Required()

	gt.NoError(t, env.uc.Knowledge.Ingest(ctx, "biz-1", doc.ID)).Required()

	chunks, err := repo.KnowledgeChunk().List(ctx, "biz-1", doc.ID)
	gt.NoError(t, err).Required()
	gt.Array(t, chunks).Length(6)

	seen := map[string]struct{}{}
	for _, c := range chunks {
		_, dup := seen[c.TextHash]
		gt.Bool(t, dup).False()
		seen[c.TextHash] = struct{}{}
	}

	got, err := repo.KnowledgeDoc().Get(ctx, "biz-1", doc.ID)
	gt.NoError(t, err).Required()
	gt.Value(t, got.ChunkCount).Equal(6)
}

func TestKnowledgeIngest_QuotaExceeded(t *testing.T) {
	ctx := context.Background()
	repo := memory.New()
	cfg := smallChunkConfig()
	cfg.Knowledge.TenantChunkCap = 500
	env := newTestEnv(t, repo, withConfig(cfg))

	existing := model.NewKnowledgeDocID()
	var filled []*model.KnowledgeChunk
	for i := 0; i < 495; i++ {
		text := fmt.Sprintf("existing chunk %d", i)
		filled = append(filled, &model.KnowledgeChunk{ChunkIndex: i, Text: text, TextHash: model.HashText(text), Status: types.ChunkStatusActive})
	}
	gt.NoError(t, repo.KnowledgeChunk().PutBatch(ctx, "biz-1", existing, filled)).Required()

	doc := createDoc(t, repo, &model.KnowledgeDoc{BusinessID: "biz-1", SourceType: types.SourceTypeText, Text: sectionText(10, 100)})

	err := env.uc.Knowledge.Ingest(ctx, "biz-1", doc.ID)
	gt.Value(t, model.CodeOf(err)).Equal(model.CodeQuotaExceeded)

	got, err := repo.KnowledgeDoc().Get(ctx, "biz-1", doc.ID)
	gt.NoError(t, err).Required()
	gt.Value(t, got.Status).Equal(types.DocStatusFailed)
	gt.Value(t, got.Error.Code).Equal(model.CodeQuotaExceeded)

	n, err := repo.KnowledgeChunk().CountActiveByDoc(ctx, "biz-1", doc.ID)
	gt.NoError(t, err).Required()
	gt.Value(t, n).Equal(0)
	gt.Value(t, env.llm.embedCount()).Equal(0)
}

func TestKnowledgeIngest_FlushesInBatches(t *testing.T) {
	ctx := context.Background()
	repo := newCountingRepo()
	cfg := smallChunkConfig()
	cfg.Knowledge.FlushBatchSize = 2
	env := newTestEnv(t, repo, withConfig(cfg))

	doc := createDoc(t, repo, &model.KnowledgeDoc{BusinessID: "biz-1", SourceType: types.SourceTypeText, Text: sectionText(5, 100)})
	gt.NoError(t, env.uc.Knowledge.Ingest(ctx, "biz-1", doc.ID)).Required()

	gt.Array(t, repo.chunks.batches).Equal([]int{2, 2, 1})
}

func TestKnowledgeIngest_ExtractionFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("blocked url fails the doc with its code", func(t *testing.T) {
		repo := memory.New()
		x := &mockExtractor{errs: map[string]error{
			"https://shop.example/": model.NewIngestError(model.CodeBlocked403, ""),
		}}
		env := newTestEnv(t, repo, withExtractor(x))

		doc := createDoc(t, repo, &model.KnowledgeDoc{BusinessID: "biz-1", SourceType: types.SourceTypeURL, SourceURL: "https://shop.example/"})
		err := env.uc.Knowledge.Ingest(ctx, "biz-1", doc.ID)
		gt.Value(t, model.CodeOf(err)).Equal(model.CodeBlocked403)

		got, err := repo.KnowledgeDoc().Get(ctx, "biz-1", doc.ID)
		gt.NoError(t, err).Required()
		gt.Value(t, got.Status).Equal(types.DocStatusFailed)
		gt.String(t, got.Error.Message).Contains("denied")
	})

	t.Run("short extracted text fails with TEXT_TOO_SHORT", func(t *testing.T) {
		repo := memory.New()
		x := &mockExtractor{results: map[string]*document.Result{
			"https://shop.example/": {Text: "Loading...", MimeType: "text/html"},
		}}
		env := newTestEnv(t, repo, withExtractor(x))

		doc := createDoc(t, repo, &model.KnowledgeDoc{BusinessID: "biz-1", SourceType: types.SourceTypeURL, SourceURL: "https://shop.example/"})
		err := env.uc.Knowledge.Ingest(ctx, "biz-1", doc.ID)
		gt.Value(t, model.CodeOf(err)).Equal(model.CodeTextTooShort)

		got, err := repo.KnowledgeDoc().Get(ctx, "biz-1", doc.ID)
		gt.NoError(t, err).Required()
		gt.Value(t, got.Status).Equal(types.DocStatusFailed)
	})
}

func TestKnowledgeIngest_CatalogSubFlow(t *testing.T) {
	ctx := context.Background()
	text := "Menu: Kebab - 150 TRY. Ayran - 30 TRY."

	t.Run("writes a proposal", func(t *testing.T) {
		repo := memory.New()
		env := newTestEnv(t, repo, withReply(`{"items":[{"name":"Kebab","price":150,"currency":"TRY"},{"name":"Ayran","price":30}]}`))

		doc := createDoc(t, repo, &model.KnowledgeDoc{
			BusinessID:     "biz-1",
			SourceType:     types.SourceTypeText,
			Text:           text,
			ExtractCatalog: true,
			MarketID:       "market-1",
			ListingID:      "listing-1",
			CatalogKind:    types.CatalogKindMenuItems,
		})
		gt.NoError(t, env.uc.Knowledge.Ingest(ctx, "biz-1", doc.ID)).Required()

		got, err := repo.KnowledgeDoc().Get(ctx, "biz-1", doc.ID)
		gt.NoError(t, err).Required()
		gt.Value(t, got.Status).Equal(types.DocStatusActive)
		gt.Value(t, got.CatalogExtraction.Status).Equal(types.CatalogExtractionDone)

		proposal, err := repo.Proposal().Get(ctx, "market-1", "listing-1", got.CatalogExtraction.ProposalID)
		gt.NoError(t, err).Required()
		gt.Array(t, proposal.Items).Length(2)
		gt.Value(t, proposal.Diff.Added).Equal(2)
		gt.Value(t, proposal.JobID).Equal(model.JobID(""))

		// proposals without a job can still be applied
		_, err = env.uc.Catalog.ApplyProposal(ctx, "market-1", "listing-1", proposal.ID)
		gt.NoError(t, err).Required()
	})

	t.Run("failure keeps the doc active", func(t *testing.T) {
		repo := memory.New()
		env := newTestEnv(t, repo)
		env.llm.sessionErr = errors.New("model unavailable")

		doc := createDoc(t, repo, &model.KnowledgeDoc{
			BusinessID:     "biz-1",
			SourceType:     types.SourceTypeText,
			Text:           text,
			ExtractCatalog: true,
			MarketID:       "market-1",
			ListingID:      "listing-1",
			CatalogKind:    types.CatalogKindMenuItems,
		})
		gt.NoError(t, env.uc.Knowledge.Ingest(ctx, "biz-1", doc.ID)).Required()

		got, err := repo.KnowledgeDoc().Get(ctx, "biz-1", doc.ID)
		gt.NoError(t, err).Required()
		gt.Value(t, got.Status).Equal(types.DocStatusActive)
		gt.Value(t, got.CatalogExtraction.Status).Equal(types.CatalogExtractionFailed)
		gt.Value(t, got.CatalogExtraction.Error.Code).Equal(model.CodeStructuringFailed)
	})

	t.Run("missing listing is skipped", func(t *testing.T) {
		repo := memory.New()
		env := newTestEnv(t, repo)

		doc := createDoc(t, repo, &model.KnowledgeDoc{
			BusinessID:     "biz-1",
			SourceType:     types.SourceTypeText,
			Text:           text,
			ExtractCatalog: true,
		})
		gt.NoError(t, env.uc.Knowledge.Ingest(ctx, "biz-1", doc.ID)).Required()

		got, err := repo.KnowledgeDoc().Get(ctx, "biz-1", doc.ID)
		gt.NoError(t, err).Required()
		gt.Value(t, got.CatalogExtraction.Status).Equal(types.CatalogExtractionSkipped)
	})
}
