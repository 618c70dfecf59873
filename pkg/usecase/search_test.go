package usecase_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/ingestd/pkg/domain/model"
	"github.com/secmon-lab/ingestd/pkg/domain/types"
	"github.com/secmon-lab/ingestd/pkg/repository/memory"
	"github.com/secmon-lab/ingestd/pkg/usecase"
)

func TestKnowledgeSearch(t *testing.T) {
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
	before := env.llm.embedCount()

	t.Run("finds chunks of the business", func(t *testing.T) {
		got, err := env.uc.Knowledge.Search(ctx, "biz-1", "kebab price", 0)
		gt.NoError(t, err).Required()
		if len(got) == 0 {
			t.Fatal("no chunks found")
		}
		gt.String(t, got[0].Text).Contains("Kebab")
		gt.Value(t, got[0].DocID).Equal(doc.ID)
		gt.Value(t, env.llm.embedCount()).Equal(before + 1)
	})

	t.Run("other tenants see nothing", func(t *testing.T) {
		got, err := env.uc.Knowledge.Search(ctx, "biz-2", "kebab price", 0)
		gt.NoError(t, err)
		gt.Array(t, got).Length(0)
	})

	t.Run("query is required", func(t *testing.T) {
		_, err := env.uc.Knowledge.Search(ctx, "biz-1", "   ", 0)
		gt.Bool(t, errors.Is(err, usecase.ErrInvalidRequest)).True()
	})
}

func TestKnowledgeSearch_LimitIsCapped(t *testing.T) {
	ctx := context.Background()
	repo := memory.New()
	env := newTestEnv(t, repo)

	docID := model.NewKnowledgeDocID()
	chunks := make([]*model.KnowledgeChunk, 0, 30)
	for i := range 30 {
		text := fmt.Sprintf("chunk number %d", i)
		v := make([]float32, model.EmbeddingDimension)
		v[0] = 1
		chunks = append(chunks, &model.KnowledgeChunk{
			DocID:      docID,
			BusinessID: "biz-1",
			ChunkIndex: i,
			Text:       text,
			TextHash:   model.HashText(text),
			Embedding:  v,
			Status:     types.ChunkStatusActive,
		})
	}
	gt.NoError(t, repo.KnowledgeChunk().PutBatch(ctx, "biz-1", docID, chunks)).Required()

	got, err := env.uc.Knowledge.Search(ctx, "biz-1", "chunk", 100)
	gt.NoError(t, err).Required()
	gt.Array(t, got).Length(usecase.MaxSearchLimit)

	got, err = env.uc.Knowledge.Search(ctx, "biz-1", "chunk", 0)
	gt.NoError(t, err).Required()
	gt.Array(t, got).Length(usecase.DefaultSearchLimit)
}

func TestKnowledgeSearch_NotConfigured(t *testing.T) {
	uc := usecase.New(memory.New())
	_, err := uc.Knowledge.Search(context.Background(), "biz-1", "kebab", 0)
	gt.Bool(t, errors.Is(err, usecase.ErrNotConfigured)).True()
}
