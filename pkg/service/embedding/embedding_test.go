package embedding_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/m-mizutani/gollem"
	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/ingestd/pkg/domain/model"
	"github.com/secmon-lab/ingestd/pkg/domain/model/config"
	"github.com/secmon-lab/ingestd/pkg/service/embedding"
)

type mockLLMClient struct {
	mu                  sync.Mutex
	inputs              []string
	generateEmbeddingFn func(ctx context.Context, dimension int, input []string) ([][]float64, error)
}

func (m *mockLLMClient) NewSession(ctx context.Context, options ...gollem.SessionOption) (gollem.Session, error) {
	return nil, nil
}

func (m *mockLLMClient) GenerateEmbedding(ctx context.Context, dimension int, input []string) ([][]float64, error) {
	m.mu.Lock()
	m.inputs = append(m.inputs, input...)
	m.mu.Unlock()

	if m.generateEmbeddingFn != nil {
		return m.generateEmbeddingFn(ctx, dimension, input)
	}
	vec := make([]float64, dimension)
	for i := range vec {
		vec[i] = float64(len(input[0]))
	}
	return [][]float64{vec}, nil
}

func fastConfig(workers int) config.EmbeddingConfig {
	return config.EmbeddingConfig{RatePerSecond: 1000, Burst: 10, Workers: workers}
}

func TestNew_RequiresLLMClient(t *testing.T) {
	_, err := embedding.New(nil, fastConfig(1))
	gt.Value(t, err).NotNil()
}

func TestEmbed(t *testing.T) {
	ctx := context.Background()

	t.Run("returns one vector per text in order", func(t *testing.T) {
		llm := &mockLLMClient{}
		svc, err := embedding.New(llm, fastConfig(1))
		gt.NoError(t, err).Required()

		vecs, err := svc.Embed(ctx, []string{"a", "bb", "ccc"})
		gt.NoError(t, err).Required()
		gt.Array(t, vecs).Length(3)
		gt.Value(t, len(vecs[0])).Equal(model.EmbeddingDimension)
		gt.Value(t, vecs[0][0]).Equal(float32(1))
		gt.Value(t, vecs[1][0]).Equal(float32(2))
		gt.Value(t, vecs[2][0]).Equal(float32(3))
		gt.Array(t, llm.inputs).Equal([]string{"a", "bb", "ccc"})
	})

	t.Run("keeps order with several workers", func(t *testing.T) {
		llm := &mockLLMClient{}
		svc, err := embedding.New(llm, fastConfig(4), embedding.WithDimension(4))
		gt.NoError(t, err).Required()

		texts := []string{"x", "xx", "xxx", "xxxx", "xxxxx", "xxxxxx"}
		vecs, err := svc.Embed(ctx, texts)
		gt.NoError(t, err).Required()
		for i, v := range vecs {
			gt.Value(t, len(v)).Equal(4)
			gt.Value(t, v[0]).Equal(float32(len(texts[i])))
		}
	})

	t.Run("provider failure is classified", func(t *testing.T) {
		llm := &mockLLMClient{
			generateEmbeddingFn: func(ctx context.Context, dimension int, input []string) ([][]float64, error) {
				return nil, errors.New("quota exhausted")
			},
		}
		svc, err := embedding.New(llm, fastConfig(1))
		gt.NoError(t, err).Required()

		_, err = svc.Embed(ctx, []string{"a"})
		gt.Value(t, model.CodeOf(err)).Equal(model.CodeEmbeddingFailed)
	})

	t.Run("empty provider result is classified", func(t *testing.T) {
		llm := &mockLLMClient{
			generateEmbeddingFn: func(ctx context.Context, dimension int, input []string) ([][]float64, error) {
				return [][]float64{}, nil
			},
		}
		svc, err := embedding.New(llm, fastConfig(1))
		gt.NoError(t, err).Required()

		_, err = svc.Embed(ctx, []string{"a"})
		gt.Value(t, model.CodeOf(err)).Equal(model.CodeEmbeddingFailed)
	})

	t.Run("cancelled context stops waiting", func(t *testing.T) {
		llm := &mockLLMClient{}
		svc, err := embedding.New(llm, config.EmbeddingConfig{RatePerSecond: 0.001, Burst: 1, Workers: 1})
		gt.NoError(t, err).Required()

		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err = svc.Embed(cctx, []string{"a", "b"})
		gt.Value(t, err).NotNil()
	})

	t.Run("hung provider call is cut by the timeout", func(t *testing.T) {
		llm := &mockLLMClient{
			generateEmbeddingFn: func(ctx context.Context, dimension int, input []string) ([][]float64, error) {
				<-ctx.Done()
				return nil, ctx.Err()
			},
		}
		cfg := fastConfig(1)
		cfg.Timeout = 50 * time.Millisecond
		svc, err := embedding.New(llm, cfg)
		gt.NoError(t, err).Required()

		done := make(chan error, 1)
		go func() {
			_, err := svc.Embed(context.Background(), []string{"a"})
			done <- err
		}()

		select {
		case err := <-done:
			gt.Value(t, model.CodeOf(err)).Equal(model.CodeEmbeddingFailed)
			gt.String(t, err.Error()).Contains("timed out")
		case <-time.After(3 * time.Second):
			t.Fatal("Embed did not return after the provider timeout")
		}
	})

	t.Run("no texts returns empty result", func(t *testing.T) {
		svc, err := embedding.New(&mockLLMClient{}, fastConfig(1))
		gt.NoError(t, err).Required()

		vecs, err := svc.Embed(ctx, nil)
		gt.NoError(t, err)
		gt.Array(t, vecs).Length(0)
	})
}
