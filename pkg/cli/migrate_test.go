package cli_test

import (
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/ingestd/pkg/cli"
	"github.com/secmon-lab/ingestd/pkg/domain/model"
)

func TestGetIndexConfig(t *testing.T) {
	cfg := cli.GetIndexConfig()

	names := map[string]int{}
	for _, c := range cfg.Collections {
		names[c.Name] = len(c.Indexes)
	}
	gt.Value(t, names).Equal(map[string]int{
		"knowledgeDocs":     1,
		"chunks":            2,
		"catalogIngestJobs": 2,
	})

	vectors := 0
	for _, c := range cfg.Collections {
		for _, idx := range c.Indexes {
			for _, f := range idx.Fields {
				if f.Vector != nil {
					gt.Value(t, c.Name).Equal("chunks")
					gt.Value(t, f.Path).Equal("Embedding")
					gt.Value(t, f.Vector.Dimension).Equal(model.EmbeddingDimension)
					vectors++
				}
			}
		}
	}
	gt.Value(t, vectors).Equal(1)
}
