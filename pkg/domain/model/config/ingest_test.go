package config_test

import (
	"strings"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/ingestd/pkg/domain/model/config"
)

func TestPdfPolicy_LooksBad(t *testing.T) {
	policy := config.DefaultIngestConfig().PDF
	good := strings.Repeat("Kebab 150 TRY. ", 30)

	tests := []struct {
		name  string
		text  string
		pages int
		want  bool
	}{
		{"good text", good, 2, false},
		{"too short", "Kebab 150", 1, true},
		{"replacement char", good + "�", 1, true},
		{"sparse pages", good, 100, true},
		{"unknown page count", good, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gt.Value(t, policy.LooksBad(tt.text, tt.pages)).Equal(tt.want)
		})
	}

	t.Run("replacement char allowed when disabled", func(t *testing.T) {
		p := policy
		p.RejectReplacementChar = false
		gt.Bool(t, p.LooksBad(good+"�", 1)).False()
	})
}

func TestPdfPolicy_TooManyPages(t *testing.T) {
	policy := config.PdfPolicy{MaxPages: 10}
	gt.Bool(t, policy.TooManyPages(10)).False()
	gt.Bool(t, policy.TooManyPages(11)).True()
	gt.Bool(t, config.PdfPolicy{}.TooManyPages(1000)).False()
}

func TestIngestConfig_Validate(t *testing.T) {
	gt.NoError(t, config.DefaultIngestConfig().Validate())

	cfg := config.DefaultIngestConfig()
	cfg.Chunk.Overlap = cfg.Chunk.Size
	gt.Error(t, cfg.Validate())

	cfg = config.DefaultIngestConfig()
	cfg.Knowledge.TenantChunkCap = 0
	gt.Error(t, cfg.Validate())
}
