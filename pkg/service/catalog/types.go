package catalog

import (
	"context"

	"github.com/secmon-lab/ingestd/pkg/domain/model"
	"github.com/secmon-lab/ingestd/pkg/domain/types"
)

// Service structures extracted source text into normalized catalog items
type Service interface {
	// Structure asks the LLM for items of the given kind that appear in the text,
	// then normalizes and verifies them. An LLM reply that cannot be parsed yields
	// an empty item list, never invented items.
	Structure(ctx context.Context, input Input) (*Result, error)
}

// Input is the text to structure
type Input struct {
	Kind types.CatalogKind
	Text string
}

// Result holds normalized items and review warnings
type Result struct {
	Items    []model.CatalogItem
	Warnings []string
}

// rawItem is one element of the LLM reply before normalization
type rawItem struct {
	Name        string
	Description string
	Price       float64
	HasPrice    bool
	Currency    string
	Category    string
}
