package catalog

import (
	"strings"

	"github.com/m-mizutani/gollem"
	"github.com/secmon-lab/ingestd/pkg/domain/types"
)

// buildSystemPrompt creates the fixed system prompt for catalog structuring
func buildSystemPrompt(kind types.CatalogKind) string {
	var sb strings.Builder

	sb.WriteString("You are a catalog extraction assistant. Your task is to list the ")
	sb.WriteString(kind.Noun())
	sb.WriteString(" that appear in the source text.\n\n")
	sb.WriteString("## Instructions:\n\n")
	sb.WriteString("1. Only include items that are explicitly present in the source text. Never invent, guess or complete items.\n")
	sb.WriteString("2. For each item, provide:\n")
	sb.WriteString("   - name: The item name exactly as written in the source\n")
	sb.WriteString("   - description: A short description if the source has one\n")
	sb.WriteString("   - price: The numeric price exactly as written, without currency symbols. Omit it when no price is given\n")
	sb.WriteString("   - currency: The currency code or symbol shown next to the price (TRY, EUR, GBP, USD)\n")
	sb.WriteString("   - category: The section or category heading the item belongs to, if any\n")
	sb.WriteString("3. Keep the language of the source text. Do not translate.\n")
	sb.WriteString("4. If no items are present, return an empty array.\n")

	return sb.String()
}

// buildUserPrompt creates the user prompt with the source text
func buildUserPrompt(kind types.CatalogKind, text string) string {
	var sb strings.Builder

	sb.WriteString("Extract all ")
	sb.WriteString(kind.Noun())
	sb.WriteString(" from the following source text.\n\n")
	sb.WriteString("## Source Content:\n\n")
	sb.WriteString(text)
	sb.WriteString("\n")

	return sb.String()
}

// buildResponseSchema creates the JSON schema for structured output
func buildResponseSchema() *gollem.Parameter {
	return &gollem.Parameter{
		Title:       "CatalogExtractionResponse",
		Description: "Catalog items found in the source content",
		Type:        gollem.TypeObject,
		Properties: map[string]*gollem.Parameter{
			"items": {
				Type:        gollem.TypeArray,
				Description: "Items present in the source content",
				Required:    true,
				Items: &gollem.Parameter{
					Type: gollem.TypeObject,
					Properties: map[string]*gollem.Parameter{
						"name": {
							Type:        gollem.TypeString,
							Description: "Item name as written in the source",
							Required:    true,
						},
						"description": {
							Type:        gollem.TypeString,
							Description: "Short item description",
						},
						"price": {
							Type:        gollem.TypeNumber,
							Description: "Numeric price without currency",
						},
						"currency": {
							Type:        gollem.TypeString,
							Description: "Currency code or symbol",
						},
						"category": {
							Type:        gollem.TypeString,
							Description: "Section or category heading",
						},
					},
				},
			},
		},
	}
}
