package catalog

import (
	"strings"

	"github.com/secmon-lab/ingestd/pkg/domain/model"
)

// Diff compares proposed items with a listing's current items. An item matching
// by id is unchanged, one matching only by name is updated, the rest are added.
// Current items matched by neither count as removed.
func Diff(current []*model.CatalogItem, proposed []model.CatalogItem) model.DiffSummary {
	byID := make(map[string]struct{}, len(current))
	byName := make(map[string]struct{}, len(current))
	for _, c := range current {
		byID[c.ID] = struct{}{}
		byName[nameKey(c.Name)] = struct{}{}
	}

	var diff model.DiffSummary
	matchedIDs := make(map[string]struct{}, len(proposed))
	matchedNames := make(map[string]struct{}, len(proposed))
	for _, p := range proposed {
		matchedIDs[p.ID] = struct{}{}
		matchedNames[nameKey(p.Name)] = struct{}{}

		switch {
		case hasKey(byID, p.ID):
		case hasKey(byName, nameKey(p.Name)):
			diff.Updated++
		default:
			diff.Added++
		}
	}

	for _, c := range current {
		if !hasKey(matchedIDs, c.ID) && !hasKey(matchedNames, nameKey(c.Name)) {
			diff.Removed++
		}
	}
	return diff
}

func nameKey(s string) string {
	return strings.ToLower(collapseSpaces(s))
}

func hasKey(m map[string]struct{}, k string) bool {
	_, ok := m[k]
	return ok
}
