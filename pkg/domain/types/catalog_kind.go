package types

import "fmt"

// CatalogKind is the listing subcollection a catalog job extracts into
type CatalogKind string

const (
	CatalogKindMenuItems CatalogKind = "menuItems"
	CatalogKindServices  CatalogKind = "services"
	CatalogKindOfferings CatalogKind = "offerings"
	CatalogKindTickets   CatalogKind = "tickets"
	CatalogKindRoomTypes CatalogKind = "roomTypes"
)

// AllCatalogKinds returns all valid catalog kinds
func AllCatalogKinds() []CatalogKind {
	return []CatalogKind{
		CatalogKindMenuItems,
		CatalogKindServices,
		CatalogKindOfferings,
		CatalogKindTickets,
		CatalogKindRoomTypes,
	}
}

// IsValid checks if the catalog kind is valid
func (k CatalogKind) IsValid() bool {
	switch k {
	case CatalogKindMenuItems,
		CatalogKindServices,
		CatalogKindOfferings,
		CatalogKindTickets,
		CatalogKindRoomTypes:
		return true
	default:
		return false
	}
}

// Noun returns a human readable plural used in LLM prompts
func (k CatalogKind) Noun() string {
	switch k {
	case CatalogKindMenuItems:
		return "menu items (dishes and drinks)"
	case CatalogKindServices:
		return "services"
	case CatalogKindOfferings:
		return "offerings"
	case CatalogKindTickets:
		return "tickets"
	case CatalogKindRoomTypes:
		return "room types"
	default:
		return "items"
	}
}

func (k CatalogKind) String() string {
	return string(k)
}

// ParseCatalogKind parses a string into a CatalogKind
func ParseCatalogKind(s string) (CatalogKind, error) {
	k := CatalogKind(s)
	if !k.IsValid() {
		return "", fmt.Errorf("invalid catalog kind: %s", s)
	}
	return k, nil
}
