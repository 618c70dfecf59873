package types

import "fmt"

// SourceType is the tag of a Source descriptor
type SourceType string

const (
	SourceTypeURL   SourceType = "url"
	SourceTypePDF   SourceType = "pdf"
	SourceTypeImage SourceType = "image"
	SourceTypeText  SourceType = "text"
)

// AllSourceTypes returns all valid source types
func AllSourceTypes() []SourceType {
	return []SourceType{
		SourceTypeURL,
		SourceTypePDF,
		SourceTypeImage,
		SourceTypeText,
	}
}

// IsValid checks if the source type is valid
func (s SourceType) IsValid() bool {
	switch s {
	case SourceTypeURL,
		SourceTypePDF,
		SourceTypeImage,
		SourceTypeText:
		return true
	default:
		return false
	}
}

// IsBinary reports whether the source refers to downloaded bytes rather than text or HTML
func (s SourceType) IsBinary() bool {
	return s == SourceTypePDF || s == SourceTypeImage
}

func (s SourceType) String() string {
	return string(s)
}

// ParseSourceType parses a string into a SourceType
func ParseSourceType(s string) (SourceType, error) {
	t := SourceType(s)
	if !t.IsValid() {
		return "", fmt.Errorf("invalid source type: %s", s)
	}
	return t, nil
}
