package chunker

import (
	"strings"
	"unicode/utf8"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/ingestd/pkg/domain/model"
	"github.com/secmon-lab/ingestd/pkg/domain/model/config"
)

// Chunk is a unique piece of text with its position among unique chunks
type Chunk struct {
	Index int
	Text  string
	Hash  string
}

// Split cuts text into overlapping windows of cfg.Size runes. Each cut snaps
// forward to just after the nearest '.' or newline when one lies within
// cfg.SnapWindow runes; pieces shorter than cfg.MinChars are dropped unless
// the whole text fits in one window.
func Split(text string, cfg config.ChunkConfig) []string {
	r := []rune(text)
	n := len(r)

	var pieces []string
	for start := 0; start < n; {
		end := start + cfg.Size
		if end >= n {
			end = n
		} else {
			limit := end + cfg.SnapWindow
			if limit > n {
				limit = n
			}
			for i := end; i < limit; i++ {
				if r[i] == '.' || r[i] == '\n' {
					end = i + 1
					break
				}
			}
		}

		piece := strings.TrimSpace(string(r[start:end]))
		whole := start == 0 && end >= n
		if utf8.RuneCountInString(piece) >= cfg.MinChars || (whole && piece != "") {
			pieces = append(pieces, piece)
		}
		if end >= n {
			break
		}

		next := end - cfg.Overlap
		if next <= start {
			next = end
		}
		start = next
	}
	return pieces
}

// Dedup keeps the first occurrence of each distinct piece and numbers the
// survivors in order
func Dedup(pieces []string) []Chunk {
	seen := make(map[string]struct{}, len(pieces))
	chunks := make([]Chunk, 0, len(pieces))
	for _, p := range pieces {
		h := model.HashText(p)
		if _, ok := seen[h]; ok {
			continue
		}
		seen[h] = struct{}{}
		chunks = append(chunks, Chunk{Index: len(chunks), Text: p, Hash: h})
	}
	return chunks
}

// Build splits and deduplicates in one step
func Build(text string, cfg config.ChunkConfig) []Chunk {
	return Dedup(Split(text, cfg))
}

// CheckQuota fails when the tenant's active chunks outside this document plus
// the new unique chunks would exceed limit
func CheckQuota(tenantActive, docActive, newChunks, limit int) error {
	existing := tenantActive - docActive
	if existing < 0 {
		existing = 0
	}
	if existing+newChunks > limit {
		return goerr.Wrap(model.Errorf(model.CodeQuotaExceeded, "%d existing + %d new > %d", existing, newChunks, limit),
			"tenant chunk quota exceeded",
			goerr.V("existing", existing), goerr.V("new", newChunks), goerr.V("limit", limit))
	}
	return nil
}
