// Package segment splits arbitrary-length answer text into an ordered sequence
// of post-sized chunks with pagination markers.
package segment

import (
	"fmt"
	"strings"

	"github.com/explainbot/pkg/models"
)

const (
	// suffixReserve is the number of characters held back from every chunk for
	// a single-digit pagination suffix " (i/n)". The same reserve is used for
	// the orchestrator's citation-fit check so the two budgets cannot drift.
	suffixReserve = 6

	// minWordBreak is how far a space must sit past the chunk start for it to
	// qualify as a word-boundary cut point.
	minWordBreak = 15
)

// ContentBudget returns the number of characters of content that fit in one
// chunk under the given platform limit.
func ContentBudget(maxLen int) int {
	return maxLen - suffixReserve
}

// Segment splits text into ordered chunks whose rendered length (body plus
// pagination suffix when there is more than one chunk) never exceeds maxLen.
// Lengths are counted in runes so multi-byte text never gets cut mid-character.
// Chunks prefer to break at a space so words stay intact. Empty input yields
// an empty slice. Deterministic and side-effect-free.
func Segment(text string, maxLen int) []models.PostChunk {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}

	runes := []rune(trimmed)

	// Start from the single-digit reserve and widen it until the suffix for
	// the resulting chunk count fits, so markers like (10/12) never push a
	// rendered chunk past maxLen.
	reserve := suffixReserve
	for {
		bodies := split(runes, maxLen-reserve)
		if need := suffixWidth(len(bodies)); need > reserve {
			reserve = need
			continue
		}

		chunks := make([]models.PostChunk, len(bodies))
		for i, body := range bodies {
			chunks[i] = models.PostChunk{
				Body:  body,
				Index: i + 1,
				Total: len(bodies),
			}
		}
		return chunks
	}
}

// split cuts runes into bodies of at most budget runes each, preferring to
// break at a space past minWordBreak.
func split(runes []rune, budget int) []string {
	var bodies []string

	remaining := runes
	for len(remaining) > 0 {
		if len(remaining) <= budget {
			if body := strings.TrimSpace(string(remaining)); body != "" {
				bodies = append(bodies, body)
			}
			break
		}

		cut := budget
		if idx := lastSpace(remaining[:cut]); idx > minWordBreak {
			cut = idx
		}

		if body := strings.TrimSpace(string(remaining[:cut])); body != "" {
			bodies = append(bodies, body)
		}
		remaining = remaining[cut:]
		for len(remaining) > 0 && remaining[0] == ' ' {
			remaining = remaining[1:]
		}
	}

	return bodies
}

func lastSpace(runes []rune) int {
	for i := len(runes) - 1; i >= 0; i-- {
		if runes[i] == ' ' {
			return i
		}
	}
	return -1
}

// suffixWidth is the rendered length of the pagination suffix for the given
// chunk count. Single chunks render without a suffix.
func suffixWidth(total int) int {
	if total <= 1 {
		return 0
	}
	return len(fmt.Sprintf(" (%d/%d)", total, total))
}
