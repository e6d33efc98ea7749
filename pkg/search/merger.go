package search

import (
	"fmt"
	"sort"
	"strings"

	"github.com/replyworks/sage/pkg/models"
)

// MergeContext concatenates pair texts in score order under a whitespace
// token budget, each block tagged with its origin hop ([primary] for the
// initial retrieval, [hop1], [hop2], ... for expansions). When over budget,
// expansion pairs are dropped before initial-retrieval pairs, lowest score
// first. The top pair is always included whole, budget or not: generation
// without its primary grounding is worse than a long prompt.
func MergeContext(pairs []models.ScoredPair, budget int) string {
	if len(pairs) == 0 {
		return ""
	}

	ordered := make([]models.ScoredPair, len(pairs))
	copy(ordered, pairs)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Score > ordered[j].Score })

	type block struct {
		sp     models.ScoredPair
		text   string
		tokens int
	}
	blocks := make([]block, len(ordered))
	total := 0
	for i, sp := range ordered {
		text := fmt.Sprintf("%s %s\n%s", hopMarker(sp.Hop), sp.Pair.Question, sp.Pair.Answer)
		blocks[i] = block{sp: sp, text: text, tokens: len(strings.Fields(text))}
		total += blocks[i].tokens
	}

	// The primary is the best initial-retrieval pair, which set the
	// retrieval confidence. Expansion pairs can outscore it on their own
	// scale; they are still evicted first.
	primary := 0
	for i := range blocks {
		if blocks[i].sp.Hop == 0 {
			primary = i
			break
		}
	}

	drop := make([]bool, len(blocks))
	for budget > 0 && total > budget {
		worst := -1
		for i := range blocks {
			if drop[i] || i == primary {
				continue
			}
			if worst < 0 || lessRelevant(blocks[i].sp, blocks[worst].sp) {
				worst = i
			}
		}
		if worst < 0 {
			break
		}
		drop[worst] = true
		total -= blocks[worst].tokens
	}

	var b strings.Builder
	for i, blk := range blocks {
		if drop[i] {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(blk.text)
	}
	return b.String()
}

func hopMarker(hop int) string {
	if hop == 0 {
		return "[primary]"
	}
	return fmt.Sprintf("[hop%d]", hop)
}

// lessRelevant orders eviction candidates: expansion pairs go before
// initial-retrieval pairs, then lower score goes first.
func lessRelevant(a, b models.ScoredPair) bool {
	aHop := a.Hop > 0
	bHop := b.Hop > 0
	if aHop != bHop {
		return aHop
	}
	return a.Score < b.Score
}
