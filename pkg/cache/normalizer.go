// Package cache implements the normalized-query answer cache: a Redis exact
// lookup keyed by a canonical form of the question, with an optional
// in-process semantic index for near-duplicate queries.
package cache

import (
	"sort"
	"strings"

	"github.com/replyworks/sage/pkg/similarity"
)

// Normalize derives the canonical cache key for a question: lowercase,
// punctuation stripped, bilingual stopwords removed, tokens sorted and
// joined with single spaces. Word-order permutations and punctuation
// variants of the same question therefore share one key. Questions made
// entirely of stopwords keep their full token set so they do not all
// collapse onto the empty key.
func Normalize(question string) string {
	tokens := similarity.ContentTokens(question)
	sorted := make([]string, len(tokens))
	copy(sorted, tokens)
	sort.Strings(sorted)
	return strings.Join(sorted, " ")
}
