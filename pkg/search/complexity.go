package search

import (
	"strings"

	"github.com/replyworks/sage/pkg/config"
	"github.com/replyworks/sage/pkg/similarity"
)

// Complexity scoring weights. The score is a cheap structural estimate of
// how many retrieval hops a question needs; no model call is involved.
const (
	weightQuestionWord = 1.0
	weightConnector    = 1.5
	weightConjunction  = 0.75
	weightComma        = 0.5
)

// Interrogatives, English and Spanish. Accented forms are the question
// forms; unaccented "cuando"/"donde" are connectors, counted below.
var questionWords = map[string]struct{}{
	"what": {}, "why": {}, "how": {}, "when": {}, "where": {}, "which": {},
	"who": {}, "whom": {}, "whose": {},
	"qué": {}, "cómo": {}, "cuándo": {}, "dónde": {}, "cuál": {},
	"cuáles": {}, "quién": {}, "quiénes": {},
}

// Logical connectors that signal dependent clauses.
var connectorWords = map[string]struct{}{
	"because": {}, "therefore": {}, "after": {}, "before": {}, "then": {},
	"once": {}, "unless": {}, "until": {}, "although": {}, "however": {},
	"if": {}, "while": {},
	"porque": {}, "entonces": {}, "después": {}, "antes": {}, "aunque": {},
	"si": {}, "luego": {}, "mientras": {}, "hasta": {}, "cuando": {},
}

var conjunctionWords = map[string]struct{}{
	"and": {}, "or": {}, "but": {}, "nor": {},
	"y": {}, "o": {}, "pero": {}, "ni": {},
}

// ComplexityScore estimates structural question complexity as a weighted
// sum of interrogative count, connector count, conjunction count, comma
// count, and a token-length bucket.
func ComplexityScore(question string) float64 {
	tokens := similarity.Tokenize(question)
	score := 0.0
	for _, t := range tokens {
		if _, ok := questionWords[t]; ok {
			score += weightQuestionWord
		}
		if _, ok := connectorWords[t]; ok {
			score += weightConnector
		}
		if _, ok := conjunctionWords[t]; ok {
			score += weightConjunction
		}
	}
	score += weightComma * float64(strings.Count(question, ","))
	score += lengthBucket(len(tokens))
	return score
}

func lengthBucket(tokens int) float64 {
	switch {
	case tokens <= 8:
		return 0
	case tokens <= 16:
		return 1
	case tokens <= 28:
		return 2
	default:
		return 3
	}
}

// NumHops maps the complexity score to a hop count in {1, 2, 3}, clamped
// to the configured maximum. Hop 1 is the initial retrieval.
func NumHops(question string, cfg *config.SearchConfig) int {
	score := ComplexityScore(question)
	hops := 1
	switch {
	case score >= cfg.ComplexityHigh:
		hops = 3
	case score >= cfg.ComplexityMedium:
		hops = 2
	}
	if cfg.MaxHops > 0 && hops > cfg.MaxHops {
		hops = cfg.MaxHops
	}
	return hops
}
