// Package search implements hybrid retrieval: a vector leg over pgvector,
// an in-process BM25 leg, reciprocal-rank fusion, cross-encoder reranking,
// complexity-driven multi-hop expansion, and context merging.
package search

import (
	"math"
	"sort"
	"sync"

	"github.com/replyworks/sage/pkg/models"
	"github.com/replyworks/sage/pkg/similarity"
)

// BM25 shape parameters. Standard values; not worth configuring until a
// corpus shows they should move.
const (
	bm25K1 = 1.5
	bm25B  = 0.75
)

// LexicalHit is one BM25 result.
type LexicalHit struct {
	PairID string
	Score  float64
}

type lexicalDoc struct {
	pairID   string
	category string
	intent   string
	language string
	terms    map[string]int
	length   int
}

// LexicalIndex is an in-process BM25 index over the active pair corpus
// (question + answer text). It is rebuilt wholesale on registry refresh and
// read-locked during queries; the corpus is small enough that a full scan
// per query is cheaper than maintaining posting lists incrementally.
type LexicalIndex struct {
	mu     sync.RWMutex
	docs   []lexicalDoc
	df     map[string]int
	avgLen float64
}

func NewLexicalIndex() *LexicalIndex {
	return &LexicalIndex{df: map[string]int{}}
}

// Rebuild replaces the index contents with the given pairs.
func (idx *LexicalIndex) Rebuild(pairs []models.QAPair) {
	docs := make([]lexicalDoc, 0, len(pairs))
	df := make(map[string]int)
	totalLen := 0

	for i := range pairs {
		p := &pairs[i]
		tokens := similarity.ContentTokens(p.Text())
		if len(tokens) == 0 {
			continue
		}
		terms := make(map[string]int, len(tokens))
		for _, t := range tokens {
			terms[t]++
		}
		for t := range terms {
			df[t]++
		}
		totalLen += len(tokens)
		docs = append(docs, lexicalDoc{
			pairID:   p.ID,
			category: p.Category,
			intent:   p.Intent,
			language: p.Language,
			terms:    terms,
			length:   len(tokens),
		})
	}

	avg := 0.0
	if len(docs) > 0 {
		avg = float64(totalLen) / float64(len(docs))
	}

	idx.mu.Lock()
	idx.docs = docs
	idx.df = df
	idx.avgLen = avg
	idx.mu.Unlock()
}

// Size returns the number of indexed documents.
func (idx *LexicalIndex) Size() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.docs)
}

// Search scores the query against every document passing the filter and
// returns up to limit hits, best first. Ties are broken by pair id so the
// ordering is stable between runs.
func (idx *LexicalIndex) Search(query string, filter *models.SearchFilter, limit int) []LexicalHit {
	tokens := similarity.ContentTokens(query)
	if len(tokens) == 0 || limit <= 0 {
		return nil
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()
	if len(idx.docs) == 0 {
		return nil
	}

	n := float64(len(idx.docs))
	hits := make([]LexicalHit, 0, limit)
	for i := range idx.docs {
		doc := &idx.docs[i]
		if !matchesFilter(doc, filter) {
			continue
		}
		score := 0.0
		for _, t := range tokens {
			tf := doc.terms[t]
			if tf == 0 {
				continue
			}
			df := float64(idx.df[t])
			idf := math.Log(1 + (n-df+0.5)/(df+0.5))
			norm := 1 - bm25B + bm25B*float64(doc.length)/idx.avgLen
			score += idf * float64(tf) * (bm25K1 + 1) / (float64(tf) + bm25K1*norm)
		}
		if score > 0 {
			hits = append(hits, LexicalHit{PairID: doc.pairID, Score: score})
		}
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].PairID < hits[j].PairID
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits
}

func matchesFilter(doc *lexicalDoc, filter *models.SearchFilter) bool {
	if filter == nil {
		return true
	}
	if filter.Category != "" && doc.category != filter.Category {
		return false
	}
	if filter.Intent != "" && doc.intent != filter.Intent {
		return false
	}
	if filter.Language != "" && doc.language != filter.Language {
		return false
	}
	return true
}
