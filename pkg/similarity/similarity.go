// Package similarity holds the lexical and vector similarity primitives
// shared by caching, retrieval, guardrails, and dialog loop detection.
// Everything here is pure computation with no I/O.
package similarity

import (
	"math"
	"strings"
	"unicode"
)

// Tokenize lowercases the text and splits it on anything that is not a
// letter or digit. Punctuation and symbols never survive tokenization.
func Tokenize(s string) []string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsNumber(r) {
			b.WriteRune(r)
		} else {
			b.WriteByte(' ')
		}
	}
	return strings.Fields(b.String())
}

// ContentTokens is Tokenize with stopwords removed. When every token is a
// stopword the full token list is returned instead, so short questions like
// "how does it work" keep a usable key.
func ContentTokens(s string) []string {
	tokens := Tokenize(s)
	kept := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		if !IsStopword(tok) {
			kept = append(kept, tok)
		}
	}
	if len(kept) == 0 {
		return tokens
	}
	return kept
}

// IsStopword reports whether the token is in the bilingual stopword set.
func IsStopword(token string) bool {
	return stopwords[token]
}

// OverlapRatio returns |a ∩ b| / |a| over unique tokens: the fraction of
// a's tokens that also appear in b. Empty a yields 0.
func OverlapRatio(a, b []string) float64 {
	if len(a) == 0 {
		return 0
	}
	bset := make(map[string]struct{}, len(b))
	for _, t := range b {
		bset[t] = struct{}{}
	}
	aset := make(map[string]struct{}, len(a))
	matched := 0
	for _, t := range a {
		if _, seen := aset[t]; seen {
			continue
		}
		aset[t] = struct{}{}
		if _, ok := bset[t]; ok {
			matched++
		}
	}
	return float64(matched) / float64(len(aset))
}

// Jaccard returns |a ∩ b| / |a ∪ b| over unique tokens.
func Jaccard(a, b []string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	aset := make(map[string]struct{}, len(a))
	for _, t := range a {
		aset[t] = struct{}{}
	}
	union := make(map[string]struct{}, len(a)+len(b))
	for t := range aset {
		union[t] = struct{}{}
	}
	inter := 0
	for _, t := range b {
		if _, dup := union[t]; dup {
			if _, inA := aset[t]; inA {
				// count each intersection token once
				delete(aset, t)
				inter++
			}
			continue
		}
		union[t] = struct{}{}
	}
	if len(union) == 0 {
		return 0
	}
	return float64(inter) / float64(len(union))
}

// Cosine returns the cosine similarity of two vectors. Mismatched lengths
// or zero vectors yield 0.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// Centroid returns the arithmetic mean of the vectors. Vectors that do not
// match the first vector's length are skipped; nil input yields nil.
func Centroid(vecs [][]float32) []float32 {
	if len(vecs) == 0 {
		return nil
	}
	dims := len(vecs[0])
	sum := make([]float64, dims)
	n := 0
	for _, v := range vecs {
		if len(v) != dims {
			continue
		}
		for i := range v {
			sum[i] += float64(v[i])
		}
		n++
	}
	if n == 0 {
		return nil
	}
	out := make([]float32, dims)
	for i := range sum {
		out[i] = float32(sum[i] / float64(n))
	}
	return out
}
