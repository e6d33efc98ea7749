// Package models contains request/response models and business domain types.
package models

import "time"

// Pair status values.
const (
	PairStatusActive   = "active"
	PairStatusArchived = "archived"
)

// Supported corpus languages. Language detection falls back to LanguageEnglish.
const (
	LanguageEnglish = "en"
	LanguageSpanish = "es"
)

// QAPair is the atomic (question, answer, metadata) record that is the unit
// of retrieval and generation grounding. Committed pairs always have
// non-empty question, answer, category, and intent, and confidence in [0,1].
type QAPair struct {
	ID               string    `json:"id" db:"id"`
	Question         string    `json:"question" db:"question"`
	Answer           string    `json:"answer" db:"answer"`
	Category         string    `json:"category" db:"category"`
	Intent           string    `json:"intent" db:"intent"`
	RequiresHandoff  bool      `json:"requires_handoff" db:"requires_handoff"`
	Language         string    `json:"language" db:"language"`
	Confidence       float64   `json:"confidence" db:"confidence"`
	SourceDocumentID string    `json:"source_document_id" db:"source_document_id"`
	Tags             []string  `json:"tags,omitempty"`
	SeeAlso          []string  `json:"see_also,omitempty"`
	Status           string    `json:"status" db:"status"`
	CreatedAt        time.Time `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time `json:"updated_at" db:"updated_at"`
}

// Text returns the retrieval text of the pair: question and answer joined,
// which is what the lexical index and the reranker score against.
func (p *QAPair) Text() string {
	return p.Question + "\n" + p.Answer
}
