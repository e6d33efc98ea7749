package models

import "time"

// Document status values.
const (
	DocumentStatusActive   = "active"
	DocumentStatusArchived = "archived"
)

// Document groups the pairs committed from one ingested source file.
// Archiving a document archives its pairs in the same transaction.
type Document struct {
	ID        string    `json:"id" db:"id"`
	Title     string    `json:"title" db:"title"`
	PairIDs   []string  `json:"pair_ids"`
	Status    string    `json:"status" db:"status"`
	Version   int       `json:"version" db:"version"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// DocumentWithPairs is the detail view returned by GET /documents/:id.
type DocumentWithPairs struct {
	Document
	Pairs []QAPair `json:"pairs"`
}
