package models

import "time"

// CacheEntry is one stored answer keyed by the normalized query. Only
// answers produced with action == auto_reply and confidence at or above the
// configured floor are ever cached.
type CacheEntry struct {
	Key        string    `json:"key"`
	Query      string    `json:"query"`
	Answer     string    `json:"answer"`
	PairIDs    []string  `json:"pair_ids"`
	Confidence float64   `json:"confidence"`
	HitCount   int64     `json:"hit_count"`
	CreatedAt  time.Time `json:"created_at"`
}
