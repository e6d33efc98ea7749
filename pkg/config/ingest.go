package config

import "time"

// IngestConfig tunes upload parsing, auto-classification, and staging.
type IngestConfig struct {
	// K-means cluster counts. NumCategories is capped at the chunk count.
	NumCategories      int `yaml:"num_categories"`
	IntentsPerCategory int `yaml:"intents_per_category"`

	// KMeansMaxIters and KMeansSeed make clustering deterministic.
	KMeansMaxIters int   `yaml:"kmeans_max_iters"`
	KMeansSeed     int64 `yaml:"kmeans_seed"`

	// Cluster naming: exact registry match first, nearest exemplar centroid
	// above NamingSimilarityFloor second, LLM one-shot prompt last.
	NamingSimilarityFloor float64 `yaml:"naming_similarity_floor"`

	// Handoff detection band. Keyword score below HandoffLow → no handoff,
	// above HandoffHigh → handoff; inside the band the LLM decides.
	HandoffLow  float64 `yaml:"handoff_low"`
	HandoffHigh float64 `yaml:"handoff_high"`

	// DraftTTL is the staging draft lifetime; clamped to [1h, 24h].
	DraftTTL time.Duration `yaml:"draft_ttl"`

	// CommittedDraftTTL is the shortened lifetime applied after commit so
	// reviewers can still inspect the outcome briefly.
	CommittedDraftTTL time.Duration `yaml:"committed_draft_ttl"`

	// CommitLockTTL bounds how long a crashed commit can hold a draft lock.
	CommitLockTTL time.Duration `yaml:"commit_lock_ttl"`

	// MaxUploadBytes bounds one stage request (all files combined).
	MaxUploadBytes int64 `yaml:"max_upload_bytes"`
}
