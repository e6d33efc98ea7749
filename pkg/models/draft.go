package models

import "time"

// Draft status values.
const (
	DraftStatusPending   = "pending"
	DraftStatusReviewed  = "reviewed"
	DraftStatusCommitted = "committed"
	DraftStatusDiscarded = "discarded"
)

// DraftChunk is one candidate pair inside a staging draft, carrying the
// auto-classification scores a reviewer sees before committing.
type DraftChunk struct {
	ChunkID            string   `json:"chunk_id"`
	Question           string   `json:"question"`
	Answer             string   `json:"answer"`
	Category           string   `json:"category"`
	Intent             string   `json:"intent"`
	Language           string   `json:"language"`
	RequiresHandoff    bool     `json:"requires_handoff"`
	Tags               []string `json:"tags,omitempty"`
	CategoryConfidence float64  `json:"category_confidence"`
	IntentConfidence   float64  `json:"intent_confidence"`
	HandoffScore       float64  `json:"handoff_score"`
}

// StagingDraft is a transient, human-reviewable bundle of candidate pairs.
// Drafts live only in the k/v store and are invisible to the query pipeline
// until committed. DocumentID is set once the draft commits, so a replayed
// commit can return the existing document instead of writing twice.
type StagingDraft struct {
	ID         string       `json:"id"`
	Filename   string       `json:"filename"`
	Chunks     []DraftChunk `json:"chunks"`
	Status     string       `json:"status"`
	DocumentID string       `json:"document_id,omitempty"`
	CreatedAt  time.Time    `json:"created_at"`
	UpdatedAt  time.Time    `json:"updated_at"`
}

// Chunk returns the chunk with the given id, or nil.
func (d *StagingDraft) Chunk(chunkID string) *DraftChunk {
	for i := range d.Chunks {
		if d.Chunks[i].ChunkID == chunkID {
			return &d.Chunks[i]
		}
	}
	return nil
}

// Chunk edit operations accepted by PATCH /ingest/drafts/:id.
const (
	ChunkOpAdd      = "add"
	ChunkOpEdit     = "edit"
	ChunkOpRemove   = "remove"
	ChunkOpSplit    = "split"
	ChunkOpMerge    = "merge"
	ChunkOpReassign = "reassign"
)

// ChunkPart is one half of a split operation.
type ChunkPart struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// ChunkEdit is a single idempotent review operation on a draft chunk.
// Applying the same edit twice leaves the draft unchanged.
type ChunkEdit struct {
	Op      string `json:"op"`
	ChunkID string `json:"chunk_id"`

	// edit / add fields (nil means "leave unchanged")
	Question        *string  `json:"question,omitempty"`
	Answer          *string  `json:"answer,omitempty"`
	Language        *string  `json:"language,omitempty"`
	RequiresHandoff *bool    `json:"requires_handoff,omitempty"`
	Tags            []string `json:"tags,omitempty"`

	// reassign fields
	Category *string `json:"category,omitempty"`
	Intent   *string `json:"intent,omitempty"`

	// split: replacement parts, assigned ids <chunk_id>.1, <chunk_id>.2, …
	Parts []ChunkPart `json:"parts,omitempty"`

	// merge: ids folded into ChunkID, in order
	MergeIDs []string `json:"merge_ids,omitempty"`
}
