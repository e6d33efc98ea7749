package api

import "github.com/replyworks/sage/pkg/models"

// PatchDraftRequest is the HTTP request body for PATCH /api/v1/ingest/drafts/:id.
type PatchDraftRequest struct {
	Edits []models.ChunkEdit `json:"edits"`
}

// SubscribeRequest is the HTTP request body for POST /api/v1/webhooks/subscriptions.
type SubscribeRequest struct {
	URL    string                 `json:"url"`
	Kinds  []string               `json:"kinds"`
	Secret string                 `json:"secret,omitempty"`
	Policy *models.DeliveryPolicy `json:"policy,omitempty"`
}

// StageChunksRequest is the JSON alternative to a multipart upload for
// POST /api/v1/ingest: pre-extracted question/answer pairs.
type StageChunksRequest struct {
	Filename string       `json:"filename,omitempty"`
	Pairs    []StagedPair `json:"pairs"`
}

// StagedPair is one candidate pair in a StageChunksRequest.
type StagedPair struct {
	Question string   `json:"question"`
	Answer   string   `json:"answer"`
	Category string   `json:"category,omitempty"`
	Intent   string   `json:"intent,omitempty"`
	Language string   `json:"language,omitempty"`
	Tags     []string `json:"tags,omitempty"`
}
