package config

import "time"

// DialogConfig tunes the dialog state machine and routing.
type DialogConfig struct {
	// AutoReplyThreshold is the minimum confidence for action=auto_reply.
	AutoReplyThreshold float64 `yaml:"auto_reply_threshold"`

	// MaxLowConfidenceTurns is the consecutive low-confidence streak that
	// moves the session to CLARIFYING, then ESCALATED.
	MaxLowConfidenceTurns int `yaml:"max_low_confidence_turns"`

	// Loop detection: cosine similarity of question embeddings over the
	// last LoopWindow turns; >= LoopThreshold on >= MinLoopMessages turns
	// counts as a repeated-topic loop.
	LoopThreshold   float64 `yaml:"loop_threshold"`
	LoopWindow      int     `yaml:"loop_window"`
	MinLoopMessages int     `yaml:"min_loop_messages"`
}

// SessionConfig tunes conversation storage.
type SessionConfig struct {
	// TTL is refreshed on every session write.
	TTL time.Duration `yaml:"ttl"`

	// MaxContextTurns is K: how many trailing turns feed generation.
	MaxContextTurns int `yaml:"max_context_turns"`

	// MaxTurns bounds the stored log; older turns are dropped FIFO.
	MaxTurns int `yaml:"max_turns"`

	// EmbeddingWindow bounds the stored question-embedding ring used by
	// loop detection.
	EmbeddingWindow int `yaml:"embedding_window"`
}
