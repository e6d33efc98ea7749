// Package llm abstracts the language-model provider behind a small
// interface: chat completion and text embedding. The Gemini implementation
// is the production provider; a deterministic fake serves tests and dev mode.
package llm

import "context"

// Message roles. They match the session turn roles so conversation history
// maps straight through.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn of a chat conversation.
type Message struct {
	Role    string
	Content string
}

// ChatRequest is a single chat completion call. System is kept separate from
// Messages because providers carry it out-of-band.
type ChatRequest struct {
	System      string
	Messages    []Message
	Temperature *float64
	MaxTokens   *int
}

// Provider is the minimal LLM surface the pipeline depends on. Embed returns
// one vector per input text, in input order.
type Provider interface {
	Name() string
	Chat(ctx context.Context, req ChatRequest) (string, error)
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}
