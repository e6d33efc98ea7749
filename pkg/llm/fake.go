package llm

import (
	"context"
	"hash/fnv"
	"math"
	"math/rand"
	"sync"
)

// Fake is a deterministic in-memory Provider for tests and dev mode.
// Embeddings are derived from a hash of the input text, so the same text
// always produces the same unit vector. Chat replies come from a FIFO queue
// of scripted responses, falling back to ReplyFunc, then to a fixed string.
type Fake struct {
	mu   sync.Mutex
	dims int

	replies   []string
	ReplyFunc func(req ChatRequest) string
	EmbedFunc func(text string) []float32

	chatErr  error
	embedErr error

	ChatCalls  []ChatRequest
	EmbedCalls [][]string
}

// NewFake creates a fake provider emitting vectors of the given dimension.
func NewFake(dims int) *Fake {
	if dims <= 0 {
		dims = 768
	}
	return &Fake{dims: dims}
}

func (f *Fake) Name() string { return "fake" }

// EnqueueChat scripts the next chat replies in order.
func (f *Fake) EnqueueChat(replies ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies = append(f.replies, replies...)
}

// FailChat makes every subsequent Chat call return err (nil clears it).
func (f *Fake) FailChat(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chatErr = err
}

// FailEmbed makes every subsequent Embed call return err (nil clears it).
func (f *Fake) FailEmbed(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.embedErr = err
}

func (f *Fake) Chat(ctx context.Context, req ChatRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ChatCalls = append(f.ChatCalls, req)
	if f.chatErr != nil {
		return "", f.chatErr
	}
	if len(f.replies) > 0 {
		reply := f.replies[0]
		f.replies = f.replies[1:]
		return reply, nil
	}
	if f.ReplyFunc != nil {
		return f.ReplyFunc(req), nil
	}
	return "Based on the provided context, here is what I found.", nil
}

func (f *Fake) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.EmbedCalls = append(f.EmbedCalls, append([]string(nil), texts...))
	if f.embedErr != nil {
		return nil, f.embedErr
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if f.EmbedFunc != nil {
			out[i] = f.EmbedFunc(text)
			continue
		}
		out[i] = hashVector(text, f.dims)
	}
	return out, nil
}

// hashVector derives a unit vector from the text. Distinct texts land
// near-orthogonal in high dimensions, which is what retrieval tests need.
func hashVector(text string, dims int) []float32 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	rng := rand.New(rand.NewSource(int64(h.Sum64())))

	v := make([]float32, dims)
	var norm float64
	for i := range v {
		x := rng.NormFloat64()
		v[i] = float32(x)
		norm += x * x
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		v[0] = 1
		return v
	}
	for i := range v {
		v[i] = float32(float64(v[i]) / norm)
	}
	return v
}
