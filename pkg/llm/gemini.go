package llm

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/genai"

	"github.com/replyworks/sage/pkg/config"
	"github.com/replyworks/sage/pkg/metrics"
)

// Gemini calls Google's Gemini API through the genai SDK for both chat
// completion and embedding.
type Gemini struct {
	client *genai.Client
	cfg    *config.LLMConfig
}

// NewGemini creates the production provider. The API key comes from the
// environment (cfg.APIKeyEnv), resolved by the caller.
func NewGemini(ctx context.Context, cfg *config.LLMConfig, apiKey string) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey: apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	return &Gemini{client: client, cfg: cfg}, nil
}

// Name identifies the provider in logs and telemetry.
func (g *Gemini) Name() string { return "gemini" }

// chatRole maps our message roles onto the genai wire roles. Anything that
// is not the assistant speaks as the user.
func chatRole(role string) genai.Role {
	if role == RoleAssistant {
		return genai.RoleModel
	}
	return genai.RoleUser
}

// Chat runs one completion. Temperature and token caps are clamped to the
// configured maximums regardless of what the request asks for.
func (g *Gemini) Chat(ctx context.Context, req ChatRequest) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.RequestTimeout)
	defer cancel()

	contents := make([]*genai.Content, 0, len(req.Messages))
	for _, m := range req.Messages {
		contents = append(contents, genai.NewContentFromText(m.Content, chatRole(m.Role)))
	}

	genCfg := &genai.GenerateContentConfig{}
	if req.System != "" {
		genCfg.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	temperature := g.cfg.MaxTemperature
	if req.Temperature != nil && *req.Temperature < temperature {
		temperature = *req.Temperature
	}
	genCfg.Temperature = genai.Ptr(float32(temperature))
	maxTokens := g.cfg.MaxOutputTokens
	if req.MaxTokens != nil && *req.MaxTokens < maxTokens {
		maxTokens = *req.MaxTokens
	}
	if maxTokens > 0 {
		genCfg.MaxOutputTokens = int32(maxTokens)
	}

	start := time.Now()
	result, err := g.client.Models.GenerateContent(ctx, g.cfg.ChatModel, contents, genCfg)
	metrics.LLMRequestDuration.WithLabelValues("chat").Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.LLMRequests.WithLabelValues("chat", "error").Inc()
		return "", fmt.Errorf("gemini chat failed: %w", err)
	}

	text := result.Text()
	if text == "" {
		metrics.LLMRequests.WithLabelValues("chat", "error").Inc()
		return "", fmt.Errorf("gemini returned an empty response")
	}
	metrics.LLMRequests.WithLabelValues("chat", "ok").Inc()
	return text, nil
}

// Embed returns one vector per text. Batches are capped at
// cfg.EmbedBatchSize per API call; Gemini has native batch support.
func (g *Gemini) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	batchSize := g.cfg.EmbedBatchSize
	if batchSize <= 0 {
		batchSize = 64
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += batchSize {
		end := start + batchSize
		if end > len(texts) {
			end = len(texts)
		}
		vecs, err := g.embedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, vecs...)
	}
	return out, nil
}

func (g *Gemini) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.RequestTimeout)
	defer cancel()

	contents := make([]*genai.Content, len(texts))
	for i, text := range texts {
		contents[i] = genai.NewContentFromText(text, genai.RoleUser)
	}

	start := time.Now()
	result, err := g.client.Models.EmbedContent(ctx,
		g.cfg.EmbedModel,
		contents,
		&genai.EmbedContentConfig{
			TaskType: "SEMANTIC_SIMILARITY",
		},
	)
	metrics.LLMRequestDuration.WithLabelValues("embed").Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.LLMRequests.WithLabelValues("embed", "error").Inc()
		return nil, fmt.Errorf("gemini embed failed: %w", err)
	}
	if len(result.Embeddings) != len(texts) {
		metrics.LLMRequests.WithLabelValues("embed", "error").Inc()
		return nil, fmt.Errorf("gemini returned %d embeddings for %d texts", len(result.Embeddings), len(texts))
	}

	vecs := make([][]float32, len(result.Embeddings))
	for i, emb := range result.Embeddings {
		if g.cfg.EmbedDimensions > 0 && len(emb.Values) != g.cfg.EmbedDimensions {
			metrics.LLMRequests.WithLabelValues("embed", "error").Inc()
			return nil, fmt.Errorf("embedding dimension mismatch: got %d, want %d",
				len(emb.Values), g.cfg.EmbedDimensions)
		}
		vecs[i] = emb.Values
	}
	metrics.LLMRequests.WithLabelValues("embed", "ok").Inc()
	return vecs, nil
}
