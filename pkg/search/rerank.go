package search

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"strings"

	"github.com/replyworks/sage/pkg/config"
	"github.com/replyworks/sage/pkg/llm"
	"github.com/replyworks/sage/pkg/models"
	"github.com/replyworks/sage/pkg/similarity"
)

// Reranker rescores fused candidates against the original question with a
// listwise LLM call, falling back to deterministic lexical overlap when the
// provider fails or returns garbage. Fallback results are real results: a
// degraded provider must not take retrieval down with it.
type Reranker struct {
	provider llm.Provider
	cfg      *config.SearchConfig
	logger   *slog.Logger
}

func NewReranker(provider llm.Provider, cfg *config.SearchConfig) *Reranker {
	return &Reranker{
		provider: provider,
		cfg:      cfg,
		logger:   slog.With("component", "reranker"),
	}
}

// Rerank replaces the fusion scores of the top candidates with relevance
// scores in [0,1] and reorders. Ties keep fusion order (the input order).
// The second return is the retrieval confidence: the top-1 score after
// reranking, 0 when there are no candidates.
func (r *Reranker) Rerank(ctx context.Context, question string, candidates []models.ScoredPair) ([]models.ScoredPair, float64, error) {
	if len(candidates) == 0 {
		return nil, 0, nil
	}
	head := candidates
	if r.cfg.RerankTopN > 0 && len(head) > r.cfg.RerankTopN {
		head = head[:r.cfg.RerankTopN]
	}

	scores, ok := r.modelScores(ctx, question, head)
	if !ok {
		scores = lexicalScores(question, head)
	}

	out := make([]models.ScoredPair, len(head))
	copy(out, head)
	for i := range out {
		out[i].Score = scores[i]
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out, out[0].Score, nil
}

// modelScores runs the listwise scoring call. Any provider or parse failure
// reports !ok; the caller falls back.
func (r *Reranker) modelScores(ctx context.Context, question string, head []models.ScoredPair) ([]float64, bool) {
	texts := make([]string, len(head))
	for i := range head {
		texts[i] = head[i].Pair.Text()
	}
	reply, err := r.provider.Chat(ctx, llm.BuildRerankMessages(question, texts))
	if err != nil {
		r.logger.Warn("rerank call failed, using lexical fallback", "error", err)
		return nil, false
	}
	scores, err := parseRerankScores(reply, len(head))
	if err != nil {
		r.logger.Warn("rerank reply unparseable, using lexical fallback", "error", err)
		return nil, false
	}
	return scores, true
}

type rerankScore struct {
	Index int     `json:"index"`
	Score float64 `json:"score"`
}

type rerankParseError string

func (e rerankParseError) Error() string { return string(e) }

// parseRerankScores extracts the JSON score array from a model reply. The
// reply must cover every candidate exactly once; anything less falls back
// wholesale so the ordering never mixes model and lexical scores.
func parseRerankScores(reply string, n int) ([]float64, error) {
	start := strings.Index(reply, "[")
	end := strings.LastIndex(reply, "]")
	if start < 0 || end <= start {
		return nil, rerankParseError("no JSON array in reply")
	}
	var parsed []rerankScore
	if err := json.Unmarshal([]byte(reply[start:end+1]), &parsed); err != nil {
		return nil, err
	}
	if len(parsed) != n {
		return nil, rerankParseError("score count mismatch")
	}
	scores := make([]float64, n)
	seen := make([]bool, n)
	for _, s := range parsed {
		if s.Index < 0 || s.Index >= n || seen[s.Index] {
			return nil, rerankParseError("bad candidate index")
		}
		seen[s.Index] = true
		scores[s.Index] = clamp01(s.Score)
	}
	return scores, nil
}

// lexicalScores is the deterministic fallback: the fraction of the
// question's content tokens each candidate covers.
func lexicalScores(question string, head []models.ScoredPair) []float64 {
	qTokens := similarity.ContentTokens(question)
	scores := make([]float64, len(head))
	for i := range head {
		scores[i] = similarity.OverlapRatio(qTokens, similarity.ContentTokens(head[i].Pair.Text()))
	}
	return scores
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
