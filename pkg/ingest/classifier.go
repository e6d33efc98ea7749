package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/replyworks/sage/pkg/config"
	"github.com/replyworks/sage/pkg/intent"
	"github.com/replyworks/sage/pkg/llm"
	"github.com/replyworks/sage/pkg/models"
	"github.com/replyworks/sage/pkg/similarity"
)

// maxNameExamples bounds how many cluster questions a naming prompt sees.
const maxNameExamples = 5

// SnapshotSource yields the current intent registry snapshot for cluster
// naming.
type SnapshotSource interface {
	Current() *intent.Snapshot
}

// Classifier fills in category, intent, confidence, and handoff fields on
// parsed draft chunks. Questions are batch-embedded and clustered twice
// (categories, then intents within each category); clusters are named from
// the intent registry when possible and by a one-shot LLM label otherwise.
type Classifier struct {
	provider llm.Provider
	registry SnapshotSource
	cfg      *config.IngestConfig
	logger   *slog.Logger
}

func NewClassifier(provider llm.Provider, registry SnapshotSource, cfg *config.IngestConfig) *Classifier {
	return &Classifier{
		provider: provider,
		registry: registry,
		cfg:      cfg,
		logger:   slog.With("component", "classifier"),
	}
}

// Classify annotates the chunks in place and returns the number of distinct
// categories assigned. Chunks uploaded with an explicit category or intent
// keep it at confidence 1; everything else takes its cluster's name with the
// chunk-to-centroid cosine as confidence.
func (c *Classifier) Classify(ctx context.Context, chunks []models.DraftChunk) (int, error) {
	if len(chunks) == 0 {
		return 0, nil
	}

	questions := make([]string, len(chunks))
	for i := range chunks {
		questions[i] = chunks[i].Question
	}
	embeddings, err := c.provider.Embed(ctx, questions)
	if err != nil {
		return 0, fmt.Errorf("embed questions: %w", err)
	}
	if len(embeddings) != len(chunks) {
		return 0, fmt.Errorf("embed questions: got %d vectors for %d chunks", len(embeddings), len(chunks))
	}

	snap := c.registry.Current()
	assign := kmeans(embeddings, c.cfg.NumCategories, c.cfg.KMeansMaxIters, c.cfg.KMeansSeed)

	clusters := make(map[int][]int)
	for i, cl := range assign {
		clusters[cl] = append(clusters[cl], i)
	}
	for _, cl := range sortedKeys(clusters) {
		c.classifyCluster(ctx, snap, chunks, embeddings, clusters[cl], c.cfg.KMeansSeed+int64(cl)+1)
	}

	for i := range chunks {
		handoff, score := c.detectHandoff(ctx, chunks[i].Question)
		chunks[i].RequiresHandoff = handoff
		chunks[i].HandoffScore = score
	}

	seen := make(map[string]bool)
	for i := range chunks {
		seen[chunks[i].Category] = true
	}
	return len(seen), nil
}

// classifyCluster names one category cluster, sub-clusters it into intents,
// and writes names and confidences onto the member chunks.
func (c *Classifier) classifyCluster(ctx context.Context, snap *intent.Snapshot, chunks []models.DraftChunk, embeddings [][]float32, members []int, subSeed int64) {
	memberVecs := make([][]float32, len(members))
	for i, idx := range members {
		memberVecs[i] = embeddings[idx]
	}
	catCentroid := similarity.Centroid(memberVecs)
	categoryName := c.nameCategory(ctx, snap, chunks, members, catCentroid)

	subAssign := kmeans(memberVecs, c.cfg.IntentsPerCategory, c.cfg.KMeansMaxIters, subSeed)
	subClusters := make(map[int][]int)
	for pos, sub := range subAssign {
		subClusters[sub] = append(subClusters[sub], pos)
	}

	for _, sub := range sortedKeys(subClusters) {
		positions := subClusters[sub]
		vecs := make([][]float32, len(positions))
		for i, pos := range positions {
			vecs[i] = memberVecs[pos]
		}
		intentCentroid := similarity.Centroid(vecs)
		intentName := c.nameIntent(ctx, snap, chunks, members, positions, intentCentroid)

		for _, pos := range positions {
			idx := members[pos]
			ch := &chunks[idx]
			if ch.Category == "" {
				ch.Category = categoryName
				ch.CategoryConfidence = clampUnit(similarity.Cosine(embeddings[idx], catCentroid))
			} else {
				ch.CategoryConfidence = 1
			}
			if ch.Intent == "" {
				ch.Intent = intentName
				ch.IntentConfidence = clampUnit(similarity.Cosine(embeddings[idx], intentCentroid))
			} else {
				ch.IntentConfidence = 1
			}
		}
	}
}

// nameCategory resolves a cluster's category: an exact registry question
// match wins, then the nearest registry intent centroid above the naming
// floor, then an LLM label.
func (c *Classifier) nameCategory(ctx context.Context, snap *intent.Snapshot, chunks []models.DraftChunk, members []int, centroid []float32) string {
	for _, idx := range members {
		if category, _, ok := snap.FindIntent(chunks[idx].Question); ok {
			return category
		}
	}
	if category, _, score, ok := snap.NearestIntent(centroid); ok && score >= c.cfg.NamingSimilarityFloor {
		return category
	}
	examples := clusterExamples(chunks, members, nil)
	if label, ok := c.llmName(ctx, snap, examples); ok && label.Category != "" {
		return label.Category
	}
	return fallbackName(examples)
}

// nameIntent resolves one intent sub-cluster the same way nameCategory
// resolves its category.
func (c *Classifier) nameIntent(ctx context.Context, snap *intent.Snapshot, chunks []models.DraftChunk, members, positions []int, centroid []float32) string {
	for _, pos := range positions {
		if _, name, ok := snap.FindIntent(chunks[members[pos]].Question); ok {
			return name
		}
	}
	if _, name, score, ok := snap.NearestIntent(centroid); ok && score >= c.cfg.NamingSimilarityFloor {
		return name
	}
	examples := clusterExamples(chunks, members, positions)
	if label, ok := c.llmName(ctx, snap, examples); ok && label.Intent != "" {
		return label.Intent
	}
	return fallbackName(examples)
}

type clusterLabel struct {
	Category string `json:"category"`
	Intent   string `json:"intent"`
}

// llmName asks the provider for a one-shot cluster label. Any provider or
// parse failure reports !ok; the caller falls back to a keyword name.
func (c *Classifier) llmName(ctx context.Context, snap *intent.Snapshot, examples []string) (clusterLabel, bool) {
	reply, err := c.provider.Chat(ctx, llm.BuildClusterNameMessages(examples, snap.CategoryNames()))
	if err != nil {
		c.logger.Warn("cluster naming call failed, using keyword fallback", "error", err)
		return clusterLabel{}, false
	}
	start := strings.Index(reply, "{")
	end := strings.LastIndex(reply, "}")
	if start < 0 || end <= start {
		c.logger.Warn("cluster naming reply unparseable, using keyword fallback")
		return clusterLabel{}, false
	}
	var label clusterLabel
	if err := json.Unmarshal([]byte(reply[start:end+1]), &label); err != nil {
		c.logger.Warn("cluster naming reply unparseable, using keyword fallback", "error", err)
		return clusterLabel{}, false
	}
	label.Category = normalizeName(label.Category)
	label.Intent = normalizeName(label.Intent)
	return label, true
}

// detectHandoff applies the keyword rule, deferring to the LLM only inside
// the indecisive band. A failed LLM call falls back to the band midpoint so
// staging never aborts on a provider hiccup.
func (c *Classifier) detectHandoff(ctx context.Context, question string) (bool, float64) {
	score := keywordHandoffScore(question)
	switch {
	case score < c.cfg.HandoffLow:
		return false, score
	case score > c.cfg.HandoffHigh:
		return true, score
	}
	reply, err := c.provider.Chat(ctx, llm.BuildHandoffMessages(question))
	if err != nil {
		c.logger.Warn("handoff call failed, using keyword midpoint", "error", err)
		return score >= (c.cfg.HandoffLow+c.cfg.HandoffHigh)/2, score
	}
	return strings.Contains(strings.ToUpper(reply), "YES"), score
}

// clusterExamples returns up to maxNameExamples member questions. With nil
// positions the members themselves are sampled.
func clusterExamples(chunks []models.DraftChunk, members, positions []int) []string {
	idxs := members
	if positions != nil {
		idxs = make([]int, len(positions))
		for i, pos := range positions {
			idxs[i] = members[pos]
		}
	}
	examples := make([]string, 0, maxNameExamples)
	for _, idx := range idxs {
		examples = append(examples, chunks[idx].Question)
		if len(examples) == maxNameExamples {
			break
		}
	}
	return examples
}

// fallbackName derives a deterministic label from the most frequent content
// token of the example questions.
func fallbackName(examples []string) string {
	counts := make(map[string]int)
	for _, q := range examples {
		for _, tok := range similarity.ContentTokens(q) {
			counts[tok]++
		}
	}
	best, bestCount := "general", 0
	for tok, n := range counts {
		if n > bestCount || (n == bestCount && tok < best) {
			best, bestCount = tok, n
		}
	}
	return best
}

// normalizeName folds an LLM-provided label into snake_case.
func normalizeName(s string) string {
	return strings.Join(similarity.Tokenize(s), "_")
}

func sortedKeys(m map[int][]int) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}

func clampUnit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
