package nodes

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/replyworks/sage/pkg/config"
	"github.com/replyworks/sage/pkg/llm"
	"github.com/replyworks/sage/pkg/pipeline"
	"github.com/replyworks/sage/pkg/search"
	"github.com/replyworks/sage/pkg/similarity"
)

// languageDetect tags the question with its detected language so prompts and
// canned messages downstream answer in kind.
type languageDetect struct{}

func newLanguageDetect(_ Deps, _ *config.Config) pipeline.Node {
	return languageDetect{}
}

func (languageDetect) Name() string { return "language_detect" }

func (languageDetect) Contract() pipeline.Contract {
	return pipeline.Contract{
		RequiredInputs:    []string{pipeline.FieldQuestion},
		GuaranteedOutputs: []string{pipeline.FieldLanguage},
	}
}

func (languageDetect) Run(ctx context.Context, st *pipeline.State) (pipeline.Patch, error) {
	return pipeline.Patch{
		pipeline.FieldLanguage: similarity.DetectLanguage(st.Question),
	}, nil
}

// queryExpand asks the model for up to two alternative phrasings of the
// question (a paraphrase plus a cross-language rewrite). Expansion is an
// enrichment: an unusable reply yields no expansions, and a provider failure
// is recoverable with the same empty result.
type queryExpand struct {
	provider llm.Provider
	logger   *slog.Logger
}

func newQueryExpand(deps Deps, _ *config.Config) pipeline.Node {
	return &queryExpand{
		provider: deps.Provider,
		logger:   slog.With("component", "node", "node", "query_expand"),
	}
}

func (n *queryExpand) Name() string { return "query_expand" }

func (n *queryExpand) Contract() pipeline.Contract {
	return pipeline.Contract{
		RequiredInputs:    []string{pipeline.FieldQuestion},
		OptionalInputs:    []string{pipeline.FieldLanguage},
		GuaranteedOutputs: []string{pipeline.FieldExpandedQueries},
	}
}

func (n *queryExpand) Run(ctx context.Context, st *pipeline.State) (pipeline.Patch, error) {
	reply, err := n.provider.Chat(ctx, llm.BuildQueryExpandMessages(st.Question))
	if err != nil {
		return nil, &pipeline.NodeError{Kind: pipeline.ErrKindUpstream, Retryable: true, Err: err}
	}
	expansions, err := parseExpansions(reply, st.Question)
	if err != nil {
		n.logger.Warn("expansion reply unparseable, keeping original question", "error", err)
		expansions = []string{}
	}
	return pipeline.Patch{pipeline.FieldExpandedQueries: expansions}, nil
}

func (n *queryExpand) Recover(st *pipeline.State) pipeline.Patch {
	return pipeline.Patch{pipeline.FieldExpandedQueries: []string{}}
}

type expandParseError string

func (e expandParseError) Error() string { return string(e) }

// parseExpansions extracts the JSON string array from a model reply and
// keeps at most two rewrites that actually differ from the question.
func parseExpansions(reply, question string) ([]string, error) {
	start := strings.Index(reply, "[")
	end := strings.LastIndex(reply, "]")
	if start < 0 || end <= start {
		return nil, expandParseError("no JSON array in reply")
	}
	var parsed []string
	if err := json.Unmarshal([]byte(reply[start:end+1]), &parsed); err != nil {
		return nil, err
	}
	out := make([]string, 0, 2)
	seen := map[string]struct{}{strings.TrimSpace(question): {}}
	for _, q := range parsed {
		q = strings.TrimSpace(q)
		if q == "" {
			continue
		}
		if _, dup := seen[q]; dup {
			continue
		}
		seen[q] = struct{}{}
		out = append(out, q)
		if len(out) == 2 {
			break
		}
	}
	return out, nil
}

// embedQuery turns the question and its expansions into vectors for the
// semantic legs. The question's own vector is reused when the cache lookup
// already paid for it.
type embedQuery struct {
	provider llm.Provider
}

func newEmbedQuery(deps Deps, _ *config.Config) pipeline.Node {
	return &embedQuery{provider: deps.Provider}
}

func (n *embedQuery) Name() string { return "embed_query" }

func (n *embedQuery) Contract() pipeline.Contract {
	return pipeline.Contract{
		RequiredInputs: []string{pipeline.FieldQuestion},
		OptionalInputs: []string{pipeline.FieldExpandedQueries, pipeline.FieldQueryEmbedding},
		GuaranteedOutputs: []string{
			pipeline.FieldQueryEmbedding,
			pipeline.FieldQueryEmbeddings,
		},
	}
}

func (n *embedQuery) Run(ctx context.Context, st *pipeline.State) (pipeline.Patch, error) {
	queries := queryList(st.Question, st.ExpandedQueries)
	if len(queries) == 1 && st.Has(pipeline.FieldQueryEmbedding) {
		return pipeline.Patch{
			pipeline.FieldQueryEmbedding:  st.QueryEmbedding,
			pipeline.FieldQueryEmbeddings: [][]float32{st.QueryEmbedding},
		}, nil
	}
	vectors, err := n.provider.Embed(ctx, queries)
	if err != nil {
		return nil, &pipeline.NodeError{Kind: pipeline.ErrKindUpstream, Retryable: true, Err: err}
	}
	if len(vectors) != len(queries) {
		return nil, &pipeline.NodeError{
			Kind: pipeline.ErrKindInternal,
			Err:  fmt.Errorf("embedded %d of %d queries", len(vectors), len(queries)),
		}
	}
	return pipeline.Patch{
		pipeline.FieldQueryEmbedding:  vectors[0],
		pipeline.FieldQueryEmbeddings: vectors,
	}, nil
}

// intentClassify tags the question with the nearest intent centroid from the
// corpus snapshot. An empty snapshot or a missing embedding leaves the query
// untagged rather than guessing.
type intentClassify struct {
	registry IntentMatcher
}

func newIntentClassify(deps Deps, _ *config.Config) pipeline.Node {
	return &intentClassify{registry: deps.Registry}
}

func (n *intentClassify) Name() string { return "intent_classify" }

func (n *intentClassify) Contract() pipeline.Contract {
	return pipeline.Contract{
		OptionalInputs: []string{pipeline.FieldQueryEmbedding},
		ConditionalOutputs: []string{
			pipeline.FieldCategory,
			pipeline.FieldIntent,
			pipeline.FieldIntentConfidence,
		},
	}
}

func (n *intentClassify) Run(ctx context.Context, st *pipeline.State) (pipeline.Patch, error) {
	if !st.Has(pipeline.FieldQueryEmbedding) {
		return pipeline.Patch{}, nil
	}
	m, ok := n.registry.Current().Match(st.QueryEmbedding)
	if !ok {
		return pipeline.Patch{}, nil
	}
	return pipeline.Patch{
		pipeline.FieldCategory:         m.Category,
		pipeline.FieldIntent:           m.Intent,
		pipeline.FieldIntentConfidence: m.Confidence,
	}, nil
}

// complexity scores the question's structural complexity and fixes the hop
// budget for retrieval.
type complexity struct {
	cfg *config.SearchConfig
}

func newComplexity(_ Deps, cfg *config.Config) pipeline.Node {
	return &complexity{cfg: cfg.Search}
}

func (n *complexity) Name() string { return "complexity" }

func (n *complexity) Contract() pipeline.Contract {
	return pipeline.Contract{
		RequiredInputs:    []string{pipeline.FieldQuestion},
		GuaranteedOutputs: []string{pipeline.FieldComplexityScore, pipeline.FieldNumHops},
	}
}

func (n *complexity) Run(ctx context.Context, st *pipeline.State) (pipeline.Patch, error) {
	return pipeline.Patch{
		pipeline.FieldComplexityScore: search.ComplexityScore(st.Question),
		pipeline.FieldNumHops:         search.NumHops(st.Question, n.cfg),
	}, nil
}
