package nodes

import (
	"context"

	"github.com/replyworks/sage/pkg/config"
	"github.com/replyworks/sage/pkg/models"
	"github.com/replyworks/sage/pkg/pipeline"
	"github.com/replyworks/sage/pkg/search"
)

// retrieve runs hybrid retrieval over the question and its expansions. The
// intent category becomes a filter only at classification confidence; the
// hybrid layer drops it below the configured floor.
type retrieve struct {
	hybrid *search.Hybrid
	cfg    *config.SearchConfig
}

func newRetrieve(deps Deps, cfg *config.Config) pipeline.Node {
	return &retrieve{hybrid: deps.Hybrid, cfg: cfg.Search}
}

func (n *retrieve) Name() string { return "retrieve" }

func (n *retrieve) Contract() pipeline.Contract {
	return pipeline.Contract{
		RequiredInputs: []string{pipeline.FieldQuestion},
		OptionalInputs: []string{
			pipeline.FieldExpandedQueries,
			pipeline.FieldQueryEmbeddings,
			pipeline.FieldCategory,
			pipeline.FieldIntentConfidence,
			pipeline.FieldOptions,
		},
		GuaranteedOutputs: []string{pipeline.FieldCandidates},
	}
}

func (n *retrieve) Run(ctx context.Context, st *pipeline.State) (pipeline.Patch, error) {
	queries := queryList(st.Question, st.ExpandedQueries)

	in := search.Input{Queries: queries, TopK: n.topK(st.Options)}
	if len(st.QueryEmbeddings) == len(queries) {
		in.Embeddings = st.QueryEmbeddings
	}
	if st.Category != "" {
		in.Filter = &models.SearchFilter{Category: st.Category}
		in.FilterConfidence = st.IntentConfidence
	}

	candidates, err := n.hybrid.Search(ctx, in)
	if err != nil {
		return nil, &pipeline.NodeError{Kind: pipeline.ErrKindUpstream, Retryable: true, Err: err}
	}
	if candidates == nil {
		candidates = []models.ScoredPair{}
	}
	return pipeline.Patch{pipeline.FieldCandidates: candidates}, nil
}

// topK resolves the per-request override. Zero lets the hybrid layer apply
// its default; the rerank window caps abusive values.
func (n *retrieve) topK(opts *models.QueryOptions) int {
	if opts == nil || opts.TopK == nil {
		return 0
	}
	k := *opts.TopK
	if k < 1 {
		return 0
	}
	if n.cfg.RerankTopN > 0 && k > n.cfg.RerankTopN {
		return n.cfg.RerankTopN
	}
	return k
}

// rerank rescores the fused candidates and fixes the retrieval confidence.
// The reranker degrades to lexical scoring internally, so this node never
// fails on provider trouble.
type rerank struct {
	reranker *search.Reranker
}

func newRerank(deps Deps, _ *config.Config) pipeline.Node {
	return &rerank{reranker: deps.Reranker}
}

func (n *rerank) Name() string { return "rerank" }

func (n *rerank) Contract() pipeline.Contract {
	return pipeline.Contract{
		RequiredInputs:    []string{pipeline.FieldQuestion, pipeline.FieldCandidates},
		GuaranteedOutputs: []string{pipeline.FieldRerankedDocs, pipeline.FieldConfidence},
	}
}

func (n *rerank) Run(ctx context.Context, st *pipeline.State) (pipeline.Patch, error) {
	docs, confidence, err := n.reranker.Rerank(ctx, st.Question, st.Candidates)
	if err != nil {
		return nil, &pipeline.NodeError{Kind: pipeline.ErrKindUpstream, Retryable: true, Err: err}
	}
	if docs == nil {
		docs = []models.ScoredPair{}
	}
	return pipeline.Patch{
		pipeline.FieldRerankedDocs: docs,
		pipeline.FieldConfidence:   confidence,
	}, nil
}

// multiHop widens the context for complex questions by following see_also
// and intent links from the top pair. Simple questions and empty rankings
// skip the node; a failed expansion recovers to the initial ranking.
type multiHop struct {
	expander *search.Expander
}

func newMultiHop(deps Deps, _ *config.Config) pipeline.Node {
	return &multiHop{expander: deps.Expander}
}

func (n *multiHop) Name() string { return "multi_hop" }

func (n *multiHop) Contract() pipeline.Contract {
	return pipeline.Contract{
		RequiredInputs: []string{
			pipeline.FieldQuestion,
			pipeline.FieldRerankedDocs,
			pipeline.FieldNumHops,
		},
		GuaranteedOutputs: []string{pipeline.FieldRerankedDocs, pipeline.FieldHopsUsed},
	}
}

func (n *multiHop) Applies(st *pipeline.State) bool {
	return st.NumHops > 1 && len(st.RerankedDocs) > 0
}

func (n *multiHop) Run(ctx context.Context, st *pipeline.State) (pipeline.Patch, error) {
	docs, hopsUsed, err := n.expander.Expand(ctx, st.Question, st.RerankedDocs, st.NumHops)
	if err != nil {
		return nil, &pipeline.NodeError{Kind: pipeline.ErrKindUpstream, Retryable: true, Err: err}
	}
	return pipeline.Patch{
		pipeline.FieldRerankedDocs: docs,
		pipeline.FieldHopsUsed:     hopsUsed,
	}, nil
}

func (n *multiHop) Recover(st *pipeline.State) pipeline.Patch {
	return pipeline.Patch{
		pipeline.FieldRerankedDocs: st.RerankedDocs,
		pipeline.FieldHopsUsed:     1,
	}
}

// mergeContext flattens the ranked pairs into the grounding context and the
// source attributions for the final answer.
type mergeContext struct {
	cfg *config.SearchConfig
}

func newMergeContext(_ Deps, cfg *config.Config) pipeline.Node {
	return &mergeContext{cfg: cfg.Search}
}

func (n *mergeContext) Name() string { return "merge_context" }

func (n *mergeContext) Contract() pipeline.Contract {
	return pipeline.Contract{
		RequiredInputs:    []string{pipeline.FieldRerankedDocs},
		GuaranteedOutputs: []string{pipeline.FieldMergedContext, pipeline.FieldSources},
	}
}

func (n *mergeContext) Run(ctx context.Context, st *pipeline.State) (pipeline.Patch, error) {
	merged := search.MergeContext(st.RerankedDocs, n.cfg.ContextTokenBudget)

	limit := len(st.RerankedDocs)
	if n.cfg.TopK > 0 && limit > n.cfg.TopK {
		limit = n.cfg.TopK
	}
	sources := make([]models.Source, limit)
	for i := 0; i < limit; i++ {
		sources[i] = models.Source{
			PairID:    st.RerankedDocs[i].Pair.ID,
			Relevance: st.RerankedDocs[i].Score,
		}
	}
	return pipeline.Patch{
		pipeline.FieldMergedContext: merged,
		pipeline.FieldSources:       sources,
	}, nil
}
