// Package nodes is the pipeline node library. Each node is one typed step of
// the query graph with a declared I/O contract; Build constructs nodes by
// name so configuration decides which run and in what order.
package nodes

import (
	"context"
	"fmt"
	"sort"

	"github.com/replyworks/sage/pkg/cache"
	"github.com/replyworks/sage/pkg/config"
	"github.com/replyworks/sage/pkg/events"
	"github.com/replyworks/sage/pkg/guardrails"
	"github.com/replyworks/sage/pkg/intent"
	"github.com/replyworks/sage/pkg/llm"
	"github.com/replyworks/sage/pkg/models"
	"github.com/replyworks/sage/pkg/pipeline"
	"github.com/replyworks/sage/pkg/search"
	"github.com/replyworks/sage/pkg/session"
)

// IntentMatcher exposes the intent registry's current snapshot.
type IntentMatcher interface {
	Current() *intent.Snapshot
}

// RecordInserter persists finished query records.
type RecordInserter interface {
	Insert(ctx context.Context, rec *models.QueryRecord) error
}

// EventSink publishes domain events at the end of a query.
type EventSink interface {
	PublishQueryCompleted(ctx context.Context, payload events.QueryCompletedPayload) (string, error)
	PublishQueryEscalated(ctx context.Context, payload events.QueryEscalatedPayload) (string, error)
	PublishSessionEscalated(ctx context.Context, payload events.SessionEscalatedPayload) (string, error)
}

// Deps carries the shared subsystems the node library draws on. Every
// builder receives the full set and keeps only what its node touches.
type Deps struct {
	Provider llm.Provider
	Cache    *cache.AnswerCache
	Sessions *session.Manager
	Hybrid   *search.Hybrid
	Reranker *search.Reranker
	Expander *search.Expander
	Registry IntentMatcher
	Input    *guardrails.InputScreen
	Output   *guardrails.OutputScreen
	Records  RecordInserter
	Events   EventSink
}

var builders = map[string]func(Deps, *config.Config) pipeline.Node{
	"input_guardrails":  newInputGuardrails,
	"normalize":         newNormalize,
	"session_load":      newSessionLoad,
	"cache_lookup":      newCacheLookup,
	"language_detect":   newLanguageDetect,
	"query_expand":      newQueryExpand,
	"embed_query":       newEmbedQuery,
	"intent_classify":   newIntentClassify,
	"complexity":        newComplexity,
	"retrieve":          newRetrieve,
	"rerank":            newRerank,
	"multi_hop":         newMultiHop,
	"merge_context":     newMergeContext,
	"dialog_state":      newDialogState,
	"route":             newRoute,
	"generate":          newGenerate,
	"output_guardrails": newOutputGuardrails,
	"refusal":           newRefusal,
	"session_store":     newSessionStore,
	"cache_store":       newCacheStore,
	"emit_events":       newEmitEvents,
	"archive":           newArchive,
}

// Build constructs the named node. Config validation checks node names
// against Known before assembly, so an unknown name here is a wiring bug.
func Build(name string, deps Deps, cfg *config.Config) (pipeline.Node, error) {
	b, ok := builders[name]
	if !ok {
		return nil, fmt.Errorf("unknown pipeline node %q", name)
	}
	return b(deps, cfg), nil
}

// Known returns the sorted names the registry can build.
func Known() []string {
	names := make([]string, 0, len(builders))
	for name := range builders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// queryList is the canonical retrieval query set: the question first, then
// expansions that differ from it. embed_query and retrieve both derive their
// ordering from here so embeddings stay parallel to queries.
func queryList(question string, expansions []string) []string {
	queries := make([]string, 0, 1+len(expansions))
	queries = append(queries, question)
	for _, q := range expansions {
		if q != question {
			queries = append(queries, q)
		}
	}
	return queries
}
