package pipeline

import (
	"fmt"

	"github.com/replyworks/sage/pkg/models"
)

// Canonical field names. Contracts, patches, and telemetry all address state
// through these.
const (
	FieldQuestion  = "question"
	FieldUserID    = "user_id"
	FieldSessionID = "session_id"
	FieldQueryID   = "query_id"
	FieldOptions   = "options"
	FieldHistory   = "history"
	FieldSession   = "session"

	FieldLanguage      = "language"
	FieldNormalizedKey = "normalized_key"

	FieldBlocked     = "blocked"
	FieldRiskScore   = "risk_score"
	FieldBlockReason = "block_reason"

	FieldCacheHit     = "cache_hit"
	FieldCachedAnswer = "cached_answer"

	FieldCategory         = "category"
	FieldIntent           = "intent"
	FieldIntentConfidence = "intent_confidence"

	FieldExpandedQueries = "expanded_queries"
	FieldQueryEmbedding  = "query_embedding"
	FieldQueryEmbeddings = "query_embeddings"

	FieldComplexityScore = "complexity_score"
	FieldNumHops         = "num_hops"

	FieldCandidates   = "candidates"
	FieldRerankedDocs = "reranked_docs"
	FieldConfidence   = "confidence"
	FieldHopsUsed     = "hops_used"

	FieldMergedContext = "merged_context"
	FieldSources       = "sources"

	FieldDialogState      = "dialog_state"
	FieldLoopDetected     = "loop_detected"
	FieldRouteAction      = "route_action"
	FieldEscalationReason = "escalation_reason"

	FieldAnswer = "answer"
	FieldRecord = "record"
)

// Reducers decide how a patch value lands on an already-populated field.
type reducer int

const (
	// reduceOverwrite replaces the value unconditionally.
	reduceOverwrite reducer = iota
	// reduceKeepLatest replaces the value only when the incoming write is
	// not older than the recorded one.
	reduceKeepLatest
	// reduceMergeUnique unions list values preserving first-seen order.
	reduceMergeUnique
)

type fieldSpec struct {
	get    func(*State) any
	set    func(*State, any) error
	merge  func(*State, any) error
	reduce reducer
}

func typeErr(field string, want string, got any) error {
	return fmt.Errorf("field %s expects %s, got %T", field, want, got)
}

func setString(field string, target func(*State) *string) func(*State, any) error {
	return func(s *State, v any) error {
		val, ok := v.(string)
		if !ok {
			return typeErr(field, "string", v)
		}
		*target(s) = val
		return nil
	}
}

func setBool(field string, target func(*State) *bool) func(*State, any) error {
	return func(s *State, v any) error {
		val, ok := v.(bool)
		if !ok {
			return typeErr(field, "bool", v)
		}
		*target(s) = val
		return nil
	}
}

func setFloat(field string, target func(*State) *float64) func(*State, any) error {
	return func(s *State, v any) error {
		val, ok := v.(float64)
		if !ok {
			return typeErr(field, "float64", v)
		}
		*target(s) = val
		return nil
	}
}

func setInt(field string, target func(*State) *int) func(*State, any) error {
	return func(s *State, v any) error {
		val, ok := v.(int)
		if !ok {
			return typeErr(field, "int", v)
		}
		*target(s) = val
		return nil
	}
}

// stateFields is the hand-maintained table mapping canonical names to typed
// accessors and reducers. Every contract field must appear here; the engine
// rejects patches naming anything else.
var stateFields = map[string]fieldSpec{
	FieldQuestion: {
		get: func(s *State) any { return s.Question },
		set: setString(FieldQuestion, func(s *State) *string { return &s.Question }),
	},
	FieldUserID: {
		get: func(s *State) any { return s.UserID },
		set: setString(FieldUserID, func(s *State) *string { return &s.UserID }),
	},
	FieldSessionID: {
		get: func(s *State) any { return s.SessionID },
		set: setString(FieldSessionID, func(s *State) *string { return &s.SessionID }),
	},
	FieldQueryID: {
		get: func(s *State) any { return s.QueryID },
		set: setString(FieldQueryID, func(s *State) *string { return &s.QueryID }),
	},
	FieldOptions: {
		get: func(s *State) any { return s.Options },
		set: func(s *State, v any) error {
			val, ok := v.(*models.QueryOptions)
			if !ok {
				return typeErr(FieldOptions, "*models.QueryOptions", v)
			}
			s.Options = val
			return nil
		},
	},
	FieldHistory: {
		get: func(s *State) any { return s.History },
		set: func(s *State, v any) error {
			val, ok := v.([]models.Turn)
			if !ok {
				return typeErr(FieldHistory, "[]models.Turn", v)
			}
			s.History = val
			return nil
		},
	},
	FieldSession: {
		get: func(s *State) any { return s.Session },
		set: func(s *State, v any) error {
			val, ok := v.(*models.Session)
			if !ok {
				return typeErr(FieldSession, "*models.Session", v)
			}
			s.Session = val
			return nil
		},
	},
	FieldLanguage: {
		get: func(s *State) any { return s.Language },
		set: setString(FieldLanguage, func(s *State) *string { return &s.Language }),
	},
	FieldNormalizedKey: {
		get: func(s *State) any { return s.NormalizedKey },
		set: setString(FieldNormalizedKey, func(s *State) *string { return &s.NormalizedKey }),
	},
	FieldBlocked: {
		get: func(s *State) any { return s.Blocked },
		set: setBool(FieldBlocked, func(s *State) *bool { return &s.Blocked }),
	},
	FieldRiskScore: {
		get: func(s *State) any { return s.RiskScore },
		set: setFloat(FieldRiskScore, func(s *State) *float64 { return &s.RiskScore }),
	},
	FieldBlockReason: {
		get: func(s *State) any { return s.BlockReason },
		set: setString(FieldBlockReason, func(s *State) *string { return &s.BlockReason }),
	},
	FieldCacheHit: {
		get: func(s *State) any { return s.CacheHit },
		set: setBool(FieldCacheHit, func(s *State) *bool { return &s.CacheHit }),
	},
	FieldCachedAnswer: {
		get: func(s *State) any { return s.CachedAnswer },
		set: func(s *State, v any) error {
			val, ok := v.(*models.CacheEntry)
			if !ok {
				return typeErr(FieldCachedAnswer, "*models.CacheEntry", v)
			}
			s.CachedAnswer = val
			return nil
		},
	},
	FieldCategory: {
		get: func(s *State) any { return s.Category },
		set: setString(FieldCategory, func(s *State) *string { return &s.Category }),
	},
	FieldIntent: {
		get: func(s *State) any { return s.Intent },
		set: setString(FieldIntent, func(s *State) *string { return &s.Intent }),
	},
	FieldIntentConfidence: {
		get: func(s *State) any { return s.IntentConfidence },
		set: setFloat(FieldIntentConfidence, func(s *State) *float64 { return &s.IntentConfidence }),
	},
	FieldExpandedQueries: {
		get:    func(s *State) any { return s.ExpandedQueries },
		reduce: reduceMergeUnique,
		set: func(s *State, v any) error {
			val, ok := v.([]string)
			if !ok {
				return typeErr(FieldExpandedQueries, "[]string", v)
			}
			s.ExpandedQueries = val
			return nil
		},
		merge: func(s *State, v any) error {
			val, ok := v.([]string)
			if !ok {
				return typeErr(FieldExpandedQueries, "[]string", v)
			}
			seen := make(map[string]struct{}, len(s.ExpandedQueries)+len(val))
			for _, q := range s.ExpandedQueries {
				seen[q] = struct{}{}
			}
			for _, q := range val {
				if _, dup := seen[q]; dup {
					continue
				}
				seen[q] = struct{}{}
				s.ExpandedQueries = append(s.ExpandedQueries, q)
			}
			return nil
		},
	},
	FieldQueryEmbedding: {
		get: func(s *State) any { return s.QueryEmbedding },
		set: func(s *State, v any) error {
			val, ok := v.([]float32)
			if !ok {
				return typeErr(FieldQueryEmbedding, "[]float32", v)
			}
			s.QueryEmbedding = val
			return nil
		},
	},
	FieldQueryEmbeddings: {
		get: func(s *State) any { return s.QueryEmbeddings },
		set: func(s *State, v any) error {
			val, ok := v.([][]float32)
			if !ok {
				return typeErr(FieldQueryEmbeddings, "[][]float32", v)
			}
			s.QueryEmbeddings = val
			return nil
		},
	},
	FieldComplexityScore: {
		get: func(s *State) any { return s.ComplexityScore },
		set: setFloat(FieldComplexityScore, func(s *State) *float64 { return &s.ComplexityScore }),
	},
	FieldNumHops: {
		get: func(s *State) any { return s.NumHops },
		set: setInt(FieldNumHops, func(s *State) *int { return &s.NumHops }),
	},
	FieldCandidates: {
		get: func(s *State) any { return s.Candidates },
		set: func(s *State, v any) error {
			val, ok := v.([]models.ScoredPair)
			if !ok {
				return typeErr(FieldCandidates, "[]models.ScoredPair", v)
			}
			s.Candidates = val
			return nil
		},
	},
	FieldRerankedDocs: {
		get: func(s *State) any { return s.RerankedDocs },
		set: func(s *State, v any) error {
			val, ok := v.([]models.ScoredPair)
			if !ok {
				return typeErr(FieldRerankedDocs, "[]models.ScoredPair", v)
			}
			s.RerankedDocs = val
			return nil
		},
	},
	FieldConfidence: {
		get: func(s *State) any { return s.Confidence },
		set: setFloat(FieldConfidence, func(s *State) *float64 { return &s.Confidence }),
	},
	FieldHopsUsed: {
		get: func(s *State) any { return s.HopsUsed },
		set: setInt(FieldHopsUsed, func(s *State) *int { return &s.HopsUsed }),
	},
	FieldMergedContext: {
		get: func(s *State) any { return s.MergedContext },
		set: setString(FieldMergedContext, func(s *State) *string { return &s.MergedContext }),
	},
	FieldSources: {
		get: func(s *State) any { return s.Sources },
		set: func(s *State, v any) error {
			val, ok := v.([]models.Source)
			if !ok {
				return typeErr(FieldSources, "[]models.Source", v)
			}
			s.Sources = val
			return nil
		},
	},
	FieldDialogState: {
		get: func(s *State) any { return s.DialogState },
		set: setString(FieldDialogState, func(s *State) *string { return &s.DialogState }),
	},
	FieldLoopDetected: {
		get: func(s *State) any { return s.LoopDetected },
		set: setBool(FieldLoopDetected, func(s *State) *bool { return &s.LoopDetected }),
	},
	FieldRouteAction: {
		get:    func(s *State) any { return s.RouteAction },
		set:    setString(FieldRouteAction, func(s *State) *string { return &s.RouteAction }),
		reduce: reduceKeepLatest,
	},
	FieldEscalationReason: {
		get:    func(s *State) any { return s.EscalationReason },
		set:    setString(FieldEscalationReason, func(s *State) *string { return &s.EscalationReason }),
		reduce: reduceKeepLatest,
	},
	FieldAnswer: {
		get:    func(s *State) any { return s.Answer },
		set:    setString(FieldAnswer, func(s *State) *string { return &s.Answer }),
		reduce: reduceKeepLatest,
	},
	FieldRecord: {
		get: func(s *State) any { return s.Record },
		set: func(s *State, v any) error {
			val, ok := v.(*models.QueryRecord)
			if !ok {
				return typeErr(FieldRecord, "*models.QueryRecord", v)
			}
			s.Record = val
			return nil
		},
	},
}
