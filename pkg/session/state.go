package session

import (
	"github.com/replyworks/sage/pkg/config"
	"github.com/replyworks/sage/pkg/models"
	"github.com/replyworks/sage/pkg/similarity"
)

// Signals are the per-turn inputs to the dialog state machine.
type Signals struct {
	// Confidence is the top rerank score for this turn.
	Confidence float64
	// HasResults is false when retrieval produced no candidates at all.
	HasResults bool
	// RequiresHandoff is the flag on the top-ranked pair.
	RequiresHandoff bool
	// LoopDetected reports a repeated-topic loop (see DetectLoop).
	LoopDetected bool
	// GuardrailBlocked is set when input screening blocked the question.
	GuardrailBlocked bool
}

// Outcome is the state machine's decision for one turn.
type Outcome struct {
	State string
	// Reason is the machine-readable escalation reason, empty when the
	// turn can be auto-replied.
	Reason string
}

// Advance runs one transition of the dialog state machine, mutating the
// session's state and low-confidence streak. Terminal inputs (guardrail
// block, loop, handoff, empty retrieval) escalate immediately; low
// confidence first moves the session to CLARIFYING and escalates only
// once the streak reaches the configured bound.
func Advance(sess *models.Session, in Signals, cfg *config.DialogConfig) Outcome {
	switch {
	case in.GuardrailBlocked:
		sess.State = models.DialogStateEscalated
		return Outcome{State: sess.State, Reason: models.EscalationGuardrailBlock}
	case in.LoopDetected:
		sess.State = models.DialogStateEscalated
		return Outcome{State: sess.State, Reason: models.EscalationLoopDetected}
	case !in.HasResults:
		sess.State = models.DialogStateEscalated
		return Outcome{State: sess.State, Reason: models.EscalationNoRelevantContext}
	case in.RequiresHandoff:
		sess.State = models.DialogStateEscalated
		return Outcome{State: sess.State, Reason: models.EscalationRequiresHandoff}
	}

	if in.Confidence >= cfg.AutoReplyThreshold {
		sess.LowConfidenceStreak = 0
		// A previously escalated or closed session stays with the agent;
		// confidence alone does not reopen it.
		if sess.State == models.DialogStateEscalated || sess.State == models.DialogStateClosed {
			return Outcome{State: sess.State, Reason: models.EscalationRequiresHandoff}
		}
		sess.State = models.DialogStateAnswered
		return Outcome{State: sess.State}
	}

	sess.LowConfidenceStreak++
	if sess.LowConfidenceStreak >= cfg.MaxLowConfidenceTurns {
		sess.State = models.DialogStateEscalated
		return Outcome{State: sess.State, Reason: models.EscalationLowConfidence}
	}
	sess.State = models.DialogStateClarifying
	return Outcome{State: sess.State, Reason: models.EscalationClarifying}
}

// DetectLoop reports whether the new question embedding repeats a recent
// topic: cosine similarity >= loop_threshold against at least
// min_loop_messages of the last loop_window stored question embeddings.
func DetectLoop(sess *models.Session, embedding []float32, cfg *config.DialogConfig) bool {
	if len(embedding) == 0 || cfg.MinLoopMessages <= 0 {
		return false
	}
	ring := sess.RecentQuestionEmbeddings
	if w := cfg.LoopWindow; w > 0 && len(ring) > w {
		ring = ring[len(ring)-w:]
	}
	matches := 0
	for _, prev := range ring {
		if similarity.Cosine(embedding, prev) >= cfg.LoopThreshold {
			matches++
			if matches >= cfg.MinLoopMessages {
				return true
			}
		}
	}
	return false
}
