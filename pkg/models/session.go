package models

import "time"

// Dialog states for a conversation session.
const (
	DialogStateOpen       = "OPEN"
	DialogStateClarifying = "CLARIFYING"
	DialogStateAnswered   = "ANSWERED"
	DialogStateEscalated  = "ESCALATED"
	DialogStateClosed     = "CLOSED"
)

// Turn roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Turn is one message in a session's ordered log.
type Turn struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	QueryID   string    `json:"query_id,omitempty"`
}

// Session is the conversation context for one (user, session) key. It lives
// in the k/v store with a TTL refreshed on every append.
type Session struct {
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
	Turns     []Turn `json:"turns"`
	State     string `json:"state"`

	// LowConfidenceStreak counts consecutive turns answered below the
	// auto-reply threshold; the dialog state machine reads it.
	LowConfidenceStreak int `json:"low_confidence_streak"`

	// RecentQuestionEmbeddings is a bounded window of question embeddings
	// used by repeated-topic loop detection.
	RecentQuestionEmbeddings [][]float32 `json:"recent_question_embeddings,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// LastTurns returns the last k turns in order, the whole log if k exceeds it.
func (s *Session) LastTurns(k int) []Turn {
	if k <= 0 || len(s.Turns) <= k {
		return s.Turns
	}
	return s.Turns[len(s.Turns)-k:]
}
