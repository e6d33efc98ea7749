package pipeline

import (
	"time"

	"github.com/replyworks/sage/pkg/models"
)

// State is the shared record a query's nodes read and write. Its fields are
// the union of every node contract; nodes never touch it directly but
// receive a projection of their declared inputs and return a Patch merged
// back through the field table in state_fields.go.
//
// Presence is tracked separately from values so contracts can distinguish
// "never produced" from a legitimate zero (confidence 0, blocked false).
type State struct {
	Question  string
	UserID    string
	SessionID string
	QueryID   string
	Options   *models.QueryOptions
	History   []models.Turn
	Session   *models.Session

	Language      string
	NormalizedKey string

	Blocked     bool
	RiskScore   float64
	BlockReason string

	CacheHit     bool
	CachedAnswer *models.CacheEntry

	Category         string
	Intent           string
	IntentConfidence float64

	ExpandedQueries []string
	QueryEmbedding  []float32
	QueryEmbeddings [][]float32

	ComplexityScore float64
	NumHops         int

	Candidates   []models.ScoredPair
	RerankedDocs []models.ScoredPair
	Confidence   float64
	HopsUsed     int

	MergedContext string
	Sources       []models.Source

	DialogState      string
	LoopDetected     bool
	RouteAction      string
	EscalationReason string

	Answer string
	Record *models.QueryRecord

	// Telemetry is engine-owned: the engine appends one trace per node and
	// the archive node snapshots it into the persisted record. It rides
	// along every projection.
	Telemetry *models.QueryTelemetry
	StartedAt time.Time

	present   map[string]struct{}
	lastWrite map[string]time.Time
}

// NewState seeds the record for one query. The query id is minted here so
// session turns and the archived record share it.
func NewState(req models.QueryRequest) *State {
	st := &State{
		Question:  req.Question,
		UserID:    req.UserID,
		SessionID: req.SessionID,
		QueryID:   models.NewQueryID(),
		Options:   req.Options,
		History:   req.History,
		Telemetry: &models.QueryTelemetry{},
		StartedAt: time.Now(),
		present:   make(map[string]struct{}),
		lastWrite: make(map[string]time.Time),
	}
	st.mark(FieldQuestion, FieldUserID, FieldQueryID)
	if req.SessionID != "" {
		st.mark(FieldSessionID)
	}
	if req.Options != nil {
		st.mark(FieldOptions)
	}
	if len(req.History) > 0 {
		st.mark(FieldHistory)
	}
	return st
}

func (s *State) mark(fields ...string) {
	for _, f := range fields {
		s.present[f] = struct{}{}
	}
}

// Has reports whether the named field has been produced.
func (s *State) Has(field string) bool {
	_, ok := s.present[field]
	return ok
}

// Get returns the named field's value and whether it is present. Unknown
// field names return (nil, false).
func (s *State) Get(field string) (any, bool) {
	spec, ok := stateFields[field]
	if !ok || !s.Has(field) {
		return nil, false
	}
	return spec.get(s), true
}

// Set writes one field with overwrite-at-now semantics. It is the entry
// point for callers outside the engine (services seeding extra fields,
// tests); the engine itself merges patches via apply.
func (s *State) Set(field string, value any) error {
	return s.apply(field, value, time.Now())
}

// apply writes one field through its declared reducer.
func (s *State) apply(field string, value any, at time.Time) error {
	spec, ok := stateFields[field]
	if !ok {
		return &ContractViolation{Field: field, Direction: DirectionOutput, Detail: "unknown field"}
	}
	switch spec.reduce {
	case reduceKeepLatest:
		if prev, ok := s.lastWrite[field]; ok && prev.After(at) {
			return nil
		}
	case reduceMergeUnique:
		if err := spec.merge(s, value); err != nil {
			return err
		}
		s.lastWrite[field] = at
		s.mark(field)
		return nil
	}
	if err := spec.set(s, value); err != nil {
		return err
	}
	s.lastWrite[field] = at
	s.mark(field)
	return nil
}

// project copies the named contract fields into a fresh State. Engine-owned
// bookkeeping (telemetry, start time) always rides along; everything else a
// node wants must be in its contract.
func (s *State) project(fields ...string) *State {
	out := &State{
		Telemetry: s.Telemetry,
		StartedAt: s.StartedAt,
		present:   make(map[string]struct{}, len(fields)),
		lastWrite: make(map[string]time.Time, len(fields)),
	}
	for _, f := range fields {
		spec, ok := stateFields[f]
		if !ok || !s.Has(f) {
			continue
		}
		if err := spec.set(out, spec.get(s)); err != nil {
			continue
		}
		out.mark(f)
		if at, ok := s.lastWrite[f]; ok {
			out.lastWrite[f] = at
		}
	}
	return out
}
