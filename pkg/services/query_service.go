// Package services contains business logic service layer implementations.
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/replyworks/sage/pkg/config"
	"github.com/replyworks/sage/pkg/metrics"
	"github.com/replyworks/sage/pkg/models"
	"github.com/replyworks/sage/pkg/pipeline"
	"github.com/replyworks/sage/pkg/session"
	"github.com/replyworks/sage/pkg/store"
)

// PipelineRunner drives one query state through the node graph.
type PipelineRunner interface {
	Run(ctx context.Context, st *pipeline.State) error
}

// RecordFetcher loads archived query records.
type RecordFetcher interface {
	Get(ctx context.Context, id string) (*models.QueryRecord, error)
}

// QueryService runs the query pipeline under the service-wide scheduling
// rules: a global concurrency cap, serial execution per (user, session)
// key, and an end-to-end deadline that per-request options may shorten but
// never extend.
type QueryService struct {
	engine  PipelineRunner
	records RecordFetcher
	locks   *session.KeyedMutex
	sem     chan struct{}
	cfg     *config.ServerConfig
}

// NewQueryService creates a new QueryService.
func NewQueryService(engine PipelineRunner, records RecordFetcher, cfg *config.ServerConfig) *QueryService {
	if engine == nil {
		panic("NewQueryService: engine must not be nil")
	}
	if records == nil {
		panic("NewQueryService: records must not be nil")
	}
	if cfg == nil {
		panic("NewQueryService: cfg must not be nil")
	}
	return &QueryService{
		engine:  engine,
		records: records,
		locks:   session.NewKeyedMutex(),
		sem:     make(chan struct{}, cfg.MaxConcurrentQueries),
		cfg:     cfg,
	}
}

// Run executes one query end to end and returns the archived record. The
// pipeline converts guardrail blocks and empty retrievals into escalation
// records rather than errors, so an error return means the query produced
// no usable outcome and the caller should render an error envelope.
func (s *QueryService) Run(ctx context.Context, req models.QueryRequest) (*models.QueryRecord, error) {
	if strings.TrimSpace(req.Question) == "" {
		return nil, NewValidationError("question", "required")
	}
	if req.UserID == "" {
		return nil, NewValidationError("user_id", "required")
	}
	if err := validateOptions(req.Options); err != nil {
		return nil, err
	}

	select {
	case s.sem <- struct{}{}:
		defer func() { <-s.sem }()
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: waiting for a query slot", ErrTimeout)
	}

	// Turns of one session run in arrival order; the deadline starts after
	// the turn acquires its slot so a slow predecessor does not eat it.
	if req.SessionID != "" {
		unlock := s.locks.Lock(req.UserID + "/" + req.SessionID)
		defer unlock()
	}

	runCtx, cancel := context.WithTimeout(ctx, s.deadline(req.Options))
	defer cancel()

	st := pipeline.NewState(req)
	start := time.Now()
	err := s.engine.Run(runCtx, st)
	metrics.QueryDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, mapPipelineError(st, err)
	}
	if st.Record == nil {
		return nil, fmt.Errorf("pipeline finished without a record for query %s", st.QueryID)
	}
	return st.Record, nil
}

// Record returns one archived query record by id.
func (s *QueryService) Record(ctx context.Context, queryID string) (*models.QueryRecord, error) {
	if queryID == "" {
		return nil, NewValidationError("query_id", "required")
	}
	rec, err := s.records.Get(ctx, queryID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get query record: %w", err)
	}
	return rec, nil
}

// deadline resolves the effective end-to-end timeout. Request options may
// only shorten the configured cap.
func (s *QueryService) deadline(opts *models.QueryOptions) time.Duration {
	d := s.cfg.QueryTimeout
	if opts != nil && opts.TimeoutSeconds != nil {
		if requested := time.Duration(*opts.TimeoutSeconds) * time.Second; requested < d {
			d = requested
		}
	}
	return d
}

func validateOptions(opts *models.QueryOptions) error {
	if opts == nil {
		return nil
	}
	if opts.Temperature != nil && *opts.Temperature < 0 {
		return NewValidationError("options.temperature", "must not be negative")
	}
	if opts.MaxTokens != nil && *opts.MaxTokens < 1 {
		return NewValidationError("options.max_tokens", "must be positive")
	}
	if opts.TimeoutSeconds != nil && *opts.TimeoutSeconds < 1 {
		return NewValidationError("options.timeout_seconds", "must be positive")
	}
	if opts.TopK != nil && *opts.TopK < 1 {
		return NewValidationError("options.top_k", "must be positive")
	}
	return nil
}

// mapPipelineError translates engine failures into the service error
// vocabulary. A failure on a blocked query still surfaces the block so the
// caller can render the refusal as a domain outcome.
func mapPipelineError(st *pipeline.State, err error) error {
	if st.Blocked {
		return &GuardrailBlock{Stage: "input", Reason: st.BlockReason, RiskScore: st.RiskScore}
	}

	var nerr *pipeline.NodeError
	if errors.As(err, &nerr) {
		switch nerr.Kind {
		case pipeline.ErrKindTimeout:
			return fmt.Errorf("%w: node %s", ErrTimeout, nerr.Node)
		case pipeline.ErrKindUpstream:
			return fmt.Errorf("%w: node %s", ErrUpstream, nerr.Node)
		}
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: query deadline exceeded", ErrTimeout)
	}
	return err
}
