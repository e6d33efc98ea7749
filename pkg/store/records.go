package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/replyworks/sage/pkg/models"
)

// RecordStore persists query records. Records are append-only: there is no
// update path, a record is written exactly once when the pipeline finishes.
type RecordStore struct {
	db *sqlx.DB
}

type recordRow struct {
	ID               string         `db:"id"`
	Question         string         `db:"question"`
	NormalizedKey    string         `db:"normalized_key"`
	Answer           sql.NullString `db:"answer"`
	Confidence       float64        `db:"confidence"`
	Sources          []byte         `db:"sources"`
	Action           string         `db:"action"`
	EscalationReason string         `db:"escalation_reason"`
	Telemetry        []byte         `db:"telemetry"`
	UserID           string         `db:"user_id"`
	SessionID        string         `db:"session_id"`
	CreatedAt        time.Time      `db:"created_at"`
}

func (r *recordRow) toModel() (models.QueryRecord, error) {
	rec := models.QueryRecord{
		ID:               r.ID,
		Question:         r.Question,
		NormalizedKey:    r.NormalizedKey,
		Confidence:       r.Confidence,
		Action:           r.Action,
		EscalationReason: r.EscalationReason,
		UserID:           r.UserID,
		SessionID:        r.SessionID,
		CreatedAt:        r.CreatedAt,
	}
	if r.Answer.Valid {
		rec.Answer = &r.Answer.String
	}
	if len(r.Sources) > 0 {
		if err := json.Unmarshal(r.Sources, &rec.Sources); err != nil {
			return rec, fmt.Errorf("failed to decode sources for record %s: %w", r.ID, err)
		}
	}
	if len(r.Telemetry) > 0 {
		if err := json.Unmarshal(r.Telemetry, &rec.Telemetry); err != nil {
			return rec, fmt.Errorf("failed to decode telemetry for record %s: %w", r.ID, err)
		}
	}
	return rec, nil
}

// Insert writes one query record.
func (s *RecordStore) Insert(ctx context.Context, rec *models.QueryRecord) error {
	sources, err := json.Marshal(rec.Sources)
	if err != nil {
		return fmt.Errorf("failed to encode sources: %w", err)
	}
	if rec.Sources == nil {
		sources = []byte("[]")
	}
	telemetry, err := json.Marshal(rec.Telemetry)
	if err != nil {
		return fmt.Errorf("failed to encode telemetry: %w", err)
	}
	var answer sql.NullString
	if rec.Answer != nil {
		answer = sql.NullString{String: *rec.Answer, Valid: true}
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO query_records
		 (id, question, normalized_key, answer, confidence, sources, action,
		  escalation_reason, telemetry, user_id, session_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		rec.ID, rec.Question, rec.NormalizedKey, answer, rec.Confidence, sources,
		rec.Action, rec.EscalationReason, telemetry, rec.UserID, rec.SessionID,
		rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert query record %s: %w", rec.ID, err)
	}
	return nil
}

// Get returns one query record by id.
func (s *RecordStore) Get(ctx context.Context, id string) (*models.QueryRecord, error) {
	var row recordRow
	err := s.db.GetContext(ctx, &row,
		`SELECT id, question, normalized_key, answer, confidence, sources, action,
		        escalation_reason, telemetry, user_id, session_id, created_at
		 FROM query_records WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get query record %s: %w", id, err)
	}
	rec, err := row.toModel()
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// List returns records newest first; action filters when non-empty.
func (s *RecordStore) List(ctx context.Context, action string, limit, offset int) ([]models.QueryRecord, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var rows []recordRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT id, question, normalized_key, answer, confidence, sources, action,
		        escalation_reason, telemetry, user_id, session_id, created_at
		 FROM query_records
		 WHERE ($1 = '' OR action = $1)
		 ORDER BY created_at DESC, id
		 LIMIT $2 OFFSET $3`, action, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list query records: %w", err)
	}
	out := make([]models.QueryRecord, 0, len(rows))
	for i := range rows {
		rec, err := rows[i].toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// CountByAction returns record counts grouped by routing action.
func (s *RecordStore) CountByAction(ctx context.Context) (map[string]int64, error) {
	rows, err := s.db.QueryxContext(ctx,
		`SELECT action, count(*) FROM query_records GROUP BY action`)
	if err != nil {
		return nil, fmt.Errorf("failed to count query records: %w", err)
	}
	defer rows.Close()
	counts := map[string]int64{}
	for rows.Next() {
		var action string
		var n int64
		if err := rows.Scan(&action, &n); err != nil {
			return nil, fmt.Errorf("failed to scan record count: %w", err)
		}
		counts[action] = n
	}
	return counts, rows.Err()
}
