// Package session stores conversation context in the k/v store: the
// per-(user, session) turn log with its dialog state, and the explicit
// per-user long-term memory. It also owns the dialog state machine and
// the repeated-topic loop detector.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/replyworks/sage/pkg/config"
	"github.com/replyworks/sage/pkg/kv"
	"github.com/replyworks/sage/pkg/models"
)

// ErrNotFound is returned when the requested session does not exist or
// its TTL has lapsed.
var ErrNotFound = errors.New("session not found")

// Manager persists sessions and long-term memory. All reads and writes
// go through the k/v store; nothing is held in process memory, so any
// replica can serve any session.
type Manager struct {
	kv  *kv.Store
	cfg *config.SessionConfig
}

// NewManager creates a session manager backed by the given store.
func NewManager(store *kv.Store, cfg *config.SessionConfig) *Manager {
	return &Manager{kv: store, cfg: cfg}
}

func sessionKey(userID, sessionID string) string {
	return fmt.Sprintf("session:%s:%s", userID, sessionID)
}

func memoryKey(userID string) string {
	return fmt.Sprintf("memory:%s", userID)
}

// Get loads an existing session. Returns ErrNotFound when absent.
func (m *Manager) Get(ctx context.Context, userID, sessionID string) (*models.Session, error) {
	var sess models.Session
	err := m.kv.GetJSON(ctx, sessionKey(userID, sessionID), &sess)
	if errors.Is(err, kv.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	return &sess, nil
}

// LoadOrCreate loads the session or starts a fresh one in state OPEN.
func (m *Manager) LoadOrCreate(ctx context.Context, userID, sessionID string) (*models.Session, error) {
	sess, err := m.Get(ctx, userID, sessionID)
	if err == nil {
		return sess, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	now := time.Now().UTC()
	return &models.Session{
		UserID:    userID,
		SessionID: sessionID,
		State:     models.DialogStateOpen,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// AppendUser appends a user turn and records the question embedding in
// the loop-detection ring, then persists with a refreshed TTL.
func (m *Manager) AppendUser(ctx context.Context, sess *models.Session, content string, embedding []float32) error {
	sess.Turns = append(sess.Turns, models.Turn{
		Role:      models.RoleUser,
		Content:   content,
		Timestamp: time.Now().UTC(),
	})
	if len(embedding) > 0 {
		sess.RecentQuestionEmbeddings = append(sess.RecentQuestionEmbeddings, embedding)
		if w := m.cfg.EmbeddingWindow; w > 0 && len(sess.RecentQuestionEmbeddings) > w {
			sess.RecentQuestionEmbeddings = sess.RecentQuestionEmbeddings[len(sess.RecentQuestionEmbeddings)-w:]
		}
	}
	return m.Save(ctx, sess)
}

// AppendAssistant appends the assistant's answer linked to its query
// record and persists with a refreshed TTL.
func (m *Manager) AppendAssistant(ctx context.Context, sess *models.Session, content, queryID string) error {
	sess.Turns = append(sess.Turns, models.Turn{
		Role:      models.RoleAssistant,
		Content:   content,
		Timestamp: time.Now().UTC(),
		QueryID:   queryID,
	})
	return m.Save(ctx, sess)
}

// Save persists the session, trimming the turn log FIFO to the configured
// bound and refreshing the TTL.
func (m *Manager) Save(ctx context.Context, sess *models.Session) error {
	if max := m.cfg.MaxTurns; max > 0 && len(sess.Turns) > max {
		sess.Turns = sess.Turns[len(sess.Turns)-max:]
	}
	sess.UpdatedAt = time.Now().UTC()
	if err := m.kv.SetJSON(ctx, sessionKey(sess.UserID, sess.SessionID), sess, m.cfg.TTL); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// Clear empties the turn log and loop ring but keeps the session identity,
// resetting state to OPEN. Clearing a nonexistent session creates the
// empty session, so a follow-up Get succeeds.
func (m *Manager) Clear(ctx context.Context, userID, sessionID string) error {
	sess, err := m.LoadOrCreate(ctx, userID, sessionID)
	if err != nil {
		return err
	}
	sess.Turns = nil
	sess.RecentQuestionEmbeddings = nil
	sess.LowConfidenceStreak = 0
	sess.State = models.DialogStateOpen
	return m.Save(ctx, sess)
}

// SetMemory writes one long-term memory entry for the user. Memory is
// only ever written through this call and never expires.
func (m *Manager) SetMemory(ctx context.Context, userID, key, value string) error {
	mem, err := m.Memory(ctx, userID)
	if err != nil {
		return err
	}
	if mem == nil {
		mem = make(map[string]string, 1)
	}
	mem[key] = value
	if err := m.kv.SetJSON(ctx, memoryKey(userID), mem, 0); err != nil {
		return fmt.Errorf("save memory: %w", err)
	}
	return nil
}

// GetMemory reads one long-term memory entry; ok is false when unset.
func (m *Manager) GetMemory(ctx context.Context, userID, key string) (string, bool, error) {
	mem, err := m.Memory(ctx, userID)
	if err != nil {
		return "", false, err
	}
	v, ok := mem[key]
	return v, ok, nil
}

// Memory returns the user's full long-term memory map, nil when empty.
func (m *Manager) Memory(ctx context.Context, userID string) (map[string]string, error) {
	var mem map[string]string
	err := m.kv.GetJSON(ctx, memoryKey(userID), &mem)
	if errors.Is(err, kv.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load memory: %w", err)
	}
	return mem, nil
}
