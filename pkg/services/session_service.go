package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/replyworks/sage/pkg/models"
	"github.com/replyworks/sage/pkg/session"
)

// SessionService exposes conversation transcripts and the clear operation.
// Turns are appended by the pipeline's session nodes, never here.
type SessionService struct {
	sessions *session.Manager
}

// NewSessionService creates a new SessionService.
func NewSessionService(sessions *session.Manager) *SessionService {
	if sessions == nil {
		panic("NewSessionService: sessions must not be nil")
	}
	return &SessionService{sessions: sessions}
}

// Get returns the transcript and dialog state for one session.
func (s *SessionService) Get(ctx context.Context, userID, sessionID string) (*models.Session, error) {
	if userID == "" {
		return nil, NewValidationError("user_id", "required")
	}
	if sessionID == "" {
		return nil, NewValidationError("session_id", "required")
	}
	sess, err := s.sessions.Get(ctx, userID, sessionID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return sess, nil
}

// Clear empties the session's turn log but keeps its identity; the next
// query starts from a fresh OPEN state. Clearing an unknown session is
// allowed and leaves an empty one behind.
func (s *SessionService) Clear(ctx context.Context, userID, sessionID string) (*models.Session, error) {
	if userID == "" {
		return nil, NewValidationError("user_id", "required")
	}
	if sessionID == "" {
		return nil, NewValidationError("session_id", "required")
	}
	if err := s.sessions.Clear(ctx, userID, sessionID); err != nil {
		return nil, fmt.Errorf("failed to clear session: %w", err)
	}
	sess, err := s.sessions.Get(ctx, userID, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to reload cleared session: %w", err)
	}
	return sess, nil
}
