package services

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/replyworks/sage/pkg/config"
	"github.com/replyworks/sage/pkg/kv"
	"github.com/replyworks/sage/pkg/models"
	"github.com/replyworks/sage/pkg/session"
)

func setupTestSessionService(t *testing.T) (*SessionService, *session.Manager) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	manager := session.NewManager(kv.NewWithClient(client, "sage"), &config.SessionConfig{
		TTL:             time.Hour,
		MaxContextTurns: 6,
		MaxTurns:        50,
		EmbeddingWindow: 6,
	})
	return NewSessionService(manager), manager
}

// seedSession persists a two-turn conversation the way the pipeline's
// session nodes would.
func seedSession(t *testing.T, manager *session.Manager, userID, sessionID string) {
	t.Helper()
	ctx := context.Background()

	sess, err := manager.LoadOrCreate(ctx, userID, sessionID)
	require.NoError(t, err)
	require.NoError(t, manager.AppendUser(ctx, sess, "How do I reset my password?", nil))
	require.NoError(t, manager.AppendAssistant(ctx, sess, "Use the forgot-password link.", "qr_1"))
}

func TestNewSessionService(t *testing.T) {
	assert.Panics(t, func() { NewSessionService(nil) })
}

func TestSessionService_Get(t *testing.T) {
	svc, manager := setupTestSessionService(t)
	ctx := context.Background()

	t.Run("returns the transcript", func(t *testing.T) {
		seedSession(t, manager, "u1", "s1")

		sess, err := svc.Get(ctx, "u1", "s1")
		require.NoError(t, err)
		require.NotNil(t, sess)

		assert.Equal(t, "u1", sess.UserID)
		assert.Equal(t, "s1", sess.SessionID)
		require.Len(t, sess.Turns, 2)
		assert.Equal(t, models.RoleUser, sess.Turns[0].Role)
		assert.Equal(t, models.RoleAssistant, sess.Turns[1].Role)
		assert.Equal(t, "qr_1", sess.Turns[1].QueryID)
	})

	t.Run("validates user id is required", func(t *testing.T) {
		_, err := svc.Get(ctx, "", "s1")
		require.Error(t, err)

		var validErr *ValidationError
		require.ErrorAs(t, err, &validErr)
		assert.Equal(t, "user_id", validErr.Field)
	})

	t.Run("validates session id is required", func(t *testing.T) {
		_, err := svc.Get(ctx, "u1", "")
		require.Error(t, err)

		var validErr *ValidationError
		require.ErrorAs(t, err, &validErr)
		assert.Equal(t, "session_id", validErr.Field)
	})

	t.Run("maps unknown sessions to ErrNotFound", func(t *testing.T) {
		_, err := svc.Get(ctx, "u1", "never-spoke")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestSessionService_Clear(t *testing.T) {
	svc, manager := setupTestSessionService(t)
	ctx := context.Background()

	t.Run("empties the turn log but keeps identity", func(t *testing.T) {
		seedSession(t, manager, "u1", "s1")

		sess, err := svc.Clear(ctx, "u1", "s1")
		require.NoError(t, err)
		require.NotNil(t, sess)

		assert.Equal(t, "u1", sess.UserID)
		assert.Equal(t, "s1", sess.SessionID)
		assert.Empty(t, sess.Turns)
		assert.Equal(t, models.DialogStateOpen, sess.State)
		assert.Zero(t, sess.LowConfidenceStreak)

		// The cleared session stays readable.
		reloaded, err := svc.Get(ctx, "u1", "s1")
		require.NoError(t, err)
		assert.Empty(t, reloaded.Turns)
	})

	t.Run("clearing an unknown session leaves an empty one", func(t *testing.T) {
		sess, err := svc.Clear(ctx, "u2", "fresh")
		require.NoError(t, err)
		require.NotNil(t, sess)

		assert.Equal(t, "u2", sess.UserID)
		assert.Empty(t, sess.Turns)
		assert.Equal(t, models.DialogStateOpen, sess.State)
	})

	t.Run("validates ids are required", func(t *testing.T) {
		_, err := svc.Clear(ctx, "", "s1")
		require.Error(t, err)
		var validErr *ValidationError
		require.ErrorAs(t, err, &validErr)
		assert.Equal(t, "user_id", validErr.Field)

		_, err = svc.Clear(ctx, "u1", "")
		require.Error(t, err)
		require.ErrorAs(t, err, &validErr)
		assert.Equal(t, "session_id", validErr.Field)
	})
}
