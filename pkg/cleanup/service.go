// Package cleanup provides data retention for webhook delivery history.
package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/replyworks/sage/pkg/config"
)

// RetentionStore is the slice of the webhook store the sweeper needs.
type RetentionStore interface {
	DeleteDeliveriesBefore(ctx context.Context, status string, cutoff time.Time) (int64, error)
	DeleteOrphanEventsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Service periodically enforces retention on Postgres webhook data:
//   - Deletes succeeded deliveries past their TTL
//   - Deletes dead deliveries past the longer DLQ TTL
//   - Deletes event rows no delivery references anymore
//
// Drafts, sessions, and cache entries expire through key TTLs and need no
// sweeping. All operations are idempotent and safe to run from multiple
// replicas.
type Service struct {
	config *config.RetentionConfig
	store  RetentionStore

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates a new cleanup service.
func NewService(cfg *config.RetentionConfig, store RetentionStore) *Service {
	return &Service{config: cfg, store: store}
}

// Start launches the background cleanup loop.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	slog.Info("Cleanup service started",
		"delivery_ttl", s.config.DeliveryTTL,
		"dead_delivery_ttl", s.config.DeadDeliveryTTL,
		"event_ttl", s.config.EventTTL,
		"interval", s.config.CleanupInterval)
}

// Stop signals the cleanup loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	slog.Info("Cleanup service stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.runAll(ctx)

	ticker := time.NewTicker(s.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runAll(ctx)
		}
	}
}

func (s *Service) runAll(ctx context.Context) {
	s.sweepSucceededDeliveries(ctx)
	s.sweepDeadDeliveries(ctx)
	s.sweepOrphanEvents(ctx)
}

func (s *Service) sweepSucceededDeliveries(ctx context.Context) {
	cutoff := time.Now().Add(-s.config.DeliveryTTL)
	count, err := s.store.DeleteDeliveriesBefore(ctx, "success", cutoff)
	if err != nil {
		slog.Error("Retention: succeeded delivery sweep failed", "error", err)
		return
	}
	if count > 0 {
		slog.Info("Retention: deleted succeeded deliveries", "count", count)
	}
}

func (s *Service) sweepDeadDeliveries(ctx context.Context) {
	cutoff := time.Now().Add(-s.config.DeadDeliveryTTL)
	count, err := s.store.DeleteDeliveriesBefore(ctx, "dead", cutoff)
	if err != nil {
		slog.Error("Retention: dead delivery sweep failed", "error", err)
		return
	}
	if count > 0 {
		slog.Info("Retention: deleted dead deliveries", "count", count)
	}
}

func (s *Service) sweepOrphanEvents(ctx context.Context) {
	cutoff := time.Now().Add(-s.config.EventTTL)
	count, err := s.store.DeleteOrphanEventsBefore(ctx, cutoff)
	if err != nil {
		slog.Error("Retention: orphan event sweep failed", "error", err)
		return
	}
	if count > 0 {
		slog.Info("Retention: deleted orphan events", "count", count)
	}
}
