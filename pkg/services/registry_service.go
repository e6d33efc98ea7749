package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/replyworks/sage/pkg/events"
	"github.com/replyworks/sage/pkg/intent"
)

// RegistryPublisher records registry-refresh events. *events.Publisher
// satisfies it.
type RegistryPublisher interface {
	PublishRegistryRefreshed(ctx context.Context, payload events.RegistryRefreshedPayload) (string, error)
}

// RegistrySummary is the API view of one registry snapshot, stripped of
// centroids and exemplar questions.
type RegistrySummary struct {
	Categories []CategorySummary `json:"categories"`
	Intents    int               `json:"intents"`
	PairCount  int               `json:"pair_count"`
	BuiltAt    time.Time         `json:"built_at"`
}

// CategorySummary is one category with its intent breakdown.
type CategorySummary struct {
	Name    string          `json:"name"`
	Intents []IntentSummary `json:"intents"`
	Pairs   int             `json:"pairs"`
}

// IntentSummary is one intent leaf with its member pair count.
type IntentSummary struct {
	Name  string `json:"name"`
	Pairs int    `json:"pairs"`
}

// RegistryService exposes the intent registry: the current snapshot
// summary and forced rebuilds.
type RegistryService struct {
	registry *intent.Registry
	events   RegistryPublisher
	logger   *slog.Logger
}

// NewRegistryService creates a registry service. The publisher may be
// nil; refresh events are then skipped.
func NewRegistryService(registry *intent.Registry, publisher RegistryPublisher) *RegistryService {
	if registry == nil {
		panic("registry is required")
	}
	return &RegistryService{
		registry: registry,
		events:   publisher,
		logger:   slog.Default().With("component", "registry_service"),
	}
}

// Snapshot summarizes the currently published snapshot.
func (s *RegistryService) Snapshot() *RegistrySummary {
	return summarize(s.registry.Current())
}

// Refresh forces a registry rebuild and returns the new snapshot
// summary. Concurrent refreshes collapse into one corpus scan.
func (s *RegistryService) Refresh(ctx context.Context) (*RegistrySummary, error) {
	snap, err := s.registry.Rebuild(ctx)
	if err != nil {
		return nil, fmt.Errorf("rebuild registry: %w", err)
	}
	summary := summarize(snap)

	if s.events != nil {
		_, err := s.events.PublishRegistryRefreshed(ctx, events.RegistryRefreshedPayload{
			Categories: len(summary.Categories),
			Intents:    summary.Intents,
			PairCount:  summary.PairCount,
			Timestamp:  events.Timestamp(),
		})
		if err != nil {
			s.logger.Warn("Failed to publish registry refreshed event", "error", err)
		}
	}
	return summary, nil
}

func summarize(snap *intent.Snapshot) *RegistrySummary {
	out := &RegistrySummary{
		Categories: make([]CategorySummary, 0, len(snap.Categories)),
		PairCount:  snap.PairCount,
		BuiltAt:    snap.BuiltAt,
	}
	for _, cat := range snap.Categories {
		cs := CategorySummary{
			Name:    cat.Name,
			Pairs:   cat.Pairs,
			Intents: make([]IntentSummary, 0, len(cat.Intents)),
		}
		for _, in := range cat.Intents {
			cs.Intents = append(cs.Intents, IntentSummary{Name: in.Name, Pairs: in.Pairs})
			out.Intents++
		}
		out.Categories = append(out.Categories, cs)
	}
	return out
}
