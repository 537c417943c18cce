// Package cleanup enforces event retention: stored WebSocket catch-up
// events past their TTL are deleted on a periodic sweep.
package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/cortexd/cortexd/pkg/services"
)

const (
	// DefaultEventTTL keeps enough history for dashboard catch-up after
	// a reconnect without letting the events table grow unbounded.
	DefaultEventTTL = 24 * time.Hour

	// DefaultInterval between sweeps.
	DefaultInterval = time.Hour
)

// Service periodically removes stored events past their TTL. All
// operations are idempotent.
type Service struct {
	eventService *services.EventService
	eventTTL     time.Duration
	interval     time.Duration

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates a cleanup service. Zero durations fall back to the
// package defaults.
func NewService(eventService *services.EventService, eventTTL, interval time.Duration) *Service {
	if eventTTL <= 0 {
		eventTTL = DefaultEventTTL
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Service{
		eventService: eventService,
		eventTTL:     eventTTL,
		interval:     interval,
	}
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
		"event_ttl", s.eventTTL,
		"interval", s.interval)
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

	s.sweep(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Service) sweep(_ context.Context) {
	count, err := s.eventService.CleanupOldEvents(context.Background(), s.eventTTL)
	if err != nil {
		slog.Error("Retention: event cleanup failed", "error", err)
		return
	}
	if count > 0 {
		slog.Info("Retention: deleted expired events", "count", count)
	}
}
