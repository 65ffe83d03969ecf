// Package cleanup enforces the retention of persisted telemetry events.
package cleanup

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/codeready-toolchain/deepreport/pkg/config"
)

// EventPruner deletes events older than a cutoff. Implemented by
// *services.EventService.
type EventPruner interface {
	DeleteEventsBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// Service sweeps events older than report.event_ttl every
// report.cleanup_interval. Deletes are idempotent, so replicas may overlap.
type Service struct {
	ttl      time.Duration
	interval time.Duration
	events   EventPruner
	now      func() time.Time

	mu   sync.Mutex
	stop context.CancelFunc
	wg   sync.WaitGroup
}

func NewService(cfg *config.ReportConfig, events EventPruner) *Service {
	return &Service{
		ttl:      cfg.EventTTL,
		interval: cfg.CleanupInterval,
		events:   events,
		now:      time.Now,
	}
}

func (s *Service) enabled() bool { return s.ttl > 0 && s.interval > 0 }

// Start sweeps once immediately and then on every tick until Stop. Calling
// Start on a running or disabled service does nothing.
func (s *Service) Start(ctx context.Context) {
	if !s.enabled() {
		slog.Info("Event cleanup disabled", "event_ttl", s.ttl, "interval", s.interval)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop != nil {
		return
	}
	ctx, s.stop = context.WithCancel(ctx)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			s.sweep(ctx)
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
	slog.Info("Event cleanup started", "event_ttl", s.ttl, "interval", s.interval)
}

// Stop ends the sweep loop and waits for an in-flight sweep to return.
func (s *Service) Stop() {
	s.mu.Lock()
	stop := s.stop
	s.stop = nil
	s.mu.Unlock()
	if stop == nil {
		return
	}
	stop()
	s.wg.Wait()
	slog.Info("Event cleanup stopped")
}

// sweep deletes one batch of expired events. Failures are logged and retried
// on the next tick.
func (s *Service) sweep(ctx context.Context) {
	cutoff := s.now().Add(-s.ttl)
	n, err := s.events.DeleteEventsBefore(ctx, cutoff)
	switch {
	case err != nil && ctx.Err() == nil:
		slog.Error("Event cleanup failed", "cutoff", cutoff, "error", err)
	case n > 0:
		slog.Info("Expired events deleted", "count", n, "cutoff", cutoff)
	}
}
