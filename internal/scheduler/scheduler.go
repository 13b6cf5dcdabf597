// Package scheduler drives the recurring tick for every known agent.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/calliope-ai/calliope/internal/app/engine"
	"github.com/calliope-ai/calliope/internal/observability"
)

// DefaultInterval is the default tick cadence. Hourly is enough for both
// the outreach window and the daily maintenance hour.
const DefaultInterval = 1 * time.Hour

// Service fires Registry.TickAll at a fixed cadence.
type Service struct {
	registry *engine.Registry
	interval time.Duration
	cancel   context.CancelFunc
	done     chan struct{}
	mu       sync.Mutex
	running  bool
}

func New(registry *engine.Registry) *Service {
	return NewWithInterval(registry, DefaultInterval)
}

func NewWithInterval(registry *engine.Registry, interval time.Duration) *Service {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Service{
		registry: registry,
		interval: interval,
	}
}

// Start begins the periodic tick loop.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}

	tickCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running = true

	go s.run(tickCtx)
}

// Stop halts the loop and waits for an in-flight tick to finish.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	s.cancel()
	<-s.done
	s.running = false
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	observability.Logger().Info("scheduler started", "interval", s.interval.String())
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.registry.TickAll(ctx)
		}
	}
}
