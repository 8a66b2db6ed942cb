package health

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// DefaultSweepInterval is the default period of the background sweep.
const DefaultSweepInterval = 30 * time.Second

// ReprobeFunc re-probes the currently configured providers. The sweeper
// calls it after each staleness pass when set.
type ReprobeFunc func(ctx context.Context)

// Sweeper is a watchdog that marks providers unhealthy when they have not
// been probed within two sweep intervals.
type Sweeper struct {
	monitor  *Monitor
	interval time.Duration
	reprobe  ReprobeFunc

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSweeper creates a stopped sweeper. interval <= 0 uses
// DefaultSweepInterval. reprobe may be nil.
func NewSweeper(m *Monitor, interval time.Duration, reprobe ReprobeFunc) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &Sweeper{monitor: m, interval: interval, reprobe: reprobe}
}

// Start launches the sweep loop. Calling Start on a running sweeper is a no-op.
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.run(ctx, s.done)

	s.monitor.logger.Info("health sweeper started", "interval", s.interval.String())
}

// Stop cancels the loop and waits for it to exit, releasing its ticker.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	s.monitor.logger.Info("health sweeper stopped")
}

func (s *Sweeper) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce runs one staleness pass and, if configured, a re-probe. It
// returns the providers newly marked stale.
func (s *Sweeper) SweepOnce(ctx context.Context) []string {
	maxAge := 2 * s.interval
	stale := s.monitor.markStale(s.monitor.now().Add(-maxAge), fmt.Sprintf("stale: not probed within %s", maxAge))
	if len(stale) > 0 {
		s.monitor.logger.Warn("marked stale providers unhealthy", "providers", stale)
	}
	if s.reprobe != nil && ctx.Err() == nil {
		s.reprobe(ctx)
	}
	return stale
}
