package reconcile

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Scheduler triggers Engine.Poll on a fixed interval. Ticks run on a single
// goroutine, so a slow poll delays the next one instead of overlapping it.
type Scheduler struct {
	engine   *Engine
	interval time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewScheduler(engine *Engine, interval time.Duration) *Scheduler {
	return &Scheduler{engine: engine, interval: interval}
}

func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go s.run(ctx)
	slog.InfoContext(ctx, "session poller started", "interval", s.interval)
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.engine.Poll(ctx); err != nil {
				slog.ErrorContext(ctx, "session poll failed", "error", err)
			}
		}
	}
}

// Stop halts the poller and waits for an in-flight tick to finish.
// Safe to call more than once.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel = nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}
