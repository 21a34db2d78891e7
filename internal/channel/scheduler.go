package channel

import (
	"context"
	"sync"
	"time"
)

// Scheduler runs a task immediately and then at a fixed interval until
// stopped. Start and Stop are the only way polling is driven, so every
// poll shares one cancellation contract.
type Scheduler struct {
	interval time.Duration
	task     func(context.Context)

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	stopped bool
}

// NewScheduler returns a stopped scheduler.
func NewScheduler(interval time.Duration, task func(context.Context)) *Scheduler {
	return &Scheduler{interval: interval, task: task}
}

// Start launches the loop. Calling Start on a running or stopped scheduler
// does nothing.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done != nil || s.stopped {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go s.loop(ctx, s.done)
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.task(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if ctx.Err() != nil {
				return
			}
			s.task(ctx)
		}
	}
}

// Stop cancels the loop and waits for a running task to return. It is
// idempotent. It must not be called from inside the task.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	cancel, done := s.cancel, s.done
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}
