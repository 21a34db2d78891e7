// Package health tracks whether the storage backends answer pings.
package health

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Checker is implemented by component-level checkers.
type Checker interface {
	Name() string
	IsHealthy() bool
	Start(ctx context.Context, interval time.Duration)
}

// Pinger is the part of a storage backend a BackendChecker needs.
type Pinger interface {
	Name() string
	Ping(ctx context.Context) error
}

// BackendChecker pings one backend on an interval and caches the result.
type BackendChecker struct {
	b       Pinger
	timeout time.Duration
	active  func() bool
	healthy atomic.Int32
	log     zerolog.Logger
}

// NewBackendChecker returns a checker for b. While active reports false
// the backend is not pinged and counts as healthy; a nil active always
// pings.
func NewBackendChecker(b Pinger, timeout time.Duration, active func() bool, log zerolog.Logger) *BackendChecker {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &BackendChecker{b: b, timeout: timeout, active: active, log: log}
}

func (c *BackendChecker) Name() string    { return c.b.Name() }
func (c *BackendChecker) IsHealthy() bool { return c.healthy.Load() == 1 }

// Check pings once and records the outcome.
func (c *BackendChecker) Check(ctx context.Context) bool {
	if c.active != nil && !c.active() {
		c.set(true)
		return true
	}
	pctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	err := c.b.Ping(pctx)
	if err != nil {
		c.log.Debug().Err(err).Str("backend", c.b.Name()).Msg("health ping failed")
	}
	c.set(err == nil)
	return err == nil
}

func (c *BackendChecker) set(ok bool) {
	v := int32(0)
	if ok {
		v = 1
	}
	c.healthy.Store(v)
	backendUp.WithLabelValues(c.b.Name()).Set(float64(v))
}

// Start checks immediately and then on every tick until ctx ends.
func (c *BackendChecker) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	c.Check(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Check(ctx)
		}
	}
}

// Monitor aggregates component checkers into a single health flag.
type Monitor struct {
	healthy atomic.Int32
	deps    []Checker
	log     zerolog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewMonitor(log zerolog.Logger, deps ...Checker) *Monitor {
	return &Monitor{deps: deps, log: log}
}

// IsHealthy returns the cached aggregate health.
func (m *Monitor) IsHealthy() bool { return m.healthy.Load() == 1 }

// Run starts every dependency and the aggregation loop in the background.
// Stop ends them.
func (m *Monitor) Run(ctx context.Context, interval time.Duration) {
	ctx, m.cancel = context.WithCancel(ctx)
	for _, d := range m.deps {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			d.Start(ctx, interval)
		}()
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.Start(ctx, interval)
	}()
}

// Stop cancels the loops started by Run and waits for them.
func (m *Monitor) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
}

// Start periodically evaluates dependency health and updates the flag.
func (m *Monitor) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	prev := int32(-1)
	eval := func() {
		all := true
		for _, c := range m.deps {
			if !c.IsHealthy() {
				all = false
			}
		}
		cur := int32(0)
		if all {
			cur = 1
		}
		m.healthy.Store(cur)
		if cur != prev {
			if cur == 1 {
				m.log.Info().Msg("storage health: UP")
			} else {
				m.log.Error().Msg("storage health: DOWN")
			}
			prev = cur
		}
	}

	eval()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			eval()
		}
	}
}
