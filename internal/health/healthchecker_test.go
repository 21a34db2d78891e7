package health

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"go.uber.org/goleak"
)

type fakeChecker struct {
	name    string
	healthy atomic.Int32
}

func (f *fakeChecker) Name() string                               { return f.name }
func (f *fakeChecker) IsHealthy() bool                            { return f.healthy.Load() == 1 }
func (f *fakeChecker) Start(ctx context.Context, _ time.Duration) { <-ctx.Done() }

type fakePinger struct {
	fail  atomic.Bool
	calls atomic.Int32
}

func (p *fakePinger) Name() string { return "fake" }
func (p *fakePinger) Ping(context.Context) error {
	p.calls.Add(1)
	if p.fail.Load() {
		return errors.New("unreachable")
	}
	return nil
}

func TestMonitor_Transitions(t *testing.T) {
	defer goleak.VerifyNone(t)

	a := &fakeChecker{name: "a"}
	b := &fakeChecker{name: "b"}
	a.healthy.Store(1)
	b.healthy.Store(1)

	m := NewMonitor(zerolog.Nop(), a, b)
	m.Run(context.Background(), 10*time.Millisecond)
	defer m.Stop()

	waitTrue(t, func() bool { return m.IsHealthy() })

	b.healthy.Store(0)
	waitTrue(t, func() bool { return !m.IsHealthy() })

	b.healthy.Store(1)
	waitTrue(t, func() bool { return m.IsHealthy() })
}

func TestBackendChecker_FollowsPing(t *testing.T) {
	p := &fakePinger{}
	c := NewBackendChecker(p, time.Second, nil, zerolog.Nop())

	if !c.Check(context.Background()) || !c.IsHealthy() {
		t.Fatalf("expected healthy after a successful ping")
	}
	p.fail.Store(true)
	if c.Check(context.Background()) || c.IsHealthy() {
		t.Fatalf("expected unhealthy after a failed ping")
	}
}

func TestBackendChecker_InactiveSkipsPing(t *testing.T) {
	p := &fakePinger{}
	p.fail.Store(true)
	c := NewBackendChecker(p, time.Second, func() bool { return false }, zerolog.Nop())

	if !c.Check(context.Background()) {
		t.Fatalf("inactive backend must count as healthy")
	}
	if p.calls.Load() != 0 {
		t.Fatalf("inactive backend was pinged %d times", p.calls.Load())
	}
}

func waitTrue(t *testing.T, pred func() bool) {
	t.Helper()
	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) {
		if pred() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met before timeout")
}
