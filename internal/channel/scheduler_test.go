package channel

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/goleak"
)

func TestScheduler_RunsImmediatelyThenOnInterval(t *testing.T) {
	defer goleak.VerifyNone(t)
	var runs atomic.Int32
	s := NewScheduler(10*time.Millisecond, func(context.Context) { runs.Add(1) })
	s.Start(context.Background())
	s.Start(context.Background())

	assert.Eventually(t, func() bool { return runs.Load() >= 3 }, time.Second, time.Millisecond)
	s.Stop()
	s.Stop()

	n := runs.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, n, runs.Load())
}

func TestScheduler_StopWithoutStart(t *testing.T) {
	s := NewScheduler(time.Second, func(context.Context) { t.Fatal("task ran") })
	s.Stop()
	s.Start(context.Background())
	time.Sleep(10 * time.Millisecond)
}

func TestScheduler_ParentCancelEndsLoop(t *testing.T) {
	defer goleak.VerifyNone(t)
	ctx, cancel := context.WithCancel(context.Background())
	s := NewScheduler(time.Millisecond, func(context.Context) {})
	s.Start(ctx)
	cancel()
	s.Stop()
}
