// Package shardqueue is a sharded work queue that keeps FIFO order per key
// while running different keys in parallel. Side effects that must not
// block a caller, such as first-turn title generation, run here keyed by
// chat id so two jobs for one chat never interleave.
//
// Callers must not Submit concurrently for the same key; FIFO order relies
// on that external serialisation.
package shardqueue

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	backoff "github.com/cenkalti/backoff/v4"

	pdterrors "github.com/Copilotuser-cyber/ChatPDT/internal/errors"
)

type queuedJob struct {
	ctx context.Context
	job Job
}

// ShardExecutor executes Jobs on worker goroutines partitioned by a stable
// hash of the key.
type ShardExecutor struct {
	cfg    Config
	queues []chan queuedJob

	done   chan struct{} // closed in Stop()
	closed atomic.Bool

	wg sync.WaitGroup
}

// NewShardExecutor constructs the executor and starts its shard workers.
func NewShardExecutor(cfg Config) *ShardExecutor {
	if cfg.Shards <= 0 {
		cfg.Shards = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.EnqueueTimeout <= 0 {
		cfg.EnqueueTimeout = 100 * time.Millisecond
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = 100 * time.Millisecond
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = 5 * time.Second
	}

	p := &ShardExecutor{
		cfg:    cfg,
		queues: make([]chan queuedJob, cfg.Shards),
		done:   make(chan struct{}),
	}
	for i := 0; i < cfg.Shards; i++ {
		ch := make(chan queuedJob, cfg.QueueSize)
		p.queues[i] = ch
		p.wg.Add(1)
		go p.runWorker(i, ch)
	}
	return p
}

// Submit enqueues job for the shard derived from key.
//
//   - Returns ErrExecutorClosed if the executor is stopped.
//   - Returns *QueueFullError if the shard is still full after
//     EnqueueTimeout.
//   - Returns ctx.Err() if ctx is cancelled first.
func (p *ShardExecutor) Submit(ctx context.Context, key string, job Job) error {
	if p.closed.Load() {
		return ErrExecutorClosed
	}
	select {
	case <-p.done:
		return ErrExecutorClosed
	default:
	}

	qj := queuedJob{ctx: ctx, job: job}
	shard := p.shardFor(key)
	ch := p.queues[shard]

	timer := time.NewTimer(p.cfg.EnqueueTimeout)
	defer timer.Stop()

	select {
	case ch <- qj:
		submissionsTotal.WithLabelValues(labelFor(shard)).Inc()
		return nil
	case <-p.done:
		return ErrExecutorClosed
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		queueFullTotal.WithLabelValues(labelFor(shard)).Inc()
		return &QueueFullError{Shard: shard, Length: len(ch), Capacity: cap(ch)}
	}
}

// Barrier waits until every job submitted for key before the call has run.
func (p *ShardExecutor) Barrier(ctx context.Context, key string) error {
	done := make(chan struct{})
	if err := p.Submit(ctx, key, JobFunc(func(context.Context) error {
		close(done)
		return nil
	})); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

// Stop lets every worker drain its queue and waits for them. It is
// idempotent and safe for concurrent use.
func (p *ShardExecutor) Stop() {
	if !p.closed.CompareAndSwap(false, true) {
		return
	}
	p.cfg.Logger.Debug().Int("shards", p.cfg.Shards).Msg("shardqueue: stopping executor")
	close(p.done)
	p.wg.Wait()
	p.cfg.Logger.Debug().Msg("shardqueue: executor stopped, all queues drained")
}

// Close lets ShardExecutor satisfy io.Closer.
func (p *ShardExecutor) Close() error {
	p.Stop()
	return nil
}

func (p *ShardExecutor) runWorker(idx int, ch <-chan queuedJob) {
	defer p.wg.Done()
	label := labelFor(idx)

	for {
		select {
		case qj := <-ch:
			if qj.job == nil {
				continue
			}
			if !p.execute(label, qj) {
				return
			}
			queueDepth.WithLabelValues(label).Set(float64(len(ch)))

		case <-p.done:
			drained := 0
			for {
				select {
				case qj := <-ch:
					if qj.job != nil {
						p.runOnce(label, qj)
						drained++
					}
				default:
					if drained > 0 {
						p.cfg.Logger.Debug().Int("shard", idx).Int("drained", drained).Msg("shardqueue: drained jobs")
					}
					queueDepth.WithLabelValues(label).Set(0)
					return
				}
			}
		}
	}
}

// execute runs qj with retries. It returns false when the executor stopped
// mid-backoff and the worker should exit.
func (p *ShardExecutor) execute(label string, qj queuedJob) bool {
	if err := qj.ctx.Err(); err != nil {
		p.fail(label, err)
		return true
	}

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = p.cfg.BaseBackoff
	exp.Multiplier = 2
	exp.MaxInterval = p.cfg.MaxInterval
	exp.Reset()

	for attempt := 1; ; attempt++ {
		err := p.runOnce(label, qj)
		if err == nil {
			return true
		}
		if isIrrecoverable(err) || attempt >= p.cfg.MaxAttempts {
			p.fail(label, err)
			return true
		}
		select {
		case <-time.After(exp.NextBackOff()):
		case <-p.done:
			return false
		case <-qj.ctx.Done():
			p.fail(label, qj.ctx.Err())
			return true
		}
	}
}

// runOnce runs a single attempt, converting a panic into an error so one
// bad job cannot kill the shard.
func (p *ShardExecutor) runOnce(label string, qj queuedJob) (err error) {
	start := time.Now()
	defer func() {
		runDuration.WithLabelValues(label).Observe(time.Since(start).Seconds())
		if r := recover(); r != nil {
			err = fmt.Errorf("shardqueue: job panic: %v", r)
			p.cfg.Logger.Error().Str("shard", label).Interface("panic", r).Msg("shardqueue: job panicked")
		}
	}()
	return qj.job.Run(qj.ctx)
}

func (p *ShardExecutor) fail(label string, err error) {
	jobFailuresTotal.WithLabelValues(label).Inc()
	if p.cfg.ErrorHandler == nil {
		p.cfg.Logger.Warn().Err(err).Str("shard", label).Msg("shardqueue: job failed")
		return
	}
	defer func() {
		if r := recover(); r != nil {
			p.cfg.Logger.Error().Interface("panic", r).Msg("shardqueue: error handler panicked")
		}
	}()
	p.cfg.ErrorHandler(err)
}

func (p *ShardExecutor) shardFor(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(p.cfg.Shards))
}

// isIrrecoverable reports errors a retry cannot fix.
func isIrrecoverable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return true
	}
	return pdterrors.IsAuthorization(err) || pdterrors.IsSerialization(err) || errors.Is(err, pdterrors.ErrValidation)
}
