// Package channel turns record reads into subscriptions. A subscription
// delivers the full current snapshot of its key, first immediately and
// then after every change: on push notification while the gateway is in
// Cloud mode, on a fixed poll interval in LocalOnly mode.
package channel

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/Copilotuser-cyber/ChatPDT/internal/gateway"
	"github.com/Copilotuser-cyber/ChatPDT/internal/model"
)

// Source is the part of the gateway a channel reads from.
type Source interface {
	Read(ctx context.Context, collection string, f gateway.Filter) ([]model.Document, error)
	Watch(ctx context.Context, collection string, f gateway.Filter, notify func()) (func(), <-chan error, error)
	Downgraded() <-chan struct{}
}

var _ Source = (*gateway.Gateway)(nil)

// Key identifies what a subscription observes.
type Key struct {
	Collection string
	Filter     gateway.Filter
	// Interval is the poll period in LocalOnly mode. Zero uses the
	// collection default.
	Interval time.Duration
}

// Default poll intervals, tighter for administrative overrides than for
// routine list refresh.
var defaultIntervals = map[string]time.Duration{
	model.CollectionOverrides:      2 * time.Second,
	model.CollectionChats:          10 * time.Second,
	model.CollectionGames:          10 * time.Second,
	model.CollectionCommunityPosts: 15 * time.Second,
	model.CollectionUsers:          15 * time.Second,
}

// Source names reported by Handle.Source.
const (
	SourcePush = "push"
	SourcePoll = "poll"
)

// Channel creates subscriptions against one Source.
type Channel struct {
	src       Source
	log       zerolog.Logger
	intervals map[string]time.Duration

	mu      sync.Mutex
	handles map[*Handle]struct{}
}

// Option configures a Channel.
type Option func(*Channel)

// WithLogger sets the logger. The default discards.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Channel) { c.log = l }
}

// WithInterval overrides the default poll interval of a collection.
func WithInterval(collection string, d time.Duration) Option {
	return func(c *Channel) {
		if d > 0 {
			c.intervals[collection] = d
		}
	}
}

// New returns a Channel reading from src.
func New(src Source, opts ...Option) *Channel {
	c := &Channel{
		src:       src,
		log:       zerolog.Nop(),
		intervals: map[string]time.Duration{},
		handles:   map[*Handle]struct{}{},
	}
	for k, v := range defaultIntervals {
		c.intervals[k] = v
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Interval returns the poll interval used for key.
func (c *Channel) Interval(key Key) time.Duration {
	if key.Interval > 0 {
		return key.Interval
	}
	if d, ok := c.intervals[key.Collection]; ok {
		return d
	}
	return 10 * time.Second
}

// Subscribe starts delivering snapshots of key to fn until the returned
// handle is disposed. fn is never invoked concurrently with itself for one
// subscription. fn may receive identical consecutive snapshots.
func (c *Channel) Subscribe(key Key, fn func([]model.Document)) *Handle {
	ctx, cancel := context.WithCancel(context.Background())
	h := &Handle{
		cancel: cancel,
		done:   make(chan struct{}),
		fn:     fn,
		key:    key,
	}
	c.mu.Lock()
	c.handles[h] = struct{}{}
	c.mu.Unlock()
	activeSubscriptions.Inc()

	go func() {
		defer func() {
			c.mu.Lock()
			delete(c.handles, h)
			c.mu.Unlock()
			activeSubscriptions.Dec()
			close(h.done)
		}()
		c.run(ctx, h)
	}()
	return h
}

// Close disposes every live subscription and waits for them to stop.
func (c *Channel) Close() {
	c.mu.Lock()
	hs := make([]*Handle, 0, len(c.handles))
	for h := range c.handles {
		hs = append(hs, h)
	}
	c.mu.Unlock()
	for _, h := range hs {
		h.Dispose()
		<-h.Done()
	}
}

func (c *Channel) run(ctx context.Context, h *Handle) {
	if c.runPush(ctx, h) {
		return
	}
	if ctx.Err() != nil {
		return
	}
	h.source.Store(SourcePoll)
	sched := NewScheduler(c.Interval(h.key), func(ctx context.Context) {
		c.deliver(ctx, h, SourcePoll)
	})
	sched.Start(ctx)
	<-ctx.Done()
	sched.Stop()
}

// runPush serves h from push notifications. It returns true when the
// subscription ended, false when polling must take over: the gateway
// downgraded or the push listener ended.
func (c *Channel) runPush(ctx context.Context, h *Handle) bool {
	select {
	case <-c.src.Downgraded():
		return false
	default:
	}

	// Notifications carry no payload; a burst collapses into one re-read.
	kick := make(chan struct{}, 1)
	stop, ended, err := c.src.Watch(ctx, h.key.Collection, h.key.Filter, func() {
		select {
		case kick <- struct{}{}:
		default:
		}
	})
	if err != nil {
		if !errors.Is(err, gateway.ErrPushUnavailable) {
			c.log.Warn().Err(err).Str("collection", h.key.Collection).Msg("push subscription failed, polling instead")
		}
		return false
	}
	defer stop()
	h.source.Store(SourcePush)

	c.deliver(ctx, h, SourcePush)
	for {
		select {
		case <-ctx.Done():
			return true
		case <-c.src.Downgraded():
			c.log.Info().Str("collection", h.key.Collection).Msg("gateway downgraded, switching subscription to polling")
			return false
		case err := <-ended:
			if ctx.Err() == nil {
				pushEndedTotal.WithLabelValues(h.key.Collection).Inc()
				c.log.Warn().Err(err).Str("collection", h.key.Collection).Msg("push listener ended, switching subscription to polling")
			}
			return false
		case <-kick:
			c.deliver(ctx, h, SourcePush)
		}
	}
}

func (c *Channel) deliver(ctx context.Context, h *Handle, source string) {
	if h.disposed.Load() || ctx.Err() != nil {
		return
	}
	docs, err := c.src.Read(ctx, h.key.Collection, h.key.Filter)
	if err != nil {
		if ctx.Err() == nil {
			readFailuresTotal.WithLabelValues(h.key.Collection).Inc()
			c.log.Warn().Err(err).Str("collection", h.key.Collection).Msg("snapshot read failed")
		}
		return
	}
	if h.invoke(docs) {
		deliveriesTotal.WithLabelValues(h.key.Collection, source).Inc()
	}
}

// Handle controls one subscription.
type Handle struct {
	key    Key
	fn     func([]model.Document)
	cancel context.CancelFunc
	done   chan struct{}

	disposed atomic.Bool
	source   atomic.Value // string

	// mu serializes callback invocations of this subscription.
	mu sync.Mutex
}

// Dispose stops the subscription. It is idempotent and may be called from
// inside the callback or concurrently with a delivery; a delivery already
// running completes, and none starts afterwards. It does not wait for the
// subscription goroutine; use Done for that.
func (h *Handle) Dispose() {
	if h.disposed.CompareAndSwap(false, true) {
		h.cancel()
	}
}

// Done is closed once the subscription has fully stopped.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Source reports whether the subscription is currently served by push or
// by polling, or "" before the first source started.
func (h *Handle) Source() string {
	s, _ := h.source.Load().(string)
	return s
}

// Key returns the observed key.
func (h *Handle) Key() Key { return h.key }

func (h *Handle) invoke(docs []model.Document) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.disposed.Load() {
		return false
	}
	h.fn(docs)
	return true
}
