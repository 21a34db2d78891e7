package override

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Default display durations of timed effects.
const (
	DefaultBroadcastDuration = 10 * time.Second
	DefaultTakeoverDuration  = 8 * time.Second
)

// GhostSink performs the chat mutation a ghost message asks for, on behalf
// of the receiving user.
type GhostSink interface {
	DeliverGhost(ctx context.Context, userID string, g GhostMessageOverride) error
}

// Handlers are the session reactions to override payloads. Nil handlers
// are skipped.
type Handlers struct {
	Theme        func(Theme)
	AppSettings  func(AppSettingsOverride)
	VisualMatrix func(VisualMatrixOverride)
	Config       func(ForcedConfigOverride)
	Audio        func(AudioOverride)

	Broadcast        func(BroadcastOverride)
	BroadcastExpired func()
	Takeover         func(TakeoverOverride)
	TakeoverEnded    func()

	Ghost GhostSink
}

// Receiver applies override documents for one session. Bare values are
// applied on every delivery; timestamped events only when strictly newer
// than the last one this receiver acted on.
type Receiver struct {
	userID       string
	h            Handlers
	log          zerolog.Logger
	broadcastFor time.Duration
	takeoverFor  time.Duration
	ctx          context.Context

	mu       sync.Mutex
	lastSeen map[string]int64
	timers   map[string]*time.Timer
	closed   bool
}

// ReceiverOption configures a Receiver.
type ReceiverOption func(*Receiver)

// WithReceiverLogger sets the logger.
func WithReceiverLogger(l zerolog.Logger) ReceiverOption {
	return func(r *Receiver) { r.log = l }
}

// WithDurations sets the broadcast and takeover display durations.
func WithDurations(broadcast, takeover time.Duration) ReceiverOption {
	return func(r *Receiver) {
		if broadcast > 0 {
			r.broadcastFor = broadcast
		}
		if takeover > 0 {
			r.takeoverFor = takeover
		}
	}
}

// WithWatermark treats events triggered at or before ms as already seen.
func WithWatermark(ms int64) ReceiverOption {
	return func(r *Receiver) {
		for _, f := range []string{FieldBroadcast, FieldTakeover, FieldGhost} {
			r.lastSeen[f] = ms
		}
	}
}

// WithContext sets the context passed to the ghost sink.
func WithContext(ctx context.Context) ReceiverOption {
	return func(r *Receiver) { r.ctx = ctx }
}

// NewReceiver returns a receiver for userID's session.
func NewReceiver(userID string, h Handlers, opts ...ReceiverOption) *Receiver {
	r := &Receiver{
		userID:       userID,
		h:            h,
		log:          zerolog.Nop(),
		broadcastFor: DefaultBroadcastDuration,
		takeoverFor:  DefaultTakeoverDuration,
		ctx:          context.Background(),
		lastSeen:     map[string]int64{},
		timers:       map[string]*time.Timer{},
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// LastSeen returns the trigger time of the last event acted on for field.
func (r *Receiver) LastSeen(field string) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastSeen[field]
}

// accept records ts for field when it is strictly newer.
func (r *Receiver) accept(field string, ts int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || ts <= r.lastSeen[field] {
		return false
	}
	r.lastSeen[field] = ts
	return true
}

// fresh reports whether ts is newer than the last event acted on for field
// without recording it.
func (r *Receiver) fresh(field string, ts int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return !r.closed && ts > r.lastSeen[field]
}

// commit records ts for field unless a newer event is already recorded.
func (r *Receiver) commit(field string, ts int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ts > r.lastSeen[field] {
		r.lastSeen[field] = ts
	}
}

// Apply reacts to one delivered document. Deliveries must not overlap.
func (r *Receiver) Apply(d *Document) {
	if d == nil || r.isClosed() {
		return
	}
	if d.Theme != nil && r.h.Theme != nil {
		r.h.Theme(d.Theme.Theme)
	}
	if d.AppSettings != nil && r.h.AppSettings != nil {
		r.h.AppSettings(*d.AppSettings)
	}
	if d.VisualMatrix != nil && r.h.VisualMatrix != nil {
		r.h.VisualMatrix(*d.VisualMatrix)
	}
	if d.Config != nil && r.h.Config != nil {
		r.h.Config(*d.Config)
	}
	if d.Audio != nil && r.h.Audio != nil {
		r.h.Audio(*d.Audio)
	}

	if b := d.Broadcast; b != nil && r.accept(FieldBroadcast, b.TriggerTimestamp) {
		acceptedTotal.WithLabelValues(FieldBroadcast).Inc()
		if r.h.Broadcast != nil {
			r.h.Broadcast(*b)
		}
		r.arm(FieldBroadcast, r.broadcastFor, r.h.BroadcastExpired)
	}
	if t := d.Takeover; t != nil && r.accept(FieldTakeover, t.TriggerTimestamp) {
		acceptedTotal.WithLabelValues(FieldTakeover).Inc()
		if r.h.Takeover != nil {
			r.h.Takeover(*t)
		}
		r.arm(FieldTakeover, r.takeoverFor, r.h.TakeoverEnded)
	}
	// A ghost message counts as seen only once the sink stored it; a failed
	// delivery is retried on the next snapshot of the document.
	if g := d.Ghost; g != nil && r.fresh(FieldGhost, g.TriggerTimestamp) {
		if r.h.Ghost != nil {
			if err := r.h.Ghost.DeliverGhost(r.ctx, r.userID, *g); err != nil {
				r.log.Warn().Err(err).Str("user_id", r.userID).Int64("trigger", g.TriggerTimestamp).Msg("ghost message delivery failed, retrying on next delivery")
				return
			}
		}
		r.commit(FieldGhost, g.TriggerTimestamp)
		acceptedTotal.WithLabelValues(FieldGhost).Inc()
	}
}

// arm (re)starts the one-shot timer of field. A newer event replaces the
// pending timer of the same field only.
func (r *Receiver) arm(field string, d time.Duration, fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	if old := r.timers[field]; old != nil {
		old.Stop()
	}
	var t *time.Timer
	t = time.AfterFunc(d, func() {
		r.mu.Lock()
		if r.timers[field] != t {
			r.mu.Unlock()
			return
		}
		delete(r.timers, field)
		r.mu.Unlock()
		if fn != nil {
			fn()
		}
	})
	r.timers[field] = t
}

// Cancel stops the pending timer of field without running its expiry
// handler. It reports whether a timer was pending.
func (r *Receiver) Cancel(field string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.timers[field]
	if !ok {
		return false
	}
	t.Stop()
	delete(r.timers, field)
	return true
}

func (r *Receiver) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// Pending reports whether field has a running timer.
func (r *Receiver) Pending(field string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.timers[field]
	return ok
}

// Close stops every timer. Later deliveries are ignored.
func (r *Receiver) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	for f, t := range r.timers {
		t.Stop()
		delete(r.timers, f)
	}
}
