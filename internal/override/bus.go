package override

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/Copilotuser-cyber/ChatPDT/internal/channel"
	pdterrors "github.com/Copilotuser-cyber/ChatPDT/internal/errors"
	"github.com/Copilotuser-cyber/ChatPDT/internal/gateway"
	"github.com/Copilotuser-cyber/ChatPDT/internal/model"
)

// Writer is the gateway write path used by Push.
type Writer interface {
	Write(ctx context.Context, collection string, record any) error
}

// Bus pushes override payloads and subscribes to a user's document.
type Bus struct {
	w   Writer
	ch  *channel.Channel
	log zerolog.Logger
	now func() int64
	// interval is the poll interval used when push is unavailable.
	interval time.Duration
}

// BusOption configures a Bus.
type BusOption func(*Bus)

// WithBusLogger sets the logger.
func WithBusLogger(l zerolog.Logger) BusOption { return func(b *Bus) { b.log = l } }

// WithClock replaces the millisecond clock used for trigger and
// bookkeeping timestamps.
func WithClock(now func() int64) BusOption { return func(b *Bus) { b.now = now } }

// WithPollInterval overrides the subscription poll interval.
func WithPollInterval(d time.Duration) BusOption { return func(b *Bus) { b.interval = d } }

// NewBus returns a Bus writing through w and subscribing through ch.
func NewBus(w Writer, ch *channel.Channel, opts ...BusOption) *Bus {
	b := &Bus{w: w, ch: ch, log: zerolog.Nop(), now: model.NowMillis}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Push merge-writes payloads onto the override document of targetUserID in
// one write, stamping the bookkeeping timestamp. Timestamped payloads
// without a trigger time get the current time. The write is not retried.
func (b *Bus) Push(ctx context.Context, targetUserID string, payloads ...Override) error {
	if targetUserID == "" {
		return pdterrors.NewValidationError("override push", "empty target user id")
	}
	if len(payloads) == 0 {
		return pdterrors.NewValidationError("override push", "no payload")
	}
	now := b.now()
	doc := model.Document{"id": targetUserID, FieldTimestamp: now}
	for _, p := range payloads {
		if p == nil {
			return pdterrors.NewValidationError("override push", "nil payload")
		}
		if t, ok := p.(Timestamped); ok && t.Triggered() == 0 {
			p = t.withTrigger(now)
		}
		if err := p.Validate(); err != nil {
			return err
		}
		if _, dup := doc[p.Field()]; dup {
			return pdterrors.NewValidationError("override push", "field %s given twice", p.Field())
		}
		v, err := encode(p)
		if err != nil {
			return err
		}
		doc[p.Field()] = v
	}

	if err := b.w.Write(ctx, model.CollectionOverrides, doc); err != nil {
		pushesTotal.WithLabelValues("error").Inc()
		b.log.Warn().Err(err).Str("target", targetUserID).Msg("override push failed")
		return err
	}
	for _, p := range payloads {
		fieldsPushedTotal.WithLabelValues(p.Field()).Inc()
	}
	pushesTotal.WithLabelValues("ok").Inc()
	return nil
}

// Subscribe delivers the decoded override document of ownUserID on every
// change, including repeats. A user without a document receives an empty
// Document. Invalid sub-payloads are dropped with a warning.
func (b *Bus) Subscribe(ownUserID string, fn func(*Document)) *channel.Handle {
	key := channel.Key{
		Collection: model.CollectionOverrides,
		Filter:     gateway.Filter{ID: ownUserID},
		Interval:   b.interval,
	}
	return b.ch.Subscribe(key, func(docs []model.Document) {
		if len(docs) == 0 {
			fn(&Document{UserID: ownUserID})
			return
		}
		d, problems := Decode(docs[0])
		for _, p := range problems {
			rejectedTotal.WithLabelValues(p.Field).Inc()
			b.log.Warn().Err(p.Err).Str("user_id", ownUserID).Str("field", p.Field).Msg("dropping invalid override payload")
		}
		fn(d)
	})
}

// Attach subscribes r to its user's override document.
func (b *Bus) Attach(r *Receiver) *channel.Handle {
	return b.Subscribe(r.userID, r.Apply)
}
