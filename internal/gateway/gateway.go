// Package gateway is the single entry point for record reads and writes.
// It routes every operation to the cloud backend while the session is
// allowed to use it, and to the local cache otherwise.
//
// The capability flag has exactly one legal transition, Cloud to
// LocalOnly, taken the first time the cloud backend refuses an operation
// for authorization reasons. The refused operation is then executed once
// against the local cache. No other error is retried.
package gateway

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	pdterrors "github.com/Copilotuser-cyber/ChatPDT/internal/errors"
	"github.com/Copilotuser-cyber/ChatPDT/internal/model"
	"github.com/Copilotuser-cyber/ChatPDT/internal/sanitize"
	"github.com/Copilotuser-cyber/ChatPDT/internal/store"
)

// Mode is the capability state of a Gateway.
type Mode int32

const (
	ModeCloud Mode = iota
	ModeLocalOnly
)

func (m Mode) String() string {
	if m == ModeCloud {
		return "cloud"
	}
	return "local-only"
}

// ErrPushUnavailable is returned by Watch when no push source can serve
// the subscription; callers fall back to polling.
var ErrPushUnavailable = errors.New("gateway: push notification unavailable")

// Filter re-exports store.Filter for callers of the gateway.
type Filter = store.Filter

// Gateway implements uniform read, write and delete over a cloud backend
// and a local cache.
type Gateway struct {
	cloud store.Backend
	local store.Backend
	log   zerolog.Logger

	mode       atomic.Int32
	downOnce   sync.Once
	downgraded chan struct{}
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithLogger sets the logger. The default discards.
func WithLogger(l zerolog.Logger) Option {
	return func(g *Gateway) { g.log = l }
}

// New returns a gateway over local and an optional cloud backend. With a
// nil cloud the gateway starts in LocalOnly mode.
func New(local, cloud store.Backend, opts ...Option) *Gateway {
	g := &Gateway{
		cloud:      cloud,
		local:      local,
		log:        zerolog.Nop(),
		downgraded: make(chan struct{}),
	}
	for _, o := range opts {
		o(g)
	}
	if cloud == nil {
		g.mode.Store(int32(ModeLocalOnly))
		g.downOnce.Do(func() { close(g.downgraded) })
	}
	return g
}

// Mode returns the current capability state.
func (g *Gateway) Mode() Mode { return Mode(g.mode.Load()) }

// IsCloudEnabled reports whether operations currently go to the cloud.
func (g *Gateway) IsCloudEnabled() bool { return g.Mode() == ModeCloud }

// Downgraded is closed once the gateway is in LocalOnly mode.
func (g *Gateway) Downgraded() <-chan struct{} { return g.downgraded }

// Sanitize renders v as plain data; see package sanitize.
func (g *Gateway) Sanitize(v any) (any, error) { return sanitize.Value(v) }

func (g *Gateway) downgrade(cause error) {
	g.downOnce.Do(func() {
		g.mode.Store(int32(ModeLocalOnly))
		downgradesTotal.Inc()
		g.log.Warn().Err(cause).Str("cloud", g.cloud.Name()).Msg("cloud backend refused access, switching to local-only mode")
		close(g.downgraded)
	})
}

// Read returns the records of collection selected by f. A missing id
// yields an empty slice.
func (g *Gateway) Read(ctx context.Context, collection string, f Filter) ([]model.Document, error) {
	var out []model.Document
	err := g.do(ctx, "read", collection, nil, func(b store.Backend) error {
		docs, err := b.Query(ctx, collection, f)
		if err != nil {
			return err
		}
		out = docs
		return nil
	})
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []model.Document{}
	}
	return out, nil
}

// Write sanitizes record and stores it under its id field using the
// collection's policy: Replace writes the whole record, Merge overlays the
// present top-level fields.
func (g *Gateway) Write(ctx context.Context, collection string, record any) error {
	doc, err := sanitize.Document(record)
	if err != nil {
		return err
	}
	id := doc.ID()
	if id == "" {
		return pdterrors.NewValidationError("write", "%s record has no string id", collection)
	}
	if PolicyFor(collection) == Replace {
		put := func(b store.Backend) error { return b.Put(ctx, collection, id, doc) }
		return g.do(ctx, "write", collection, put, put)
	}
	merge := func(b store.Backend) error { return b.Merge(ctx, collection, id, doc) }
	mirror := func(local store.Backend) error {
		return g.mirrorMerged(ctx, local, collection, id, merge)
	}
	return g.do(ctx, "write", collection, mirror, merge)
}

// mirrorMerged copies the merged cloud record to the local cache, so fields
// the cache never saw are not lost. It replays the merge when the cloud
// record cannot be read back.
func (g *Gateway) mirrorMerged(ctx context.Context, local store.Backend, collection, id string, merge func(store.Backend) error) error {
	docs, err := g.cloud.Query(ctx, collection, Filter{ID: id})
	if err != nil || len(docs) == 0 {
		return merge(local)
	}
	return local.Put(ctx, collection, id, docs[0])
}

// Delete removes the record. Deleting a missing id succeeds.
func (g *Gateway) Delete(ctx context.Context, collection, id string) error {
	if id == "" {
		return pdterrors.NewValidationError("delete", "empty id")
	}
	del := func(b store.Backend) error { return b.Delete(ctx, collection, id) }
	return g.do(ctx, "delete", collection, del, del)
}

// do runs fn against the cloud while allowed, then the local cache. A
// non-nil mirror runs on the local cache after a successful cloud mutation
// so the cache stays usable after a later downgrade.
func (g *Gateway) do(ctx context.Context, op, collection string, mirror, fn func(store.Backend) error) error {
	if g.IsCloudEnabled() {
		err := g.timed(g.cloud, op, fn)
		switch {
		case err == nil:
			if mirror != nil {
				if merr := mirror(g.local); merr != nil {
					mirrorFailuresTotal.WithLabelValues(op).Inc()
					g.log.Warn().Err(merr).Str("collection", collection).Str("op", op).Msg("local mirror write failed")
				}
			}
			return nil
		case pdterrors.IsAuthorization(err):
			g.downgrade(err)
		default:
			return err
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return g.timed(g.local, op, fn)
}

func (g *Gateway) timed(b store.Backend, op string, fn func(store.Backend) error) error {
	start := time.Now()
	err := fn(b)
	opDuration.WithLabelValues(b.Name(), op).Observe(time.Since(start).Seconds())
	outcome := "ok"
	if err != nil {
		outcome = "error"
		if pdterrors.IsAuthorization(err) {
			outcome = "denied"
		}
	}
	opsTotal.WithLabelValues(b.Name(), op, outcome).Inc()
	return err
}

// Watch registers notify for changes to records of collection selected by
// f on the cloud backend. It returns ErrPushUnavailable in LocalOnly mode
// or when the cloud backend has no push support. An authorization failure
// downgrades the gateway and also yields ErrPushUnavailable. ended reports
// the end of the listener as described by store.Watcher.
func (g *Gateway) Watch(ctx context.Context, collection string, f Filter, notify func()) (func(), <-chan error, error) {
	if !g.IsCloudEnabled() {
		return nil, nil, ErrPushUnavailable
	}
	w, ok := g.cloud.(store.Watcher)
	if !ok {
		return nil, nil, ErrPushUnavailable
	}
	stop, ended, err := w.Watch(ctx, collection, f, notify)
	if err != nil {
		if pdterrors.IsAuthorization(err) {
			g.downgrade(err)
			return nil, nil, ErrPushUnavailable
		}
		return nil, nil, err
	}
	return stop, ended, nil
}

// Probe pings the cloud backend with exponential backoff until it answers,
// refuses access, or maxElapsed passes. A refusal downgrades the gateway
// before any record operation runs. Transient failures are returned and
// leave the mode unchanged.
func (g *Gateway) Probe(ctx context.Context, attemptTimeout, maxElapsed time.Duration) error {
	if !g.IsCloudEnabled() {
		return nil
	}
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = 200 * time.Millisecond
	exp.MaxElapsedTime = maxElapsed

	err := backoff.Retry(func() error {
		pctx, cancel := context.WithTimeout(ctx, attemptTimeout)
		defer cancel()
		err := g.cloud.Ping(pctx)
		if pdterrors.IsAuthorization(err) {
			return backoff.Permanent(err)
		}
		if err != nil {
			g.log.Debug().Err(err).Str("cloud", g.cloud.Name()).Msg("cloud probe failed, retrying")
		}
		return err
	}, backoff.WithContext(exp, ctx))

	switch {
	case err == nil:
		return nil
	case pdterrors.IsAuthorization(err):
		g.downgrade(err)
		return nil
	default:
		g.log.Warn().Err(err).Str("cloud", g.cloud.Name()).Msg("cloud backend unreachable at startup")
		return err
	}
}

// Close closes both backends.
func (g *Gateway) Close() error {
	var errs []error
	if g.cloud != nil {
		errs = append(errs, g.cloud.Close())
	}
	errs = append(errs, g.local.Close())
	return errors.Join(errs...)
}

// Get decodes the record with id, reporting whether it exists.
func Get[T any](ctx context.Context, g *Gateway, collection, id string) (T, bool, error) {
	var zero T
	docs, err := g.Read(ctx, collection, Filter{ID: id})
	if err != nil || len(docs) == 0 {
		return zero, false, err
	}
	v, err := model.Decode[T](docs[0])
	if err != nil {
		return zero, false, pdterrors.NewSerializationError(collection+"/"+id, "%v", err)
	}
	return v, true, nil
}

// List decodes every record of collection selected by f.
func List[T any](ctx context.Context, g *Gateway, collection string, f Filter) ([]T, error) {
	docs, err := g.Read(ctx, collection, f)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(docs))
	for _, d := range docs {
		v, err := model.Decode[T](d)
		if err != nil {
			return nil, pdterrors.NewSerializationError(collection+"/"+d.ID(), "%v", err)
		}
		out = append(out, v)
	}
	return out, nil
}
