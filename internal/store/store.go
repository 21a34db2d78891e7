package store

import (
	"context"
	"errors"

	"github.com/Copilotuser-cyber/ChatPDT/internal/model"
)

// Filter selects records within one collection. The zero value selects the
// whole collection.
type Filter struct {
	ID      string // filterById
	OwnerID string // filterByOwner, matched against the ownerId field
}

// Match reports whether d is selected by f.
func (f Filter) Match(d model.Document) bool {
	if f.ID != "" && d.ID() != f.ID {
		return false
	}
	if f.OwnerID != "" && d.OwnerID() != f.OwnerID {
		return false
	}
	return true
}

// Backend is a record store. Implementations live under
// internal/store/<driver>/ and classify their driver errors with
// internal/errors so the gateway can tell authorization failures apart.
type Backend interface {
	// Name identifies the backend in logs, metrics and errors.
	Name() string
	// Query returns the records of collection selected by f. A missing id
	// yields an empty slice, not an error.
	Query(ctx context.Context, collection string, f Filter) ([]model.Document, error)
	// Put replaces the record with id as a whole (upsert).
	Put(ctx context.Context, collection, id string, doc model.Document) error
	// Merge overlays the top-level fields of doc onto the stored record,
	// leaving absent fields untouched (upsert).
	Merge(ctx context.Context, collection, id string, fields model.Document) error
	// Delete removes the record. Deleting a missing id is not an error.
	Delete(ctx context.Context, collection, id string) error
	// Ping checks connectivity.
	Ping(ctx context.Context) error
	Close() error
}

// Watcher is implemented by backends offering push change notification.
// notify is invoked (possibly concurrently with other watches) after any
// change to a record of collection selected by f. It carries no payload;
// subscribers re-read the current snapshot. Watch returns once the
// listener is registered; stop releases it and is idempotent.
//
// ended is closed when the listener stops for good. A listener that ends
// on its own (connection lost, stream error) first sends the cause; after
// stop or ctx cancellation it is closed without a value.
type Watcher interface {
	Watch(ctx context.Context, collection string, f Filter, notify func()) (stop func(), ended <-chan error, err error)
}

// ErrWatchEnded is the cause reported when a listener stopped without an
// error of its own.
var ErrWatchEnded = errors.New("store: watch ended")

// MergeFields applies the top-level merge policy to an existing document.
// Backends without a native merge use it for read-modify-write.
func MergeFields(existing, fields model.Document, id string) model.Document {
	out := existing.Clone()
	if out == nil {
		out = model.Document{}
	}
	for k, v := range fields {
		out[k] = v
	}
	out["id"] = id
	return out
}
