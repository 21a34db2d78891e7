// Package pebble is an alternative local cache backend storing each record
// as a JSON value under the key "<collection>\x00<id>".
package pebble

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"

	pdterrors "github.com/Copilotuser-cyber/ChatPDT/internal/errors"
	"github.com/Copilotuser-cyber/ChatPDT/internal/model"
	"github.com/Copilotuser-cyber/ChatPDT/internal/store"
)

const name = "pebble"

const sep = 0x00

// Backend implements store.Backend on a Pebble LSM.
type Backend struct {
	db *pebble.DB
	// mu serializes Merge read-modify-writes.
	mu     sync.Mutex
	closed atomic.Bool
}

var _ store.Backend = (*Backend)(nil)

// Open opens (or creates) a database in dir. An empty dir opens an
// in-memory database.
func Open(dir string) (*Backend, error) {
	opts := &pebble.Options{}
	if dir == "" {
		opts.FS = vfs.NewMem()
	} else if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	db, err := pebble.Open(dir, opts)
	if err != nil {
		return nil, fmt.Errorf("pebble open %q: %w", dir, err)
	}
	return &Backend{db: db}, nil
}

// Name implements store.Backend.
func (b *Backend) Name() string { return name }

func key(collection, id string) []byte {
	k := make([]byte, 0, len(collection)+1+len(id))
	k = append(k, collection...)
	k = append(k, sep)
	return append(k, id...)
}

// prefixBounds returns the iteration bounds covering one collection.
func prefixBounds(collection string) (lower, upper []byte) {
	lower = append([]byte(collection), sep)
	upper = append([]byte(collection), sep+1)
	return lower, upper
}

// Query implements store.Backend. Results are ordered by id.
func (b *Backend) Query(_ context.Context, collection string, f store.Filter) ([]model.Document, error) {
	if f.ID != "" {
		d, err := b.get(collection, f.ID)
		if err != nil {
			return nil, err
		}
		if d == nil || !f.Match(d) {
			return []model.Document{}, nil
		}
		return []model.Document{d}, nil
	}

	lower, upper := prefixBounds(collection)
	it, err := b.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return nil, classify("query", err)
	}
	defer func() { _ = it.Close() }()

	out := []model.Document{}
	for it.First(); it.Valid(); it.Next() {
		d, err := model.DecodeJSON(it.Value())
		if err != nil {
			return nil, pdterrors.NewSerializationError(collection, "stored document: %v", err)
		}
		if f.Match(d) {
			out = append(out, d)
		}
	}
	if err := it.Error(); err != nil {
		return nil, classify("query", err)
	}
	return out, nil
}

func (b *Backend) get(collection, id string) (model.Document, error) {
	raw, closer, err := b.db.Get(key(collection, id))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, classify("get", err)
	}
	defer func() { _ = closer.Close() }()
	d, err := model.DecodeJSON(raw)
	if err != nil {
		return nil, pdterrors.NewSerializationError(collection+"/"+id, "stored document: %v", err)
	}
	return d, nil
}

// Put implements store.Backend.
func (b *Backend) Put(_ context.Context, collection, id string, doc model.Document) error {
	out := doc.Clone()
	if out == nil {
		out = model.Document{}
	}
	out["id"] = id
	return b.set("put", collection, id, out)
}

// Merge implements store.Backend.
func (b *Backend) Merge(_ context.Context, collection, id string, fields model.Document) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	existing, err := b.get(collection, id)
	if err != nil {
		return err
	}
	return b.set("merge", collection, id, store.MergeFields(existing, fields, id))
}

func (b *Backend) set(op, collection, id string, doc model.Document) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return pdterrors.NewSerializationError(collection+"/"+id, "encode: %v", err)
	}
	return classify(op, b.db.Set(key(collection, id), raw, pebble.Sync))
}

// Delete implements store.Backend.
func (b *Backend) Delete(_ context.Context, collection, id string) error {
	return classify("delete", b.db.Delete(key(collection, id), pebble.Sync))
}

// Ping implements store.Backend. An open embedded database is always
// reachable.
func (b *Backend) Ping(context.Context) error {
	if b.closed.Load() {
		return pdterrors.NewTransientError(name, "ping", pebble.ErrClosed)
	}
	return nil
}

// Close implements store.Backend.
func (b *Backend) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}
	return b.db.Close()
}

// Pebble has no permission model; every failure is transient.
func classify(op string, err error) error {
	return pdterrors.Classify(name, op, err, nil)
}
