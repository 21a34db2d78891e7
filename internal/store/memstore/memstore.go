// Package memstore is an in-process record store. It backs tests and the
// devmode CLI, and can be told to fail specific operations so the gateway's
// downgrade path can be exercised without a real cloud backend.
package memstore

import (
	"context"
	"sort"
	"sync"

	pdterrors "github.com/Copilotuser-cyber/ChatPDT/internal/errors"
	"github.com/Copilotuser-cyber/ChatPDT/internal/model"
	"github.com/Copilotuser-cyber/ChatPDT/internal/store"
)

// Op names accepted by FailOn.
const (
	OpQuery  = "query"
	OpPut    = "put"
	OpMerge  = "merge"
	OpDelete = "delete"
	OpPing   = "ping"
	OpWatch  = "watch"
)

type watch struct {
	collection string
	filter     store.Filter
	notify     func()
	ended      chan error
	once       sync.Once
}

// end closes the ended channel, sending cause first when it is non-nil.
func (w *watch) end(cause error) {
	w.once.Do(func() {
		if cause != nil {
			w.ended <- cause
		}
		close(w.ended)
	})
}

// Store is a concurrency-safe in-memory Backend and Watcher.
type Store struct {
	name string

	mu      sync.RWMutex
	data    map[string]map[string]model.Document
	faults  map[string]error
	watches map[int]*watch
	nextID  int
	calls   map[string]int
	closed  bool
}

var (
	_ store.Backend = (*Store)(nil)
	_ store.Watcher = (*Store)(nil)
)

// New returns an empty store reporting name from Name().
func New(name string) *Store {
	if name == "" {
		name = "memory"
	}
	return &Store{
		name:    name,
		data:    map[string]map[string]model.Document{},
		faults:  map[string]error{},
		watches: map[int]*watch{},
		calls:   map[string]int{},
	}
}

// Name implements store.Backend.
func (s *Store) Name() string { return s.name }

// FailOn makes every subsequent op fail with err until cleared with a nil
// err. Errors are classified like a driver error would be.
func (s *Store) FailOn(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.faults, op)
		return
	}
	s.faults[op] = err
}

// DenyAll makes every op fail with an authorization error, simulating a
// cloud backend that revoked the session's permissions.
func (s *Store) DenyAll() {
	denied := pdterrors.NewAuthorizationError(s.name, "*", errPermissionDenied)
	for _, op := range []string{OpQuery, OpPut, OpMerge, OpDelete, OpPing, OpWatch} {
		s.FailOn(op, denied)
	}
}

// Calls returns how many times op was invoked, failed or not.
func (s *Store) Calls(op string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.calls[op]
}

// Len returns the number of records in collection.
func (s *Store) Len(collection string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data[collection])
}

type permissionError struct{}

func (permissionError) Error() string { return "permission denied" }

var errPermissionDenied = permissionError{}

// enter records the call and returns the injected fault, if any. Callers
// hold s.mu.
func (s *Store) enter(op string) error {
	s.calls[op]++
	if s.closed {
		return pdterrors.NewTransientError(s.name, op, errClosed)
	}
	if err := s.faults[op]; err != nil {
		return pdterrors.Classify(s.name, op, err, isPermission)
	}
	return nil
}

type closedError struct{}

func (closedError) Error() string { return "store closed" }

var errClosed = closedError{}

func isPermission(err error) bool {
	_, ok := err.(permissionError)
	return ok
}

// Query implements store.Backend. Results are ordered by id.
func (s *Store) Query(_ context.Context, collection string, f store.Filter) ([]model.Document, error) {
	s.mu.Lock()
	err := s.enter(OpQuery)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []model.Document{}
	if f.ID != "" {
		if d, ok := s.data[collection][f.ID]; ok && f.Match(d) {
			out = append(out, d.Clone())
		}
		return out, nil
	}
	for _, d := range s.data[collection] {
		if f.Match(d) {
			out = append(out, d.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out, nil
}

// Put implements store.Backend.
func (s *Store) Put(_ context.Context, collection, id string, doc model.Document) error {
	s.mu.Lock()
	if err := s.enter(OpPut); err != nil {
		s.mu.Unlock()
		return err
	}
	stored := doc.Clone()
	if stored == nil {
		stored = model.Document{}
	}
	stored["id"] = id
	s.bucket(collection)[id] = stored
	notify := s.matching(collection, stored, nil)
	s.mu.Unlock()

	fire(notify)
	return nil
}

// Merge implements store.Backend.
func (s *Store) Merge(_ context.Context, collection, id string, fields model.Document) error {
	s.mu.Lock()
	if err := s.enter(OpMerge); err != nil {
		s.mu.Unlock()
		return err
	}
	b := s.bucket(collection)
	merged := store.MergeFields(b[id], fields.Clone(), id)
	b[id] = merged
	notify := s.matching(collection, merged, nil)
	s.mu.Unlock()

	fire(notify)
	return nil
}

// Delete implements store.Backend.
func (s *Store) Delete(_ context.Context, collection, id string) error {
	s.mu.Lock()
	if err := s.enter(OpDelete); err != nil {
		s.mu.Unlock()
		return err
	}
	old, ok := s.data[collection][id]
	delete(s.data[collection], id)
	var notify []func()
	if ok {
		notify = s.matching(collection, old, nil)
	}
	s.mu.Unlock()

	fire(notify)
	return nil
}

// Ping implements store.Backend.
func (s *Store) Ping(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enter(OpPing)
}

// Close implements store.Backend. Later operations fail as transient.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for _, w := range s.watches {
		w.end(pdterrors.NewTransientError(s.name, OpWatch, errClosed))
	}
	s.watches = map[int]*watch{}
	return nil
}

// Watch implements store.Watcher. Notifications run synchronously on the
// writer's goroutine after the store lock is released.
func (s *Store) Watch(_ context.Context, collection string, f store.Filter, notify func()) (func(), <-chan error, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpWatch); err != nil {
		return nil, nil, err
	}
	id := s.nextID
	s.nextID++
	w := &watch{collection: collection, filter: f, notify: notify, ended: make(chan error, 1)}
	s.watches[id] = w

	return func() {
		s.mu.Lock()
		delete(s.watches, id)
		s.mu.Unlock()
		w.end(nil)
	}, w.ended, nil
}

// EndWatches drops every registered watch as a lost listener would,
// reporting cause (store.ErrWatchEnded when nil) on each ended channel.
func (s *Store) EndWatches(cause error) {
	if cause == nil {
		cause = store.ErrWatchEnded
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, w := range s.watches {
		w.end(cause)
		delete(s.watches, id)
	}
}

// Watchers returns the number of registered watches.
func (s *Store) Watchers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.watches)
}

func (s *Store) bucket(collection string) map[string]model.Document {
	b, ok := s.data[collection]
	if !ok {
		b = map[string]model.Document{}
		s.data[collection] = b
	}
	return b
}

func (s *Store) matching(collection string, d model.Document, out []func()) []func() {
	for _, w := range s.watches {
		if w.collection == collection && w.filter.Match(d) {
			out = append(out, w.notify)
		}
	}
	return out
}

func fire(fns []func()) {
	for _, fn := range fns {
		fn()
	}
}
