package memstore

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pdterrors "github.com/Copilotuser-cyber/ChatPDT/internal/errors"
	"github.com/Copilotuser-cyber/ChatPDT/internal/model"
	"github.com/Copilotuser-cyber/ChatPDT/internal/store"
	"github.com/Copilotuser-cyber/ChatPDT/internal/store/storetest"
)

func TestMemStore_Compliance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Backend { return New("memory") })
}

func TestFailOn_ClassifiesInjectedErrors(t *testing.T) {
	ctx := context.Background()
	s := New("cloud")

	s.FailOn(OpPut, errors.New("connection reset"))
	err := s.Put(ctx, model.CollectionChats, "c1", model.Document{})
	require.Error(t, err)
	assert.True(t, pdterrors.IsTransient(err))
	assert.Equal(t, 1, s.Calls(OpPut))

	s.FailOn(OpPut, nil)
	require.NoError(t, s.Put(ctx, model.CollectionChats, "c1", model.Document{}))

	s.DenyAll()
	_, err = s.Query(ctx, model.CollectionChats, store.Filter{})
	assert.True(t, pdterrors.IsAuthorization(err))
	_, _, err = s.Watch(ctx, model.CollectionChats, store.Filter{}, func() {})
	assert.True(t, pdterrors.IsAuthorization(err))
}

func TestStoredDocumentsAreIsolated(t *testing.T) {
	ctx := context.Background()
	s := New("")
	doc := model.Document{"id": "c1", "nested": map[string]any{"a": "b"}}
	require.NoError(t, s.Put(ctx, model.CollectionChats, "c1", doc))
	doc["nested"].(map[string]any)["a"] = "mutated"

	got, err := s.Query(ctx, model.CollectionChats, store.Filter{ID: "c1"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "b", got[0]["nested"].(map[string]any)["a"])
}

func TestWatchStopAndClose(t *testing.T) {
	ctx := context.Background()
	s := New("")
	n := 0
	stop, ended, err := s.Watch(ctx, model.CollectionOverrides, store.Filter{ID: "u1"}, func() { n++ })
	require.NoError(t, err)

	require.NoError(t, s.Merge(ctx, model.CollectionOverrides, "u1", model.Document{"theme": "x"}))
	require.NoError(t, s.Delete(ctx, model.CollectionOverrides, "u1"))
	assert.Equal(t, 2, n)

	stop()
	assert.Equal(t, 0, s.Watchers())
	cause, open := <-ended
	assert.False(t, open, "stop closes ended without a cause")
	assert.NoError(t, cause)
	require.NoError(t, s.Merge(ctx, model.CollectionOverrides, "u1", model.Document{"theme": "y"}))
	assert.Equal(t, 2, n)

	require.NoError(t, s.Close())
	assert.True(t, pdterrors.IsTransient(s.Ping(ctx)))
}

func TestEndWatchesReportsCause(t *testing.T) {
	ctx := context.Background()
	s := New("")
	n := 0
	stop, ended, err := s.Watch(ctx, model.CollectionChats, store.Filter{OwnerID: "u1"}, func() { n++ })
	require.NoError(t, err)
	defer stop()

	s.EndWatches(nil)
	assert.Equal(t, 0, s.Watchers())
	assert.ErrorIs(t, <-ended, store.ErrWatchEnded)
	_, open := <-ended
	assert.False(t, open)

	require.NoError(t, s.Put(ctx, model.CollectionChats, "c1", model.Document{"id": "c1", "ownerId": "u1"}))
	assert.Equal(t, 0, n)
	stop() // safe after the watch ended
}

func TestCloseEndsWatches(t *testing.T) {
	s := New("")
	_, ended, err := s.Watch(context.Background(), model.CollectionChats, store.Filter{}, func() {})
	require.NoError(t, err)

	require.NoError(t, s.Close())
	assert.True(t, pdterrors.IsTransient(<-ended))
}
