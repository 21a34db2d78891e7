package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/Copilotuser-cyber/ChatPDT/internal/model"
	"github.com/Copilotuser-cyber/ChatPDT/internal/store"
)

// Run exercises a minimal compliance suite against a store.Backend.
// Implementations should provide a clean, isolated backend from makeBackend.
func Run(t *testing.T, makeBackend func(t *testing.T) store.Backend) {
	t.Helper()

	b := makeBackend(t)
	t.Cleanup(func() { _ = b.Close() })
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := b.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}

	// Unique identifiers so suites can share a database.
	owner := "u-" + uuid.NewString()
	other := "u-" + uuid.NewString()
	chatID := "c-" + uuid.NewString()

	// Missing id reads as empty, not as an error.
	if got, err := b.Query(ctx, model.CollectionChats, store.Filter{ID: chatID}); err != nil || len(got) != 0 {
		t.Fatalf("Query missing: n=%d err=%v", len(got), err)
	}

	chat := model.Document{
		"id":        chatID,
		"ownerId":   owner,
		"title":     "A",
		"messages":  []any{map[string]any{"id": "m1", "role": "user", "text": "hi"}},
		"createdAt": "2026-01-01T00:00:00Z",
		"updatedAt": "2026-01-01T00:00:00Z",
	}
	if err := b.Put(ctx, model.CollectionChats, chatID, chat); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got := queryOne(ctx, t, b, model.CollectionChats, chatID)
	if got["title"] != "A" || got.OwnerID() != owner {
		t.Fatalf("Query after Put: %v", got)
	}
	if msgs, _ := got["messages"].([]any); len(msgs) != 1 {
		t.Fatalf("Query after Put: messages=%v", got["messages"])
	}

	// Put replaces the whole record.
	replaced := model.Document{"id": chatID, "ownerId": owner, "title": "B", "messages": []any{}}
	if err := b.Put(ctx, model.CollectionChats, chatID, replaced); err != nil {
		t.Fatalf("Put replace: %v", err)
	}
	got = queryOne(ctx, t, b, model.CollectionChats, chatID)
	if got["title"] != "B" {
		t.Fatalf("replace title: %v", got["title"])
	}
	if _, ok := got["createdAt"]; ok {
		t.Fatalf("replace kept stale field createdAt: %v", got)
	}

	// Owner filter.
	otherChat := "c-" + uuid.NewString()
	if err := b.Put(ctx, model.CollectionChats, otherChat, model.Document{"id": otherChat, "ownerId": other, "title": "X"}); err != nil {
		t.Fatalf("Put other: %v", err)
	}
	mine, err := b.Query(ctx, model.CollectionChats, store.Filter{OwnerID: owner})
	if err != nil || len(mine) != 1 || mine[0].ID() != chatID {
		t.Fatalf("Query by owner: %v err=%v", mine, err)
	}
	all, err := b.Query(ctx, model.CollectionChats, store.Filter{})
	if err != nil || len(all) < 2 {
		t.Fatalf("Query all: n=%d err=%v", len(all), err)
	}

	// Merge overlays top-level fields and upserts.
	ovID := owner
	if err := b.Merge(ctx, model.CollectionOverrides, ovID, model.Document{"theme": "dark", "timestamp": 1.0}); err != nil {
		t.Fatalf("Merge create: %v", err)
	}
	if err := b.Merge(ctx, model.CollectionOverrides, ovID, model.Document{"visualMatrix": map[string]any{"accentColor": "#f00"}, "timestamp": 2.0}); err != nil {
		t.Fatalf("Merge update: %v", err)
	}
	ov := queryOne(ctx, t, b, model.CollectionOverrides, ovID)
	if ov["theme"] != "dark" || ov["timestamp"] != 2.0 || ov.ID() != ovID {
		t.Fatalf("Merge result: %v", ov)
	}
	if vm, _ := ov["visualMatrix"].(map[string]any); vm["accentColor"] != "#f00" {
		t.Fatalf("Merge nested: %v", ov["visualMatrix"])
	}

	// Delete, including a missing id.
	if err := b.Delete(ctx, model.CollectionChats, chatID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if got, err := b.Query(ctx, model.CollectionChats, store.Filter{ID: chatID}); err != nil || len(got) != 0 {
		t.Fatalf("Query after Delete: n=%d err=%v", len(got), err)
	}
	if err := b.Delete(ctx, model.CollectionChats, "c-"+uuid.NewString()); err != nil {
		t.Fatalf("Delete missing: %v", err)
	}

	if w, ok := b.(store.Watcher); ok {
		runWatch(ctx, t, b, w, owner)
	}
}

func queryOne(ctx context.Context, t *testing.T, b store.Backend, collection, id string) model.Document {
	t.Helper()
	got, err := b.Query(ctx, collection, store.Filter{ID: id})
	if err != nil || len(got) != 1 {
		t.Fatalf("Query %s/%s: n=%d err=%v", collection, id, len(got), err)
	}
	return got[0]
}

// runWatch checks that a write under the filter notifies and a write
// outside it does not.
func runWatch(ctx context.Context, t *testing.T, b store.Backend, w store.Watcher, owner string) {
	t.Helper()
	fired := make(chan struct{}, 16)
	stop, ended, err := w.Watch(ctx, model.CollectionOverrides, store.Filter{ID: owner}, func() {
		select {
		case fired <- struct{}{}:
		default:
		}
	})
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	defer stop()

	// Unrelated writes must not be reported under this filter.
	if err := b.Merge(ctx, model.CollectionOverrides, "u-"+uuid.NewString(), model.Document{"theme": "light"}); err != nil {
		t.Fatalf("Merge unrelated: %v", err)
	}
	if err := b.Merge(ctx, model.CollectionOverrides, owner, model.Document{"theme": "light"}); err != nil {
		t.Fatalf("Merge watched: %v", err)
	}
	select {
	case <-fired:
	case <-time.After(10 * time.Second):
		t.Fatalf("Watch: no notification after write")
	}

	stop()
	stop() // idempotent
	select {
	case cause, open := <-ended:
		if open {
			t.Fatalf("Watch: stop reported cause %v", cause)
		}
	case <-time.After(10 * time.Second):
		t.Fatalf("Watch: ended not closed after stop")
	}
}
