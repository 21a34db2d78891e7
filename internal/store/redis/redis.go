// Package redis is a cloud backend on Redis. A record is a hash whose
// fields are the JSON-encoded top-level values, so a merge is a plain
// HSET. Every mutation is announced on a pub/sub channel.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	pdterrors "github.com/Copilotuser-cyber/ChatPDT/internal/errors"
	"github.com/Copilotuser-cyber/ChatPDT/internal/model"
	"github.com/Copilotuser-cyber/ChatPDT/internal/store"
)

const name = "redis"

// Backend implements store.Backend and store.Watcher.
type Backend struct {
	rdb    *redis.Client
	prefix string
	log    zerolog.Logger
}

var (
	_ store.Backend = (*Backend)(nil)
	_ store.Watcher = (*Backend)(nil)
)

// Open connects using a redis:// URL. prefix namespaces every key.
func Open(ctx context.Context, url, prefix string, log zerolog.Logger) (*Backend, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis url: %w", err)
	}
	if prefix == "" {
		prefix = "chatpdt"
	}
	b := &Backend{rdb: redis.NewClient(opts), prefix: prefix, log: log}
	if err := b.Ping(ctx); err != nil {
		_ = b.rdb.Close()
		return nil, err
	}
	return b, nil
}

// Name implements store.Backend.
func (b *Backend) Name() string { return name }

func (b *Backend) recordKey(collection, id string) string {
	return b.prefix + ":" + collection + ":" + id
}

func (b *Backend) indexKey(collection string) string {
	return b.prefix + ":" + collection + ":_ids"
}

func (b *Backend) changesChannel() string { return b.prefix + ":changes" }

// Query implements store.Backend.
func (b *Backend) Query(ctx context.Context, collection string, f store.Filter) ([]model.Document, error) {
	ids := []string{f.ID}
	if f.ID == "" {
		var err error
		if ids, err = b.rdb.SMembers(ctx, b.indexKey(collection)).Result(); err != nil {
			return nil, classify("query", err)
		}
		sort.Strings(ids)
	}

	cmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err := b.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HGetAll(ctx, b.recordKey(collection, id))
		}
		return nil
	})
	if err != nil {
		return nil, classify("query", err)
	}

	out := []model.Document{}
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue
		}
		d, err := decodeHash(fields)
		if err != nil {
			return nil, pdterrors.NewSerializationError(collection+"/"+ids[i], "stored field: %v", err)
		}
		if f.Match(d) {
			out = append(out, d)
		}
	}
	return out, nil
}

func decodeHash(fields map[string]string) (model.Document, error) {
	d := make(model.Document, len(fields))
	for k, raw := range fields {
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			return nil, fmt.Errorf("%s: %w", k, err)
		}
		d[k] = v
	}
	return d, nil
}

func encodeHash(collection, id string, doc model.Document) (map[string]any, error) {
	out := make(map[string]any, len(doc)+1)
	for k, v := range doc {
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, pdterrors.NewSerializationError(collection+"/"+id+"."+k, "encode: %v", err)
		}
		out[k] = string(raw)
	}
	rawID, _ := json.Marshal(id)
	out["id"] = string(rawID)
	return out, nil
}

// Put implements store.Backend: the hash is dropped and rewritten in one
// MULTI block.
func (b *Backend) Put(ctx context.Context, collection, id string, doc model.Document) error {
	fields, err := encodeHash(collection, id, doc)
	if err != nil {
		return err
	}
	key := b.recordKey(collection, id)
	_, err = b.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key, fields)
		pipe.SAdd(ctx, b.indexKey(collection), id)
		return nil
	})
	if err != nil {
		return classify("put", err)
	}
	b.publish(ctx, collection, id, doc.OwnerID())
	return nil
}

// Merge implements store.Backend.
func (b *Backend) Merge(ctx context.Context, collection, id string, fields model.Document) error {
	enc, err := encodeHash(collection, id, fields)
	if err != nil {
		return err
	}
	key := b.recordKey(collection, id)
	var owner *redis.StringCmd
	_, err = b.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, enc)
		pipe.SAdd(ctx, b.indexKey(collection), id)
		owner = pipe.HGet(ctx, key, "ownerId")
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return classify("merge", err)
	}
	b.publish(ctx, collection, id, unquote(owner.Val()))
	return nil
}

// Delete implements store.Backend.
func (b *Backend) Delete(ctx context.Context, collection, id string) error {
	key := b.recordKey(collection, id)
	var owner *redis.StringCmd
	var removed *redis.IntCmd
	_, err := b.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		owner = pipe.HGet(ctx, key, "ownerId")
		removed = pipe.Del(ctx, key)
		pipe.SRem(ctx, b.indexKey(collection), id)
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return classify("delete", err)
	}
	if removed.Val() > 0 {
		b.publish(ctx, collection, id, unquote(owner.Val()))
	}
	return nil
}

func unquote(raw string) string {
	var s string
	_ = json.Unmarshal([]byte(raw), &s)
	return s
}

type change struct {
	Collection string `json:"collection"`
	ID         string `json:"id"`
	OwnerID    string `json:"ownerId"`
}

func (c change) matches(collection string, f store.Filter) bool {
	if c.Collection != collection {
		return false
	}
	if f.ID != "" && c.ID != f.ID {
		return false
	}
	return f.OwnerID == "" || c.OwnerID == f.OwnerID
}

// publish announces a change. A lost announcement only delays subscribers
// until their next re-read, so failures are logged, not returned.
func (b *Backend) publish(ctx context.Context, collection, id, owner string) {
	raw, _ := json.Marshal(change{Collection: collection, ID: id, OwnerID: owner})
	if err := b.rdb.Publish(ctx, b.changesChannel(), raw).Err(); err != nil {
		b.log.Warn().Err(err).Str("collection", collection).Str("id", id).Msg("publish change failed")
	}
}

// Ping implements store.Backend.
func (b *Backend) Ping(ctx context.Context) error {
	return classify("ping", b.rdb.Ping(ctx).Err())
}

// Close implements store.Backend.
func (b *Backend) Close() error { return b.rdb.Close() }

// Watch implements store.Watcher with a pub/sub subscription. The client
// reconnects a dropped subscription on its own, so the watch only ends
// early when the subscription is closed under it.
func (b *Backend) Watch(ctx context.Context, collection string, f store.Filter, notify func()) (func(), <-chan error, error) {
	ps := b.rdb.Subscribe(ctx, b.changesChannel())
	// wait for the subscription confirmation so no change is missed
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, nil, classify("watch", err)
	}

	var stopped atomic.Bool
	ended := make(chan error, 1)
	go func() {
		defer close(ended)
		for msg := range ps.Channel() {
			var c change
			if err := json.Unmarshal([]byte(msg.Payload), &c); err != nil {
				b.log.Warn().Err(err).Str("payload", msg.Payload).Msg("malformed change notification")
				continue
			}
			if c.matches(collection, f) {
				notify()
			}
		}
		if !stopped.Load() {
			b.log.Warn().Str("collection", collection).Msg("change subscription closed")
			ended <- store.ErrWatchEnded
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			stopped.Store(true)
			_ = ps.Close()
			for range ended {
			}
		})
	}, ended, nil
}

func classify(op string, err error) error {
	return pdterrors.Classify(name, op, err, isPermission)
}

// isPermission matches the ACL and AUTH error replies.
func isPermission(err error) bool {
	msg := err.Error()
	for _, prefix := range []string{"NOAUTH", "WRONGPASS", "NOPERM"} {
		if strings.HasPrefix(msg, prefix) {
			return true
		}
	}
	return false
}
