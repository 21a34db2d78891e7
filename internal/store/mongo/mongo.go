// Package mongo is a cloud backend on MongoDB. Each collection maps to a
// MongoDB collection with the record id stored as _id. Push notification
// uses change streams, which require a replica set.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	pdterrors "github.com/Copilotuser-cyber/ChatPDT/internal/errors"
	"github.com/Copilotuser-cyber/ChatPDT/internal/model"
	"github.com/Copilotuser-cyber/ChatPDT/internal/store"
)

const name = "mongo"

// Server error codes meaning the caller lacks permission.
const (
	codeUnauthorized         = 13
	codeAuthenticationFailed = 18
)

// Backend implements store.Backend and store.Watcher.
type Backend struct {
	client *mongo.Client
	db     *mongo.Database
	log    zerolog.Logger
}

var (
	_ store.Backend = (*Backend)(nil)
	_ store.Watcher = (*Backend)(nil)
)

// Open connects to uri and uses database dbName.
func Open(ctx context.Context, uri, dbName string, log zerolog.Logger) (*Backend, error) {
	if uri == "" {
		return nil, fmt.Errorf("mongo URI is empty")
	}
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, classify("connect", err)
	}
	b := &Backend{client: client, db: client.Database(dbName), log: log}
	if err := b.Ping(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return b, nil
}

// Name implements store.Backend.
func (b *Backend) Name() string { return name }

func selector(f store.Filter) bson.M {
	sel := bson.M{}
	if f.ID != "" {
		sel["_id"] = f.ID
	}
	if f.OwnerID != "" {
		sel["ownerId"] = f.OwnerID
	}
	return sel
}

// Query implements store.Backend.
func (b *Backend) Query(ctx context.Context, collection string, f store.Filter) ([]model.Document, error) {
	cur, err := b.db.Collection(collection).Find(ctx, selector(f), options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, classify("query", err)
	}
	defer func() { _ = cur.Close(context.Background()) }()

	out := []model.Document{}
	for cur.Next(ctx) {
		d, err := fromRaw(cur.Current)
		if err != nil {
			return nil, pdterrors.NewSerializationError(collection, "stored document: %v", err)
		}
		out = append(out, d)
	}
	if err := cur.Err(); err != nil {
		return nil, classify("query", err)
	}
	return out, nil
}

// fromRaw renders a BSON document as plain JSON data. Relaxed extended JSON
// keeps numbers as plain numbers.
func fromRaw(raw bson.Raw) (model.Document, error) {
	js, err := bson.MarshalExtJSON(raw, false, false)
	if err != nil {
		return nil, err
	}
	d, err := model.DecodeJSON(js)
	if err != nil {
		return nil, err
	}
	if id, ok := d["_id"]; ok {
		d["id"] = id
		delete(d, "_id")
	}
	return d, nil
}

func toBSON(doc model.Document, id string) bson.M {
	out := make(bson.M, len(doc)+1)
	for k, v := range doc {
		if k == "id" {
			continue
		}
		out[k] = v
	}
	out["_id"] = id
	return out
}

// Put implements store.Backend.
func (b *Backend) Put(ctx context.Context, collection, id string, doc model.Document) error {
	_, err := b.db.Collection(collection).ReplaceOne(ctx, bson.M{"_id": id}, toBSON(doc, id), options.Replace().SetUpsert(true))
	return classify("put", err)
}

// Merge implements store.Backend with a $set of the top-level fields.
func (b *Backend) Merge(ctx context.Context, collection, id string, fields model.Document) error {
	coll := b.db.Collection(collection)
	set := toBSON(fields, id)
	delete(set, "_id")
	if len(set) == 0 {
		// an empty $set is rejected by the server; only ensure existence
		n, err := coll.CountDocuments(ctx, bson.M{"_id": id})
		if err != nil || n > 0 {
			return classify("merge", err)
		}
		_, err = coll.InsertOne(ctx, bson.M{"_id": id})
		return classify("merge", err)
	}
	_, err := coll.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": set}, options.UpdateOne().SetUpsert(true))
	return classify("merge", err)
}

// Delete implements store.Backend.
func (b *Backend) Delete(ctx context.Context, collection, id string) error {
	_, err := b.db.Collection(collection).DeleteOne(ctx, bson.M{"_id": id})
	return classify("delete", err)
}

// Ping implements store.Backend.
func (b *Backend) Ping(ctx context.Context) error {
	return classify("ping", b.client.Ping(ctx, readpref.Primary()))
}

// Close implements store.Backend.
func (b *Backend) Close() error {
	return b.client.Disconnect(context.Background())
}

// Watch implements store.Watcher with a change stream on the collection.
// Deletes carry no full document, so an owner-filtered watch is notified
// of every delete in the collection and re-reads.
func (b *Backend) Watch(ctx context.Context, collection string, f store.Filter, notify func()) (func(), <-chan error, error) {
	match := bson.M{}
	if f.ID != "" {
		match["documentKey._id"] = f.ID
	}
	if f.OwnerID != "" {
		match["$or"] = bson.A{
			bson.M{"fullDocument.ownerId": f.OwnerID},
			bson.M{"operationType": "delete"},
		}
	}
	pipeline := mongo.Pipeline{{{Key: "$match", Value: match}}}

	wctx, cancel := context.WithCancel(ctx)
	cs, err := b.db.Collection(collection).Watch(wctx, pipeline, options.ChangeStream().SetFullDocument(options.UpdateLookup))
	if err != nil {
		cancel()
		return nil, nil, classify("watch", err)
	}

	ended := make(chan error, 1)
	go func() {
		defer close(ended)
		defer func() { _ = cs.Close(context.Background()) }()
		for cs.Next(wctx) {
			notify()
		}
		if wctx.Err() != nil {
			return
		}
		err := cs.Err()
		b.log.Warn().Err(err).Str("collection", collection).Msg("change stream ended")
		if err == nil {
			ended <- store.ErrWatchEnded
			return
		}
		ended <- classify("watch", err)
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			for range ended {
			}
		})
	}, ended, nil
}

func classify(op string, err error) error {
	return pdterrors.Classify(name, op, err, isPermission)
}

func isPermission(err error) bool {
	var se mongo.ServerError
	if errors.As(err, &se) && (se.HasErrorCode(codeUnauthorized) || se.HasErrorCode(codeAuthenticationFailed)) {
		return true
	}
	// handshake failures surface as connection errors wrapping the auth step
	return strings.Contains(err.Error(), "auth error")
}
