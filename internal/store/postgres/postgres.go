// Package postgres is a cloud backend on PostgreSQL. Records are JSONB rows
// in a single table; a trigger publishes every change on a LISTEN/NOTIFY
// channel for push subscriptions.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	pdterrors "github.com/Copilotuser-cyber/ChatPDT/internal/errors"
	"github.com/Copilotuser-cyber/ChatPDT/internal/model"
	"github.com/Copilotuser-cyber/ChatPDT/internal/store"
)

const name = "postgres"

// notifyChannel is the LISTEN/NOTIFY channel written by the records trigger.
const notifyChannel = "chatpdt_records"

const schema = `
CREATE TABLE IF NOT EXISTS records (
    collection TEXT NOT NULL,
    id         TEXT NOT NULL,
    owner_id   TEXT NOT NULL DEFAULT '',
    doc        JSONB NOT NULL,
    PRIMARY KEY (collection, id)
);
CREATE INDEX IF NOT EXISTS records_owner ON records (collection, owner_id);

CREATE OR REPLACE FUNCTION chatpdt_records_notify() RETURNS trigger AS $$
DECLARE
    r records;
BEGIN
    IF TG_OP = 'DELETE' THEN r := OLD; ELSE r := NEW; END IF;
    PERFORM pg_notify('chatpdt_records', json_build_object(
        'collection', r.collection, 'id', r.id, 'ownerId', r.owner_id)::text);
    RETURN NULL;
END;
$$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS records_notify ON records;
CREATE TRIGGER records_notify AFTER INSERT OR UPDATE OR DELETE ON records
    FOR EACH ROW EXECUTE FUNCTION chatpdt_records_notify();
`

// Backend implements store.Backend and store.Watcher.
type Backend struct {
	pool *pgxpool.Pool
	log  zerolog.Logger
}

var (
	_ store.Backend = (*Backend)(nil)
	_ store.Watcher = (*Backend)(nil)
)

// Open connects with dsn, verifies connectivity and applies the schema.
func Open(ctx context.Context, dsn string, log zerolog.Logger) (*Backend, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres DSN is empty")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, classify("connect", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, classify("ping", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, classify("schema", err)
	}
	return &Backend{pool: pool, log: log}, nil
}

// Name implements store.Backend.
func (b *Backend) Name() string { return name }

// Query implements store.Backend.
func (b *Backend) Query(ctx context.Context, collection string, f store.Filter) ([]model.Document, error) {
	q := `SELECT doc FROM records WHERE collection = $1`
	args := []any{collection}
	if f.ID != "" {
		args = append(args, f.ID)
		q += fmt.Sprintf(` AND id = $%d`, len(args))
	}
	if f.OwnerID != "" {
		args = append(args, f.OwnerID)
		q += fmt.Sprintf(` AND owner_id = $%d`, len(args))
	}
	q += ` ORDER BY id`

	rows, err := b.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, classify("query", err)
	}
	defer rows.Close()

	out := []model.Document{}
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, classify("query", err)
		}
		d, err := model.DecodeJSON(raw)
		if err != nil {
			return nil, pdterrors.NewSerializationError(collection, "stored document: %v", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("query", err)
	}
	return out, nil
}

// Put implements store.Backend.
func (b *Backend) Put(ctx context.Context, collection, id string, doc model.Document) error {
	raw, err := encode(collection, id, doc)
	if err != nil {
		return err
	}
	_, err = b.pool.Exec(ctx, `
        INSERT INTO records (collection, id, owner_id, doc) VALUES ($1, $2, $3, $4::jsonb)
        ON CONFLICT (collection, id) DO UPDATE SET owner_id = excluded.owner_id, doc = excluded.doc
    `, collection, id, doc.OwnerID(), raw)
	return classify("put", err)
}

// Merge implements store.Backend with JSONB top-level concatenation.
func (b *Backend) Merge(ctx context.Context, collection, id string, fields model.Document) error {
	raw, err := encode(collection, id, fields)
	if err != nil {
		return err
	}
	_, err = b.pool.Exec(ctx, `
        INSERT INTO records (collection, id, owner_id, doc) VALUES ($1, $2, $3, $4::jsonb)
        ON CONFLICT (collection, id) DO UPDATE SET
            owner_id = COALESCE(NULLIF(excluded.owner_id, ''), records.owner_id),
            doc = records.doc || excluded.doc
    `, collection, id, fields.OwnerID(), raw)
	return classify("merge", err)
}

func encode(collection, id string, doc model.Document) (string, error) {
	out := make(model.Document, len(doc)+1)
	for k, v := range doc {
		out[k] = v
	}
	out["id"] = id
	raw, err := json.Marshal(out)
	if err != nil {
		return "", pdterrors.NewSerializationError(collection+"/"+id, "encode: %v", err)
	}
	return string(raw), nil
}

// Delete implements store.Backend.
func (b *Backend) Delete(ctx context.Context, collection, id string) error {
	_, err := b.pool.Exec(ctx, `DELETE FROM records WHERE collection = $1 AND id = $2`, collection, id)
	return classify("delete", err)
}

// Ping implements store.Backend.
func (b *Backend) Ping(ctx context.Context) error {
	return classify("ping", b.pool.Ping(ctx))
}

// Close implements store.Backend.
func (b *Backend) Close() error {
	b.pool.Close()
	return nil
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

// Watch implements store.Watcher. Each watch holds one pooled connection
// in LISTEN mode; the connection is closed rather than returned on stop.
func (b *Backend) Watch(ctx context.Context, collection string, f store.Filter, notify func()) (func(), <-chan error, error) {
	conn, err := b.pool.Acquire(ctx)
	if err != nil {
		return nil, nil, classify("watch", err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+notifyChannel); err != nil {
		conn.Release()
		return nil, nil, classify("watch", err)
	}

	wctx, cancel := context.WithCancel(context.Background())
	ended := make(chan error, 1)
	go func() {
		defer close(ended)
		defer func() {
			_ = conn.Conn().Close(context.Background())
			conn.Release()
		}()
		for {
			n, err := conn.Conn().WaitForNotification(wctx)
			if err != nil {
				if wctx.Err() == nil {
					b.log.Warn().Err(err).Str("collection", collection).Msg("listen connection lost")
					ended <- classify("watch", err)
				}
				return
			}
			var c change
			if err := json.Unmarshal([]byte(n.Payload), &c); err != nil {
				b.log.Warn().Err(err).Str("payload", n.Payload).Msg("malformed change notification")
				continue
			}
			if c.matches(collection, f) {
				notify()
			}
		}
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

// isPermission matches insufficient_privilege and the authentication
// failure SQLSTATEs.
func isPermission(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case "42501", "28000", "28P01":
		return true
	}
	return false
}
