// Package sqlite is the default local cache backend: one records table
// holding JSON documents keyed by (collection, id).
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	pdterrors "github.com/Copilotuser-cyber/ChatPDT/internal/errors"
	"github.com/Copilotuser-cyber/ChatPDT/internal/model"
	"github.com/Copilotuser-cyber/ChatPDT/internal/store"
)

const name = "sqlite"

const schema = `
CREATE TABLE IF NOT EXISTS records (
    collection TEXT NOT NULL,
    id         TEXT NOT NULL,
    owner_id   TEXT NOT NULL DEFAULT '',
    doc        TEXT NOT NULL,
    PRIMARY KEY (collection, id)
);
CREATE INDEX IF NOT EXISTS records_owner ON records (collection, owner_id);
`

// Open opens (or creates) a SQLite database at path with WAL journaling and
// applies the schema. ":memory:" opens a private in-memory database.
func Open(path string) (*Backend, error) {
	dsn := "file::memory:"
	if path != ":memory:" {
		// ensure parent directory exists to avoid SQLITE_CANTOPEN errors
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
		dsn = fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if path == ":memory:" {
		// each connection would otherwise see its own empty database
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	b, err := NewWithDB(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return b, nil
}

// NewWithDB wraps an open database and ensures the schema exists.
func NewWithDB(db *sql.DB) (*Backend, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}
	return &Backend{db: db}, nil
}

// Backend implements store.Backend on database/sql.
type Backend struct{ db *sql.DB }

var _ store.Backend = (*Backend)(nil)

// Name implements store.Backend.
func (b *Backend) Name() string { return name }

// Query implements store.Backend.
func (b *Backend) Query(ctx context.Context, collection string, f store.Filter) ([]model.Document, error) {
	q := `SELECT doc FROM records WHERE collection = ?`
	args := []any{collection}
	if f.ID != "" {
		q += ` AND id = ?`
		args = append(args, f.ID)
	}
	if f.OwnerID != "" {
		q += ` AND owner_id = ?`
		args = append(args, f.OwnerID)
	}
	q += ` ORDER BY id`

	rows, err := b.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, classify("query", err)
	}
	defer func() { _ = rows.Close() }()

	out := []model.Document{}
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, classify("query", err)
		}
		d, err := model.DecodeJSON([]byte(raw))
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
	return b.upsert(ctx, b.db, "put", collection, id, withID(doc, id))
}

// Merge implements store.Backend as a read-modify-write inside one
// transaction.
func (b *Backend) Merge(ctx context.Context, collection, id string, fields model.Document) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return classify("merge", err)
	}
	defer func() { _ = tx.Rollback() }()

	var existing model.Document
	var raw string
	err = tx.QueryRowContext(ctx, `SELECT doc FROM records WHERE collection = ? AND id = ?`, collection, id).Scan(&raw)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return classify("merge", err)
	default:
		if existing, err = model.DecodeJSON([]byte(raw)); err != nil {
			return pdterrors.NewSerializationError(collection, "stored document: %v", err)
		}
	}

	if err := b.upsert(ctx, tx, "merge", collection, id, store.MergeFields(existing, fields, id)); err != nil {
		return err
	}
	return classify("merge", tx.Commit())
}

// Delete implements store.Backend.
func (b *Backend) Delete(ctx context.Context, collection, id string) error {
	_, err := b.db.ExecContext(ctx, `DELETE FROM records WHERE collection = ? AND id = ?`, collection, id)
	return classify("delete", err)
}

// Ping implements store.Backend.
func (b *Backend) Ping(ctx context.Context) error {
	return classify("ping", b.db.PingContext(ctx))
}

// Close implements store.Backend.
func (b *Backend) Close() error { return b.db.Close() }

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (b *Backend) upsert(ctx context.Context, ex execer, op, collection, id string, doc model.Document) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return pdterrors.NewSerializationError(collection+"/"+id, "encode: %v", err)
	}
	_, err = ex.ExecContext(ctx, `
        INSERT INTO records (collection, id, owner_id, doc) VALUES (?, ?, ?, ?)
        ON CONFLICT (collection, id) DO UPDATE SET owner_id = excluded.owner_id, doc = excluded.doc
    `, collection, id, doc.OwnerID(), string(raw))
	return classify(op, err)
}

func withID(doc model.Document, id string) model.Document {
	out := make(model.Document, len(doc)+1)
	for k, v := range doc {
		out[k] = v
	}
	out["id"] = id
	return out
}

func classify(op string, err error) error {
	return pdterrors.Classify(name, op, err, isPermission)
}

// isPermission recognises the result codes SQLite uses when the database
// file cannot be written or an authorizer denied the statement.
func isPermission(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code() & 0xff {
	case sqlite3.SQLITE_PERM, sqlite3.SQLITE_READONLY, sqlite3.SQLITE_AUTH:
		return true
	}
	return false
}
