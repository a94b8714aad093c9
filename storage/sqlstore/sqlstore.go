// Package sqlstore keeps collections in a pair of relational tables: one row
// per document holding its tagged JSON, one row per declared index. Filters
// are evaluated in process, so any database/sql driver works; the engine only
// needs the driver name to pick its placeholder style.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/docent-db/docent/storage"
)

// Config holds database connection settings.
type Config struct {
	// Driver is the database/sql driver name (sqlite3, pgx)
	Driver string
	// DSN is the driver-specific data source name
	DSN string
	// Table is the documents table; the index table derives from it
	Table string
}

// DefaultConfig returns a default SQL configuration backed by an in-memory
// SQLite database.
func DefaultConfig() Config {
	return Config{
		Driver: "sqlite3",
		DSN:    "file:docent?mode=memory&cache=shared",
		Table:  "docent_documents",
	}
}

// Engine is a storage.Engine backed by a relational database.
type Engine struct {
	db     *sql.DB
	table  string
	itable string
	dollar bool
}

// Open connects to the database, verifies the connection with a ping, and
// creates the backing tables if they do not exist yet.
func Open(config Config) (*Engine, error) {
	db, err := sql.Open(config.Driver, config.DSN)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open %s: %w", config.Driver, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlstore: ping: %w", err)
	}

	engine := NewWithDB(db, config)
	if err := engine.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return engine, nil
}

// NewWithDB wraps an already opened database handle. No DDL is run; call
// EnsureSchema when the tables may be missing.
func NewWithDB(db *sql.DB, config Config) *Engine {
	table := config.Table
	if table == "" {
		table = DefaultConfig().Table
	}
	return &Engine{
		db:     db,
		table:  table,
		itable: table + "_indexes",
		dollar: config.Driver == "pgx" || config.Driver == "postgres",
	}
}

// Close releases the underlying database handle.
func (e *Engine) Close() error {
	return e.db.Close()
}

// DB exposes the underlying handle for surrounding tooling.
func (e *Engine) DB() *sql.DB {
	return e.db
}

// EnsureSchema creates the document and index tables if they do not exist.
// The DDL sticks to types SQLite and PostgreSQL agree on.
func (e *Engine) EnsureSchema(ctx context.Context) error {
	statements := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			collection TEXT NOT NULL,
			doc_key    TEXT NOT NULL,
			doc        TEXT NOT NULL,
			PRIMARY KEY (collection, doc_key)
		)`, e.table),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			collection TEXT NOT NULL,
			name       TEXT NOT NULL,
			spec       TEXT NOT NULL,
			PRIMARY KEY (collection, name)
		)`, e.itable),
	}
	for _, stmt := range statements {
		if _, err := e.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlstore: ensure schema: %w", err)
		}
	}
	return nil
}

// sql rewrites ? placeholders to $n for PostgreSQL-family drivers.
func (e *Engine) sql(query string) string {
	if !e.dollar {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Insert stores doc as a new row, minting an engine key when absent, and
// fails with storage.ErrDuplicateKey when the key is already taken.
func (e *Engine) Insert(ctx context.Context, collection string, doc storage.Document) (any, error) {
	key, stored := storage.EnsureKey(doc)
	id, err := storage.EncodeKey(key)
	if err != nil {
		return nil, err
	}
	value, err := storage.MarshalDocument(stored)
	if err != nil {
		return nil, err
	}

	query := e.sql(fmt.Sprintf("SELECT 1 FROM %s WHERE collection = ? AND doc_key = ?", e.table))
	var one int
	err = e.db.QueryRowContext(ctx, query, collection, id).Scan(&one)
	switch {
	case err == nil:
		return nil, fmt.Errorf("%w: %v in %s", storage.ErrDuplicateKey, key, collection)
	case !errors.Is(err, sql.ErrNoRows):
		return nil, err
	}

	query = e.sql(fmt.Sprintf("INSERT INTO %s (collection, doc_key, doc) VALUES (?, ?, ?)", e.table))
	if _, err := e.db.ExecContext(ctx, query, collection, id, string(value)); err != nil {
		return nil, err
	}
	return key, nil
}

// Find streams the collection's rows and returns a cursor over every
// document the filter admits. Rows stay open until the cursor is closed.
func (e *Engine) Find(ctx context.Context, collection string, filter storage.Filter) (storage.Cursor, error) {
	query := e.sql(fmt.Sprintf("SELECT doc FROM %s WHERE collection = ? ORDER BY doc_key", e.table))
	rows, err := e.db.QueryContext(ctx, query, collection)
	if err != nil {
		return nil, err
	}
	return &rowCursor{rows: rows, filter: filter}, nil
}

// Update replaces the contents of every matching document with doc, keeping
// each document's engine key, and reports how many rows were replaced. The
// scan and the writes share one transaction.
func (e *Engine) Update(ctx context.Context, collection string, filter storage.Filter, doc storage.Document) (int, error) {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	matched, err := e.matchingRows(ctx, tx, collection, filter)
	if err != nil {
		return 0, err
	}

	query := e.sql(fmt.Sprintf("UPDATE %s SET doc = ? WHERE collection = ? AND doc_key = ?", e.table))
	for id, existing := range matched {
		replaced := make(storage.Document, len(doc)+1)
		for k, v := range doc {
			replaced[k] = v
		}
		replaced[storage.KeyID] = existing[storage.KeyID]
		value, err := storage.MarshalDocument(replaced)
		if err != nil {
			return 0, err
		}
		if _, err := tx.ExecContext(ctx, query, string(value), collection, id); err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(matched), nil
}

// Delete removes every matching document and reports how many rows went
// away. The scan and the deletes share one transaction.
func (e *Engine) Delete(ctx context.Context, collection string, filter storage.Filter) (int, error) {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	matched, err := e.matchingRows(ctx, tx, collection, filter)
	if err != nil {
		return 0, err
	}

	query := e.sql(fmt.Sprintf("DELETE FROM %s WHERE collection = ? AND doc_key = ?", e.table))
	for id := range matched {
		if _, err := tx.ExecContext(ctx, query, collection, id); err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(matched), nil
}

// matchingRows reads the whole collection inside tx and returns the rows the
// filter admits, keyed by encoded engine key. Rows are drained before any
// write, since a transaction holds a single connection.
func (e *Engine) matchingRows(ctx context.Context, tx *sql.Tx, collection string, filter storage.Filter) (map[string]storage.Document, error) {
	query := e.sql(fmt.Sprintf("SELECT doc_key, doc FROM %s WHERE collection = ?", e.table))
	rows, err := tx.QueryContext(ctx, query, collection)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	matched := make(map[string]storage.Document)
	for rows.Next() {
		var id, data string
		if err := rows.Scan(&id, &data); err != nil {
			return nil, err
		}
		doc, err := storage.UnmarshalDocument([]byte(data))
		if err != nil {
			return nil, err
		}
		if storage.Matches(doc, filter) {
			matched[id] = doc
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return matched, nil
}

// CreateIndex records the spec in the index table, replacing any previous
// spec of the same name. Lookups are served by scan, so the spec is advisory
// metadata.
func (e *Engine) CreateIndex(ctx context.Context, collection string, spec storage.IndexSpec) error {
	value, err := json.Marshal(spec)
	if err != nil {
		return fmt.Errorf("sqlstore: marshal index %s: %w", spec.Name, err)
	}

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	del := e.sql(fmt.Sprintf("DELETE FROM %s WHERE collection = ? AND name = ?", e.itable))
	if _, err := tx.ExecContext(ctx, del, collection, spec.Name); err != nil {
		return err
	}
	ins := e.sql(fmt.Sprintf("INSERT INTO %s (collection, name, spec) VALUES (?, ?, ?)", e.itable))
	if _, err := tx.ExecContext(ctx, ins, collection, spec.Name, string(value)); err != nil {
		return err
	}
	return tx.Commit()
}

// Indexes returns the specs recorded for a collection.
func (e *Engine) Indexes(ctx context.Context, collection string) ([]storage.IndexSpec, error) {
	query := e.sql(fmt.Sprintf("SELECT spec FROM %s WHERE collection = ? ORDER BY name", e.itable))
	rows, err := e.db.QueryContext(ctx, query, collection)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var specs []storage.IndexSpec
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var spec storage.IndexSpec
		if err := json.Unmarshal([]byte(data), &spec); err != nil {
			return nil, err
		}
		specs = append(specs, spec)
	}
	return specs, rows.Err()
}

// rowCursor filters rows as the caller iterates, so large collections are
// never fully materialized.
type rowCursor struct {
	rows   *sql.Rows
	filter storage.Filter
	cur    storage.Document
	err    error
}

func (c *rowCursor) Next() bool {
	if c.err != nil {
		return false
	}
	for c.rows.Next() {
		var data string
		if err := c.rows.Scan(&data); err != nil {
			c.err = err
			return false
		}
		doc, err := storage.UnmarshalDocument([]byte(data))
		if err != nil {
			c.err = err
			return false
		}
		if storage.Matches(doc, c.filter) {
			c.cur = doc
			return true
		}
	}
	c.err = c.rows.Err()
	c.cur = nil
	return false
}

func (c *rowCursor) Document() storage.Document { return c.cur }

func (c *rowCursor) Err() error { return c.err }

func (c *rowCursor) Close() error { return c.rows.Close() }
