package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	// Registers the "sqlite3" database/sql driver.
	_ "github.com/mattn/go-sqlite3"
	// Registers the "postgres" database/sql driver.
	_ "github.com/lib/pq"

	"toolmesh/internal/trace"
)

// sqlBackend persists traces to a SQL table (root_label, success, start_ts,
// request_id, document) queried back through the shared Filter/matches
// logic rather than pushed into SQL predicates, keeping the two SQL
// backends (sqlite, postgres) sharing one query path.
type sqlBackend struct {
	db        *sql.DB
	driver    string
	tableName string
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS %s (
	request_id TEXT PRIMARY KEY,
	root_label TEXT NOT NULL,
	success    BOOLEAN NOT NULL,
	start_ts   TIMESTAMP NOT NULL,
	document   TEXT NOT NULL
)`

func newSQLBackend(driver, dsn string) (*sqlBackend, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening %s connection: %w", driver, err)
	}
	b := &sqlBackend{db: db, driver: driver, tableName: "traces"}
	if _, err := db.Exec(fmt.Sprintf(schemaDDL, b.tableName)); err != nil {
		return nil, fmt.Errorf("creating trace table: %w", err)
	}
	return b, nil
}

// NewSQLiteBackend opens (creating if necessary) a SQLite-backed trace
// store at the given file path. This is the default durable backend for
// local/dev runs.
func NewSQLiteBackend(path string) (Backend, error) {
	return newSQLBackend("sqlite3", path)
}

// NewPostgresBackend opens a Postgres-backed trace store using the given
// connection string.
func NewPostgresBackend(dsn string) (Backend, error) {
	return newSQLBackend("postgres", dsn)
}

func (b *sqlBackend) Put(ctx context.Context, doc trace.Document) error {
	root := rootOf(doc)
	if root == nil {
		return fmt.Errorf("trace %s has no root node", doc.RequestID)
	}
	payload, err := json.Marshal(doc)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (request_id, root_label, success, start_ts, document)
		VALUES (%s, %s, %s, %s, %s)
		ON CONFLICT (request_id) DO UPDATE SET document = excluded.document`,
		b.tableName, b.placeholder(1), b.placeholder(2), b.placeholder(3), b.placeholder(4), b.placeholder(5))

	_, err = b.db.ExecContext(ctx, query, doc.RequestID, root.Label, root.Success, root.Start, string(payload))
	return err
}

func (b *sqlBackend) placeholder(n int) string {
	if b.driver == "postgres" {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

func (b *sqlBackend) Query(ctx context.Context, filter Filter) ([]trace.Document, error) {
	rows, err := b.db.QueryContext(ctx, fmt.Sprintf("SELECT document FROM %s ORDER BY start_ts ASC", b.tableName))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []trace.Document
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var doc trace.Document
		if err := json.Unmarshal([]byte(payload), &doc); err != nil {
			return nil, err
		}
		if matches(doc, rootOf(doc), filter) {
			out = append(out, doc)
		}
	}
	return out, rows.Err()
}

func (b *sqlBackend) Export(ctx context.Context, format ExportFormat, filter Filter) ([]byte, error) {
	docs, err := b.Query(ctx, filter)
	if err != nil {
		return nil, err
	}
	return encode(format, docs)
}

func (b *sqlBackend) Prune(ctx context.Context, olderThan time.Time) (int, error) {
	result, err := b.db.ExecContext(ctx,
		fmt.Sprintf("DELETE FROM %s WHERE start_ts < %s", b.tableName, b.placeholder(1)), olderThan)
	if err != nil {
		return 0, err
	}
	n, err := result.RowsAffected()
	return int(n), err
}

func (b *sqlBackend) Close() error { return b.db.Close() }
