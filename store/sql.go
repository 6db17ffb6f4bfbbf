package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Dialect selects the SQL driver and placeholder style.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// recordID is the primary key of the only row.
const recordID = 1

const createTable = `CREATE TABLE IF NOT EXISTS view_stats (
	id INTEGER PRIMARY KEY,
	last_update TEXT NOT NULL,
	data TEXT NOT NULL
)`

// SQLStore keeps the record as one row of the view_stats table.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
}

// OpenSQL connects with the given dialect and creates the table if needed.
func OpenSQL(ctx context.Context, dialect Dialect, dsn string) (*SQLStore, error) {
	db, err := sql.Open(string(dialect), dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", dialect, err)
	}
	if dialect == DialectSQLite {
		// SQLite serializes writers; a single connection also keeps
		// in-memory databases alive for the lifetime of the store.
		db.SetMaxOpenConns(1)
	}
	s, err := NewSQLStore(ctx, db, dialect)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLStore wraps an existing connection pool and creates the table if needed.
func NewSQLStore(ctx context.Context, db *sql.DB, dialect Dialect) (*SQLStore, error) {
	if _, err := db.ExecContext(ctx, createTable); err != nil {
		return nil, fmt.Errorf("store: create table: %w", err)
	}
	return &SQLStore{db: db, dialect: dialect}, nil
}

func (s *SQLStore) Load(ctx context.Context) (*Record, error) {
	var lastUpdate, data string
	err := s.db.QueryRowContext(ctx,
		"SELECT last_update, data FROM view_stats WHERE id = "+s.placeholder(1), recordID,
	).Scan(&lastUpdate, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: query record: %w", err)
	}

	ts, err := time.Parse(time.RFC3339Nano, lastUpdate)
	if err != nil {
		slog.Warn("store: ignoring record with unreadable timestamp", "value", lastUpdate, "error", err)
		return nil, nil
	}
	var counts map[string]int64
	if err := json.Unmarshal([]byte(data), &counts); err != nil {
		slog.Warn("store: ignoring record with unreadable data", "error", err)
		return nil, nil
	}
	if counts == nil {
		counts = map[string]int64{}
	}
	return &Record{LastUpdate: ts.UTC(), Data: counts}, nil
}

func (s *SQLStore) Save(ctx context.Context, rec Record) error {
	data := rec.Data
	if data == nil {
		data = map[string]int64{}
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("store: encode data: %w", err)
	}
	q := fmt.Sprintf(`INSERT INTO view_stats (id, last_update, data) VALUES (%s, %s, %s)
ON CONFLICT (id) DO UPDATE SET last_update = excluded.last_update, data = excluded.data`,
		s.placeholder(1), s.placeholder(2), s.placeholder(3))
	if _, err := s.db.ExecContext(ctx, q, recordID, rec.LastUpdate.UTC().Format(timeLayout), string(raw)); err != nil {
		return fmt.Errorf("store: upsert record: %w", err)
	}
	return nil
}

func (s *SQLStore) Close() error { return s.db.Close() }

func (s *SQLStore) placeholder(n int) string {
	if s.dialect == DialectPostgres {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}
