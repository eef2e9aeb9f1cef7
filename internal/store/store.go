// Package store persists pipeline records in SQLite or Postgres.
//
// Queries are written with ? placeholders and rebound to $N for Postgres.
// Timestamps are stored as Unix milliseconds and JSON documents as TEXT so
// the same schema runs on both drivers.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a record does not exist
var ErrNotFound = errors.New("record not found")

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Store wraps the document database
type Store struct {
	db     *sql.DB
	driver string
}

// Open connects to the database and applies the schema
func Open(ctx context.Context, driver, dsn string) (*Store, error) {
	switch driver {
	case "", DriverSQLite:
		driver = DriverSQLite
	case DriverPostgres:
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if driver == DriverSQLite {
		// An in-memory database exists per connection.
		if dsn == ":memory:" || strings.Contains(dsn, "mode=memory") {
			db.SetMaxOpenConns(1)
		}
		if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout = 10000"); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set busy timeout: %w", err)
		}
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := New(db, driver)
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an open database without migrating it
func New(db *sql.DB, driver string) *Store {
	return &Store{db: db, driver: driver}
}

// DB returns the underlying handle
func (s *Store) DB() *sql.DB {
	return s.db
}

// Driver returns the driver name
func (s *Store) Driver() string {
	return s.driver
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// Rebind rewrites ? placeholders for the active driver
func (s *Store) Rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var sb strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(n))
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

func (s *Store) exec(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.Rebind(query), args...)
}

func (s *Store) queryRow(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return s.db.QueryRowContext(ctx, s.Rebind(query), args...)
}

func (s *Store) query(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, s.Rebind(query), args...)
}

func millis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func fromNullMillis(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromMillis(v.Int64)
	return &t
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
