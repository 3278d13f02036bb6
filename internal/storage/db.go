// Package storage opens the relational backend, runs migrations, and hosts
// the dialect-aware UPSERT helpers shared by the bulk and delta loaders.
package storage

import (
	"database/sql"
	"fmt"
	"log"
	"strings"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// Dialect identifies which backend a *sql.DB is talking to. The migrator and
// the UPSERT helpers branch on this; any value other than the two named
// dialects falls back to a select-then-insert-or-update strategy.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
	DialectOther    Dialect = "other"
)

// DB wraps a *sql.DB with its resolved dialect.
type DB struct {
	*sql.DB
	Dialect Dialect

	log *log.Logger
}

// Open connects to the backend named by databaseURL. A URL beginning with
// "postgres://" or "postgresql://" selects the server engine; anything else
// is treated as a path to an embedded, single-file engine.
func Open(databaseURL string) (*DB, error) {
	driver, dsn, dialect := resolve(databaseURL)

	sqlDB, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", driver, err)
	}
	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("storage: ping %s: %w", driver, err)
	}

	if dialect == DialectSQLite {
		if _, err := sqlDB.Exec("PRAGMA journal_mode=WAL"); err != nil {
			return nil, fmt.Errorf("storage: enable WAL journaling: %w", err)
		}
	}

	return &DB{
		DB:      sqlDB,
		Dialect: dialect,
		log:     log.New(log.Writer(), "[storage] ", log.LstdFlags),
	}, nil
}

func resolve(databaseURL string) (driver, dsn string, dialect Dialect) {
	switch {
	case strings.HasPrefix(databaseURL, "postgres://"), strings.HasPrefix(databaseURL, "postgresql://"):
		return "postgres", databaseURL, DialectPostgres
	case strings.HasPrefix(databaseURL, "sqlite://"):
		return "sqlite3", strings.TrimPrefix(databaseURL, "sqlite://"), DialectSQLite
	default:
		// A bare path is treated as the embedded engine's data file.
		return "sqlite3", databaseURL, DialectSQLite
	}
}

// Placeholder returns the positional-parameter placeholder for the nth
// (1-based) bound argument in this dialect's SQL text.
func (db *DB) Placeholder(n int) string {
	if db.Dialect == DialectPostgres {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

// QueryRow rebinds "?" placeholders to the active dialect before delegating
// to database/sql, so call sites can write dialect-neutral SQL.
func (db *DB) QueryRow(query string, args ...interface{}) *sql.Row {
	if db.Dialect == DialectPostgres {
		query = rebind(query)
	}
	return db.DB.QueryRow(query, args...)
}

// Query is the multi-row counterpart to QueryRow.
func (db *DB) Query(query string, args ...interface{}) (*sql.Rows, error) {
	if db.Dialect == DialectPostgres {
		query = rebind(query)
	}
	return db.DB.Query(query, args...)
}

// Exec is the no-result-set counterpart to QueryRow.
func (db *DB) Exec(query string, args ...interface{}) (sql.Result, error) {
	if db.Dialect == DialectPostgres {
		query = rebind(query)
	}
	return db.DB.Exec(query, args...)
}

// rebind rewrites "?" positional placeholders into Postgres's "$1", "$2", ...
// form. It does not attempt to parse string literals containing a literal
// question mark; callers avoid that in fixed SQL text.
func rebind(query string) string {
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
