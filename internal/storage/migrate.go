package storage

import (
	"embed"
	"fmt"
	"io/fs"
	"strconv"

	"github.com/pressly/goose/v3"
)

//go:embed migrations/sqlite/*.sql
var sqliteMigrations embed.FS

//go:embed migrations/postgres/*.sql
var postgresMigrations embed.FS

// Migrate applies, in order and one transaction per migration, every
// embedded migration that goose has not yet recorded as applied; the
// schema_state version read beforehand is only logged. Migrations are
// idempotent at the "already at version N" level: re-running a completed
// migration is a no-op because goose tracks applied versions itself and we
// mirror the resulting version into schema_state afterwards.
//
// An unparseable schema_state.value is treated as version 0 rather than
// failing the migration run.
func (db *DB) Migrate() error {
	dir, sub, err := db.migrationDir()
	if err != nil {
		return err
	}

	goose.SetBaseFS(sub)
	defer goose.SetBaseFS(nil)

	dialectName := "sqlite3"
	if db.Dialect == DialectPostgres {
		dialectName = "postgres"
	}
	if err := goose.SetDialect(dialectName); err != nil {
		return fmt.Errorf("storage: set goose dialect: %w", err)
	}

	before := db.currentVersion()
	db.log.Printf("migrating from schema_state version %d", before)

	if err := goose.Up(db.DB, dir); err != nil {
		return fmt.Errorf("storage: apply migrations: %w", err)
	}

	version, err := goose.GetDBVersion(db.DB)
	if err != nil {
		return fmt.Errorf("storage: read resulting version: %w", err)
	}

	if err := db.setSchemaVersion(version); err != nil {
		return fmt.Errorf("storage: record schema_state: %w", err)
	}
	db.log.Printf("migrated to schema_state version %d", version)
	return nil
}

func (db *DB) migrationDir() (string, fs.FS, error) {
	switch db.Dialect {
	case DialectPostgres:
		sub, err := fs.Sub(postgresMigrations, "migrations/postgres")
		return "migrations/postgres", sub, err
	default:
		sub, err := fs.Sub(sqliteMigrations, "migrations/sqlite")
		return "migrations/sqlite", sub, err
	}
}

// currentVersion reads schema_state's recorded version, defaulting to 0 if
// the table doesn't exist yet or the stored value is unparseable.
func (db *DB) currentVersion() int64 {
	var raw string
	err := db.QueryRow(`SELECT value FROM schema_state WHERE key = 'schema_version'`).Scan(&raw)
	if err != nil {
		return 0
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0
	}
	return v
}

func (db *DB) setSchemaVersion(version int64) error {
	value := strconv.FormatInt(version, 10)
	return db.upsertSchemaState("schema_version", value)
}

func (db *DB) upsertSchemaState(key, value string) error {
	switch db.Dialect {
	case DialectPostgres:
		_, err := db.Exec(`
			INSERT INTO schema_state (key, value) VALUES ($1, $2)
			ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`, key, value)
		return err
	case DialectSQLite:
		_, err := db.Exec(`
			INSERT INTO schema_state (key, value) VALUES (?, ?)
			ON CONFLICT (key) DO UPDATE SET value = excluded.value`, key, value)
		return err
	default:
		res, err := db.Exec(`UPDATE schema_state SET value = ? WHERE key = ?`, value, key)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			_, err = db.Exec(`INSERT INTO schema_state (key, value) VALUES (?, ?)`, key, value)
		}
		return err
	}
}
