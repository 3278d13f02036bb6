package storage

import (
	"database/sql"
	"fmt"

	"github.com/datagen24/cowrieprocessor/internal/model"
)

// GetCursor loads the ingest_cursor row for a source, returning
// (nil, nil) if none exists yet.
func GetCursor(db *DB, source string) (*model.IngestCursor, error) {
	row := db.QueryRow(`SELECT source, inode, last_offset, last_ingest_id, generation, first_hash
		FROM ingest_cursor WHERE source = ?`, source)

	var c model.IngestCursor
	var lastIngestID, firstHash sql.NullString
	if err := row.Scan(&c.Source, &c.Inode, &c.LastOffset, &lastIngestID, &c.Generation, &firstHash); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("storage: get cursor: %w", err)
	}
	c.LastIngestID = lastIngestID.String
	c.FirstHash = firstHash.String
	return &c, nil
}

// UpsertCursor writes the current position for a source after a successful
// flush. Dialect-aware UPSERT, mirroring the raw_event/session_summary
// pattern.
func UpsertCursor(tx *sql.Tx, dialect Dialect, c *model.IngestCursor) error {
	switch dialect {
	case DialectPostgres:
		_, err := tx.Exec(`
			INSERT INTO ingest_cursor (source, inode, last_offset, last_ingest_id, generation, first_hash)
			VALUES ($1,$2,$3,$4,$5,$6)
			ON CONFLICT (source) DO UPDATE SET
				inode = EXCLUDED.inode, last_offset = EXCLUDED.last_offset,
				last_ingest_id = EXCLUDED.last_ingest_id, generation = EXCLUDED.generation,
				first_hash = EXCLUDED.first_hash`,
			c.Source, c.Inode, c.LastOffset, c.LastIngestID, c.Generation, c.FirstHash)
		return err
	case DialectSQLite:
		_, err := tx.Exec(`
			INSERT INTO ingest_cursor (source, inode, last_offset, last_ingest_id, generation, first_hash)
			VALUES (?,?,?,?,?,?)
			ON CONFLICT (source) DO UPDATE SET
				inode = excluded.inode, last_offset = excluded.last_offset,
				last_ingest_id = excluded.last_ingest_id, generation = excluded.generation,
				first_hash = excluded.first_hash`,
			c.Source, c.Inode, c.LastOffset, c.LastIngestID, c.Generation, c.FirstHash)
		return err
	default:
		res, err := tx.Exec(`UPDATE ingest_cursor SET inode=?, last_offset=?, last_ingest_id=?,
			generation=?, first_hash=? WHERE source=?`,
			c.Inode, c.LastOffset, c.LastIngestID, c.Generation, c.FirstHash, c.Source)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			_, err = tx.Exec(`INSERT INTO ingest_cursor (source, inode, last_offset, last_ingest_id, generation, first_hash)
				VALUES (?,?,?,?,?,?)`, c.Source, c.Inode, c.LastOffset, c.LastIngestID, c.Generation, c.FirstHash)
		}
		return err
	}
}

// BootstrapCursor scans existing raw_event rows for a source to reconstruct
// a cursor when none is persisted yet: the highest (generation, offset) and
// the payload hash recorded at offset 0 within that generation.
func BootstrapCursor(db *DB, source string) (*model.IngestCursor, error) {
	row := db.QueryRow(`
		SELECT source_inode, source_generation, source_offset
		FROM raw_event WHERE source = ?
		ORDER BY source_generation DESC, source_offset DESC LIMIT 1`, source)

	var inode int64
	var generation int
	var offset int64
	if err := row.Scan(&inode, &generation, &offset); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("storage: bootstrap cursor scan: %w", err)
	}

	var firstHash sql.NullString
	err := db.QueryRow(`SELECT payload_hash FROM raw_event
		WHERE source = ? AND source_generation = ? AND source_offset = 0`, source, generation).Scan(&firstHash)
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("storage: bootstrap cursor first_hash: %w", err)
	}

	return &model.IngestCursor{
		Source:     source,
		Inode:      inode,
		LastOffset: offset,
		Generation: generation,
		FirstHash:  firstHash.String,
	}, nil
}
