package storage

import (
	"database/sql"
	"fmt"

	"github.com/datagen24/cowrieprocessor/internal/model"
)

// InsertRawEventsBatch performs a dialect-appropriate batched UPSERT of
// raw_event rows, discarding duplicates on the natural key
// (source, source_inode, source_generation, source_offset). Any other error
// is returned as-is; the bulk loader's flush then rolls the whole batch back
// and returns the error, with no row-by-row retry.
func InsertRawEventsBatch(tx *sql.Tx, dialect Dialect, events []*model.RawEvent) error {
	if len(events) == 0 {
		return nil
	}
	switch dialect {
	case DialectPostgres:
		return insertRawEventsPostgres(tx, events)
	case DialectSQLite:
		return insertRawEventsSQLite(tx, events)
	default:
		for _, e := range events {
			if err := InsertRawEvent(tx, dialect, e); err != nil {
				return err
			}
		}
		return nil
	}
}

func insertRawEventsSQLite(tx *sql.Tx, events []*model.RawEvent) error {
	stmt, err := tx.Prepare(`
		INSERT INTO raw_event
			(ingest_id, source, source_inode, source_generation, source_offset,
			 payload, payload_hash, risk_score, quarantined, session_id, event_type, event_timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (source, source_inode, source_generation, source_offset) DO NOTHING`)
	if err != nil {
		return fmt.Errorf("storage: prepare raw_event batch insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range events {
		if _, err := stmt.Exec(
			e.IngestID, e.Source, e.SourceInode, e.SourceGeneration, e.SourceOffset,
			e.Payload, fmt.Sprintf("%x", e.PayloadHash), e.RiskScore, e.Quarantined,
			e.SessionID, e.EventType, e.EventTimestamp,
		); err != nil {
			return fmt.Errorf("storage: insert raw_event: %w", err)
		}
	}
	return nil
}

func insertRawEventsPostgres(tx *sql.Tx, events []*model.RawEvent) error {
	// pq.CopyIn bypasses ON CONFLICT entirely, so duplicate-on-natural-key
	// semantics rule it out here; a plain prepared statement per row inside
	// the batch transaction keeps one bad row from blocking the rest.
	insertStmt, err := tx.Prepare(`
		INSERT INTO raw_event
			(ingest_id, source, source_inode, source_generation, source_offset,
			 payload, payload_hash, risk_score, quarantined, session_id, event_type, event_timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (source, source_inode, source_generation, source_offset) DO NOTHING`)
	if err != nil {
		return fmt.Errorf("storage: prepare raw_event batch insert: %w", err)
	}
	defer insertStmt.Close()

	for _, e := range events {
		if _, err := insertStmt.Exec(
			e.IngestID, e.Source, e.SourceInode, e.SourceGeneration, e.SourceOffset,
			e.Payload, fmt.Sprintf("%x", e.PayloadHash), e.RiskScore, e.Quarantined,
			e.SessionID, e.EventType, e.EventTimestamp,
		); err != nil {
			return fmt.Errorf("storage: insert raw_event: %w", err)
		}
	}
	return nil
}

// InsertRawEvent inserts a single raw_event row, silently discarding the
// insert if the natural key already exists. InsertRawEventsBatch uses it for
// each row on dialects other than sqlite and postgres.
func InsertRawEvent(tx *sql.Tx, dialect Dialect, e *model.RawEvent) error {
	onConflict := "ON CONFLICT (source, source_inode, source_generation, source_offset) DO NOTHING"
	query := `
		INSERT INTO raw_event
			(ingest_id, source, source_inode, source_generation, source_offset,
			 payload, payload_hash, risk_score, quarantined, session_id, event_type, event_timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?) ` + onConflict
	args := []interface{}{
		e.IngestID, e.Source, e.SourceInode, e.SourceGeneration, e.SourceOffset,
		e.Payload, fmt.Sprintf("%x", e.PayloadHash), e.RiskScore, e.Quarantined,
		e.SessionID, e.EventType, e.EventTimestamp,
	}
	if dialect == DialectPostgres {
		query = rebind(query)
	}
	if _, err := tx.Exec(query, args...); err != nil {
		return fmt.Errorf("storage: insert raw_event row: %w", err)
	}
	return nil
}

// CountRawEvents returns the total number of raw_event rows for a source,
// used by test fixtures and the idempotence property checks.
func CountRawEvents(db *DB, source string) (int64, error) {
	var n int64
	err := db.QueryRow(`SELECT COUNT(*) FROM raw_event WHERE source = ?`, source).Scan(&n)
	return n, err
}

// PayloadRow is one raw_event row's identity and payload, as read back by
// cmd/db-sanitize's full-table scan.
type PayloadRow struct {
	ID      int64
	Payload []byte
}

// ListRawEventPayloads pages through every raw_event row in ascending id
// order, starting after afterID.
func ListRawEventPayloads(db *DB, afterID int64, limit int) ([]PayloadRow, error) {
	rows, err := db.Query(`SELECT id, payload FROM raw_event WHERE id > ? ORDER BY id ASC LIMIT ?`, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("storage: list raw_event payloads: %w", err)
	}
	defer rows.Close()

	var out []PayloadRow
	for rows.Next() {
		var r PayloadRow
		if err := rows.Scan(&r.ID, &r.Payload); err != nil {
			return nil, fmt.Errorf("storage: scan raw_event payload: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// UpdateRawEventPayload overwrites a raw_event row's payload and hash in
// place, used after re-sanitizing an existing row.
func UpdateRawEventPayload(db *DB, id int64, payload []byte, payloadHashHex string) error {
	_, err := db.Exec(`UPDATE raw_event SET payload = ?, payload_hash = ? WHERE id = ?`, payload, payloadHashHex, id)
	if err != nil {
		return fmt.Errorf("storage: update raw_event payload %d: %w", id, err)
	}
	return nil
}

// CommandInputRow is one command-input raw_event row, as read back by
// cmd/ssh-keys-backfill.
type CommandInputRow struct {
	ID        int64
	SessionID string
	Payload   []byte
}

// ListCommandInputs pages through raw_event rows of the given event type in
// ascending id order, starting after afterID. Filtering happens on
// event_type only — the payload itself is opaque BLOB/BYTEA, so callers
// decode it and inspect the command text in Go rather than relying on a
// dialect-portable LIKE over binary payload.
func ListCommandInputs(db *DB, eventType string, afterID int64, limit int) ([]CommandInputRow, error) {
	rows, err := db.Query(`SELECT id, session_id, payload FROM raw_event
		WHERE event_type = ? AND id > ? ORDER BY id ASC LIMIT ?`, eventType, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("storage: list command inputs: %w", err)
	}
	defer rows.Close()

	var out []CommandInputRow
	for rows.Next() {
		var r CommandInputRow
		var sessionID sql.NullString
		if err := rows.Scan(&r.ID, &sessionID, &r.Payload); err != nil {
			return nil, fmt.Errorf("storage: scan command input row: %w", err)
		}
		r.SessionID = sessionID.String
		out = append(out, r)
	}
	return out, rows.Err()
}
