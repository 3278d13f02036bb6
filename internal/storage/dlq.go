package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/datagen24/cowrieprocessor/internal/model"
)

// ErrLocked is returned by AcquireLock when a non-expired processing lock
// already exists on the target dead-letter row.
var ErrLocked = errors.New("storage: dead letter event is locked")

// InsertDeadLettersBatch inserts dead letter rows one at a time inside tx
// via InsertDeadLetter. The first failing row stops the loop and its error
// is returned; failed rows are not retried or skipped individually.
func InsertDeadLettersBatch(tx *sql.Tx, events []*model.DeadLetterEvent) error {
	for _, e := range events {
		if err := InsertDeadLetter(tx, e); err != nil {
			return err
		}
	}
	return nil
}

// InsertDeadLetter inserts a single dead-letter row. The payload is never
// empty — callers are responsible for wrapping malformed/non-object
// payloads before calling this.
func InsertDeadLetter(tx *sql.Tx, e *model.DeadLetterEvent) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("storage: dead letter payload must not be empty")
	}
	errHist, _ := json.Marshal(e.ErrorHistory)
	attempts, _ := json.Marshal(e.ProcessingAttempts)
	now := time.Now().UTC()

	_, err := tx.Exec(`
		INSERT INTO dead_letter_event
			(ingest_id, source, source_offset, source_inode, reason, payload, payload_checksum,
			 retry_count, error_history, processing_attempts, resolved, priority, classification,
			 idempotency_key, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.IngestID, e.Source, e.SourceOffset, e.SourceInode, string(e.Reason), e.Payload, e.PayloadChecksum,
		e.RetryCount, errHist, attempts, e.Resolved, e.Priority, e.Classification,
		e.IdempotencyKey, now, now)
	if err != nil {
		return fmt.Errorf("storage: insert dead_letter_event: %w", err)
	}
	return nil
}

// AcquireLock claims a dead-letter row for processing. Fails with ErrLocked
// if a non-expired lock already exists.
func AcquireLock(db *DB, id int64, lockID string, expiresInMinutes int) error {
	now := time.Now().UTC()
	row := db.QueryRow(`SELECT processing_lock, lock_expires_at FROM dead_letter_event WHERE id = ?`, id)
	var existingLock sql.NullString
	var expiresAt sql.NullTime
	if err := row.Scan(&existingLock, &expiresAt); err != nil {
		return fmt.Errorf("storage: acquire lock lookup: %w", err)
	}
	if existingLock.Valid && existingLock.String != "" && expiresAt.Valid && now.Before(expiresAt.Time) {
		return ErrLocked
	}

	newExpiry := now.Add(time.Duration(expiresInMinutes) * time.Minute)
	_, err := db.Exec(`UPDATE dead_letter_event SET processing_lock = ?, lock_expires_at = ? WHERE id = ?`,
		lockID, newExpiry, id)
	return err
}

// ReleaseLock clears a processing lock unconditionally.
func ReleaseLock(db *DB, id int64) error {
	_, err := db.Exec(`UPDATE dead_letter_event SET processing_lock = NULL, lock_expires_at = NULL WHERE id = ?`, id)
	return err
}

// RecordAttempt appends a processing attempt record.
func RecordAttempt(db *DB, id int64, attempt model.ProcessingAttempt) error {
	row := db.QueryRow(`SELECT processing_attempts FROM dead_letter_event WHERE id = ?`, id)
	var raw []byte
	if err := row.Scan(&raw); err != nil {
		return fmt.Errorf("storage: record attempt lookup: %w", err)
	}
	var attempts []model.ProcessingAttempt
	_ = json.Unmarshal(raw, &attempts)
	attempts = append(attempts, attempt)
	encoded, err := json.Marshal(attempts)
	if err != nil {
		return err
	}
	_, err = db.Exec(`UPDATE dead_letter_event SET processing_attempts = ?, last_processed_at = ? WHERE id = ?`,
		encoded, time.Now().UTC(), id)
	return err
}

// RecordError appends an error record and increments retry_count.
func RecordError(db *DB, id int64, rec model.ErrorRecord) error {
	row := db.QueryRow(`SELECT error_history FROM dead_letter_event WHERE id = ?`, id)
	var raw []byte
	if err := row.Scan(&raw); err != nil {
		return fmt.Errorf("storage: record error lookup: %w", err)
	}
	var history []model.ErrorRecord
	_ = json.Unmarshal(raw, &history)
	history = append(history, rec)
	encoded, err := json.Marshal(history)
	if err != nil {
		return err
	}
	_, err = db.Exec(`UPDATE dead_letter_event SET error_history = ?, retry_count = retry_count + 1,
		last_processed_at = ? WHERE id = ?`, encoded, time.Now().UTC(), id)
	return err
}

// MarkResolved marks a dead-letter row resolved and releases its lock.
func MarkResolved(db *DB, id int64, method string) error {
	now := time.Now().UTC()
	_, err := db.Exec(`UPDATE dead_letter_event SET resolved = ?, resolved_at = ?, resolution_method = ?,
		processing_lock = NULL, lock_expires_at = NULL WHERE id = ?`, true, now, method, id)
	return err
}

// LoadDeadLetter fetches one dead-letter row by id.
func LoadDeadLetter(db *DB, id int64) (*model.DeadLetterEvent, error) {
	row := db.QueryRow(`SELECT id, ingest_id, source, source_offset, source_inode, reason, payload,
			payload_checksum, retry_count, error_history, processing_attempts, resolved, resolved_at,
			resolution_method, idempotency_key, processing_lock, lock_expires_at, priority, classification,
			created_at, updated_at, last_processed_at
		FROM dead_letter_event WHERE id = ?`, id)

	var e model.DeadLetterEvent
	var reason string
	var errHist, attempts []byte
	var resolvedAt, lockExpiresAt, lastProcessedAt sql.NullTime
	var resolutionMethod, idempotencyKey, processingLock, classification sql.NullString

	err := row.Scan(&e.ID, &e.IngestID, &e.Source, &e.SourceOffset, &e.SourceInode, &reason, &e.Payload,
		&e.PayloadChecksum, &e.RetryCount, &errHist, &attempts, &e.Resolved, &resolvedAt,
		&resolutionMethod, &idempotencyKey, &processingLock, &lockExpiresAt, &e.Priority, &classification,
		&e.CreatedAt, &e.UpdatedAt, &lastProcessedAt)
	if err != nil {
		return nil, err
	}

	e.Reason = model.DeadLetterReason(reason)
	_ = json.Unmarshal(errHist, &e.ErrorHistory)
	_ = json.Unmarshal(attempts, &e.ProcessingAttempts)
	if resolvedAt.Valid {
		e.ResolvedAt = &resolvedAt.Time
	}
	if lockExpiresAt.Valid {
		e.LockExpiresAt = &lockExpiresAt.Time
	}
	if lastProcessedAt.Valid {
		e.LastProcessedAt = &lastProcessedAt.Time
	}
	e.ResolutionMethod = resolutionMethod.String
	e.IdempotencyKey = idempotencyKey.String
	e.ProcessingLock = processingLock.String
	e.Classification = classification.String
	return &e, nil
}

// ListUnresolved returns unresolved dead-letter rows ordered by descending
// priority, for use by cmd/dlq-replay.
func ListUnresolved(db *DB, limit int) ([]*model.DeadLetterEvent, error) {
	rows, err := db.Query(`SELECT id FROM dead_letter_event WHERE resolved = ? ORDER BY priority DESC, id ASC LIMIT ?`,
		false, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	out := make([]*model.DeadLetterEvent, 0, len(ids))
	for _, id := range ids {
		e, err := LoadDeadLetter(db, id)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}
