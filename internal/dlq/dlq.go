// Package dlq implements the dead-letter queue operations of component K:
// insert with checksum/idempotency-key generation, lock acquisition,
// attempt/error history, and resolution.
package dlq

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/datagen24/cowrieprocessor/internal/canonical"
	"github.com/datagen24/cowrieprocessor/internal/model"
	"github.com/datagen24/cowrieprocessor/internal/storage"
)

// WrapMalformed builds the dead-letter payload for a line that failed JSON
// parsing: the raw text is preserved verbatim under _malformed_content.
func WrapMalformed(rawLine string) map[string]interface{} {
	return map[string]interface{}{
		"_malformed_content": rawLine,
	}
}

// WrapNonObject builds the dead-letter payload for a decoded value that was
// not a JSON object (so it cannot be stored as-is in raw_event.payload).
func WrapNonObject(reason string, value interface{}, now time.Time) map[string]interface{} {
	return map[string]interface{}{
		"_dead_letter":        true,
		"_reason":             reason,
		"_malformed_content":  value,
		"_timestamp":          now.UTC().Format(time.RFC3339Nano),
	}
}

// Checksum computes the SHA-256 hex digest of a payload's canonical JSON
// encoding, used both to populate payload_checksum and to verify it later.
func Checksum(payload map[string]interface{}) (string, error) {
	canon, err := canonical.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("dlq: canonicalize payload: %w", err)
	}
	sum := sha256.Sum256(canon)
	return hex.EncodeToString(sum[:]), nil
}

// IdempotencyKey deterministically derives the dead-letter idempotency key
// from (source, offset, checksum).
func IdempotencyKey(source string, offset int64, checksum string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%d:%s", source, offset, checksum)))
	return hex.EncodeToString(sum[:])
}

// Priority assigns a 1-10 severity used to order replay, higher meaning
// more urgent. Quarantined (risky payload) events outrank plain validation
// failures, which outrank already-malformed lines.
func Priority(reason model.DeadLetterReason) int {
	switch reason {
	case model.ReasonQuarantined:
		return 8
	case model.ReasonValidation:
		return 4
	default:
		return 1
	}
}

// Build assembles a DeadLetterEvent ready for insertion, computing its
// checksum and idempotency key.
func Build(ingestID, source string, offset, inode int64, reason model.DeadLetterReason, payload map[string]interface{}) (*model.DeadLetterEvent, error) {
	if len(payload) == 0 {
		return nil, fmt.Errorf("dlq: payload must not be empty")
	}
	canon, err := canonical.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("dlq: canonicalize payload: %w", err)
	}
	checksum, err := Checksum(payload)
	if err != nil {
		return nil, err
	}

	return &model.DeadLetterEvent{
		IngestID:        ingestID,
		Source:          source,
		SourceOffset:    offset,
		SourceInode:     inode,
		Reason:          reason,
		Payload:         canon,
		PayloadChecksum: checksum,
		Priority:        Priority(reason),
		Classification:  string(reason),
		IdempotencyKey:  IdempotencyKey(source, offset, checksum),
	}, nil
}

// ChecksumValid recomputes the checksum of a stored dead-letter payload and
// compares it to the recorded value, detecting corruption.
func ChecksumValid(e *model.DeadLetterEvent) (bool, error) {
	v, err := canonical.Decode(e.Payload)
	if err != nil {
		return false, fmt.Errorf("dlq: decode stored payload: %w", err)
	}
	m, ok := v.(map[string]interface{})
	if !ok {
		return false, fmt.Errorf("dlq: stored payload is not an object")
	}
	checksum, err := Checksum(m)
	if err != nil {
		return false, err
	}
	return checksum == e.PayloadChecksum, nil
}

// Queue is the facade used by the loaders and by cmd/dlq-replay.
type Queue struct {
	db *storage.DB
}

// New wraps a DB for dead-letter operations.
func New(db *storage.DB) *Queue {
	return &Queue{db: db}
}

// InsertBatch persists a batch of dead-letter events inside tx via
// storage.InsertDeadLettersBatch and returns its error unchanged; a failed
// batch is not retried row by row.
func (q *Queue) InsertBatch(tx *sql.Tx, events []*model.DeadLetterEvent) error {
	if err := storage.InsertDeadLettersBatch(tx, events); err != nil {
		return err
	}
	return nil
}

// AcquireLock claims an event for processing with a freshly generated lock
// ID, returning the lock ID on success.
func (q *Queue) AcquireLock(id int64, expiresInMinutes int) (string, error) {
	lockID := uuid.NewString()
	if err := storage.AcquireLock(q.db, id, lockID, expiresInMinutes); err != nil {
		return "", err
	}
	return lockID, nil
}

// Release clears a processing lock.
func (q *Queue) Release(id int64) error {
	return storage.ReleaseLock(q.db, id)
}

// RecordAttempt appends a processing-attempt record.
func (q *Queue) RecordAttempt(id int64, method string, success bool, duration time.Duration) error {
	return storage.RecordAttempt(q.db, id, model.ProcessingAttempt{
		Time:           time.Now().UTC(),
		Method:         method,
		Success:        success,
		DurationMillis: duration.Milliseconds(),
	})
}

// RecordError appends an error record and bumps retry_count.
func (q *Queue) RecordError(id int64, errType, message string) error {
	return storage.RecordError(q.db, id, model.ErrorRecord{
		Time:      time.Now().UTC(),
		ErrorType: errType,
		Message:   message,
	})
}

// Resolve marks an event resolved.
func (q *Queue) Resolve(id int64, method string) error {
	return storage.MarkResolved(q.db, id, method)
}

// Load fetches one dead-letter row.
func (q *Queue) Load(id int64) (*model.DeadLetterEvent, error) {
	return storage.LoadDeadLetter(q.db, id)
}

// Pending returns up to limit unresolved events ordered by priority.
func (q *Queue) Pending(limit int) ([]*model.DeadLetterEvent, error) {
	return storage.ListUnresolved(q.db, limit)
}

// RepairPayload reconstructs the decoded payload document for re-processing.
func RepairPayload(e *model.DeadLetterEvent) (map[string]interface{}, error) {
	v, err := canonical.Decode(e.Payload)
	if err != nil {
		return nil, err
	}
	m, ok := v.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("dlq: payload %d is not an object", e.ID)
	}
	return m, nil
}
