package model

import "time"

// DeadLetterReason enumerates why an event was routed to the dead-letter
// queue instead of (or in addition to) raw_event.
type DeadLetterReason string

const (
	ReasonValidation  DeadLetterReason = "validation"
	ReasonQuarantined DeadLetterReason = "quarantined"
)

// ErrorRecord is one entry in a dead-letter event's error_history.
type ErrorRecord struct {
	Time      time.Time `json:"time"`
	ErrorType string    `json:"error_type"`
	Message   string    `json:"message"`
}

// ProcessingAttempt is one entry in a dead-letter event's processing_attempts.
type ProcessingAttempt struct {
	Time           time.Time `json:"time"`
	Method         string    `json:"method"`
	Success        bool      `json:"success"`
	DurationMillis int64     `json:"duration_ms"`
}

// DeadLetterEvent is an event that failed validation or was quarantined.
// The payload document is never empty: malformed lines preserve their raw
// text under "_malformed_content"; non-object payloads are wrapped.
type DeadLetterEvent struct {
	ID int64

	IngestID     string
	Source       string
	SourceOffset int64
	SourceInode  int64
	Reason       DeadLetterReason

	Payload         []byte // canonical JSON, never the empty object
	PayloadChecksum string // sha256 hex of the payload document

	RetryCount int

	ErrorHistory       []ErrorRecord
	ProcessingAttempts []ProcessingAttempt

	Resolved         bool
	ResolvedAt       *time.Time
	ResolutionMethod string

	IdempotencyKey string // sha256(source:offset:checksum), set by dlq.Build

	ProcessingLock string // opaque claim ID, empty when unclaimed
	LockExpiresAt  *time.Time

	Priority       int // 1-10
	Classification string

	CreatedAt      time.Time
	UpdatedAt      time.Time
	LastProcessedAt *time.Time
}

// IsLocked reports whether the event currently holds a non-expired
// processing lock.
func (d *DeadLetterEvent) IsLocked(now time.Time) bool {
	if d.ProcessingLock == "" || d.LockExpiresAt == nil {
		return false
	}
	return now.Before(*d.LockExpiresAt)
}
