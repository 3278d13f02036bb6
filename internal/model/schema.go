package model

import "time"

// RawEvent is one persisted log line. The natural key (Source, SourceInode,
// SourceGeneration, SourceOffset) is unique; a duplicate insert is silently
// discarded by the loader's on-conflict-do-nothing UPSERT.
type RawEvent struct {
	ID int64

	IngestID string

	Source           string
	SourceInode      int64
	SourceGeneration int
	SourceOffset     int64

	Payload     []byte // canonical JSON document
	PayloadHash [32]byte

	RiskScore   int
	Quarantined bool

	SessionID      string
	EventType      string
	EventTimestamp time.Time
}

// SessionSummary is one row per honeypot session. Snapshot fields are set
// exactly once and never overwritten by a later flush (see design notes on
// the removal of session<->event back-pointers: aggregation happens
// in-memory per batch, not by walking stored events).
type SessionSummary struct {
	SessionID string

	EventCount     int
	CommandCount   int
	FileDownloads  int
	LoginAttempts  int
	FirstEventAt   time.Time
	LastEventAt    time.Time
	RiskScore      int
	SourceFiles    []string
	VTFlagged      bool
	DShieldFlagged bool

	SSHKeyInjections int
	UniqueSSHKeys    []string

	Matcher string

	SourceIP        *string
	SnapshotASN     *int
	SnapshotCountry *string
	SnapshotIPType  *string
	EnrichmentAt    *time.Time
}

// HasSnapshot reports whether the session already has its immutable
// enrichment snapshot populated.
func (s *SessionSummary) HasSnapshot() bool {
	return s.SourceIP != nil
}

// EnrichmentCacheEntry is an L2 cache row: one per (Service, CacheKey).
type EnrichmentCacheEntry struct {
	Service    string
	CacheKey   string
	CacheValue []byte
	CreatedAt  time.Time
	ExpiresAt  time.Time
}

// Expired reports whether the entry's TTL has elapsed as of now.
func (e *EnrichmentCacheEntry) Expired(now time.Time) bool {
	return now.After(e.ExpiresAt)
}

// IPInventory is the per-IP enrichment state of record.
type IPInventory struct {
	IPAddress            string
	FirstSeen            time.Time
	LastSeen             time.Time
	SessionCount         int
	Enrichment           []byte // structured document, sub-results keyed by provider
	CurrentASN           *int
	EnrichmentUpdatedAt  *time.Time
}

// SchemaState is the key/value row recording the current migration version.
type SchemaState struct {
	Key   string
	Value string
}

// IngestCursor records the last-ingested position per source file, plus the
// generation/first-hash metadata used to detect rotation and truncation
// without relying on wall-clock heuristics.
type IngestCursor struct {
	Source       string
	Inode        int64
	LastOffset   int64
	LastIngestID string
	Generation   int
	FirstHash    string // hex-encoded payload hash of offset 0 for the current generation
}
