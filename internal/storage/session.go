package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/datagen24/cowrieprocessor/internal/model"
)

// SessionDelta is the per-batch aggregate the session aggregator folds
// events into; UpsertSessionSummary merges it into the stored row using
// additive counters, min/max timestamps, and COALESCE snapshot semantics.
type SessionDelta struct {
	SessionID        string
	EventCount       int
	CommandCount     int
	FileDownloads    int
	LoginAttempts    int
	FirstEventAt     time.Time
	LastEventAt      time.Time
	RiskScore        int
	SourceFiles      []string
	VTFlagged        bool
	DShieldFlagged   bool
	SSHKeyInjections int
	UniqueSSHKeys    []string
	Matcher          string
}

// UpsertSessionSummaries merges a batch of per-session deltas into
// session_summary. Counters are summed, first_event_at takes the minimum,
// last_event_at and risk_score take the maximum, source_files is
// overwritten with the sanitized/sorted union, and snapshot fields are left
// untouched here (the snapshot populator owns those, see internal/snapshot).
func UpsertSessionSummaries(tx *sql.Tx, dialect Dialect, deltas []*SessionDelta) error {
	for _, d := range deltas {
		if err := upsertOneSession(tx, dialect, d); err != nil {
			return err
		}
	}
	return nil
}

func upsertOneSession(tx *sql.Tx, dialect Dialect, d *SessionDelta) error {
	sourceFiles, err := json.Marshal(d.SourceFiles)
	if err != nil {
		return fmt.Errorf("storage: marshal source_files: %w", err)
	}
	// unique_ssh_keys must merge with whatever is already stored, not
	// overwrite it: ssh_key_injections is additive across flushes, and a
	// session whose injection commands land in different batches would
	// otherwise lose earlier keys every time a later batch's UPSERT runs.
	sshKeys, err := mergeUniqueSSHKeys(tx, dialect, d.SessionID, d.UniqueSSHKeys)
	if err != nil {
		return err
	}

	switch dialect {
	case DialectPostgres:
		_, err = tx.Exec(`
			INSERT INTO session_summary
				(session_id, event_count, command_count, file_downloads, login_attempts,
				 first_event_at, last_event_at, risk_score, source_files,
				 vt_flagged, dshield_flagged, ssh_key_injections, unique_ssh_keys, matcher)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
			ON CONFLICT (session_id) DO UPDATE SET
				event_count        = session_summary.event_count + EXCLUDED.event_count,
				command_count      = session_summary.command_count + EXCLUDED.command_count,
				file_downloads     = session_summary.file_downloads + EXCLUDED.file_downloads,
				login_attempts     = session_summary.login_attempts + EXCLUDED.login_attempts,
				first_event_at     = LEAST(session_summary.first_event_at, EXCLUDED.first_event_at),
				last_event_at      = GREATEST(session_summary.last_event_at, EXCLUDED.last_event_at),
				risk_score         = GREATEST(session_summary.risk_score, EXCLUDED.risk_score),
				source_files       = EXCLUDED.source_files,
				vt_flagged         = session_summary.vt_flagged OR EXCLUDED.vt_flagged,
				dshield_flagged    = session_summary.dshield_flagged OR EXCLUDED.dshield_flagged,
				ssh_key_injections = session_summary.ssh_key_injections + EXCLUDED.ssh_key_injections,
				unique_ssh_keys    = EXCLUDED.unique_ssh_keys,
				matcher            = COALESCE(session_summary.matcher, EXCLUDED.matcher)`,
			d.SessionID, d.EventCount, d.CommandCount, d.FileDownloads, d.LoginAttempts,
			d.FirstEventAt, d.LastEventAt, d.RiskScore, sourceFiles,
			d.VTFlagged, d.DShieldFlagged, d.SSHKeyInjections, sshKeys, d.Matcher)
		return err

	case DialectSQLite:
		_, err = tx.Exec(`
			INSERT INTO session_summary
				(session_id, event_count, command_count, file_downloads, login_attempts,
				 first_event_at, last_event_at, risk_score, source_files,
				 vt_flagged, dshield_flagged, ssh_key_injections, unique_ssh_keys, matcher)
			VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)
			ON CONFLICT (session_id) DO UPDATE SET
				event_count        = session_summary.event_count + excluded.event_count,
				command_count      = session_summary.command_count + excluded.command_count,
				file_downloads     = session_summary.file_downloads + excluded.file_downloads,
				login_attempts     = session_summary.login_attempts + excluded.login_attempts,
				first_event_at     = MIN(session_summary.first_event_at, excluded.first_event_at),
				last_event_at      = MAX(session_summary.last_event_at, excluded.last_event_at),
				risk_score         = MAX(session_summary.risk_score, excluded.risk_score),
				source_files       = excluded.source_files,
				vt_flagged         = session_summary.vt_flagged OR excluded.vt_flagged,
				dshield_flagged    = session_summary.dshield_flagged OR excluded.dshield_flagged,
				ssh_key_injections = session_summary.ssh_key_injections + excluded.ssh_key_injections,
				unique_ssh_keys    = excluded.unique_ssh_keys,
				matcher            = COALESCE(session_summary.matcher, excluded.matcher)`,
			d.SessionID, d.EventCount, d.CommandCount, d.FileDownloads, d.LoginAttempts,
			d.FirstEventAt, d.LastEventAt, d.RiskScore, sourceFiles,
			d.VTFlagged, d.DShieldFlagged, d.SSHKeyInjections, sshKeys, d.Matcher)
		return err

	default:
		return upsertSessionFallback(tx, d, sourceFiles, sshKeys)
	}
}

// queryRower is the common subset of *DB and *sql.Tx mergeUniqueSSHKeys
// needs, letting it run inside the flush transaction or standalone.
type queryRower interface {
	QueryRow(query string, args ...interface{}) *sql.Row
}

// mergeUniqueSSHKeys returns the sorted union of sessionID's currently
// stored unique_ssh_keys and newKeys, encoded as JSON ready for a write. A
// session with no existing row (or no keys yet) merges against an empty set.
// q is queried with a literal "?" placeholder; pass dialect so a *sql.Tx
// (which doesn't rebind like *DB does) gets Postgres's "$1" form instead.
func mergeUniqueSSHKeys(q queryRower, dialect Dialect, sessionID string, newKeys []string) ([]byte, error) {
	query := `SELECT unique_ssh_keys FROM session_summary WHERE session_id = ?`
	if dialect == DialectPostgres {
		query = rebind(query)
	}
	row := q.QueryRow(query, sessionID)
	var raw []byte
	if err := row.Scan(&raw); err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("storage: load unique_ssh_keys for %s: %w", sessionID, err)
	}

	var existing []string
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &existing)
	}

	seen := make(map[string]bool, len(existing)+len(newKeys))
	for _, k := range existing {
		seen[k] = true
	}
	for _, k := range newKeys {
		seen[k] = true
	}
	merged := make([]string, 0, len(seen))
	for k := range seen {
		merged = append(merged, k)
	}
	sort.Strings(merged)

	encoded, err := json.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("storage: marshal merged unique_ssh_keys: %w", err)
	}
	return encoded, nil
}

// upsertSessionFallback implements the select-then-insert-or-update path for
// dialects with no native ON CONFLICT support.
func upsertSessionFallback(tx *sql.Tx, d *SessionDelta, sourceFiles, sshKeys []byte) error {
	var existing SessionDelta
	err := tx.QueryRow(`SELECT event_count, command_count, file_downloads, login_attempts,
			first_event_at, last_event_at, risk_score FROM session_summary WHERE session_id = ?`,
		d.SessionID).Scan(&existing.EventCount, &existing.CommandCount, &existing.FileDownloads,
		&existing.LoginAttempts, &existing.FirstEventAt, &existing.LastEventAt, &existing.RiskScore)

	if err == sql.ErrNoRows {
		_, err = tx.Exec(`INSERT INTO session_summary
			(session_id, event_count, command_count, file_downloads, login_attempts,
			 first_event_at, last_event_at, risk_score, source_files,
			 vt_flagged, dshield_flagged, ssh_key_injections, unique_ssh_keys, matcher)
			VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
			d.SessionID, d.EventCount, d.CommandCount, d.FileDownloads, d.LoginAttempts,
			d.FirstEventAt, d.LastEventAt, d.RiskScore, sourceFiles,
			d.VTFlagged, d.DShieldFlagged, d.SSHKeyInjections, sshKeys, d.Matcher)
		return err
	}
	if err != nil {
		return fmt.Errorf("storage: select session_summary for fallback upsert: %w", err)
	}

	first := d.FirstEventAt
	if existing.FirstEventAt.Before(first) {
		first = existing.FirstEventAt
	}
	last := d.LastEventAt
	if existing.LastEventAt.After(last) {
		last = existing.LastEventAt
	}
	risk := d.RiskScore
	if existing.RiskScore > risk {
		risk = existing.RiskScore
	}

	_, err = tx.Exec(`UPDATE session_summary SET
			event_count = event_count + ?, command_count = command_count + ?,
			file_downloads = file_downloads + ?, login_attempts = login_attempts + ?,
			first_event_at = ?, last_event_at = ?, risk_score = ?, source_files = ?,
			vt_flagged = vt_flagged OR ?, dshield_flagged = dshield_flagged OR ?,
			ssh_key_injections = ssh_key_injections + ?, unique_ssh_keys = ?
		WHERE session_id = ?`,
		d.EventCount, d.CommandCount, d.FileDownloads, d.LoginAttempts,
		first, last, risk, sourceFiles, d.VTFlagged, d.DShieldFlagged,
		d.SSHKeyInjections, sshKeys, d.SessionID)
	return err
}

// UpdateSessionFlags ORs vtFlagged/dshieldFlagged into a session_summary
// row's existing flags, used by the post-flush enrichment step once a
// session's source IP has been looked up against the threat-intel
// providers. Additive like ssh_key_injections: a session is flagged for
// good once any lookup round finds something, and a later clean lookup
// must not clear it.
func UpdateSessionFlags(db *DB, sessionID string, vtFlagged, dshieldFlagged bool) error {
	_, err := db.Exec(`UPDATE session_summary SET
			vt_flagged = vt_flagged OR ?, dshield_flagged = dshield_flagged OR ?
		WHERE session_id = ?`, vtFlagged, dshieldFlagged, sessionID)
	if err != nil {
		return fmt.Errorf("storage: update flags for %s: %w", sessionID, err)
	}
	return nil
}

// GetSessionSummary loads one session_summary row, including its snapshot
// fields.
func GetSessionSummary(db *DB, sessionID string) (*model.SessionSummary, error) {
	row := db.QueryRow(`SELECT session_id, event_count, risk_score, matcher,
			source_ip, snapshot_asn, snapshot_country, snapshot_ip_type, enrichment_at
		FROM session_summary WHERE session_id = ?`, sessionID)

	var s model.SessionSummary
	var matcher, sourceIP, snapshotCountry, snapshotIPType sql.NullString
	var snapshotASN sql.NullInt64
	var enrichmentAt sql.NullTime
	err := row.Scan(&s.SessionID, &s.EventCount, &s.RiskScore, &matcher,
		&sourceIP, &snapshotASN, &snapshotCountry, &snapshotIPType, &enrichmentAt)
	if err != nil {
		return nil, err
	}
	s.Matcher = matcher.String
	if sourceIP.Valid {
		s.SourceIP = &sourceIP.String
	}
	if snapshotASN.Valid {
		v := int(snapshotASN.Int64)
		s.SnapshotASN = &v
	}
	if snapshotCountry.Valid {
		s.SnapshotCountry = &snapshotCountry.String
	}
	if snapshotIPType.Valid {
		s.SnapshotIPType = &snapshotIPType.String
	}
	if enrichmentAt.Valid {
		s.EnrichmentAt = &enrichmentAt.Time
	}
	return &s, nil
}

// SourceFilesRow is one session_summary row's identity and source_files, as
// read back by cmd/db-sanitize's full-table scan.
type SourceFilesRow struct {
	SessionID   string
	SourceFiles []string
}

// ListSessionSourceFiles pages through every session_summary row in
// ascending session_id order, starting after afterID.
func ListSessionSourceFiles(db *DB, afterID string, limit int) ([]SourceFilesRow, error) {
	rows, err := db.Query(`SELECT session_id, source_files FROM session_summary
		WHERE session_id > ? ORDER BY session_id ASC LIMIT ?`, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("storage: list session source_files: %w", err)
	}
	defer rows.Close()

	var out []SourceFilesRow
	for rows.Next() {
		var r SourceFilesRow
		var raw []byte
		if err := rows.Scan(&r.SessionID, &raw); err != nil {
			return nil, fmt.Errorf("storage: scan session source_files: %w", err)
		}
		_ = json.Unmarshal(raw, &r.SourceFiles)
		out = append(out, r)
	}
	return out, rows.Err()
}

// UpdateSessionSourceFiles overwrites a session_summary row's source_files
// in place, used after re-sanitizing an existing row.
func UpdateSessionSourceFiles(db *DB, sessionID string, sourceFiles []string) error {
	encoded, err := json.Marshal(sourceFiles)
	if err != nil {
		return fmt.Errorf("storage: marshal source_files for %s: %w", sessionID, err)
	}
	_, err = db.Exec(`UPDATE session_summary SET source_files = ? WHERE session_id = ?`, encoded, sessionID)
	if err != nil {
		return fmt.Errorf("storage: update source_files for %s: %w", sessionID, err)
	}
	return nil
}

// MergeSSHKeys folds newly discovered SSH keys into an existing
// session_summary row: ssh_key_injections is bumped by injections, and
// unique_ssh_keys becomes the sorted union of what was already stored and
// newKeys. Used by cmd/ssh-keys-backfill, which (unlike the delta loader's
// batch upsert) only ever has a partial delta for one field and must not
// disturb the rest of the row.
func MergeSSHKeys(db *DB, sessionID string, injections int, newKeys []string) error {
	encoded, err := mergeUniqueSSHKeys(db, db.Dialect, sessionID, newKeys)
	if err != nil {
		return err
	}

	_, err = db.Exec(`UPDATE session_summary SET ssh_key_injections = ssh_key_injections + ?,
		unique_ssh_keys = ? WHERE session_id = ?`, injections, encoded, sessionID)
	if err != nil {
		return fmt.Errorf("storage: update unique_ssh_keys for %s: %w", sessionID, err)
	}
	return nil
}
