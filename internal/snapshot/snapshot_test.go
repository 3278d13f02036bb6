package snapshot_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/datagen24/cowrieprocessor/internal/snapshot"
	"github.com/datagen24/cowrieprocessor/internal/storage"
)

func openTestDB(t *testing.T) *storage.DB {
	t.Helper()
	db, err := storage.Open(filepath.Join(t.TempDir(), "snapshot.db"))
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	if err := db.Migrate(); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func seedSession(t *testing.T, db *storage.DB, sessionID string) {
	t.Helper()
	now := time.Now().UTC()
	_, err := db.Exec(`INSERT INTO session_summary (session_id, first_event_at, last_event_at, event_count)
		VALUES (?, ?, ?, 0)`, sessionID, now, now)
	if err != nil {
		t.Fatalf("seed session_summary: %v", err)
	}
}

func seedEnrichedIP(t *testing.T, db *storage.DB, ip string, asn int) {
	t.Helper()
	tx, err := db.Begin()
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := storage.UpsertSightings(tx, db.Dialect, ip, time.Now().UTC()); err != nil {
		tx.Rollback()
		t.Fatalf("UpsertSightings: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	n := asn
	if err := storage.UpdateEnrichment(db, ip, &n, []byte(`{"geo_country":"US","ip_types":["datacenter"]}`)); err != nil {
		t.Fatalf("UpdateEnrichment: %v", err)
	}
}

func readSnapshot(t *testing.T, db *storage.DB, sessionID string) (sourceIP *string, asn *int, country *string, ipType *string) {
	t.Helper()
	row := db.QueryRow(`SELECT source_ip, snapshot_asn, snapshot_country, snapshot_ip_type
		FROM session_summary WHERE session_id = ?`, sessionID)
	if err := row.Scan(&sourceIP, &asn, &country, &ipType); err != nil {
		t.Fatalf("scan snapshot: %v", err)
	}
	return
}

// TestPopulateSetsSnapshotOnFirstWrite confirms a session with no existing
// snapshot picks up the projected ip_inventory fields.
func TestPopulateSetsSnapshotOnFirstWrite(t *testing.T) {
	db := openTestDB(t)
	seedSession(t, db, "sess-1")
	seedEnrichedIP(t, db, "203.0.113.9", 64512)

	tx, err := db.Begin()
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := snapshot.Populate(tx, db, map[string]string{"sess-1": "203.0.113.9"}); err != nil {
		tx.Rollback()
		t.Fatalf("Populate: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	sourceIP, asn, country, ipType := readSnapshot(t, db, "sess-1")
	if sourceIP == nil || *sourceIP != "203.0.113.9" {
		t.Fatalf("source_ip = %v, want 203.0.113.9", sourceIP)
	}
	if asn == nil || *asn != 64512 {
		t.Fatalf("snapshot_asn = %v, want 64512", asn)
	}
	if country == nil || *country != "US" {
		t.Fatalf("snapshot_country = %v, want US", country)
	}
	if ipType == nil || *ipType != "datacenter" {
		t.Fatalf("snapshot_ip_type = %v, want datacenter", ipType)
	}
}

// TestPopulateIsImmutableOnceSet reproduces the scenario where a session's
// snapshot is already populated and a later flush sees a different
// (re-NATted, or simply re-resolved) source IP for the same session: the
// original snapshot must survive untouched thanks to the COALESCE guards.
func TestPopulateIsImmutableOnceSet(t *testing.T) {
	db := openTestDB(t)
	seedSession(t, db, "sess-2")
	seedEnrichedIP(t, db, "203.0.113.10", 64512)
	seedEnrichedIP(t, db, "198.51.100.20", 65000)

	tx, err := db.Begin()
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := snapshot.Populate(tx, db, map[string]string{"sess-2": "203.0.113.10"}); err != nil {
		tx.Rollback()
		t.Fatalf("Populate (first): %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	tx, err = db.Begin()
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := snapshot.Populate(tx, db, map[string]string{"sess-2": "198.51.100.20"}); err != nil {
		tx.Rollback()
		t.Fatalf("Populate (second): %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	sourceIP, asn, _, _ := readSnapshot(t, db, "sess-2")
	if sourceIP == nil || *sourceIP != "203.0.113.10" {
		t.Fatalf("source_ip changed across flushes: got %v, want first-seen 203.0.113.10", sourceIP)
	}
	if asn == nil || *asn != 64512 {
		t.Fatalf("snapshot_asn changed across flushes: got %v, want first-seen 64512", asn)
	}
}

// TestPopulateSkipsSessionsWithoutAnIP confirms an empty src_ip for a
// session is a no-op rather than an error.
func TestPopulateSkipsSessionsWithoutAnIP(t *testing.T) {
	db := openTestDB(t)
	seedSession(t, db, "sess-3")

	tx, err := db.Begin()
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := snapshot.Populate(tx, db, map[string]string{"sess-3": ""}); err != nil {
		tx.Rollback()
		t.Fatalf("Populate: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	sourceIP, _, _, _ := readSnapshot(t, db, "sess-3")
	if sourceIP != nil {
		t.Fatalf("source_ip = %v, want nil for session with no resolvable IP", sourceIP)
	}
}
