// Package snapshot populates session_summary's immutable enrichment
// snapshot fields the first time a session's source IP is known.
package snapshot

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/datagen24/cowrieprocessor/internal/storage"
)

// Populate extracts the canonical source IP for each session in ips (its
// first non-empty src_ip observed this flush), batch-projects their
// ip_inventory rows, and UPSERTs the snapshot fields using COALESCE so the
// first successful write wins. Sessions with no resolvable IP, or whose
// snapshot is already set, are left untouched.
func Populate(tx *sql.Tx, db *storage.DB, sessionIPs map[string]string) error {
	if len(sessionIPs) == 0 {
		return nil
	}

	ips := make([]string, 0, len(sessionIPs))
	seen := make(map[string]bool, len(sessionIPs))
	for _, ip := range sessionIPs {
		if ip == "" || seen[ip] {
			continue
		}
		seen[ip] = true
		ips = append(ips, ip)
	}

	snapshots, err := storage.ProjectIPSnapshots(db, ips)
	if err != nil {
		return fmt.Errorf("snapshot: project ip snapshots: %w", err)
	}

	for sessionID, ip := range sessionIPs {
		if ip == "" {
			continue
		}
		snap, ok := snapshots[ip]
		if !ok {
			snap = storage.IPSnapshot{IPAddress: ip}
		}
		if err := upsertSnapshot(tx, db.Dialect, sessionID, ip, snap); err != nil {
			return fmt.Errorf("snapshot: upsert session %s: %w", sessionID, err)
		}
	}
	return nil
}

func upsertSnapshot(tx *sql.Tx, dialect storage.Dialect, sessionID, ip string, snap storage.IPSnapshot) error {
	now := time.Now().UTC()
	switch dialect {
	case storage.DialectPostgres:
		_, err := tx.Exec(`UPDATE session_summary SET
				source_ip = COALESCE(source_ip, $1),
				snapshot_asn = COALESCE(snapshot_asn, $2),
				snapshot_country = COALESCE(snapshot_country, $3),
				snapshot_ip_type = COALESCE(snapshot_ip_type, $4),
				enrichment_at = COALESCE(enrichment_at, $5)
			WHERE session_id = $6`,
			ip, snap.ASN, snap.Country, snap.IPType, now, sessionID)
		return err
	default:
		_, err := tx.Exec(`UPDATE session_summary SET
				source_ip = COALESCE(source_ip, ?),
				snapshot_asn = COALESCE(snapshot_asn, ?),
				snapshot_country = COALESCE(snapshot_country, ?),
				snapshot_ip_type = COALESCE(snapshot_ip_type, ?),
				enrichment_at = COALESCE(enrichment_at, ?)
			WHERE session_id = ?`,
			ip, snap.ASN, snap.Country, snap.IPType, now, sessionID)
		return err
	}
}
