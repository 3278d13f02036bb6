package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// IPSnapshot is the projection the snapshot populator needs: current_asn,
// geo_country, and the highest-priority ip_type, derived from the
// enrichment document rather than stored redundantly (design notes:
// explicit projection functions replace ORM hybrid properties).
type IPSnapshot struct {
	IPAddress string
	ASN       *int
	Country   *string
	IPType    *string
}

type enrichmentDoc struct {
	GeoCountry string   `json:"geo_country"`
	IPTypes    []string `json:"ip_types"`
}

// ProjectIPSnapshots batch-looks-up ip_inventory rows for the given IPs,
// projecting the fields the snapshot populator needs from the stored
// enrichment document.
func ProjectIPSnapshots(db *DB, ips []string) (map[string]IPSnapshot, error) {
	result := make(map[string]IPSnapshot, len(ips))
	if len(ips) == 0 {
		return result, nil
	}

	for _, ip := range ips {
		row := db.QueryRow(`SELECT current_asn, enrichment FROM ip_inventory WHERE ip_address = ?`, ip)
		var asn sql.NullInt64
		var raw []byte
		if err := row.Scan(&asn, &raw); err != nil {
			if err == sql.ErrNoRows {
				continue
			}
			return nil, fmt.Errorf("storage: project ip snapshot %s: %w", ip, err)
		}

		snap := IPSnapshot{IPAddress: ip}
		if asn.Valid {
			v := int(asn.Int64)
			snap.ASN = &v
		}
		if len(raw) > 0 {
			var doc enrichmentDoc
			if err := json.Unmarshal(raw, &doc); err == nil {
				if doc.GeoCountry != "" && doc.GeoCountry != "XX" {
					c := doc.GeoCountry
					snap.Country = &c
				}
				if len(doc.IPTypes) > 0 {
					t := doc.IPTypes[0]
					snap.IPType = &t
				}
			}
		}
		result[ip] = snap
	}
	return result, nil
}

// UpsertSightings records that an IP was seen, creating the ip_inventory
// row on first sighting and bumping last_seen/session_count otherwise.
func UpsertSightings(tx *sql.Tx, dialect Dialect, ip string, seenAt time.Time) error {
	switch dialect {
	case DialectPostgres:
		_, err := tx.Exec(`
			INSERT INTO ip_inventory (ip_address, first_seen, last_seen, session_count, enrichment)
			VALUES ($1, $2, $2, 1, '{}')
			ON CONFLICT (ip_address) DO UPDATE SET
				last_seen = GREATEST(ip_inventory.last_seen, EXCLUDED.last_seen),
				session_count = ip_inventory.session_count + 1`, ip, seenAt)
		return err
	case DialectSQLite:
		_, err := tx.Exec(`
			INSERT INTO ip_inventory (ip_address, first_seen, last_seen, session_count, enrichment)
			VALUES (?, ?, ?, 1, '{}')
			ON CONFLICT (ip_address) DO UPDATE SET
				last_seen = MAX(ip_inventory.last_seen, excluded.last_seen),
				session_count = ip_inventory.session_count + 1`, ip, seenAt, seenAt)
		return err
	default:
		res, err := tx.Exec(`UPDATE ip_inventory SET last_seen=?, session_count=session_count+1
			WHERE ip_address=?`, seenAt, ip)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			_, err = tx.Exec(`INSERT INTO ip_inventory (ip_address, first_seen, last_seen, session_count, enrichment)
				VALUES (?, ?, ?, 1, '{}')`, ip, seenAt, seenAt)
		}
		return err
	}
}

// UpdateEnrichment overwrites the stored enrichment document and ASN for an
// IP after a successful enrichment round.
func UpdateEnrichment(db *DB, ip string, asn *int, enrichment []byte) error {
	_, err := db.Exec(`UPDATE ip_inventory SET current_asn = ?, enrichment = ?, enrichment_updated_at = ?
		WHERE ip_address = ?`, asn, enrichment, time.Now().UTC(), ip)
	return err
}
