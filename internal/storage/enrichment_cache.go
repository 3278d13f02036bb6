package storage

import (
	"database/sql"
	"fmt"
	"time"
)

// L2Cache is the relational tier of the three-tier enrichment cache,
// grounded on the source's DatabaseCache: service-keyed TTLs, atomic
// delete-on-expired-read, and a dialect-aware UPSERT.
type L2Cache struct {
	db *DB
}

// NewL2Cache wraps a DB for use as the enrichment cache's database tier.
func NewL2Cache(db *DB) *L2Cache {
	return &L2Cache{db: db}
}

// Get returns the cached value for (service, key), or (nil, false) on miss
// or expiry. An expired row is deleted as part of the same call.
func (c *L2Cache) Get(service, key string) ([]byte, bool, error) {
	row := c.db.QueryRow(`SELECT cache_value, expires_at FROM enrichment_cache
		WHERE service = ? AND cache_key = ?`, service, key)

	var value []byte
	var expiresAt time.Time
	if err := row.Scan(&value, &expiresAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("storage: l2 cache get: %w", err)
	}

	if time.Now().UTC().After(expiresAt) {
		_, _ = c.db.Exec(`DELETE FROM enrichment_cache WHERE service = ? AND cache_key = ?`, service, key)
		return nil, false, nil
	}
	return value, true, nil
}

// Set writes through a value with the given TTL, replacing any existing
// entry for the same (service, key).
func (c *L2Cache) Set(service, key string, value []byte, ttl time.Duration) error {
	now := time.Now().UTC()
	expires := now.Add(ttl)

	switch c.db.Dialect {
	case DialectPostgres:
		_, err := c.db.Exec(`
			INSERT INTO enrichment_cache (service, cache_key, cache_value, created_at, expires_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (service, cache_key) DO UPDATE SET
				cache_value = EXCLUDED.cache_value, expires_at = EXCLUDED.expires_at`,
			service, key, value, now, expires)
		return err
	case DialectSQLite:
		_, err := c.db.Exec(`
			INSERT INTO enrichment_cache (service, cache_key, cache_value, created_at, expires_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (service, cache_key) DO UPDATE SET
				cache_value = excluded.cache_value, expires_at = excluded.expires_at`,
			service, key, value, now, expires)
		return err
	default:
		res, err := c.db.Exec(`UPDATE enrichment_cache SET cache_value=?, expires_at=?
			WHERE service=? AND cache_key=?`, value, expires, service, key)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			_, err = c.db.Exec(`INSERT INTO enrichment_cache (service, cache_key, cache_value, created_at, expires_at)
				VALUES (?,?,?,?,?)`, service, key, value, now, expires)
		}
		return err
	}
}

// Delete removes a cache entry outright.
func (c *L2Cache) Delete(service, key string) error {
	_, err := c.db.Exec(`DELETE FROM enrichment_cache WHERE service = ? AND cache_key = ?`, service, key)
	return err
}

// CleanupExpired deletes rows past their expiry and returns the count. With
// dryRun set it only counts them.
func (c *L2Cache) CleanupExpired(dryRun bool) (int64, error) {
	now := time.Now().UTC()
	if dryRun {
		var n int64
		err := c.db.QueryRow(`SELECT COUNT(*) FROM enrichment_cache WHERE expires_at < ?`, now).Scan(&n)
		return n, err
	}
	res, err := c.db.Exec(`DELETE FROM enrichment_cache WHERE expires_at < ?`, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Stats returns total, expired, and active row counts, used by
// cmd/db-sanitize and operator tooling.
func (c *L2Cache) Stats() (total, expired, active int64, err error) {
	now := time.Now().UTC()
	if err = c.db.QueryRow(`SELECT COUNT(*) FROM enrichment_cache`).Scan(&total); err != nil {
		return
	}
	if err = c.db.QueryRow(`SELECT COUNT(*) FROM enrichment_cache WHERE expires_at < ?`, now).Scan(&expired); err != nil {
		return
	}
	active = total - expired
	return
}
