// Command cache-migrate backfills the L2 relational enrichment cache from
// an existing L3 filesystem tree, for standing up a fresh database tier
// against a cache directory that already has long-TTL entries on disk.
package main

import (
	"log"
	"time"

	"github.com/datagen24/cowrieprocessor/internal/cache"
	"github.com/datagen24/cowrieprocessor/internal/config"
	"github.com/datagen24/cowrieprocessor/internal/storage"
)

func main() {
	log.SetFlags(log.LstdFlags)

	cfg := config.LoadFromEnv()

	db, err := storage.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("cache-migrate: open database: %v", err)
	}
	defer db.Close()

	l3, err := cache.NewL3(cfg.CacheDir)
	if err != nil {
		log.Fatalf("cache-migrate: open L3 cache at %s: %v", cfg.CacheDir, err)
	}
	l2 := storage.NewL2Cache(db)

	migrated, skipped := 0, 0
	err = l3.Walk(func(e cache.Entry) error {
		ttl := time.Until(e.ExpiresAt)
		if ttl <= 0 {
			skipped++
			return nil
		}
		if err := l2.Set(e.Service, e.Key, e.Value, ttl); err != nil {
			log.Printf("cache-migrate: set %s/%s: %v", e.Service, e.Key, err)
			skipped++
			return nil
		}
		migrated++
		if migrated%1000 == 0 {
			log.Printf("cache-migrate: migrated %d entries so far", migrated)
		}
		return nil
	})
	if err != nil {
		log.Fatalf("cache-migrate: walk L3 tree: %v", err)
	}

	log.Printf("cache-migrate: done, migrated=%d skipped=%d", migrated, skipped)
}
