// Command db-sanitize retroactively re-runs the ingest-time control
// character sanitizer over rows written before it existed or written by
// tooling that bypassed it, using the exact same tree-walker the live
// ingest path uses.
package main

import (
	"bytes"
	"flag"
	"fmt"
	"log"

	"golang.org/x/crypto/blake2b"

	"github.com/datagen24/cowrieprocessor/internal/canonical"
	"github.com/datagen24/cowrieprocessor/internal/config"
	"github.com/datagen24/cowrieprocessor/internal/parser"
	"github.com/datagen24/cowrieprocessor/internal/storage"
)

func main() {
	log.SetFlags(log.LstdFlags)

	pageSize := flag.Int("page-size", 2000, "rows fetched per page")
	dryRun := flag.Bool("dry-run", false, "report how many rows would change without writing")
	flag.Parse()

	cfg := config.LoadFromEnv()

	db, err := storage.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db-sanitize: open database: %v", err)
	}
	defer db.Close()

	events, eventsChanged := sanitizeRawEvents(db, *pageSize, *dryRun)
	sessions, sessionsChanged := sanitizeSessionSourceFiles(db, *pageSize, *dryRun)

	log.Printf("db-sanitize: raw_event scanned=%d changed=%d, session_summary scanned=%d changed=%d dry_run=%v",
		events, eventsChanged, sessions, sessionsChanged, *dryRun)
}

func sanitizeRawEvents(db *storage.DB, pageSize int, dryRun bool) (scanned, changed int) {
	var afterID int64
	for {
		rows, err := storage.ListRawEventPayloads(db, afterID, pageSize)
		if err != nil {
			log.Fatalf("db-sanitize: list raw_event payloads: %v", err)
		}
		if len(rows) == 0 {
			return scanned, changed
		}

		for _, r := range rows {
			afterID = r.ID
			scanned++

			decoded, err := canonical.Decode(r.Payload)
			if err != nil {
				log.Printf("db-sanitize: decode raw_event %d: %v", r.ID, err)
				continue
			}
			sanitized := parser.SanitizeTree(decoded)
			canon, err := canonical.Marshal(sanitized)
			if err != nil {
				log.Printf("db-sanitize: re-encode raw_event %d: %v", r.ID, err)
				continue
			}
			if bytes.Equal(canon, r.Payload) {
				continue
			}
			changed++
			if dryRun {
				continue
			}

			hash := blake2b.Sum256(canon)
			if err := storage.UpdateRawEventPayload(db, r.ID, canon, fmt.Sprintf("%x", hash)); err != nil {
				log.Printf("db-sanitize: update raw_event %d: %v", r.ID, err)
			}
		}
	}
}

func sanitizeSessionSourceFiles(db *storage.DB, pageSize int, dryRun bool) (scanned, changed int) {
	afterID := ""
	for {
		rows, err := storage.ListSessionSourceFiles(db, afterID, pageSize)
		if err != nil {
			log.Fatalf("db-sanitize: list session source_files: %v", err)
		}
		if len(rows) == 0 {
			return scanned, changed
		}

		for _, r := range rows {
			afterID = r.SessionID
			scanned++

			sanitized := parser.SanitizeStrings(r.SourceFiles)
			if stringsEqual(sanitized, r.SourceFiles) {
				continue
			}
			changed++
			if dryRun {
				continue
			}
			if err := storage.UpdateSessionSourceFiles(db, r.SessionID, sanitized); err != nil {
				log.Printf("db-sanitize: update session %s: %v", r.SessionID, err)
			}
		}
	}
}

func stringsEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
