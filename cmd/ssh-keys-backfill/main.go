// Command ssh-keys-backfill retroactively extracts SSH keys from
// command-input rows ingested before the unique_ssh_keys tracking existed
// (or missed by a run where parser sanitization stripped "input" before the
// extractor saw it). It shares internal/sshkeys with the delta loader's
// inline call site, so both places recognize exactly the same keys.
package main

import (
	"flag"
	"log"

	"github.com/datagen24/cowrieprocessor/internal/canonical"
	"github.com/datagen24/cowrieprocessor/internal/config"
	"github.com/datagen24/cowrieprocessor/internal/model"
	"github.com/datagen24/cowrieprocessor/internal/parser"
	"github.com/datagen24/cowrieprocessor/internal/sshkeys"
	"github.com/datagen24/cowrieprocessor/internal/storage"
)

type sessionFindings struct {
	injections int
	keys       map[string]bool
}

func main() {
	log.SetFlags(log.LstdFlags)

	pageSize := flag.Int("page-size", 2000, "raw_event rows fetched per page")
	flag.Parse()

	cfg := config.LoadFromEnv()

	db, err := storage.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("ssh-keys-backfill: open database: %v", err)
	}
	defer db.Close()

	findings := make(map[string]*sessionFindings)
	var afterID int64
	scanned, matched := 0, 0

	for {
		rows, err := storage.ListCommandInputs(db, model.EventidCommandInput, afterID, *pageSize)
		if err != nil {
			log.Fatalf("ssh-keys-backfill: list command inputs: %v", err)
		}
		if len(rows) == 0 {
			break
		}

		for _, r := range rows {
			afterID = r.ID
			scanned++

			payload, err := decodePayload(r.Payload)
			if err != nil {
				log.Printf("ssh-keys-backfill: decode row %d: %v", r.ID, err)
				continue
			}
			command := parser.CommandText(payload)
			if command == "" || r.SessionID == "" {
				continue
			}

			extracted := sshkeys.ExtractKeysFromCommand(command)
			if len(extracted) == 0 {
				continue
			}
			matched++

			f, ok := findings[r.SessionID]
			if !ok {
				f = &sessionFindings{keys: make(map[string]bool)}
				findings[r.SessionID] = f
			}
			f.injections++
			for _, k := range extracted {
				f.keys[k.KeyHash] = true
			}
		}

		log.Printf("ssh-keys-backfill: scanned %d rows, %d matched, %d sessions so far", scanned, matched, len(findings))
	}

	applied := 0
	for sessionID, f := range findings {
		keys := make([]string, 0, len(f.keys))
		for k := range f.keys {
			keys = append(keys, k)
		}
		if err := storage.MergeSSHKeys(db, sessionID, f.injections, keys); err != nil {
			log.Printf("ssh-keys-backfill: merge session %s: %v", sessionID, err)
			continue
		}
		applied++
	}

	log.Printf("ssh-keys-backfill: done, scanned=%d matched=%d sessions_updated=%d/%d",
		scanned, matched, applied, len(findings))
}

func decodePayload(raw []byte) (map[string]interface{}, error) {
	v, err := canonical.Decode(raw)
	if err != nil {
		return nil, err
	}
	m, ok := v.(map[string]interface{})
	if !ok {
		return nil, nil
	}
	return m, nil
}
