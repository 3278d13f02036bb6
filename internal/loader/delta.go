package loader

import (
	"fmt"
	"log"

	"github.com/google/uuid"

	"github.com/datagen24/cowrieprocessor/internal/model"
	"github.com/datagen24/cowrieprocessor/internal/parser"
	"github.com/datagen24/cowrieprocessor/internal/storage"
)

// DeltaLoader wraps BulkLoader with per-source cursoring: only lines past
// the recorded offset are processed, and file rotation/truncation is
// detected from inode and offset-0 payload hash changes.
type DeltaLoader struct {
	bulk   *BulkLoader
	db     *storage.DB
	config Config
	log    *log.Logger
}

// NewDeltaLoader constructs a cursoring loader bound to db.
func NewDeltaLoader(db *storage.DB, cfg Config) *DeltaLoader {
	if cfg.BatchSize == 0 {
		cfg = DefaultConfig()
	}
	return &DeltaLoader{
		bulk:   NewBulkLoader(db, cfg),
		db:     db,
		config: cfg,
		log:    log.New(log.Writer(), "[loader.delta] ", log.LstdFlags),
	}
}

// SetPublish forwards to the wrapped BulkLoader; see BulkLoader.SetPublish.
func (d *DeltaLoader) SetPublish(fn PublishFunc) {
	d.bulk.SetPublish(fn)
}

// SetEnrich forwards to the wrapped BulkLoader; see BulkLoader.SetEnrich.
func (d *DeltaLoader) SetEnrich(fn EnrichFunc) {
	d.bulk.SetEnrich(fn)
}

// LoadPaths ingests only the unseen tail of each source since its last
// recorded cursor, updating the cursor after every committed flush.
func (d *DeltaLoader) LoadPaths(sources []string, ingestID string, telemetry TelemetryFunc, checkpoint CheckpointFunc) (*Metrics, error) {
	if ingestID == "" {
		ingestID = uuid.NewString()
	}
	metrics := &Metrics{IngestID: ingestID}

	for _, source := range sources {
		cursor, err := d.resolveCursor(source)
		if err != nil {
			return metrics, err
		}

		inode, err := sourceInode(source)
		if err != nil {
			return metrics, err
		}

		generation := cursor.Generation
		startOffset := cursor.LastOffset

		if cursor.Inode != 0 && cursor.Inode != inode {
			generation++
			startOffset = -1
			d.log.Printf("%s: inode changed (%d -> %d), treating as rotation, generation %d", source, cursor.Inode, inode, generation)
		} else if cursor.FirstHash != "" {
			firstHash, err := firstLineHash(source, inode, generation, d.config)
			if err == nil && firstHash != "" && cursor.FirstHash != "" && firstHash != cursor.FirstHash {
				generation++
				startOffset = -1
				d.log.Printf("%s: offset-0 hash changed, treating as rewrite, generation %d", source, generation)
			}
		}

		metrics.FilesProcessed++
		r, err := parser.OpenSource(source)
		if err != nil {
			return metrics, err
		}

		opts := parserOptions(source, inode, generation, d.config)
		batch := newPendingBatch()
		telemetryCounter := 0
		var newFirstHash string
		var maxOffset = startOffset

		scanErr := parser.IterLines(r, func(line parser.Line) error {
			if line.Offset <= startOffset {
				return nil
			}
			metrics.EventsRead++
			evt := parser.ParseLine(line, opts)

			if line.Offset == 0 {
				newFirstHash = fmt.Sprintf("%x", evt.PayloadHash)
			}

			if err := d.bulk.absorb(batch, evt, ingestID); err != nil {
				return err
			}
			metrics.LastSource = source
			metrics.LastOffset = line.Offset
			if line.Offset > maxOffset {
				maxOffset = line.Offset
			}
			if !evt.IsValid() {
				metrics.EventsInvalid++
			}
			if evt.Quarantined {
				metrics.EventsQuarantined++
			}

			if batch.aggregate.Len() > 0 && len(batch.rawEvents)+len(batch.deadLetters) >= d.config.BatchSize {
				if err := d.flushAndAdvance(batch, metrics, ingestID, source, inode, generation, maxOffset, newFirstHash, checkpoint); err != nil {
					return err
				}
				batch = newPendingBatch()
				telemetryCounter++
				if telemetry != nil && d.config.TelemetryInterval > 0 && telemetryCounter%d.config.TelemetryInterval == 0 {
					telemetry(metrics)
				}
			}
			return nil
		})
		closeErr := r.Close()
		if scanErr != nil {
			return metrics, scanErr
		}
		if closeErr != nil {
			return metrics, fmt.Errorf("loader: close %s: %w", source, closeErr)
		}

		if len(batch.rawEvents) > 0 || len(batch.deadLetters) > 0 {
			if err := d.flushAndAdvance(batch, metrics, ingestID, source, inode, generation, maxOffset, newFirstHash, checkpoint); err != nil {
				return metrics, err
			}
		}
	}

	if telemetry != nil {
		telemetry(metrics)
	}
	return metrics, nil
}

// resolveCursor loads the persisted cursor for source, bootstrapping one
// from existing raw_event rows if none has ever been recorded.
func (d *DeltaLoader) resolveCursor(source string) (*model.IngestCursor, error) {
	cursor, err := storage.GetCursor(d.db, source)
	if err != nil {
		return nil, fmt.Errorf("loader: get cursor for %s: %w", source, err)
	}
	if cursor != nil {
		return cursor, nil
	}

	bootstrapped, err := storage.BootstrapCursor(d.db, source)
	if err != nil {
		return nil, fmt.Errorf("loader: bootstrap cursor for %s: %w", source, err)
	}
	if bootstrapped != nil {
		return bootstrapped, nil
	}
	return &model.IngestCursor{Source: source, LastOffset: -1}, nil
}

// flushAndAdvance commits one batch then persists the new cursor position in
// the same logical step (a separate transaction, since the cursor update
// must not be lost even if the next batch's flush fails).
func (d *DeltaLoader) flushAndAdvance(batch *pendingBatch, metrics *Metrics, ingestID, source string, inode int64, generation int, offset int64, firstHash string, checkpoint CheckpointFunc) error {
	if err := d.bulk.flush(batch, metrics, ingestID, checkpoint); err != nil {
		return err
	}

	tx, err := d.db.Begin()
	if err != nil {
		return fmt.Errorf("loader: begin cursor update: %w", err)
	}
	cursor := &model.IngestCursor{
		Source:       source,
		Inode:        inode,
		LastOffset:   offset,
		LastIngestID: ingestID,
		Generation:   generation,
		FirstHash:    firstHash,
	}
	if err := storage.UpsertCursor(tx, d.db.Dialect, cursor); err != nil {
		tx.Rollback()
		return fmt.Errorf("loader: upsert cursor: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("loader: commit cursor update: %w", err)
	}
	return nil
}

// firstLineHash reads and hashes only the first line of source, used to
// detect in-place rewrites that don't change the inode.
func firstLineHash(source string, inode int64, generation int, cfg Config) (string, error) {
	r, err := parser.OpenSource(source)
	if err != nil {
		return "", err
	}
	defer r.Close()

	opts := parserOptions(source, inode, generation, cfg)
	var hash string
	err = parser.IterLines(r, func(line parser.Line) error {
		if line.Offset != 0 {
			return errStopIteration
		}
		evt := parser.ParseLine(line, opts)
		hash = fmt.Sprintf("%x", evt.PayloadHash)
		return errStopIteration
	})
	if err != nil && err != errStopIteration {
		return "", err
	}
	return hash, nil
}

var errStopIteration = fmt.Errorf("loader: stop iteration")
