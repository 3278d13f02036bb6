package loader

import (
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/datagen24/cowrieprocessor/internal/dlq"
	"github.com/datagen24/cowrieprocessor/internal/model"
	"github.com/datagen24/cowrieprocessor/internal/parser"
	"github.com/datagen24/cowrieprocessor/internal/snapshot"
	"github.com/datagen24/cowrieprocessor/internal/storage"
)

// BulkLoader streams Cowrie JSON-lines files into the relational schema with
// no cursoring: every line in every source is read unconditionally. Used for
// one-off backfills; Delta wraps this with incremental per-source cursoring.
type BulkLoader struct {
	db      *storage.DB
	dlq     *dlq.Queue
	config  Config
	log     *log.Logger
	publish PublishFunc
	enrich  EnrichFunc
}

// NewBulkLoader constructs a loader bound to db, using cfg (zero value is
// replaced with DefaultConfig).
func NewBulkLoader(db *storage.DB, cfg Config) *BulkLoader {
	if cfg.BatchSize == 0 {
		cfg = DefaultConfig()
	}
	return &BulkLoader{
		db:     db,
		dlq:    dlq.New(db),
		config: cfg,
		log:    log.New(log.Writer(), "[loader.bulk] ", log.LstdFlags),
	}
}

// SetPublish installs a hook invoked with each batch's session deltas right
// after that batch's transaction commits. Publication failures are logged by
// the caller's fn and never roll back or retry the already-committed batch.
func (l *BulkLoader) SetPublish(fn PublishFunc) {
	l.publish = fn
}

// SetEnrich installs a hook invoked with each batch's session_id -> src_ip
// map right after that batch's transaction commits. Like SetPublish, a
// lookup failure is the hook's own concern and never rolls back or retries
// the already-committed batch.
func (l *BulkLoader) SetEnrich(fn EnrichFunc) {
	l.enrich = fn
}

// LoadPaths ingests every file in sources in order, flushing every
// config.BatchSize events, and returns the cumulative metrics.
func (l *BulkLoader) LoadPaths(sources []string, ingestID string, telemetry TelemetryFunc, checkpoint CheckpointFunc) (*Metrics, error) {
	if ingestID == "" {
		ingestID = uuid.NewString()
	}
	metrics := &Metrics{IngestID: ingestID}
	start := time.Now()

	batch := newPendingBatch()
	telemetryCounter := 0

	for _, source := range sources {
		metrics.FilesProcessed++
		inode, err := sourceInode(source)
		if err != nil {
			return metrics, err
		}

		r, err := parser.OpenSource(source)
		if err != nil {
			return metrics, err
		}

		opts := parserOptions(source, inode, 0, l.config)
		scanErr := parser.IterLines(r, func(line parser.Line) error {
			metrics.EventsRead++
			evt := parser.ParseLine(line, opts)
			if err := l.absorb(batch, evt, ingestID); err != nil {
				return err
			}
			metrics.LastSource = source
			metrics.LastOffset = line.Offset
			if !evt.IsValid() {
				metrics.EventsInvalid++
			}
			if evt.Quarantined {
				metrics.EventsQuarantined++
			}

			if batch.aggregate.Len() > 0 && len(batch.rawEvents)+len(batch.deadLetters) >= l.config.BatchSize {
				if err := l.flush(batch, metrics, ingestID, checkpoint); err != nil {
					return err
				}
				batch = newPendingBatch()
				telemetryCounter++
				if telemetry != nil && l.config.TelemetryInterval > 0 && telemetryCounter%l.config.TelemetryInterval == 0 {
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
	}

	if len(batch.rawEvents) > 0 || len(batch.deadLetters) > 0 {
		if err := l.flush(batch, metrics, ingestID, checkpoint); err != nil {
			return metrics, err
		}
	}

	metrics.Duration = time.Since(start)
	if telemetry != nil {
		telemetry(metrics)
	}
	return metrics, nil
}

// absorb routes one parsed event into the pending batch: raw_event insertion
// candidates, dead-letter candidates, and the session aggregate, per the
// validation/quarantine routing rules.
func (l *BulkLoader) absorb(batch *pendingBatch, evt *model.Event, ingestID string) error {
	reason, isDeadLetter := dlqReasonFor(evt)

	if evt.IsValid() {
		canon, err := canonicalPayload(evt)
		if err != nil {
			return fmt.Errorf("loader: canonicalize payload: %w", err)
		}
		batch.rawEvents = append(batch.rawEvents, buildRawEvent(ingestID, evt, canon))
		sensor, _ := evt.Payload["sensor"].(string)
		batch.aggregate.Add(evt, sensor, evt.Source)
	}

	if isDeadLetter {
		dl, err := buildDeadLetter(ingestID, evt, reason)
		if err != nil {
			l.log.Printf("skip dead-letter for %s offset %d: %v", evt.Source, evt.SourceOffset, err)
			return nil
		}
		batch.deadLetters = append(batch.deadLetters, dl)
	}

	return nil
}

// flush commits one batch: a batched raw_event UPSERT, session_summary
// UPSERT, and dead-letter insert, all inside a single transaction.
func (l *BulkLoader) flush(batch *pendingBatch, metrics *Metrics, ingestID string, checkpoint CheckpointFunc) error {
	batchRisk := 0
	for _, e := range batch.rawEvents {
		batchRisk += e.RiskScore
	}
	if batchRisk >= l.config.BatchRiskThreshold {
		metrics.BatchesQuarantined++
	}

	tx, err := l.db.Begin()
	if err != nil {
		return fmt.Errorf("loader: begin flush transaction: %w", err)
	}

	if err := l.flushTx(tx, batch); err != nil {
		tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("loader: commit flush: %w", err)
	}

	inserted := len(batch.rawEvents)
	metrics.EventsInserted += inserted
	metrics.BatchesCommitted++

	if l.publish != nil {
		if deltas := batch.aggregate.Deltas(); len(deltas) > 0 {
			l.publish(deltas)
		}
	}

	if l.enrich != nil {
		if sourceIPs := batch.aggregate.SourceIPs(); len(sourceIPs) > 0 {
			l.enrich(sourceIPs)
		}
	}

	if checkpoint != nil && len(batch.rawEvents) > 0 {
		last := batch.rawEvents[len(batch.rawEvents)-1]
		checkpoint(Checkpoint{
			IngestID:          ingestID,
			Source:            last.Source,
			Offset:            last.SourceOffset,
			BatchIndex:        metrics.BatchesCommitted,
			EventsInserted:    inserted,
			EventsQuarantined: countQuarantined(batch.rawEvents),
			Sessions:          sessionIDs(batch),
			CreatedAt:         time.Now().UTC(),
		})
	}
	return nil
}

func (l *BulkLoader) flushTx(tx *sql.Tx, batch *pendingBatch) error {
	if err := storage.InsertRawEventsBatch(tx, l.db.Dialect, batch.rawEvents); err != nil {
		return fmt.Errorf("loader: batch insert raw_event: %w", err)
	}
	if err := storage.UpsertSessionSummaries(tx, l.db.Dialect, batch.aggregate.Deltas()); err != nil {
		return fmt.Errorf("loader: upsert session_summary: %w", err)
	}
	if err := snapshot.Populate(tx, l.db, batch.aggregate.SourceIPs()); err != nil {
		return fmt.Errorf("loader: populate ip snapshots: %w", err)
	}
	if err := recordSightings(tx, l.db.Dialect, batch.aggregate.SourceIPs()); err != nil {
		return fmt.Errorf("loader: record ip sightings: %w", err)
	}
	if len(batch.deadLetters) > 0 {
		if err := storage.InsertDeadLettersBatch(tx, batch.deadLetters); err != nil {
			return fmt.Errorf("loader: batch insert dead_letter_event: %w", err)
		}
	}
	return nil
}

// recordSightings upserts one ip_inventory row per distinct source IP seen
// in sessionIPs, inside the same flush transaction, so the row exists
// immediately rather than only after the (asynchronous, best-effort)
// enrichment step runs.
func recordSightings(tx *sql.Tx, dialect storage.Dialect, sessionIPs map[string]string) error {
	seen := make(map[string]bool, len(sessionIPs))
	now := time.Now().UTC()
	for _, ip := range sessionIPs {
		if ip == "" || seen[ip] {
			continue
		}
		seen[ip] = true
		if err := storage.UpsertSightings(tx, dialect, ip, now); err != nil {
			return err
		}
	}
	return nil
}

func countQuarantined(events []*model.RawEvent) int {
	n := 0
	for _, e := range events {
		if e.Quarantined {
			n++
		}
	}
	return n
}

func sessionIDs(batch *pendingBatch) []string {
	deltas := batch.aggregate.Deltas()
	ids := make([]string, 0, len(deltas))
	for _, d := range deltas {
		ids = append(ids, d.SessionID)
	}
	return ids
}
