// Command dlq-replay drains unresolved dead-letter events, re-running them
// through the same validation and sanitization path as ingest, and either
// commits them as ordinary raw_event rows or records another failed attempt.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/datagen24/cowrieprocessor/internal/aggregate"
	"github.com/datagen24/cowrieprocessor/internal/canonical"
	"github.com/datagen24/cowrieprocessor/internal/config"
	"github.com/datagen24/cowrieprocessor/internal/dlq"
	"github.com/datagen24/cowrieprocessor/internal/model"
	"github.com/datagen24/cowrieprocessor/internal/parser"
	"github.com/datagen24/cowrieprocessor/internal/snapshot"
	"github.com/datagen24/cowrieprocessor/internal/storage"
)

// maxReplayAttempts bounds how many times dlq-replay will retry a row before
// giving up on it. An abandoned row is marked resolved with method
// "abandoned": operators still see it via Load, but Pending (ListUnresolved)
// no longer returns it.
const maxReplayAttempts = 5

func main() {
	log.SetFlags(log.LstdFlags)

	limit := flag.Int("limit", 200, "maximum unresolved events to process this run")
	lockMinutes := flag.Int("lock-minutes", 10, "processing lock duration in minutes")
	flag.Parse()

	cfg := config.LoadFromEnv()

	db, err := storage.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("dlq-replay: open database: %v", err)
	}
	defer db.Close()

	queue := dlq.New(db)

	var archiver *dlq.Archiver
	if cfg.S3Bucket != "" {
		archiver, err = dlq.NewArchiver(context.Background(), cfg.S3Bucket, cfg.S3Prefix)
		if err != nil {
			log.Fatalf("dlq-replay: build s3 archiver: %v", err)
		}
	}

	pending, err := queue.Pending(*limit)
	if err != nil {
		log.Fatalf("dlq-replay: list pending: %v", err)
	}
	if len(pending) == 0 {
		log.Println("dlq-replay: nothing to do")
		return
	}

	opts := parser.Options{
		Source:                "dlq-replay",
		QuarantineThreshold:   cfg.QuarantineThreshold,
		NeutralizeCommands:    cfg.NeutralizeCommands,
		IntelligentDefanging:  cfg.IntelligentDefanging,
		PreserveOriginalInput: cfg.PreserveOriginalInput,
	}

	breakers := make(map[string]*dlq.CircuitBreaker)
	batchMetrics := &dlq.BatchMetrics{BatchID: uuid.NewString(), StartedAt: time.Now().UTC()}

	for _, e := range pending {
		batchMetrics.EventsAttempted++

		breaker := breakerFor(breakers, e.Source)
		if !breaker.Allow() {
			log.Printf("dlq-replay: circuit open for source %s, skipping id=%d", e.Source, e.ID)
			continue
		}

		if err := replayOne(db, queue, archiver, opts, e, *lockMinutes); err != nil {
			breaker.RecordFailure()
			batchMetrics.EventsFailed++
			log.Printf("dlq-replay: id=%d failed: %v", e.ID, err)
			continue
		}
		breaker.RecordSuccess()
		batchMetrics.EventsResolved++
	}

	for _, b := range breakers {
		if err := b.Persist(db); err != nil {
			log.Printf("dlq-replay: persist circuit breaker %s: %v", b.Name, err)
		}
	}

	batchMetrics.FinishedAt = time.Now().UTC()
	if batchMetrics.EventsAttempted > 0 {
		batchMetrics.AvgProcessingMS = float64(batchMetrics.FinishedAt.Sub(batchMetrics.StartedAt).Milliseconds()) / float64(batchMetrics.EventsAttempted)
	}
	if err := batchMetrics.Persist(db); err != nil {
		log.Printf("dlq-replay: persist batch metrics: %v", err)
	}

	log.Printf("dlq-replay: batch %s attempted=%d resolved=%d failed=%d",
		batchMetrics.BatchID, batchMetrics.EventsAttempted, batchMetrics.EventsResolved, batchMetrics.EventsFailed)
}

func breakerFor(breakers map[string]*dlq.CircuitBreaker, source string) *dlq.CircuitBreaker {
	b, ok := breakers[source]
	if !ok {
		b = dlq.NewCircuitBreaker(source, 5, 2*time.Minute)
		breakers[source] = b
	}
	return b
}

// replayOne attempts to re-process a single dead-letter row: acquire its
// lock, re-run the repaired payload through the parser, and either insert it
// as a raw_event or record another failed attempt.
func replayOne(db *storage.DB, queue *dlq.Queue, archiver *dlq.Archiver, opts parser.Options, e *model.DeadLetterEvent, lockMinutes int) error {
	lockID, err := queue.AcquireLock(e.ID, lockMinutes)
	if err != nil {
		return err
	}
	defer func() {
		if err := queue.Release(e.ID); err != nil {
			log.Printf("dlq-replay: release lock %s for id=%d: %v", lockID, e.ID, err)
		}
	}()

	start := time.Now()

	payload, err := dlq.RepairPayload(e)
	if err != nil {
		_ = queue.RecordError(e.ID, "repair_failed", err.Error())
		_ = queue.RecordAttempt(e.ID, "replay", false, time.Since(start))
		return err
	}

	line := parser.Line{Parsed: true, Payload: payload, Offset: e.SourceOffset}
	replayOpts := opts
	replayOpts.Source = e.Source
	replayOpts.SourceInode = e.SourceInode
	evt := parser.ParseLine(line, replayOpts)

	if !evt.IsValid() {
		_ = queue.RecordError(e.ID, "still_invalid", "validation failed on replay")
		_ = queue.RecordAttempt(e.ID, "replay", false, time.Since(start))
		if e.RetryCount+1 >= maxReplayAttempts {
			if err := queue.Resolve(e.ID, "abandoned"); err != nil {
				return err
			}
			archiveIfConfigured(archiver, e)
			return nil
		}
		return nil
	}

	if err := commitReplayed(db, e.IngestID, evt); err != nil {
		_ = queue.RecordError(e.ID, "commit_failed", err.Error())
		_ = queue.RecordAttempt(e.ID, "replay", false, time.Since(start))
		return err
	}

	if err := queue.RecordAttempt(e.ID, "replay", true, time.Since(start)); err != nil {
		log.Printf("dlq-replay: record attempt id=%d: %v", e.ID, err)
	}
	if err := queue.Resolve(e.ID, "replayed"); err != nil {
		return err
	}
	archiveIfConfigured(archiver, e)
	return nil
}

// archiveIfConfigured best-effort archives a terminal dead-letter row to
// S3; a failure here is logged, not propagated, since the row is already
// resolved in the database and archival is a forensic nicety, not part of
// the replay contract.
func archiveIfConfigured(archiver *dlq.Archiver, e *model.DeadLetterEvent) {
	if archiver == nil {
		return
	}
	if err := archiver.Archive(context.Background(), e); err != nil {
		log.Printf("dlq-replay: archive id=%d: %v", e.ID, err)
	}
}

// commitReplayed inserts a successfully re-validated event as an ordinary
// raw_event row, folding it into a one-event session aggregate the same way
// the bulk and delta loaders do.
func commitReplayed(db *storage.DB, ingestID string, evt *model.Event) error {
	if ingestID == "" {
		ingestID = evt.Source
	}

	tx, err := db.Begin()
	if err != nil {
		return err
	}

	batch := aggregate.NewBatch()
	sensor, _ := evt.Payload["sensor"].(string)
	batch.Add(evt, sensor, evt.Source)

	canon, err := canonical.Marshal(evt.Payload)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("dlq-replay: canonicalize replayed payload: %w", err)
	}

	raw := &model.RawEvent{
		IngestID:         ingestID,
		Source:           evt.Source,
		SourceInode:      evt.SourceInode,
		SourceGeneration: evt.SourceGeneration,
		SourceOffset:     evt.SourceOffset,
		Payload:          canon,
		PayloadHash:      evt.PayloadHash,
		RiskScore:        evt.RiskScore,
		Quarantined:      evt.Quarantined,
		SessionID:        evt.SessionID,
		EventType:        evt.EventID,
		EventTimestamp:   evt.Timestamp,
	}

	if err := storage.InsertRawEventsBatch(tx, db.Dialect, []*model.RawEvent{raw}); err != nil {
		tx.Rollback()
		return err
	}
	if err := storage.UpsertSessionSummaries(tx, db.Dialect, batch.Deltas()); err != nil {
		tx.Rollback()
		return err
	}
	if err := snapshot.Populate(tx, db, batch.SourceIPs()); err != nil {
		tx.Rollback()
		return err
	}

	return tx.Commit()
}
