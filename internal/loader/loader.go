// Package loader implements the bulk and delta ingestion pipelines: gather
// parsed events into per-batch aggregates, then flush each batch as a single
// transaction covering raw_event, session_summary, and the dead-letter queue.
package loader

import (
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/datagen24/cowrieprocessor/internal/aggregate"
	"github.com/datagen24/cowrieprocessor/internal/canonical"
	"github.com/datagen24/cowrieprocessor/internal/dlq"
	"github.com/datagen24/cowrieprocessor/internal/model"
	"github.com/datagen24/cowrieprocessor/internal/parser"
	"github.com/datagen24/cowrieprocessor/internal/storage"
)

// Config configures both loaders. Delta-specific fields are ignored by the
// bulk loader.
type Config struct {
	BatchSize          int
	QuarantineThreshold int
	BatchRiskThreshold int
	NeutralizeCommands bool
	IntelligentDefang  bool
	PreserveOriginal   bool
	TelemetryInterval  int // batches
}

// DefaultConfig mirrors the source's defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:           500,
		QuarantineThreshold: 80,
		BatchRiskThreshold:  400,
		NeutralizeCommands:  true,
		IntelligentDefang:   true,
		TelemetryInterval:   5,
	}
}

// Metrics accumulates counters over the lifetime of one LoadPaths call.
type Metrics struct {
	IngestID string

	FilesProcessed   int
	EventsRead       int
	EventsInserted   int
	EventsQuarantined int
	EventsInvalid    int
	DuplicatesSkipped int

	BatchesCommitted  int
	BatchesQuarantined int

	LastSource string
	LastOffset int64

	Duration time.Duration
}

// Checkpoint is emitted after every successfully committed batch.
type Checkpoint struct {
	IngestID          string
	Source            string
	Offset            int64
	BatchIndex        int
	EventsInserted    int
	EventsQuarantined int
	Sessions          []string
	CreatedAt         time.Time
}

// TelemetryFunc receives a live snapshot of Metrics every TelemetryInterval
// batches.
type TelemetryFunc func(*Metrics)

// CheckpointFunc receives a Checkpoint after every committed flush.
type CheckpointFunc func(Checkpoint)

// PublishFunc receives a batch's session deltas after its flush transaction
// has committed, for optional publication to a downstream consumer (see
// internal/publish). A nil PublishFunc means publication is disabled, which
// is the default.
type PublishFunc func([]*storage.SessionDelta)

// EnrichFunc receives a batch's session_id -> src_ip map after its flush
// transaction has committed, for optional IP classification and threat-intel
// lookup (see internal/enrichment.Pipeline.EnrichSessions). A nil EnrichFunc
// means enrichment is disabled, which is the default. Like PublishFunc, this
// runs after commit and its failures never roll back or retry the batch.
type EnrichFunc func(sessionIPs map[string]string)

// pendingBatch holds the in-flight state for one flush cycle.
type pendingBatch struct {
	rawEvents   []*model.RawEvent
	deadLetters []*model.DeadLetterEvent
	aggregate   *aggregate.Batch
}

func newPendingBatch() *pendingBatch {
	return &pendingBatch{aggregate: aggregate.NewBatch()}
}

// buildRawEvent converts a parsed event plus its source coordinates into a
// RawEvent ready for insertion. Validation-failed events are never passed
// here; callers check evt.IsValid() first.
func buildRawEvent(ingestID string, evt *model.Event, canonicalPayload []byte) *model.RawEvent {
	return &model.RawEvent{
		IngestID:         ingestID,
		Source:           evt.Source,
		SourceInode:      evt.SourceInode,
		SourceGeneration: evt.SourceGeneration,
		SourceOffset:     evt.SourceOffset,
		Payload:          canonicalPayload,
		PayloadHash:      evt.PayloadHash,
		RiskScore:        evt.RiskScore,
		Quarantined:      evt.Quarantined,
		SessionID:        evt.SessionID,
		EventType:        evt.EventID,
		EventTimestamp:   evt.Timestamp,
	}
}

// sourceInode returns the inode number of a file on a POSIX filesystem, used
// by the delta loader's rotation detection.
func sourceInode(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("loader: stat %s: %w", path, err)
	}
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return 0, fmt.Errorf("loader: inode unsupported on this platform for %s", path)
	}
	return int64(stat.Ino), nil
}

func dlqReasonFor(evt *model.Event) (model.DeadLetterReason, bool) {
	if !evt.IsValid() {
		return model.ReasonValidation, true
	}
	if evt.Quarantined {
		return model.ReasonQuarantined, true
	}
	return "", false
}

func parserOptions(source string, inode int64, generation int, cfg Config) parser.Options {
	return parser.Options{
		Source:                source,
		SourceInode:           inode,
		SourceGeneration:      generation,
		QuarantineThreshold:   cfg.QuarantineThreshold,
		NeutralizeCommands:    cfg.NeutralizeCommands,
		IntelligentDefanging:  cfg.IntelligentDefang,
		PreserveOriginalInput: cfg.PreserveOriginal,
	}
}

func canonicalPayload(evt *model.Event) ([]byte, error) {
	return canonical.Marshal(evt.Payload)
}

func buildDeadLetter(ingestID string, evt *model.Event, reason model.DeadLetterReason) (*model.DeadLetterEvent, error) {
	payload := evt.Payload
	if evt.Kind == model.EventMalformed {
		raw, _ := evt.Payload["malformed"].(string)
		payload = dlq.WrapMalformed(raw)
	} else if len(payload) == 0 {
		payload = dlq.WrapNonObject(string(reason), evt.Payload, evt.Timestamp)
	}
	return dlq.Build(ingestID, evt.Source, evt.SourceOffset, evt.SourceInode, reason, payload)
}
