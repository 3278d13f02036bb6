package parser

import (
	"golang.org/x/crypto/blake2b"

	"github.com/datagen24/cowrieprocessor/internal/canonical"
	"github.com/datagen24/cowrieprocessor/internal/model"
)

// Options configures how ParseLine builds an Event from a decoded line.
type Options struct {
	Source           string
	SourceInode      int64
	SourceGeneration int
	QuarantineThreshold int

	NeutralizeCommands    bool
	IntelligentDefanging  bool
	PreserveOriginalInput bool
}

// ParseLine turns one decoded Line into a model.Event, running validation,
// sanitization, scoring, and defanging. A malformed line (Parsed=false)
// produces an EventMalformed event carrying the raw text, with a single
// validation error so callers route it straight to the dead-letter queue.
func ParseLine(line Line, opts Options) *model.Event {
	if !line.Parsed {
		return &model.Event{
			Kind:             model.EventMalformed,
			Source:           opts.Source,
			SourceOffset:     line.Offset,
			SourceInode:      opts.SourceInode,
			SourceGeneration: opts.SourceGeneration,
			ValidationErrs:   []string{"malformed_json"},
			Payload:          map[string]interface{}{"malformed": line.Raw},
		}
	}

	sanitized, _ := SanitizeTree(line.Payload).(map[string]interface{})

	eventid, ts, errs := Validate(sanitized)
	commandText := CommandText(sanitized)
	score := Score(eventid, commandText)
	quarantined := Quarantined(score, opts.QuarantineThreshold, len(errs) > 0)

	if commandText != "" {
		applyDefanging(sanitized, commandText, opts)
	}

	canon, err := canonical.Marshal(sanitized)
	if err != nil {
		errs = append(errs, "canonicalization_failed")
		canon = []byte("{}")
	}
	hash := blake2b.Sum256(canon)

	event := &model.Event{
		Kind:             model.ClassifyEventKind(eventid),
		Source:           opts.Source,
		SourceOffset:     line.Offset,
		SourceInode:      opts.SourceInode,
		SourceGeneration: opts.SourceGeneration,
		EventID:          eventid,
		SessionID:        SessionID(sanitized),
		Timestamp:        ts,
		Payload:          sanitized,
		PayloadHash:      hash,
		RiskScore:        score,
		Quarantined:      quarantined,
		ValidationErrs:   errs,
		SrcIP:            SrcIP(sanitized),
	}
	return event
}

func applyDefanging(payload map[string]interface{}, commandText string, opts Options) {
	if !opts.NeutralizeCommands {
		return
	}

	var result DefangResult
	if opts.IntelligentDefanging {
		result = DefangIntelligent(commandText, opts.PreserveOriginalInput)
	} else {
		result = DefangLegacy(commandText)
	}

	payload["command_analysis"] = string(result.CommandAnalysis)
	payload["input_hash"] = result.InputHash

	if result.CommandAnalysis == RiskSafe {
		return
	}

	payload["input_safe"] = result.InputSafe
	if opts.PreserveOriginalInput {
		payload["input_original"] = result.InputOriginal
	} else {
		delete(payload, "input")
		delete(payload, "command")
	}
}
