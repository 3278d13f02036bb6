// Package aggregate folds a batch of parsed events into per-session deltas,
// the unit of work the loader flushes into session_summary.
package aggregate

import (
	"sort"
	"strings"
	"time"

	"github.com/datagen24/cowrieprocessor/internal/model"
	"github.com/datagen24/cowrieprocessor/internal/sshkeys"
	"github.com/datagen24/cowrieprocessor/internal/storage"
)

var (
	commandEventHints = []string{"cowrie.command", "command"}
	fileEventHints    = []string{"file_download", "cowrie.session.file"}
	loginEventHints   = []string{"login", "cowrie.login"}
)

func hasHint(eventType string, hints []string) bool {
	for _, h := range hints {
		if strings.Contains(eventType, h) {
			return true
		}
	}
	return false
}

// sessionAggregate accumulates one session's deltas across a batch before
// being finalized into a storage.SessionDelta.
type sessionAggregate struct {
	eventCount       int
	commandCount     int
	fileDownloads    int
	loginAttempts    int
	firstEventAt     time.Time
	lastEventAt      time.Time
	riskScore        int
	sourceFiles      map[string]bool
	sshKeyInjections int
	uniqueSSHKeys    map[string]bool
	matcher          string
	vtFlagged        bool
	dshieldFlagged   bool
	srcIP            string
}

// Batch accumulates the per-session aggregates for one flush cycle.
type Batch struct {
	sessions map[string]*sessionAggregate
}

// NewBatch returns an empty aggregation batch.
func NewBatch() *Batch {
	return &Batch{sessions: make(map[string]*sessionAggregate)}
}

// Add folds one parsed event into the batch's per-session aggregate. sensor
// is the sensor tag (payload's "sensor" field, if present) recorded as the
// session's matcher; sourceFile is the input file path the event came from.
func (b *Batch) Add(evt *model.Event, sensor, sourceFile string) {
	if evt.SessionID == "" {
		return
	}

	agg, ok := b.sessions[evt.SessionID]
	if !ok {
		agg = &sessionAggregate{
			sourceFiles:   make(map[string]bool),
			uniqueSSHKeys: make(map[string]bool),
		}
		b.sessions[evt.SessionID] = agg
	}

	agg.eventCount++
	isCommand := hasHint(evt.EventID, commandEventHints)
	if isCommand {
		agg.commandCount++
	}
	if hasHint(evt.EventID, fileEventHints) {
		agg.fileDownloads++
	}
	if hasHint(evt.EventID, loginEventHints) {
		agg.loginAttempts++
	}

	if !evt.Timestamp.IsZero() {
		if agg.firstEventAt.IsZero() || evt.Timestamp.Before(agg.firstEventAt) {
			agg.firstEventAt = evt.Timestamp
		}
		if evt.Timestamp.After(agg.lastEventAt) {
			agg.lastEventAt = evt.Timestamp
		}
	}

	if evt.RiskScore > agg.riskScore {
		agg.riskScore = evt.RiskScore
	}

	if sourceFile != "" {
		agg.sourceFiles[sourceFile] = true
	}

	if sensor != "" && agg.matcher == "" {
		agg.matcher = sensor
	}

	if evt.SrcIP != "" && agg.srcIP == "" {
		agg.srcIP = evt.SrcIP
	}

	if isCommand {
		if command, ok := evt.Payload["input"].(string); ok && strings.Contains(command, "authorized_keys") {
			extracted := sshkeys.ExtractKeysFromCommand(command)
			for _, k := range extracted {
				agg.uniqueSSHKeys[k.KeyHash] = true
			}
			agg.sshKeyInjections += len(extracted)
		}
	}

	if flagged, ok := evt.Payload["vt_flagged"].(bool); ok && flagged {
		agg.vtFlagged = true
	}
	if flagged, ok := evt.Payload["dshield_flagged"].(bool); ok && flagged {
		agg.dshieldFlagged = true
	}
}

// Deltas returns the batch's accumulated per-session deltas, sorted by
// session_id for deterministic flush ordering.
func (b *Batch) Deltas() []*storage.SessionDelta {
	out := make([]*storage.SessionDelta, 0, len(b.sessions))
	for sessionID, agg := range b.sessions {
		out = append(out, &storage.SessionDelta{
			SessionID:        sessionID,
			EventCount:       agg.eventCount,
			CommandCount:     agg.commandCount,
			FileDownloads:    agg.fileDownloads,
			LoginAttempts:    agg.loginAttempts,
			FirstEventAt:     agg.firstEventAt,
			LastEventAt:      agg.lastEventAt,
			RiskScore:        agg.riskScore,
			SourceFiles:      sortedKeys(agg.sourceFiles),
			VTFlagged:        agg.vtFlagged,
			DShieldFlagged:   agg.dshieldFlagged,
			SSHKeyInjections: agg.sshKeyInjections,
			UniqueSSHKeys:    sortedKeys(agg.uniqueSSHKeys),
			Matcher:          agg.matcher,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SessionID < out[j].SessionID })
	return out
}

// Len reports the number of distinct sessions seen so far in the batch.
func (b *Batch) Len() int {
	return len(b.sessions)
}

// SourceIPs returns each session's first-observed src_ip this batch, for
// sessions where one was seen. Used by the snapshot populator to resolve
// which IPs to project after the session rows are upserted.
func (b *Batch) SourceIPs() map[string]string {
	out := make(map[string]string, len(b.sessions))
	for sessionID, agg := range b.sessions {
		if agg.srcIP != "" {
			out[sessionID] = agg.srcIP
		}
	}
	return out
}

func sortedKeys(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
