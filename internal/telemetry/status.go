// Package telemetry emits per-phase JSON status files consumable by external
// monitors, and a structured-span API for tracing hot loader operations.
package telemetry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const defaultStatusDir = "/mnt/dshield/data/logs/status"

// DeadLetterStatus is the dead_letter sub-object of an emitted status file.
type DeadLetterStatus struct {
	Total       int    `json:"total"`
	LastReason  string `json:"last_reason,omitempty"`
	LastSource  string `json:"last_source,omitempty"`
	LastUpdated string `json:"last_updated,omitempty"`
}

// state is the full JSON document written for one phase.
type state struct {
	Phase       string           `json:"phase"`
	IngestID    string           `json:"ingest_id,omitempty"`
	LastUpdated string           `json:"last_updated,omitempty"`
	Metrics     interface{}      `json:"metrics"`
	Checkpoint  interface{}      `json:"checkpoint"`
	DeadLetter  DeadLetterStatus `json:"dead_letter"`
}

// Emitter writes one phase's status file atomically, serializing concurrent
// updates under an internal lock.
type Emitter struct {
	phase string
	path  string

	mu    sync.Mutex
	state state
}

// NewEmitter constructs an emitter for phase (e.g. "bulk", "delta",
// "reporting"), writing to statusDir/<phase>.json. An empty statusDir falls
// back to the default status directory.
func NewEmitter(phase, statusDir string) (*Emitter, error) {
	if statusDir == "" {
		statusDir = defaultStatusDir
	}
	if err := os.MkdirAll(statusDir, 0o755); err != nil {
		return nil, fmt.Errorf("telemetry: create status dir %s: %w", statusDir, err)
	}
	return &Emitter{
		phase: phase,
		path:  filepath.Join(statusDir, phase+".json"),
		state: state{Phase: phase, Metrics: struct{}{}, Checkpoint: struct{}{}},
	}, nil
}

// RecordMetrics persists the latest loader metrics snapshot. metrics is
// marshaled as-is; callers pass their own metrics struct (e.g.
// loader.Metrics).
func (e *Emitter) RecordMetrics(ingestID string, metrics interface{}) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state.IngestID = ingestID
	e.state.Metrics = metrics
	e.state.LastUpdated = time.Now().UTC().Format(time.RFC3339Nano)
	return e.writeLocked()
}

// RecordCheckpoint updates the emitted status with the latest batch
// checkpoint.
func (e *Emitter) RecordCheckpoint(checkpoint interface{}) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state.Checkpoint = checkpoint
	return e.writeLocked()
}

// RecordDeadLetters increments the dead-letter total and notes the latest
// failure context. A non-positive count is a no-op.
func (e *Emitter) RecordDeadLetters(count int, lastReason, lastSource string) error {
	if count <= 0 {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state.DeadLetter.Total += count
	e.state.DeadLetter.LastReason = lastReason
	e.state.DeadLetter.LastSource = lastSource
	e.state.DeadLetter.LastUpdated = time.Now().UTC().Format(time.RFC3339Nano)
	return e.writeLocked()
}

// writeLocked serializes the current state and atomically replaces the
// status file: write to a temp file in the same directory, then rename.
// Callers must hold e.mu.
func (e *Emitter) writeLocked() error {
	payload, err := json.Marshal(e.state)
	if err != nil {
		return fmt.Errorf("telemetry: marshal status for %s: %w", e.phase, err)
	}
	tmp := e.path + ".tmp"
	if err := os.WriteFile(tmp, payload, 0o644); err != nil {
		return fmt.Errorf("telemetry: write temp status for %s: %w", e.phase, err)
	}
	if err := os.Rename(tmp, e.path); err != nil {
		return fmt.Errorf("telemetry: rename status for %s: %w", e.phase, err)
	}
	return nil
}
