package dlq

import (
	"fmt"
	"sync"
	"time"

	"github.com/datagen24/cowrieprocessor/internal/storage"
)

// BreakerState is one of the three states of the circuit breaker state
// machine guarding a DLQ replay target from being hammered while it is
// failing.
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half_open"
)

// CircuitBreaker tracks consecutive failures for one named replay target
// (e.g. a downstream reprocessing endpoint) and trips open once the
// failure threshold is reached, refusing further attempts until the
// timeout elapses.
type CircuitBreaker struct {
	mu sync.Mutex

	Name             string
	State            BreakerState
	FailureCount     int
	FailureThreshold int
	Timeout          time.Duration
	OpenedAt         time.Time
}

// NewCircuitBreaker constructs a closed breaker with the given thresholds.
func NewCircuitBreaker(name string, failureThreshold int, timeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		Name:             name,
		State:            BreakerClosed,
		FailureThreshold: failureThreshold,
		Timeout:          timeout,
	}
}

// Allow reports whether a new attempt may proceed, transitioning an open
// breaker to half-open once its timeout has elapsed.
func (b *CircuitBreaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.State {
	case BreakerOpen:
		if time.Since(b.OpenedAt) >= b.Timeout {
			b.State = BreakerHalfOpen
			return true
		}
		return false
	default:
		return true
	}
}

// RecordSuccess closes the breaker and resets its failure count.
func (b *CircuitBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.State = BreakerClosed
	b.FailureCount = 0
}

// RecordFailure increments the failure count and trips the breaker open
// once the threshold is reached, or immediately if it was half-open.
func (b *CircuitBreaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.State == BreakerHalfOpen {
		b.State = BreakerOpen
		b.OpenedAt = time.Now()
		return
	}

	b.FailureCount++
	if b.FailureCount >= b.FailureThreshold {
		b.State = BreakerOpen
		b.OpenedAt = time.Now()
	}
}

// Persist writes the breaker's current state to dlq_circuit_breaker_state,
// so a restarted replay process resumes with the same state.
func (b *CircuitBreaker) Persist(db *storage.DB) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	_, err := db.Exec(`
		INSERT INTO dlq_circuit_breaker_state (name, state, failure_count, failure_threshold, timeout_seconds, opened_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (name) DO UPDATE SET
			state = excluded.state, failure_count = excluded.failure_count,
			opened_at = excluded.opened_at, updated_at = excluded.updated_at`,
		b.Name, string(b.State), b.FailureCount, b.FailureThreshold, int(b.Timeout.Seconds()), b.OpenedAt, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("dlq: persist circuit breaker %s: %w", b.Name, err)
	}
	return nil
}

// BatchMetrics records the outcome of one DLQ replay batch into
// dlq_processing_metrics, used by operators to watch replay throughput.
type BatchMetrics struct {
	BatchID          string
	StartedAt        time.Time
	FinishedAt       time.Time
	EventsAttempted  int
	EventsResolved   int
	EventsFailed     int
	AvgProcessingMS  float64
}

// Persist writes the batch metrics row.
func (m *BatchMetrics) Persist(db *storage.DB) error {
	_, err := db.Exec(`
		INSERT INTO dlq_processing_metrics
			(batch_id, started_at, finished_at, events_attempted, events_resolved, events_failed, avg_processing_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.BatchID, m.StartedAt, m.FinishedAt, m.EventsAttempted, m.EventsResolved, m.EventsFailed, m.AvgProcessingMS)
	if err != nil {
		return fmt.Errorf("dlq: persist batch metrics: %w", err)
	}
	return nil
}
