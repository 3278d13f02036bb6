package telemetry

import (
	"context"
	"log"
	"time"
)

// spanLogger is shared by every Span; component-prefixed like the rest of
// this tree's loggers.
var spanLogger = log.New(log.Writer(), "[telemetry.span] ", log.LstdFlags)

// Span records the duration and outcome of one named hot operation
// (cowrie.delta.load, cowrie.delta.flush, cowrie.reporting.repo.*, ...).
// It has no external tracing backend wired; span completion is logged as a
// structured line, which is the level of tracing the ambient stack supports
// without adding a tracing client this module's dependency set doesn't
// otherwise need.
type Span struct {
	name  string
	start time.Time
	attrs map[string]interface{}
}

// StartSpan begins a span named name. ctx is accepted for call-site symmetry
// with context-aware tracing APIs and future propagation, though this
// implementation does not yet thread span IDs through it.
func StartSpan(_ context.Context, name string) *Span {
	return &Span{name: name, start: time.Now(), attrs: make(map[string]interface{})}
}

// SetAttr attaches a key/value pair reported when the span ends.
func (s *Span) SetAttr(key string, value interface{}) {
	s.attrs[key] = value
}

// End logs the span's duration and any recorded attributes. err, if
// non-nil, is reported as the span's outcome.
func (s *Span) End(err error) {
	duration := time.Since(s.start)
	if err != nil {
		spanLogger.Printf("%s failed after %s attrs=%v err=%v", s.name, duration, s.attrs, err)
		return
	}
	spanLogger.Printf("%s completed in %s attrs=%v", s.name, duration, s.attrs)
}
