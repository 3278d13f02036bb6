// Package model defines the domain types shared across the parser, the
// loaders, the cache, and storage: the Event sum type, the persisted
// entities of the relational schema, and the dead-letter record.
package model

import "time"

// EventKind identifies which honeypot event variant a payload represents.
// Replaces the source's duck-typed dispatch on eventid with an explicit sum
// type: every event is parsed into one of these variants plus its raw
// payload, never accessed by ad-hoc map lookups downstream.
type EventKind string

const (
	EventSessionConnect EventKind = "session_connect"
	EventCommandInput    EventKind = "command_input"
	EventFileDownload    EventKind = "file_download"
	EventLoginSuccess    EventKind = "login_success"
	EventLoginFailed     EventKind = "login_failed"
	EventSessionClosed   EventKind = "session_closed"
	EventMalformed       EventKind = "malformed"
	EventOther           EventKind = "other"
)

// raw eventid hints used to classify a decoded payload into an EventKind.
const (
	eventidSessionConnect = "cowrie.session.connect"
	eventidFileDownload   = "cowrie.session.file_download"
	eventidLoginSuccess   = "cowrie.login.success"
	eventidLoginFailed    = "cowrie.login.failed"
	eventidSessionClosed  = "cowrie.session.closed"
)

// EventidCommandInput is the raw eventid string for a command-input event,
// exported for callers outside the parse path that need to filter
// raw_event.event_type directly (e.g. cmd/ssh-keys-backfill).
const EventidCommandInput = "cowrie.command.input"

// ClassifyEventKind maps a raw eventid string to an EventKind. Unrecognized
// eventids classify as EventOther; callers that need the exact string use
// the payload's own "eventid" field.
func ClassifyEventKind(eventid string) EventKind {
	switch eventid {
	case eventidSessionConnect:
		return EventSessionConnect
	case EventidCommandInput:
		return EventCommandInput
	case eventidFileDownload:
		return EventFileDownload
	case eventidLoginSuccess:
		return EventLoginSuccess
	case eventidLoginFailed:
		return EventLoginFailed
	case eventidSessionClosed:
		return EventSessionClosed
	default:
		return EventOther
	}
}

// Event is a single parsed input line: its source coordinates, its decoded
// payload, and the classification/scoring the parser has already computed.
// This is the sum type the design notes ask for — every downstream consumer
// switches on Kind rather than probing the payload map.
type Event struct {
	Kind EventKind

	Source           string
	SourceOffset     int64
	SourceInode      int64
	SourceGeneration int

	EventID   string
	SessionID string
	Timestamp time.Time

	Payload     map[string]interface{}
	PayloadHash [32]byte

	RiskScore      int
	Quarantined    bool
	ValidationErrs []string

	SrcIP string
}

// IsValid reports whether the event passed parser validation. An invalid
// event is never written to raw_event; it is mirrored to the dead-letter
// queue with reason "validation" instead.
func (e *Event) IsValid() bool {
	return len(e.ValidationErrs) == 0
}
