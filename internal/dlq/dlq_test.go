package dlq_test

import (
	"testing"

	"github.com/datagen24/cowrieprocessor/internal/dlq"
	"github.com/datagen24/cowrieprocessor/internal/model"
)

func TestChecksumDeterministicRegardlessOfKeyOrder(t *testing.T) {
	a := map[string]interface{}{"eventid": "cowrie.session.connect", "session": "sess-1"}
	b := map[string]interface{}{"session": "sess-1", "eventid": "cowrie.session.connect"}

	sumA, err := dlq.Checksum(a)
	if err != nil {
		t.Fatalf("Checksum(a): %v", err)
	}
	sumB, err := dlq.Checksum(b)
	if err != nil {
		t.Fatalf("Checksum(b): %v", err)
	}
	if sumA != sumB {
		t.Fatalf("checksum must be independent of map key order: %s != %s", sumA, sumB)
	}
}

func TestIdempotencyKeyDeterministic(t *testing.T) {
	k1 := dlq.IdempotencyKey("cowrie.json", 128, "abc123")
	k2 := dlq.IdempotencyKey("cowrie.json", 128, "abc123")
	if k1 != k2 {
		t.Fatalf("IdempotencyKey must be deterministic: %s != %s", k1, k2)
	}

	if k3 := dlq.IdempotencyKey("cowrie.json", 256, "abc123"); k3 == k1 {
		t.Fatalf("different offsets must not collide: %s", k3)
	}
}

func TestPriorityOrdersQuarantinedAboveValidationAboveMalformed(t *testing.T) {
	quarantined := dlq.Priority(model.ReasonQuarantined)
	validation := dlq.Priority(model.ReasonValidation)
	malformed := dlq.Priority(model.DeadLetterReason("malformed"))

	if !(quarantined > validation && validation > malformed) {
		t.Fatalf("expected quarantined(%d) > validation(%d) > malformed(%d)", quarantined, validation, malformed)
	}
}

func TestBuildRejectsEmptyPayload(t *testing.T) {
	if _, err := dlq.Build("ingest-1", "cowrie.json", 0, 0, model.ReasonValidation, nil); err == nil {
		t.Fatalf("expected error for empty payload")
	}
}

// TestBuildRoundTripsThroughChecksumValid builds a dead-letter event, then
// checks that ChecksumValid accepts the stored payload and that tampering
// with the payload changes its checksum.
func TestBuildRoundTripsThroughChecksumValid(t *testing.T) {
	payload := dlq.WrapMalformed(`{"eventid":"cowrie.session.connect"`)

	event, err := dlq.Build("ingest-1", "cowrie.json", 42, 7, model.ReasonValidation, payload)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if event.Priority != dlq.Priority(model.ReasonValidation) {
		t.Fatalf("event priority = %d, want %d", event.Priority, dlq.Priority(model.ReasonValidation))
	}
	if event.IdempotencyKey != dlq.IdempotencyKey("cowrie.json", 42, event.PayloadChecksum) {
		t.Fatalf("idempotency key does not match derivation from (source, offset, checksum)")
	}

	ok, err := dlq.ChecksumValid(event)
	if err != nil {
		t.Fatalf("ChecksumValid: %v", err)
	}
	if !ok {
		t.Fatalf("expected freshly built event to have a valid checksum")
	}

	repaired, err := dlq.RepairPayload(event)
	if err != nil {
		t.Fatalf("RepairPayload: %v", err)
	}
	repaired["_malformed_content"] = "tampered"
	corruptedChecksum, err := dlq.Checksum(repaired)
	if err != nil {
		t.Fatalf("Checksum(repaired): %v", err)
	}
	if corruptedChecksum == event.PayloadChecksum {
		t.Fatalf("expected tampering the payload to change its checksum")
	}
}

func TestRepairPayloadRecoversOriginalDocument(t *testing.T) {
	payload := dlq.WrapMalformed("not json")
	event, err := dlq.Build("ingest-1", "cowrie.json", 0, 0, model.ReasonValidation, payload)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	repaired, err := dlq.RepairPayload(event)
	if err != nil {
		t.Fatalf("RepairPayload: %v", err)
	}
	if repaired["_malformed_content"] != "not json" {
		t.Fatalf("repaired payload = %v, want _malformed_content = \"not json\"", repaired)
	}
}
