package canonical_test

import (
	"encoding/json"
	"testing"

	"github.com/datagen24/cowrieprocessor/internal/canonical"
)

func TestMarshalSortedKeys(t *testing.T) {
	a := map[string]interface{}{
		"b": 2,
		"a": 1,
	}
	b := map[string]interface{}{
		"a": 1,
		"b": 2,
	}

	ca, err := canonical.Marshal(a)
	if err != nil {
		t.Fatalf("canonical.Marshal(a) error: %v", err)
	}
	cb, err := canonical.Marshal(b)
	if err != nil {
		t.Fatalf("canonical.Marshal(b) error: %v", err)
	}

	if string(ca) != string(cb) {
		t.Fatalf("canonical outputs differ:\nA: %s\nB: %s", ca, cb)
	}

	var tmp interface{}
	if err := json.Unmarshal(ca, &tmp); err != nil {
		t.Fatalf("canonical output is not valid JSON: %v", err)
	}
}

func TestMarshalNumbersAndArrays(t *testing.T) {
	in := map[string]interface{}{
		"list": []interface{}{3, 2, 1},
		"num":  json.Number("123.45"),
		"str":  "hello",
		"bool": true,
		"nil":  nil,
	}

	c, err := canonical.Marshal(in)
	if err != nil {
		t.Fatalf("canonical.Marshal error: %v", err)
	}

	var out map[string]interface{}
	if err := json.Unmarshal(c, &out); err != nil {
		t.Fatalf("unmarshal canonical: %v", err)
	}

	if out["str"] != "hello" {
		t.Fatalf("expected str 'hello', got %#v", out["str"])
	}
	if out["bool"] != true {
		t.Fatalf("expected bool true, got %#v", out["bool"])
	}
	if out["nil"] != nil {
		t.Fatalf("expected nil, got %#v", out["nil"])
	}
}

func TestDecodeRoundTrip(t *testing.T) {
	raw := []byte(`{"b":2,"a":{"z":1,"y":2},"list":[1,2,3]}`)
	v, err := canonical.Decode(raw)
	if err != nil {
		t.Fatalf("canonical.Decode error: %v", err)
	}
	out, err := canonical.Marshal(v)
	if err != nil {
		t.Fatalf("canonical.Marshal error: %v", err)
	}
	if string(out) != `{"a":{"y":2,"z":1},"b":2,"list":[1,2,3]}` {
		t.Fatalf("unexpected canonical output: %s", out)
	}
}
