package persistence

import (
	"encoding/json"
	"strings"
	"testing"
)

type compatDoc struct {
	Greeting string `json:"greeting"`
	Count    int    `json:"count"`
}

func TestCompatRoundTrip(t *testing.T) {
	h := CompatHeader{Type: "kredo/test", Version: "0.2.0"}
	data, err := ToCompat(h, compatDoc{Greeting: "hi", Count: 3})
	if err != nil {
		t.Fatalf("ToCompat failed: %v", err)
	}

	var out compatDoc
	dec := NewCompatDecoder("kredo/test", "0.2.0")
	if err := dec.Decode(data, &out); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if out.Greeting != "hi" || out.Count != 3 {
		t.Errorf("decoded %+v, want greeting=hi count=3", out)
	}
}

func TestCompatRefusesWrongType(t *testing.T) {
	data, err := ToCompat(CompatHeader{Type: "kredo/other", Version: "0.2.0"}, compatDoc{})
	if err != nil {
		t.Fatalf("ToCompat failed: %v", err)
	}
	dec := NewCompatDecoder("kredo/test", "0.2.0")
	var out compatDoc
	err = dec.Decode(data, &out)
	if err == nil || !strings.Contains(err.Error(), "kredo/other") {
		t.Errorf("expected a type mismatch error naming the document type, got %v", err)
	}
}

func TestCompatRefusesUnknownVersion(t *testing.T) {
	data, err := ToCompat(CompatHeader{Type: "kredo/test", Version: "0.1.0"}, compatDoc{})
	if err != nil {
		t.Fatalf("ToCompat failed: %v", err)
	}
	dec := NewCompatDecoder("kredo/test", "0.2.0")
	var out compatDoc
	err = dec.Decode(data, &out)
	if err == nil || !strings.Contains(err.Error(), "0.1.0") {
		t.Errorf("expected a version refusal naming 0.1.0, got %v", err)
	}
}

func TestCompatUpgraderPath(t *testing.T) {
	// Version 0.1.0 used the field name "msg"; the upgrader renames it.
	type oldDoc struct {
		Msg   string `json:"msg"`
		Count int    `json:"count"`
	}
	data, err := ToCompat(CompatHeader{Type: "kredo/test", Version: "0.1.0"}, oldDoc{Msg: "hello", Count: 7})
	if err != nil {
		t.Fatalf("ToCompat failed: %v", err)
	}

	dec := NewCompatDecoder("kredo/test", "0.2.0")
	dec.RegisterUpgrader("0.1.0", func(payload json.RawMessage) (json.RawMessage, error) {
		var old oldDoc
		if err := json.Unmarshal(payload, &old); err != nil {
			return nil, err
		}
		return json.Marshal(compatDoc{Greeting: old.Msg, Count: old.Count})
	})

	var out compatDoc
	if err := dec.Decode(data, &out); err != nil {
		t.Fatalf("Decode with upgrader failed: %v", err)
	}
	if out.Greeting != "hello" || out.Count != 7 {
		t.Errorf("upgraded document = %+v, want greeting=hello count=7", out)
	}
}

func TestCompatRejectsMalformedEnvelopes(t *testing.T) {
	dec := NewCompatDecoder("kredo/test", "0.2.0")
	var out compatDoc
	cases := []struct {
		name string
		doc  string
	}{
		{"not an array", `{"type":"kredo/test"}`},
		{"wrong arity", `[{"type":"kredo/test","version":"0.2.0"}]`},
		{"bad header", `[42, {}]`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := dec.Decode([]byte(tc.doc), &out); err == nil {
				t.Errorf("expected an error for %s", tc.doc)
			}
		})
	}
}
