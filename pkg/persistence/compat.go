package persistence

import (
	"encoding/json"
	"fmt"
)

// Documents are stored as a two-element JSON array [header, payload]. The
// header names the document type and the version of the payload schema, so
// readers can refuse documents they do not understand instead of
// misinterpreting them.

// CompatHeader identifies a versioned document.
type CompatHeader struct {
	Type    string `json:"type"`
	Version string `json:"version"`
}

// ToCompat wraps payload in a [header, payload] envelope.
func ToCompat(h CompatHeader, payload any) ([]byte, error) {
	head, err := json.Marshal(h)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal([2]json.RawMessage{head, body})
}

// Upgrader converts a payload written at an older schema version into the
// current shape.
type Upgrader func(json.RawMessage) (json.RawMessage, error)

// CompatDecoder decodes envelopes of one document type at a current
// version. Payloads at other versions are refused unless an upgrader was
// registered for them. Register upgraders before decoding; the decoder is
// not synchronized.
type CompatDecoder struct {
	typ       string
	version   string
	upgraders map[string]Upgrader
}

// NewCompatDecoder returns a decoder for the given document type whose
// current schema version is currentVersion.
func NewCompatDecoder(typ, currentVersion string) *CompatDecoder {
	return &CompatDecoder{
		typ:       typ,
		version:   currentVersion,
		upgraders: make(map[string]Upgrader),
	}
}

// RegisterUpgrader installs a converter for payloads written at
// fromVersion. The converter must return a payload in the current shape.
func (d *CompatDecoder) RegisterUpgrader(fromVersion string, up Upgrader) {
	d.upgraders[fromVersion] = up
}

// Decode unwraps an envelope and unmarshals its payload into v, upgrading
// the payload first when it was written at an older registered version.
func (d *CompatDecoder) Decode(data []byte, v any) error {
	var env []json.RawMessage
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("document is not a compat envelope: %w", err)
	}
	if len(env) != 2 {
		return fmt.Errorf("compat envelope must be a [header, payload] pair, got %d elements", len(env))
	}
	var h CompatHeader
	if err := json.Unmarshal(env[0], &h); err != nil {
		return fmt.Errorf("invalid compat header: %w", err)
	}
	if h.Type != d.typ {
		return fmt.Errorf("unexpected document type %q, want %q", h.Type, d.typ)
	}

	payload := env[1]
	if h.Version != d.version {
		up, ok := d.upgraders[h.Version]
		if !ok {
			return fmt.Errorf("unsupported version %q for type %q", h.Version, h.Type)
		}
		upgraded, err := up(payload)
		if err != nil {
			return fmt.Errorf("upgrading %s from version %q: %w", h.Type, h.Version, err)
		}
		payload = upgraded
	}
	return json.Unmarshal(payload, v)
}
