package core

import (
	"fmt"
	"strings"
)

// Addresses identify nodes and edges. An address is an ordered sequence of
// opaque string parts. The stored form joins the parts with a NUL byte after
// each part, so plain byte comparison gives the canonical lexicographic
// order and a string prefix check gives structural prefix matching:
// ["repo"] is a prefix of ["repo", "commit", "abc"], while ["re"] is not.

// NodeAddress is the encoded address of a node.
type NodeAddress string

// EdgeAddress is the encoded address of an edge.
type EdgeAddress string

const addressSeparator = "\x00"

func encodeParts(parts []string) (string, error) {
	var b strings.Builder
	for _, p := range parts {
		if strings.Contains(p, addressSeparator) {
			return "", fmt.Errorf("address part %q contains a NUL byte", p)
		}
		b.WriteString(p)
		b.WriteString(addressSeparator)
	}
	return b.String(), nil
}

func decodeParts(encoded string) []string {
	if encoded == "" {
		return []string{}
	}
	// Every part ends with a separator, so drop the trailing empty split.
	split := strings.Split(encoded, addressSeparator)
	return split[:len(split)-1]
}

// NewNodeAddress builds a node address from its parts. Parts may be empty
// strings but must not contain NUL bytes.
func NewNodeAddress(parts ...string) (NodeAddress, error) {
	enc, err := encodeParts(parts)
	if err != nil {
		return "", err
	}
	return NodeAddress(enc), nil
}

// MustNodeAddress is NewNodeAddress for statically known parts; it panics on
// invalid input. Intended for tests and fixed configuration.
func MustNodeAddress(parts ...string) NodeAddress {
	a, err := NewNodeAddress(parts...)
	if err != nil {
		panic(err)
	}
	return a
}

// NewEdgeAddress builds an edge address from its parts.
func NewEdgeAddress(parts ...string) (EdgeAddress, error) {
	enc, err := encodeParts(parts)
	if err != nil {
		return "", err
	}
	return EdgeAddress(enc), nil
}

// MustEdgeAddress is NewEdgeAddress for statically known parts; it panics on
// invalid input.
func MustEdgeAddress(parts ...string) EdgeAddress {
	a, err := NewEdgeAddress(parts...)
	if err != nil {
		panic(err)
	}
	return a
}

// Parts returns the decoded address parts.
func (a NodeAddress) Parts() []string { return decodeParts(string(a)) }

// Parts returns the decoded address parts.
func (a EdgeAddress) Parts() []string { return decodeParts(string(a)) }

// HasPrefix reports whether p is a structural prefix of a. Every address is
// a prefix of itself, and the empty address is a prefix of everything.
func (a NodeAddress) HasPrefix(p NodeAddress) bool {
	return strings.HasPrefix(string(a), string(p))
}

// HasPrefix reports whether p is a structural prefix of a.
func (a EdgeAddress) HasPrefix(p EdgeAddress) bool {
	return strings.HasPrefix(string(a), string(p))
}

// String renders the address for logs and error messages. The rendering is
// display-only; use Parts for lossless access.
func (a NodeAddress) String() string {
	return strings.Join(a.Parts(), "/")
}

// String renders the address for logs and error messages.
func (a EdgeAddress) String() string {
	return strings.Join(a.Parts(), "/")
}
