package core

import (
	"reflect"
	"sort"
	"testing"
)

func TestAddressPartsRoundTrip(t *testing.T) {
	cases := [][]string{
		{},
		{"repo"},
		{"repo", "commit", "abc123"},
		{"", "empty", ""},
	}
	for _, parts := range cases {
		addr, err := NewNodeAddress(parts...)
		if err != nil {
			t.Fatalf("NewNodeAddress(%q) failed: %v", parts, err)
		}
		if got := addr.Parts(); !reflect.DeepEqual(got, parts) {
			t.Errorf("Parts() = %q, want %q", got, parts)
		}
	}
}

func TestAddressRejectsNUL(t *testing.T) {
	if _, err := NewNodeAddress("bad\x00part"); err == nil {
		t.Error("expected an error for a part containing NUL")
	}
	if _, err := NewEdgeAddress("ok", "bad\x00part"); err == nil {
		t.Error("expected an error for a part containing NUL")
	}
}

func TestAddressPrefixIsStructural(t *testing.T) {
	full := MustNodeAddress("repo", "commit", "abc")
	cases := []struct {
		name   string
		prefix NodeAddress
		want   bool
	}{
		{"empty matches everything", MustNodeAddress(), true},
		{"proper prefix", MustNodeAddress("repo"), true},
		{"two part prefix", MustNodeAddress("repo", "commit"), true},
		{"address is a prefix of itself", full, true},
		{"string prefix of a part does not count", MustNodeAddress("re"), false},
		{"diverging part", MustNodeAddress("user"), false},
		{"longer than the address", MustNodeAddress("repo", "commit", "abc", "x"), false},
	}
	for _, tc := range cases {
		if got := full.HasPrefix(tc.prefix); got != tc.want {
			t.Errorf("%s: HasPrefix = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestAddressOrderingIsPartwise(t *testing.T) {
	// ["a", "b"] sorts before ["ab"]: the encoded separator is lower than
	// any part byte, so ordering follows the part structure.
	addrs := []NodeAddress{
		MustNodeAddress("ab"),
		MustNodeAddress("a", "b"),
		MustNodeAddress("a"),
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i] < addrs[j] })

	want := []NodeAddress{
		MustNodeAddress("a"),
		MustNodeAddress("a", "b"),
		MustNodeAddress("ab"),
	}
	if !reflect.DeepEqual(addrs, want) {
		t.Errorf("sorted order = %v, want %v", addrs, want)
	}
}

func TestAddressString(t *testing.T) {
	addr := MustEdgeAddress("forum", "likes", "42")
	if got := addr.String(); got != "forum/likes/42" {
		t.Errorf("String() = %q, want %q", got, "forum/likes/42")
	}
}
