package utils

import (
	"sort"
	"strings"
	"testing"
)

func TestGenIDSortsByCreationOrder(t *testing.T) {
	ids := make([]string, 100)
	for i := range ids {
		ids[i] = GenID()
	}
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)
	for i := range ids {
		if ids[i] != sorted[i] {
			t.Fatalf("ids not in creation order at %d: %s vs %s", i, ids[i], sorted[i])
		}
	}
	seen := map[string]bool{}
	for _, id := range ids {
		if seen[id] {
			t.Fatalf("duplicate id %s", id)
		}
		seen[id] = true
	}
}

func TestGenSessionIDUnique(t *testing.T) {
	a := GenSessionID()
	b := GenSessionID()
	if a == b {
		t.Fatalf("consecutive session ids collided: %s", a)
	}
	if !strings.HasPrefix(a, "session-") {
		t.Fatalf("unexpected session id format: %s", a)
	}
}

func TestNewMemoryID(t *testing.T) {
	a := NewMemoryID()
	b := NewMemoryID()
	if a == b {
		t.Fatalf("memory tokens collided")
	}
	if !strings.HasPrefix(a, "mem-") {
		t.Fatalf("unexpected token format: %s", a)
	}
}
