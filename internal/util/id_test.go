package util

import (
	"strings"
	"testing"
)

func TestNewID(t *testing.T) {
	id := NewID("rel")
	if !strings.HasPrefix(id, "rel_") {
		t.Fatalf("expected rel_ prefix, got %q", id)
	}
	if len(id) != len("rel_")+32 {
		t.Fatalf("unexpected id length %d: %q", len(id), id)
	}
	if bare := NewID(""); strings.Contains(bare, "_") || len(bare) != 32 {
		t.Fatalf("unexpected bare id %q", bare)
	}
	if NewID("rel") == id {
		t.Fatal("ids must not repeat")
	}
}
