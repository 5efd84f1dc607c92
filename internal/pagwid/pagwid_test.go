package pagwid

import (
	"strings"
	"testing"
	"time"
)

func TestNewProducesValidIDs(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 200; i++ {
		id := New()
		if !IsValid(id) {
			t.Fatalf("generated id %q does not match format", id)
		}
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate id generated: %q", id)
		}
		seen[id] = struct{}{}
	}
}

func TestNewWithPrefix(t *testing.T) {
	id := NewWithPrefix("LOAD")
	if !strings.HasPrefix(id, "LOAD-") {
		t.Fatalf("expected LOAD- prefix, got %q", id)
	}
	if IsValid(id) {
		t.Fatalf("non-default prefix should not validate: %q", id)
	}
}

func TestExtractDate(t *testing.T) {
	id := New()
	date, err := ExtractDate(id)
	if err != nil {
		t.Fatalf("ExtractDate(%q): %v", id, err)
	}
	want := time.Now().UTC().Format("20060102")
	if date != want {
		t.Fatalf("date = %q, want %q", date, want)
	}
}

func TestExtractDateRejectsInvalid(t *testing.T) {
	for _, id := range []string{"", "PAGW-2026-1-XX", "pagw-20260825-00001-ABCDEF12", "PAGW-20260825-00001-abcdef12"} {
		if IsValid(id) {
			t.Fatalf("IsValid(%q) = true, want false", id)
		}
		if _, err := ExtractDate(id); err == nil {
			t.Fatalf("ExtractDate(%q) succeeded, want error", id)
		}
	}
}
