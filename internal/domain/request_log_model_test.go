package domain

import (
	"strings"
	"testing"
)

func TestRequestLogTruncate(t *testing.T) {
	long := "/" + strings.Repeat("a", 300)
	city := strings.Repeat("é", 150)
	entry := RequestLog{Path: long, City: &city}

	entry.Truncate()

	if len(entry.Path) != MaxPathLength {
		t.Fatalf("path length = %d, want %d", len(entry.Path), MaxPathLength)
	}
	if got := len([]rune(entry.GetCity())); got != MaxLocationLength {
		t.Fatalf("city length = %d runes, want %d", got, MaxLocationLength)
	}
	if entry.Country != nil {
		t.Fatal("nil country became non-nil")
	}
}

func TestOptionalString(t *testing.T) {
	if OptionalString("") != nil {
		t.Fatal("OptionalString(\"\") should be nil")
	}
	if got := OptionalString("Germany"); got == nil || *got != "Germany" {
		t.Fatalf("OptionalString returned %v", got)
	}
}

func TestClipReason(t *testing.T) {
	reason := strings.Repeat("x", 400)
	if got := ClipReason(reason); len(got) != MaxReasonLength {
		t.Fatalf("ClipReason length = %d, want %d", len(got), MaxReasonLength)
	}
	if got := ClipReason("short"); got != "short" {
		t.Fatalf("ClipReason altered short reason: %q", got)
	}
}
