package app

import (
	"testing"

	"github.com/charmbracelet/log"
)

func TestReadPort(t *testing.T) {
	t.Setenv("IPTRACKER_PORT_VALID", "12345")
	if got := readPort("IPTRACKER_PORT_VALID"); got != 12345 {
		t.Fatalf("readPort returned %d, want 12345", got)
	}

	t.Setenv("IPTRACKER_PORT_INVALID", "not-a-number")
	if got := readPort("IPTRACKER_PORT_INVALID"); got != 0 {
		t.Fatalf("readPort with invalid value returned %d, want 0", got)
	}

	t.Setenv("IPTRACKER_PORT_RANGE", "70000")
	if got := readPort("IPTRACKER_PORT_RANGE"); got != 0 {
		t.Fatalf("readPort with out of range value returned %d, want 0", got)
	}
}

func TestResolvePort(t *testing.T) {
	t.Run("env overrides flag", func(t *testing.T) {
		t.Setenv("PORT", "5050")
		if got := resolvePort("PORT", 8082); got != 5050 {
			t.Fatalf("resolvePort returned %d, want 5050", got)
		}
	})

	t.Run("flag used when env unset", func(t *testing.T) {
		if got := resolvePort("IPTRACKER_UNSET_PORT", 9090); got != 9090 {
			t.Fatalf("resolvePort returned %d, want 9090", got)
		}
	})
}

func TestConfigureLoggingLevel(t *testing.T) {
	previous := log.GetLevel()
	t.Cleanup(func() { log.SetLevel(previous) })

	t.Setenv("LOG_LEVEL", "")
	closer := configureLogging(true)
	defer closer.Close()
	if got := log.GetLevel(); got != log.InfoLevel {
		t.Fatalf("production level = %s, want info", got)
	}

	t.Setenv("LOG_LEVEL", "WARN")
	configureLogging(false)
	if got := log.GetLevel(); got != log.WarnLevel {
		t.Fatalf("LOG_LEVEL=WARN gave %s", got)
	}
}
