package cli

import (
	"bytes"
	"strings"
	"testing"
)

func TestStylesDisabledWithoutTTY(t *testing.T) {
	var buf bytes.Buffer
	s := newStyles(&buf, false)
	if s.enabled {
		t.Fatal("styling should be disabled for non-file writers")
	}
	if got := s.kv("Documents", "3"); !strings.Contains(got, "Documents:") || !strings.Contains(got, "3") {
		t.Fatalf("unexpected kv rendering %q", got)
	}
	if got := s.errPrefix(); got != "ERROR:" {
		t.Fatalf("unexpected error prefix %q", got)
	}
	if got := s.warn("degraded"); got != "WARNING: degraded" {
		t.Fatalf("unexpected warning %q", got)
	}
	if got := s.dim("quiet"); got != "quiet" {
		t.Fatalf("dim should pass through, got %q", got)
	}
}

func TestStylesDisabledInJSONMode(t *testing.T) {
	var buf bytes.Buffer
	if s := newStyles(&buf, true); s.enabled {
		t.Fatal("styling should be disabled in JSON mode")
	}
}

func TestRootCommandTree(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"ingest", "ask", "rm", "status", "version"} {
		if !names[want] {
			t.Errorf("command %q not registered", want)
		}
	}
}
