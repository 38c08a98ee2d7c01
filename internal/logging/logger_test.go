package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestNewWithWriterJSON(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewWithWriter(&buf, "production", "INFO")
	if err != nil {
		t.Fatalf("NewWithWriter failed: %v", err)
	}

	logger.Debug().Msg("hidden")
	logger.Info().Str("run_id", "r1").Msg("batch processed")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected one log line, got %d: %q", len(lines), buf.String())
	}

	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v", err)
	}
	if entry["service"] != "eventmerge" {
		t.Fatalf("expected service field, got %v", entry["service"])
	}
	if entry["run_id"] != "r1" || entry["message"] != "batch processed" {
		t.Fatalf("unexpected entry: %v", entry)
	}
}

func TestNewWithWriterConsole(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewWithWriter(&buf, "local", "debug")
	if err != nil {
		t.Fatalf("NewWithWriter failed: %v", err)
	}
	logger.Debug().Msg("rules reloaded")

	out := buf.String()
	if !strings.Contains(out, "rules reloaded") || !strings.Contains(out, "service=eventmerge") {
		t.Fatalf("unexpected console output: %q", out)
	}
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	if _, err := New("local", "loud"); err == nil {
		t.Fatalf("expected invalid level to fail")
	}
}
