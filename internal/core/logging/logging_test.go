package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestNew_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New("info", "json", &buf)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	logger.Debug().Msg("hidden")
	logger.Info().Str("identifier", "age_group").Msg("Variable created")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("got %d log lines, want 1: %q", len(lines), buf.String())
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v", err)
	}
	if entry["identifier"] != "age_group" {
		t.Errorf("identifier = %v, want age_group", entry["identifier"])
	}
	if entry["level"] != "info" {
		t.Errorf("level = %v, want info", entry["level"])
	}
}

func TestNew_Text(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New("debug", "text", &buf)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	logger.Debug().Msg("Dependency graph loaded")

	if strings.HasPrefix(buf.String(), "{") {
		t.Errorf("text output looks like JSON: %q", buf.String())
	}
	if !strings.Contains(buf.String(), "Dependency graph loaded") {
		t.Errorf("text output = %q, want message", buf.String())
	}
}

func TestNew_Invalid(t *testing.T) {
	tests := []struct {
		level, format string
	}{
		{"loud", "json"},
		{"info", "xml"},
	}
	for _, tt := range tests {
		if _, err := New(tt.level, tt.format, &bytes.Buffer{}); err == nil {
			t.Errorf("New(%q, %q) error = nil, want error", tt.level, tt.format)
		}
	}
}
