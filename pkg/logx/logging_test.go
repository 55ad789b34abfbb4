package logx

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestLoggerWithFields(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&buf, "debug").With(String("comp", "dispatch"))
	log.Info("job finished", Int("failed", 2), String("job", "j-1"))

	var m map[string]any
	if err := json.Unmarshal(buf.Bytes(), &m); err != nil {
		t.Fatalf("unmarshal log line: %v (%q)", err, buf.String())
	}
	if m["comp"] != "dispatch" || m["job"] != "j-1" || m["message"] != "job finished" {
		t.Fatalf("unexpected fields: %v", m)
	}
	if m["failed"].(float64) != 2 {
		t.Fatalf("failed = %v, want 2", m["failed"])
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&buf, "warn")
	log.Debug("hidden")
	if buf.Len() != 0 {
		t.Fatalf("debug line should be filtered, got %q", buf.String())
	}
	if !log.Enabled(LevelError) || log.Enabled(LevelInfo) {
		t.Fatal("unexpected Enabled result")
	}
}

func TestZeroLoggerIsNop(t *testing.T) {
	var log Logger
	if !log.IsZero() {
		t.Fatal("zero logger should report IsZero")
	}
	log.Error("must not panic")
}
