// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestLoggerWritesJSONLine(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter("test-component", &buf)

	l.Info("agent-1", "req-42", "hello", map[string]interface{}{"provider": "anthropic"})

	line := strings.TrimSpace(buf.String())
	var entry LogEntry
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}

	if entry.Level != INFO {
		t.Errorf("Level = %q, want %q", entry.Level, INFO)
	}
	if entry.Component != "test-component" {
		t.Errorf("Component = %q, want %q", entry.Component, "test-component")
	}
	if entry.AgentID != "agent-1" {
		t.Errorf("AgentID = %q, want %q", entry.AgentID, "agent-1")
	}
	if entry.RequestID != "req-42" {
		t.Errorf("RequestID = %q, want %q", entry.RequestID, "req-42")
	}
	if entry.Fields["provider"] != "anthropic" {
		t.Errorf("Fields[provider] = %v, want anthropic", entry.Fields["provider"])
	}
}

func TestLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter("test", &buf)

	l.Debug("", "", "d", nil)
	l.Warn("", "", "w", nil)
	l.ErrorWithErr("", "", "boom", errTest, nil)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 log lines, got %d", len(lines))
	}

	var last LogEntry
	if err := json.Unmarshal([]byte(lines[2]), &last); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if last.Fields["error"] != "test error" {
		t.Errorf("error field = %v, want %q", last.Fields["error"], "test error")
	}
}

func TestInfoWithDuration(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter("test", &buf)

	l.InfoWithDuration("a", "r", "done", 12.5, nil)

	var entry LogEntry
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if entry.Fields["duration_ms"] != 12.5 {
		t.Errorf("duration_ms = %v, want 12.5", entry.Fields["duration_ms"])
	}
}

type testErr struct{}

func (testErr) Error() string { return "test error" }

var errTest = testErr{}
