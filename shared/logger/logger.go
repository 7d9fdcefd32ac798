// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package logger

import (
	"encoding/json"
	"io"
	"log"
	"os"
	"sync"
	"time"
)

// LogLevel represents the severity of a log entry
type LogLevel string

const (
	DEBUG LogLevel = "DEBUG"
	INFO  LogLevel = "INFO"
	WARN  LogLevel = "WARN"
	ERROR LogLevel = "ERROR"
)

// Logger provides structured JSON logging for gateway components.
// Every entry carries the agent and request identifiers so a single
// inference call can be traced across admission, translation and the
// provider attempt chain.
type Logger struct {
	Component  string
	InstanceID string

	mu  sync.Mutex
	out io.Writer
}

// LogEntry represents a structured log entry
type LogEntry struct {
	Timestamp  string                 `json:"timestamp"`
	Level      LogLevel               `json:"level"`
	Component  string                 `json:"component"`
	InstanceID string                 `json:"instance_id"`
	AgentID    string                 `json:"agent_id,omitempty"`
	RequestID  string                 `json:"request_id,omitempty"`
	Message    string                 `json:"message"`
	Fields     map[string]interface{} `json:"fields,omitempty"`
}

// New creates a new Logger for the specified component.
// The instance ID is taken from GATEWAY_INSTANCE_ID (set at deploy time),
// falling back to the hostname.
func New(component string) *Logger {
	instanceID := os.Getenv("GATEWAY_INSTANCE_ID")
	if instanceID == "" {
		if host, err := os.Hostname(); err == nil {
			instanceID = host
		} else {
			instanceID = "unknown"
		}
	}

	return &Logger{
		Component:  component,
		InstanceID: instanceID,
		out:        os.Stdout,
	}
}

// NewWithWriter creates a Logger writing to the given writer (tests).
func NewWithWriter(component string, w io.Writer) *Logger {
	l := New(component)
	l.out = w
	return l
}

// Log creates a structured log entry and writes it as a single JSON line.
func (l *Logger) Log(level LogLevel, agentID, requestID, message string, fields map[string]interface{}) {
	entry := LogEntry{
		Timestamp:  time.Now().UTC().Format(time.RFC3339Nano),
		Level:      level,
		Component:  l.Component,
		InstanceID: l.InstanceID,
		AgentID:    agentID,
		RequestID:  requestID,
		Message:    message,
		Fields:     fields,
	}

	jsonBytes, err := json.Marshal(entry)
	if err != nil {
		// Fallback to plain text if JSON marshaling fails
		log.Printf("ERROR: failed to marshal log entry: %v", err)
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.out.Write(append(jsonBytes, '\n'))
}

// Info logs an informational message
func (l *Logger) Info(agentID, requestID, message string, fields map[string]interface{}) {
	l.Log(INFO, agentID, requestID, message, fields)
}

// Error logs an error message
func (l *Logger) Error(agentID, requestID, message string, fields map[string]interface{}) {
	l.Log(ERROR, agentID, requestID, message, fields)
}

// Warn logs a warning message
func (l *Logger) Warn(agentID, requestID, message string, fields map[string]interface{}) {
	l.Log(WARN, agentID, requestID, message, fields)
}

// Debug logs a debug message
func (l *Logger) Debug(agentID, requestID, message string, fields map[string]interface{}) {
	l.Log(DEBUG, agentID, requestID, message, fields)
}

// InfoWithDuration logs an info message with a duration_ms field
func (l *Logger) InfoWithDuration(agentID, requestID, message string, durationMS float64, fields map[string]interface{}) {
	if fields == nil {
		fields = make(map[string]interface{})
	}
	fields["duration_ms"] = durationMS
	l.Info(agentID, requestID, message, fields)
}

// ErrorWithErr logs an error message with the error string attached
func (l *Logger) ErrorWithErr(agentID, requestID, message string, err error, fields map[string]interface{}) {
	if fields == nil {
		fields = make(map[string]interface{})
	}
	if err != nil {
		fields["error"] = err.Error()
	}
	l.Error(agentID, requestID, message, fields)
}
