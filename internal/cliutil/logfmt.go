// Package cliutil renders supervisor events for terminals and log pipelines.
package cliutil

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/Paintersrp/thrash/internal/engine"
	"github.com/Paintersrp/thrash/internal/runtime"
)

// LogRecord represents a structured event ready for JSON encoding.
type LogRecord struct {
	Timestamp time.Time `json:"ts"`
	RunID     string    `json:"run_id,omitempty"`
	Stressor  string    `json:"stressor"`
	Ordinal   int       `json:"ordinal"`
	Pid       int       `json:"pid,omitempty"`
	Type      string    `json:"type"`
	Level     string    `json:"level"`
	Message   string    `json:"msg"`
	Source    string    `json:"source"`
	Reason    string    `json:"reason,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// NewLogRecord converts an engine event into a structured log record.
func NewLogRecord(event engine.Event) LogRecord {
	record := LogRecord{
		Timestamp: event.Timestamp,
		RunID:     event.RunID,
		Stressor:  event.Stressor,
		Ordinal:   event.Ordinal,
		Pid:       event.Pid,
		Type:      string(event.Type),
		Level:     EventLevel(event),
		Message:   event.Message,
		Source:    event.Source,
		Reason:    event.Reason,
	}
	if record.Source == "" {
		record.Source = runtime.LogSourceSystem
	}
	if event.Err != nil {
		record.Error = event.Err.Error()
	}
	return record
}

// EventLevel returns the level an event is reported at. Explicit levels win,
// then lifecycle severity, then level tokens found in log lines.
func EventLevel(event engine.Event) string {
	if event.Level != "" {
		return event.Level
	}
	switch event.Type {
	case engine.EventTypeFailed, engine.EventTypeSignaled:
		return "error"
	case engine.EventTypeKilled, engine.EventTypeRestarting:
		return "warn"
	case engine.EventTypeLog:
		if inferred := inferLogLevel(event.Message); inferred != "" {
			return inferred
		}
	}
	return "info"
}

var levelTokenPattern = regexp.MustCompile(`(?i)\b(error|warn|info|debug)\b`)

func inferLogLevel(message string) string {
	matches := levelTokenPattern.FindStringSubmatch(message)
	if len(matches) < 2 {
		return ""
	}
	return strings.ToLower(matches[1])
}

// EncodeLogEvent encodes an event to JSON, reporting errors to stderr if needed.
func EncodeLogEvent(enc *json.Encoder, stderr io.Writer, event engine.Event) {
	if enc == nil {
		return
	}
	record := NewLogRecord(event)
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now()
	}
	if err := enc.Encode(&record); err != nil {
		fmt.Fprintf(stderr, "error: encode log: %v\n", err)
	}
}

// LogEvent writes an event through logger at its level.
func LogEvent(ctx context.Context, logger *slog.Logger, event engine.Event) {
	if logger == nil {
		return
	}
	record := NewLogRecord(event)
	attrs := []slog.Attr{
		slog.String("stressor", record.Stressor),
		slog.String("event", record.Type),
	}
	if record.Ordinal >= 0 {
		attrs = append(attrs, slog.Int("ordinal", record.Ordinal))
	}
	if record.Pid != 0 {
		attrs = append(attrs, slog.Int("pid", record.Pid))
	}
	if record.Reason != "" {
		attrs = append(attrs, slog.String("reason", record.Reason))
	}
	if record.Error != "" {
		attrs = append(attrs, slog.String("error", record.Error))
	}
	if event.Type == engine.EventTypeLog {
		attrs = append(attrs, slog.String("source", record.Source))
	}
	logger.LogAttrs(ctx, ParseLevel(record.Level), record.Message, attrs...)
}

// ParseLevel maps a level name to slog, defaulting to info.
func ParseLevel(level string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo
	}
	return l
}
