package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Paintersrp/thrash/internal/runtime"
)

// streamLogs forwards worker output as log events. Events that do not fit
// in the channel are counted and reported as a single dropped=N event.
func (s *Supervisor) streamLogs(ctx context.Context, c *child, wg *sync.WaitGroup) {
	defer wg.Done()
	var dropped int
	for entry := range c.handle.Logs() {
		if entry.Message == "" {
			continue
		}
		if dropped > 0 {
			if !s.emitLog(ctx, s.droppedEvent(c, dropped), false) {
				dropped++
				continue
			}
			dropped = 0
		}
		if !s.emitLog(ctx, s.normalizeLog(c, entry), false) {
			dropped++
		}
	}
	if dropped > 0 {
		s.emitLog(ctx, s.droppedEvent(c, dropped), true)
	}
}

func (s *Supervisor) normalizeLog(c *child, entry runtime.LogEntry) Event {
	source := entry.Source
	if source == "" {
		source = runtime.LogSourceStdout
	}
	level := levelOf(entry.Message)
	if level == "" {
		level = entry.Level
	}
	if level == "" {
		level = "info"
	}
	ts := entry.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	return Event{
		Timestamp: ts,
		RunID:     s.spec.RunID,
		Stressor:  s.spec.Name,
		Ordinal:   c.ordinal,
		Pid:       c.handle.Pid(),
		Type:      EventTypeLog,
		Message:   entry.Message,
		Level:     level,
		Source:    source,
		Attempt:   c.attempt,
	}
}

// levelOf recovers the level of a worker slog line, text or JSON.
func levelOf(line string) string {
	for _, level := range []string{"DEBUG", "INFO", "WARN", "ERROR"} {
		if strings.Contains(line, "level="+level) || strings.Contains(line, `"level":"`+level+`"`) {
			return strings.ToLower(level)
		}
	}
	return ""
}

func (s *Supervisor) emitLog(ctx context.Context, evt Event, block bool) bool {
	if s.events == nil {
		return true
	}
	if block {
		select {
		case s.events <- evt:
			return true
		case <-ctx.Done():
			return false
		}
	}
	select {
	case s.events <- evt:
		return true
	default:
		return false
	}
}

func (s *Supervisor) droppedEvent(c *child, count int) Event {
	return Event{
		Timestamp: time.Now(),
		RunID:     s.spec.RunID,
		Stressor:  s.spec.Name,
		Ordinal:   c.ordinal,
		Pid:       c.handle.Pid(),
		Type:      EventTypeLog,
		Message:   fmt.Sprintf("dropped=%d", count),
		Level:     "warn",
		Source:    runtime.LogSourceSystem,
		Attempt:   c.attempt,
	}
}
