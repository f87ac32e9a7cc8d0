// Package logmux fans in worker log events from several stressors onto one
// bounded channel.
package logmux

import (
	"fmt"
	"sync"
	"time"

	"github.com/Paintersrp/thrash/internal/engine"
	"github.com/Paintersrp/thrash/internal/runtime"
)

// Mux fans in log events from multiple stressors and delivers them via a
// bounded channel. When the consumer cannot keep up the mux drops records and
// later emits a synthesized "dropped=N" event per worker.
type Mux struct {
	out chan engine.Event

	mu     sync.Mutex
	drops  map[source]dropRecord
	inputs sync.WaitGroup
}

type source struct {
	stressor string
	ordinal  int
}

type dropRecord struct {
	runID   string
	count   int
	attempt int
}

// New constructs a mux backed by a channel of the provided size. A size of
// zero results in a minimally buffered channel.
func New(size int) *Mux {
	if size <= 0 {
		size = 1
	}
	return &Mux{
		out:   make(chan engine.Event, size),
		drops: make(map[source]dropRecord),
	}
}

// Output exposes the muxed event channel.
func (m *Mux) Output() <-chan engine.Event {
	return m.out
}

// Add registers a source channel. Non-log events are ignored. The mux
// consumes the source until it is closed.
func (m *Mux) Add(events <-chan engine.Event) {
	if events == nil {
		return
	}
	m.inputs.Add(1)
	go func() {
		defer m.inputs.Done()
		for evt := range events {
			if evt.Type != engine.EventTypeLog {
				continue
			}
			m.Deliver(evt)
		}
	}()
}

// Deliver offers a single log event without blocking.
func (m *Mux) Deliver(evt engine.Event) {
	evt = normalize(evt)
	src := source{stressor: evt.Stressor, ordinal: evt.Ordinal}
	if !m.flushPending(src) {
		m.recordDrop(src, evt, 1)
		return
	}
	if m.trySend(evt) {
		return
	}
	m.recordDrop(src, evt, 1)
}

// Close waits for all sources to be drained, emits pending drop counts and
// closes the output channel.
func (m *Mux) Close() {
	m.inputs.Wait()
	for src, rec := range m.collectDrops() {
		m.out <- dropEvent(src, rec)
	}
	close(m.out)
}

func (m *Mux) flushPending(src source) bool {
	for {
		rec := m.takeDrops(src)
		if rec.count == 0 {
			return true
		}
		if m.trySend(dropEvent(src, rec)) {
			continue
		}
		m.mu.Lock()
		cur := m.drops[src]
		cur.count += rec.count
		if cur.attempt == 0 {
			cur.attempt = rec.attempt
		}
		if cur.runID == "" {
			cur.runID = rec.runID
		}
		m.drops[src] = cur
		m.mu.Unlock()
		return false
	}
}

func (m *Mux) takeDrops(src source) dropRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec := m.drops[src]
	if rec.count != 0 {
		delete(m.drops, src)
	}
	return rec
}

func (m *Mux) recordDrop(src source, evt engine.Event, count int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec := m.drops[src]
	rec.count += count
	if evt.Attempt != 0 || rec.attempt == 0 {
		rec.attempt = evt.Attempt
	}
	if evt.RunID != "" {
		rec.runID = evt.RunID
	}
	m.drops[src] = rec
}

func (m *Mux) collectDrops() map[source]dropRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	pending := make(map[source]dropRecord, len(m.drops))
	for src, rec := range m.drops {
		if rec.count > 0 {
			pending[src] = rec
		}
	}
	m.drops = make(map[source]dropRecord)
	return pending
}

func (m *Mux) trySend(evt engine.Event) bool {
	select {
	case m.out <- evt:
		return true
	default:
		return false
	}
}

func normalize(evt engine.Event) engine.Event {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	if evt.Source == "" {
		evt.Source = runtime.LogSourceStdout
	}
	if evt.Level == "" {
		if evt.Source == runtime.LogSourceStderr {
			evt.Level = "warn"
		} else {
			evt.Level = "info"
		}
	}
	return evt
}

func dropEvent(src source, rec dropRecord) engine.Event {
	return engine.Event{
		Timestamp: time.Now(),
		RunID:     rec.runID,
		Stressor:  src.stressor,
		Ordinal:   src.ordinal,
		Type:      engine.EventTypeLog,
		Message:   fmt.Sprintf("dropped=%d", rec.count),
		Level:     "warn",
		Source:    runtime.LogSourceSystem,
		Attempt:   rec.attempt,
	}
}
