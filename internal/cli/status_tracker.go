package cli

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Paintersrp/thrash/internal/engine"
)

// stressorStatus captures runtime state for a stressor observed via events.
type stressorStatus struct {
	name       string
	firstSeen  time.Time
	lastEvent  time.Time
	state      engine.ProcState
	lastType   engine.EventType
	lastReason string
	message    string
	outcome    string

	restarts int
	failures int
	workers  map[int]*workerStatus
}

type workerStatus struct {
	pid     int
	attempt int
	state   engine.EventType
}

// statusTracker maintains in-memory status for stressors based on engine
// events and lifecycle transitions.
type statusTracker struct {
	mu        sync.RWMutex
	stressors map[string]*stressorStatus
	now       func() time.Time
}

func newStatusTracker() *statusTracker {
	return &statusTracker{stressors: make(map[string]*stressorStatus), now: time.Now}
}

func (t *statusTracker) entryLocked(name string, at time.Time) *stressorStatus {
	state := t.stressors[name]
	if state == nil {
		state = &stressorStatus{name: name, firstSeen: at, workers: make(map[int]*workerStatus)}
		t.stressors[name] = state
	}
	if state.firstSeen.IsZero() {
		state.firstSeen = at
	}
	return state
}

// SetState records a lifecycle transition reported by a supervisor.
func (t *statusTracker) SetState(stressor string, proc engine.ProcState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entryLocked(stressor, t.now()).state = proc
}

// SetOutcome records the final status of a stressor.
func (t *statusTracker) SetOutcome(stressor string, status engine.Status) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entryLocked(stressor, t.now()).outcome = status.String()
}

// Apply updates the tracker based on the supplied event.
func (t *statusTracker) Apply(evt engine.Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = t.now()
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	state := t.entryLocked(evt.Stressor, evt.Timestamp)
	if evt.Timestamp.After(state.lastEvent) {
		state.lastEvent = evt.Timestamp
	}
	if evt.Type == engine.EventTypeLog {
		return
	}

	if evt.Ordinal >= 0 {
		w := state.workers[evt.Ordinal]
		if w == nil {
			w = &workerStatus{}
			state.workers[evt.Ordinal] = w
		}
		w.state = evt.Type
		if evt.Pid > 0 {
			w.pid = evt.Pid
		}
		if evt.Attempt > w.attempt {
			w.attempt = evt.Attempt
		}
		switch {
		case evt.Type == engine.EventTypeRestarting && evt.Reason == engine.ReasonRestart:
			state.restarts++
		case evt.Type == engine.EventTypeFailed:
			state.failures++
		}
	}

	state.lastType = evt.Type
	state.lastReason = evt.Reason
	message := evt.Message
	if message == "" && evt.Err != nil {
		message = evt.Err.Error()
	}
	if evt.Ordinal >= 0 {
		if message == "" {
			message = fmt.Sprintf("worker %d", evt.Ordinal)
		} else {
			message = fmt.Sprintf("worker %d: %s", evt.Ordinal, message)
		}
	}
	state.message = message
}

// StressorStatus captures a snapshot of a stressor for presentation.
type StressorStatus struct {
	Name       string
	FirstSeen  time.Time
	LastEvent  time.Time
	State      engine.ProcState
	LastType   engine.EventType
	LastReason string
	Message    string
	Outcome    string
	Restarts   int
	Failures   int
	// Workers counts ordinals that have reported at least one event.
	Workers int
}

// Snapshot returns a map keyed by stressor name containing copies of the
// tracked state.
func (t *statusTracker) Snapshot() map[string]StressorStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()

	snapshot := make(map[string]StressorStatus, len(t.stressors))
	for name, state := range t.stressors {
		snapshot[name] = StressorStatus{
			Name:       state.name,
			FirstSeen:  state.firstSeen,
			LastEvent:  state.lastEvent,
			State:      state.state,
			LastType:   state.lastType,
			LastReason: state.lastReason,
			Message:    state.message,
			Outcome:    state.outcome,
			Restarts:   state.restarts,
			Failures:   state.failures,
			Workers:    len(state.workers),
		}
	}
	return snapshot
}

// Names returns the known stressors sorted alphabetically.
func (t *statusTracker) Names() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	names := make([]string, 0, len(t.stressors))
	for name := range t.stressors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
