package engine

import (
	"time"

	"github.com/Paintersrp/thrash/internal/runtime"
)

// EventType captures high level lifecycle notifications emitted by supervisors
// and the orchestrator.
type EventType string

const (
	EventTypeStarting   EventType = "starting"
	EventTypeRunning    EventType = "running"
	EventTypeExited     EventType = "exited"
	EventTypeKilled     EventType = "killed"
	EventTypeRestarting EventType = "restarting"
	EventTypeSignaled   EventType = "signaled"
	EventTypeFailed     EventType = "failed"
	EventTypeStopping   EventType = "stopping"
	EventTypeStopped    EventType = "stopped"
	EventTypeLog        EventType = "log"
	EventTypeSkipped    EventType = "skipped"
)

// Event represents a single lifecycle or log notification.
type Event struct {
	Timestamp time.Time
	RunID     string
	Stressor  string
	// Ordinal is the worker slot, or -1 for stressor-wide events.
	Ordinal int
	Pid     int
	Type    EventType
	Message string
	Level   string
	Source  string
	Err     error
	Attempt int
	Reason  string
}

const (
	ReasonInitialStart    = "initial_start"
	ReasonRestart         = "restart"
	ReasonSpawnRetry      = "spawn_retry"
	ReasonStartFailure    = "start_failure"
	ReasonProbableOOM     = "probable_oom"
	ReasonBudgetExhausted = "restart_budget_exhausted"
	ReasonWorkerFailure   = "worker_failure"
	ReasonUnexpectedExit  = "unexpected_signal"
	ReasonUnsupported     = "unsupported"
	ReasonNoResource      = "no_resource"
	ReasonParentBatch     = "parent_batch"
	ReasonTimeout         = "timeout"
	ReasonShutdown        = "shutdown"
	ReasonEscalated       = "escalated"
	ReasonCompleted       = "completed"
)

func sendEvent(events chan<- Event, evt Event) {
	if events == nil {
		return
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	if evt.Level == "" {
		evt.Level = "info"
	}
	if evt.Source == "" {
		evt.Source = runtime.LogSourceSystem
	}
	events <- evt
}
