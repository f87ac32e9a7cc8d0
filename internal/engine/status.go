package engine

import (
	"errors"
	"time"

	"github.com/Paintersrp/thrash/internal/report"
	"github.com/Paintersrp/thrash/internal/runtime"
	"github.com/Paintersrp/thrash/internal/shm"
)

// ErrNoWorkers reports that no worker could be started.
var ErrNoWorkers = errors.New("no workers started")

// Status is the outcome of one stressor run.
type Status int

const (
	StatusSuccess Status = iota
	StatusFailure
	StatusNoResource
	StatusSkipped
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusFailure:
		return "failure"
	case StatusNoResource:
		return "no_resource"
	case StatusSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// ExitCode maps the status to the process exit code.
func (s Status) ExitCode() int {
	switch s {
	case StatusSuccess:
		return runtime.ExitSuccess
	case StatusNoResource:
		return runtime.ExitNoResource
	case StatusSkipped:
		return runtime.ExitNotImplemented
	default:
		return runtime.ExitFailure
	}
}

// ProcState is the coarse lifecycle state reported to a StateSink.
type ProcState string

const (
	StateInit   ProcState = "init"
	StateRun    ProcState = "run"
	StateDeinit ProcState = "deinit"
	StateExit   ProcState = "exit"
)

// StateSink observes stressor lifecycle transitions.
type StateSink interface {
	SetState(stressor string, state ProcState)
}

// StateSinkFunc adapts a function to StateSink.
type StateSinkFunc func(stressor string, state ProcState)

// SetState calls f.
func (f StateSinkFunc) SetState(stressor string, state ProcState) { f(stressor, state) }

// Spec configures one stressor run.
type Spec struct {
	RunID string
	Name  string
	// Workers is the number of worker processes.
	Workers int
	// Ops is the total pass budget split across participants. Zero means
	// the run is limited by Timeout only.
	Ops uint64
	// Timeout bounds the run. Zero means no limit.
	Timeout time.Duration
	// ParentBatch runs one extra participant inside the supervisor.
	ParentBatch bool
	// RestartBudget caps replacements for killed workers.
	RestartBudget int
	// KillGrace is how long workers get to exit after the continue flag is
	// cleared before escalation.
	KillGrace time.Duration
	// TermGrace separates SIGTERM from SIGKILL during escalation.
	TermGrace time.Duration
	// Options are the CBOR-encoded stressor options.
	Options   []byte
	LogLevel  string
	LogFormat string
	Backoff   Backoff
}

// Backoff tunes retries of transient spawn failures.
type Backoff struct {
	Min    time.Duration
	Max    time.Duration
	Factor float64
}

// WorkerState tracks a worker process.
type WorkerState string

const (
	WorkerStarting WorkerState = "starting"
	WorkerRunning  WorkerState = "running"
	WorkerStopping WorkerState = "stopping"
)

// WorkerRecord describes a live worker.
type WorkerRecord struct {
	Pid       int
	Ordinal   int
	Attempt   int
	State     WorkerState
	StartedAt time.Time
}

// Stats counts supervisor activity.
type Stats struct {
	State       ProcState
	Started     int
	Restarts    int
	Failures    int
	ForcedKills int
	Live        int
}

// Outcome is the result of Supervisor.Run.
type Outcome struct {
	Status   Status
	Reason   string
	Labels   []string
	Totals   []shm.Total
	BogoOps  uint64
	Timeouts uint64
	Stats    Stats
	Elapsed  time.Duration
}

// Result converts the outcome into a report row.
func (o Outcome) Result(spec Spec) report.Result {
	res := report.Result{
		RunID:       spec.RunID,
		Stressor:    spec.Name,
		Status:      o.Status.String(),
		Reason:      o.Reason,
		Workers:     spec.Workers,
		BogoOps:     o.BogoOps,
		Timeouts:    o.Timeouts,
		Restarts:    o.Stats.Restarts,
		Failures:    o.Stats.Failures,
		ForcedKills: o.Stats.ForcedKills,
		Elapsed:     o.Elapsed,
	}
	var rec report.Recorder
	report.Publish(o.Totals, o.Labels, &rec)
	res.Rates = rec.Rates()
	return res
}
