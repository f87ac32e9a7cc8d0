// Package api defines the status model served over HTTP during a run.
package api

import (
	stdcontext "context"
	"errors"
	"time"

	"github.com/Paintersrp/thrash/internal/engine"
)

var (
	ErrNoActiveRun     = errors.New("no active run")
	ErrUnknownStressor = errors.New("unknown stressor")
	ErrRunFinished     = errors.New("run already finished")
)

// WorkerReport describes one live worker.
type WorkerReport struct {
	Ordinal   int                `json:"ordinal"`
	Pid       int                `json:"pid"`
	Attempt   int                `json:"attempt"`
	State     engine.WorkerState `json:"state"`
	StartedAt time.Time          `json:"started_at"`
}

// RateReport is one aggregated metric kind. Rates are present only after
// the stressor has finished.
type RateReport struct {
	Kind  string  `json:"kind"`
	Value float64 `json:"value"`
}

// StressorReport describes the runtime state of a single stressor.
type StressorReport struct {
	Name        string           `json:"name"`
	State       string           `json:"state"`
	LastEvent   engine.EventType `json:"last_event"`
	LastReason  string           `json:"last_reason"`
	Message     string           `json:"message"`
	Workers     int              `json:"workers"`
	Live        int              `json:"live"`
	Started     int              `json:"started"`
	Restarts    int              `json:"restarts"`
	Failures    int              `json:"failures"`
	ForcedKills int              `json:"forced_kills"`
	BogoOps     uint64           `json:"bogo_ops"`
	FirstSeen   time.Time        `json:"first_seen"`
	UpdatedAt   time.Time        `json:"updated_at"`
	Status      string           `json:"status,omitempty"`
	Rates       []RateReport     `json:"rates,omitempty"`
	WorkerList  []WorkerReport   `json:"worker_list,omitempty"`
}

// StatusReport aggregates run-wide status information.
type StatusReport struct {
	RunID       string                    `json:"run_id"`
	Name        string                    `json:"name"`
	StartedAt   time.Time                 `json:"started_at"`
	GeneratedAt time.Time                 `json:"generated_at"`
	Done        bool                      `json:"done"`
	Stressors   map[string]StressorReport `json:"stressors"`
}

// Controller exposes run operations required by the status server.
type Controller interface {
	Status(stdcontext.Context) (*StatusReport, error)
	Stressor(stdcontext.Context, string) (*StressorReport, error)
	Stop(stdcontext.Context) error
}
