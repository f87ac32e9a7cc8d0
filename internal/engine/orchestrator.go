package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/Paintersrp/thrash/internal/report"
	"github.com/Paintersrp/thrash/internal/runtime"
	"github.com/Paintersrp/thrash/internal/workload"
)

// Plan is one stressor to run.
type Plan struct {
	Spec     Spec
	Stressor workload.Stressor
}

// Orchestrator runs several stressors concurrently against one spawner.
type Orchestrator struct {
	spawner runtime.Spawner

	// State observes every stressor's lifecycle. Optional.
	State StateSink
	// Sink returns the rate sink for a stressor. Optional.
	Sink func(stressor string) report.Sink
	// Logger is handed to parent batches. Optional.
	Logger *slog.Logger
}

// NewOrchestrator constructs an orchestrator backed by the provided spawner.
func NewOrchestrator(spawner runtime.Spawner) *Orchestrator {
	return &Orchestrator{spawner: spawner}
}

// Deployment tracks stressors started by the orchestrator.
type Deployment struct {
	runID       string
	supervisors []*Supervisor
	cancel      context.CancelFunc
	done        chan struct{}
	outcomes    []Outcome

	stopOnce sync.Once
}

// Start launches every plan and returns immediately. Events from all
// stressors are delivered on events, which must be drained until Done is
// closed. A nil events channel discards them.
func (o *Orchestrator) Start(ctx context.Context, runID string, plans []Plan, events chan<- Event) (*Deployment, error) {
	if len(plans) == 0 {
		return nil, fmt.Errorf("no stressors to run")
	}
	seen := make(map[string]struct{}, len(plans))
	for _, p := range plans {
		name := p.Spec.Name
		if name == "" {
			name = p.Stressor.Name
		}
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("stressor %s listed more than once", name)
		}
		seen[name] = struct{}{}
	}

	runCtx, cancel := context.WithCancel(ctx)
	d := &Deployment{
		runID:    runID,
		cancel:   cancel,
		done:     make(chan struct{}),
		outcomes: make([]Outcome, len(plans)),
	}
	for _, p := range plans {
		spec := p.Spec
		spec.RunID = runID
		cfg := Config{
			Spec:     spec,
			Stressor: p.Stressor,
			Spawner:  o.spawner,
			Events:   events,
			State:    o.State,
			Logger:   o.Logger,
		}
		if o.Sink != nil {
			cfg.Sink = o.Sink(p.Stressor.Name)
		}
		d.supervisors = append(d.supervisors, NewSupervisor(cfg))
	}

	var wg sync.WaitGroup
	for i, sup := range d.supervisors {
		wg.Add(1)
		go func(i int, sup *Supervisor) {
			defer wg.Done()
			d.outcomes[i] = sup.Run(runCtx)
		}(i, sup)
	}
	go func() {
		wg.Wait()
		cancel()
		close(d.done)
	}()
	return d, nil
}

// RunID returns the identifier shared by every stressor of the deployment.
func (d *Deployment) RunID() string { return d.runID }

// Supervisors returns the supervisors in plan order.
func (d *Deployment) Supervisors() []*Supervisor {
	return append([]*Supervisor(nil), d.supervisors...)
}

// Supervisor returns the supervisor for the named stressor.
func (d *Deployment) Supervisor(name string) (*Supervisor, bool) {
	for _, sup := range d.supervisors {
		if sup.Spec().Name == name {
			return sup, true
		}
	}
	return nil, false
}

// Done is closed once every stressor has finished.
func (d *Deployment) Done() <-chan struct{} { return d.done }

// Wait blocks until every stressor has finished and returns their outcomes
// in plan order.
func (d *Deployment) Wait(ctx context.Context) ([]Outcome, error) {
	select {
	case <-d.done:
		return append([]Outcome(nil), d.outcomes...), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Stop cancels every stressor and waits for them to be reaped.
func (d *Deployment) Stop(ctx context.Context) ([]Outcome, error) {
	d.stopOnce.Do(d.cancel)
	return d.Wait(ctx)
}

// ExitCode folds stressor outcomes into one process exit code: failures win,
// a partial failure is ExitNotSuccess, and a run where nothing ran reports
// why.
func ExitCode(outcomes []Outcome) int {
	var failed, succeeded, noResource, skipped int
	for _, o := range outcomes {
		switch o.Status {
		case StatusFailure:
			failed++
		case StatusSuccess:
			succeeded++
		case StatusNoResource:
			noResource++
		case StatusSkipped:
			skipped++
		}
	}
	switch {
	case failed > 0 && succeeded > 0:
		return runtime.ExitNotSuccess
	case failed > 0:
		return runtime.ExitFailure
	case succeeded > 0:
		return runtime.ExitSuccess
	case noResource > 0:
		return runtime.ExitNoResource
	case skipped > 0:
		return runtime.ExitNotImplemented
	default:
		return runtime.ExitSuccess
	}
}
