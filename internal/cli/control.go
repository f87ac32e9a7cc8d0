package cli

import (
	stdcontext "context"
	"fmt"
	"time"

	"github.com/Paintersrp/thrash/internal/api"
	"github.com/Paintersrp/thrash/internal/engine"
)

// ControlAPI exposes the active run to the HTTP status server.
type ControlAPI struct {
	ctx *context
}

// NewControlAPI constructs a ControlAPI wrapper around the shared CLI context.
func NewControlAPI(ctx *context) *ControlAPI {
	if ctx == nil {
		return nil
	}
	return &ControlAPI{ctx: ctx}
}

// Status returns a snapshot of every stressor in the active run.
func (c *ControlAPI) Status(ctx stdcontext.Context) (*api.StatusReport, error) {
	dep, name, startedAt, err := c.deployment(ctx)
	if err != nil {
		return nil, err
	}
	snapshot := c.ctx.statusTracker().Snapshot()
	stressors := make(map[string]api.StressorReport, len(dep.Supervisors()))
	for _, sup := range dep.Supervisors() {
		rep := stressorReport(sup, snapshot[sup.Spec().Name])
		stressors[rep.Name] = rep
	}
	return &api.StatusReport{
		RunID:       dep.RunID(),
		Name:        name,
		StartedAt:   startedAt,
		GeneratedAt: time.Now(),
		Done:        isDone(dep),
		Stressors:   stressors,
	}, nil
}

// Stressor returns the detailed report for one stressor, including its live
// workers.
func (c *ControlAPI) Stressor(ctx stdcontext.Context, name string) (*api.StressorReport, error) {
	dep, _, _, err := c.deployment(ctx)
	if err != nil {
		return nil, err
	}
	sup, ok := dep.Supervisor(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", api.ErrUnknownStressor, name)
	}
	rep := stressorReport(sup, c.ctx.statusTracker().Snapshot()[name])
	for _, w := range sup.Workers() {
		rep.WorkerList = append(rep.WorkerList, api.WorkerReport{
			Ordinal:   w.Ordinal,
			Pid:       w.Pid,
			Attempt:   w.Attempt,
			State:     w.State,
			StartedAt: w.StartedAt,
		})
	}
	return &rep, nil
}

// Stop cancels the active run. Workers are reaped in the background.
func (c *ControlAPI) Stop(ctx stdcontext.Context) error {
	dep, _, _, err := c.deployment(ctx)
	if err != nil {
		return err
	}
	if isDone(dep) {
		return fmt.Errorf("%w", api.ErrRunFinished)
	}
	go func() {
		_, _ = dep.Stop(stdcontext.Background())
	}()
	return nil
}

func (c *ControlAPI) deployment(ctx stdcontext.Context) (*engine.Deployment, string, time.Time, error) {
	if c == nil || c.ctx == nil {
		return nil, "", time.Time{}, fmt.Errorf("%w", api.ErrNoActiveRun)
	}
	if ctx != nil {
		select {
		case <-ctx.Done():
			return nil, "", time.Time{}, ctx.Err()
		default:
		}
	}
	dep, name, startedAt := c.ctx.currentDeployment()
	if dep == nil {
		return nil, "", time.Time{}, fmt.Errorf("%w", api.ErrNoActiveRun)
	}
	return dep, name, startedAt, nil
}

func stressorReport(sup *engine.Supervisor, tracked StressorStatus) api.StressorReport {
	spec := sup.Spec()
	stats := sup.Snapshot()
	rep := api.StressorReport{
		Name:        spec.Name,
		State:       string(stats.State),
		LastEvent:   tracked.LastType,
		LastReason:  tracked.LastReason,
		Message:     tracked.Message,
		Workers:     spec.Workers,
		Live:        stats.Live,
		Started:     stats.Started,
		Restarts:    stats.Restarts,
		Failures:    stats.Failures,
		ForcedKills: stats.ForcedKills,
		BogoOps:     sup.BogoOps(),
		FirstSeen:   tracked.FirstSeen,
		UpdatedAt:   tracked.LastEvent,
		Status:      tracked.Outcome,
	}
	for _, r := range sup.Rates() {
		rep.Rates = append(rep.Rates, api.RateReport{Kind: r.Label, Value: r.Value})
	}
	return rep
}

func isDone(dep *engine.Deployment) bool {
	select {
	case <-dep.Done():
		return true
	default:
		return false
	}
}

var _ api.Controller = (*ControlAPI)(nil)
