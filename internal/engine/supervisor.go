package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/Paintersrp/thrash/internal/metrics"
	"github.com/Paintersrp/thrash/internal/report"
	"github.com/Paintersrp/thrash/internal/runtime"
	"github.com/Paintersrp/thrash/internal/shm"
	"github.com/Paintersrp/thrash/internal/workload"
)

const (
	defaultBackoffMin    = 10 * time.Millisecond
	defaultBackoffMax    = 2 * time.Second
	defaultBackoffFactor = 2.0
	defaultKillGrace     = time.Second
	defaultTermGrace     = 2 * time.Second
)

type restartPolicy struct {
	min    time.Duration
	max    time.Duration
	factor float64
}

func deriveRestartPolicy(b Backoff) restartPolicy {
	pol := restartPolicy{min: b.Min, max: b.Max, factor: b.Factor}
	if pol.min <= 0 {
		pol.min = defaultBackoffMin
	}
	if pol.max <= 0 {
		pol.max = defaultBackoffMax
	}
	if pol.max < pol.min {
		pol.max = pol.min
	}
	if pol.factor <= 1 {
		pol.factor = defaultBackoffFactor
	}
	return pol
}

func defaultJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	// Full jitter: random duration in [0, d].
	return time.Duration(rand.Float64() * float64(d))
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Config wires a Supervisor.
type Config struct {
	Spec     Spec
	Stressor workload.Stressor
	Spawner  runtime.Spawner
	// Events receives lifecycle and log events. Nil discards them; a non-nil
	// channel must be drained.
	Events chan<- Event
	State  StateSink
	Sink   report.Sink
	// Logger is handed to the in-process parent batch.
	Logger *slog.Logger
}

// Supervisor runs one stressor: it starts the worker processes, restarts
// workers lost to the OOM killer, escalates stragglers at shutdown and
// publishes the aggregated rates.
type Supervisor struct {
	spec     Spec
	stressor workload.Stressor
	spawner  runtime.Spawner
	events   chan<- Event
	state    StateSink
	sink     report.Sink
	logger   *slog.Logger

	policy restartPolicy

	jitter   func(time.Duration) time.Duration
	sleep    func(context.Context, time.Duration) error
	allocate func(slots, kinds int) (*shm.Region, error)
	now      func() time.Time

	mu         sync.RWMutex
	region     *shm.Region
	finalBogo  uint64
	finalRates []report.Rate
	stats      Stats
	records   map[int]*WorkerRecord
}

// NewSupervisor constructs a supervisor for cfg.
func NewSupervisor(cfg Config) *Supervisor {
	spec := cfg.Spec
	if spec.Name == "" {
		spec.Name = cfg.Stressor.Name
	}
	if spec.KillGrace <= 0 {
		spec.KillGrace = defaultKillGrace
	}
	if spec.TermGrace <= 0 {
		spec.TermGrace = defaultTermGrace
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Supervisor{
		spec:     spec,
		stressor: cfg.Stressor,
		spawner:  cfg.Spawner,
		events:   cfg.Events,
		state:    cfg.State,
		sink:     cfg.Sink,
		logger:   logger,
		policy:   deriveRestartPolicy(spec.Backoff),
		jitter:   defaultJitter,
		sleep:    sleepWithContext,
		allocate: shm.Allocate,
		now:      time.Now,
		stats:    Stats{State: StateInit},
		records:  make(map[int]*WorkerRecord),
	}
}

// Spec returns the effective run configuration.
func (s *Supervisor) Spec() Spec { return s.spec }

// Labels returns the metric kind labels of the stressor.
func (s *Supervisor) Labels() []string { return s.stressor.Kinds }

// BogoOps returns the completed passes summed across every slot. It is safe
// to call at any time, including after Run returns.
func (s *Supervisor) BogoOps() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.region != nil {
		return s.region.BogoOps()
	}
	return s.finalBogo
}

// Snapshot returns the current counters.
func (s *Supervisor) Snapshot() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats := s.stats
	stats.Live = len(s.records)
	return stats
}

// Rates returns the aggregated rates once every participant has been reaped.
// Metric fields are not safe to read while workers write them, so a live
// stressor reports nil; BogoOps is the live progress counter.
func (s *Supervisor) Rates() []report.Rate {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]report.Rate(nil), s.finalRates...)
}

// Workers returns the live worker records ordered by ordinal.
func (s *Supervisor) Workers() []WorkerRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]WorkerRecord, 0, len(s.records))
	for ordinal := 0; len(out) < len(s.records); ordinal++ {
		if rec, ok := s.records[ordinal]; ok {
			out = append(out, *rec)
		}
	}
	return out
}

// Run executes the stressor and blocks until every worker has been reaped.
func (s *Supervisor) Run(ctx context.Context) Outcome {
	start := s.now()
	out := s.run(ctx)
	out.Labels = s.stressor.Kinds
	out.Elapsed = s.now().Sub(start)
	s.setState(StateExit)
	out.Stats = s.Snapshot()
	return out
}

func (s *Supervisor) run(ctx context.Context) Outcome {
	if err := s.stressor.Probe(); err != nil {
		var unsupported *workload.UnsupportedError
		if errors.As(err, &unsupported) {
			s.emit(Event{Type: EventTypeSkipped, Ordinal: -1, Message: "stressor not supported: " + unsupported.Reason, Reason: ReasonUnsupported, Err: err})
			return Outcome{Status: StatusSkipped, Reason: unsupported.Reason}
		}
		s.emit(Event{Type: EventTypeSkipped, Ordinal: -1, Message: "support probe failed", Reason: ReasonNoResource, Level: "warn", Err: err})
		return Outcome{Status: StatusNoResource, Reason: err.Error()}
	}

	batch := 0
	if s.spec.ParentBatch {
		batch = 1
	}
	participants := s.spec.Workers + batch
	if participants <= 0 {
		s.emit(Event{Type: EventTypeSkipped, Ordinal: -1, Message: "no workers configured", Reason: ReasonNoResource, Level: "warn", Err: ErrNoWorkers})
		return Outcome{Status: StatusNoResource, Reason: ErrNoWorkers.Error()}
	}

	region, err := s.allocate(participants+s.spec.RestartBudget, len(s.stressor.Kinds))
	if err != nil {
		s.emit(Event{Type: EventTypeSkipped, Ordinal: -1, Message: "shared metrics region unavailable", Reason: ReasonNoResource, Level: "warn", Err: err})
		return Outcome{Status: StatusNoResource, Reason: err.Error()}
	}
	s.setRegion(region)
	defer s.releaseRegion()

	s.setState(StateRun)
	metrics.SetStressorRunning(s.spec.Name, true)
	defer metrics.SetStressorRunning(s.spec.Name, false)

	runCtx, cancel := ctx, context.CancelFunc(func() {})
	if s.spec.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, s.spec.Timeout)
	}
	defer cancel()

	r := &run{
		sup:        s,
		region:     region,
		ctx:        runCtx,
		parent:     ctx,
		shares:     splitOps(s.spec.Ops, participants),
		live:       make(map[int]*child),
		exits:      make(chan childExit, region.Slots()),
		terminated: make(chan bool, region.Slots()),
		nextSpare:  participants,
	}
	return r.execute()
}

// splitOps divides total passes across n participants, the remainder going
// to the first ones. Zero total means every participant is unbounded.
func splitOps(total uint64, n int) []uint64 {
	shares := make([]uint64, n)
	if n == 0 {
		return shares
	}
	if total == 0 {
		for i := range shares {
			shares[i] = workload.Unbounded
		}
		return shares
	}
	base, rem := total/uint64(n), total%uint64(n)
	for i := range shares {
		shares[i] = base
		if uint64(i) < rem {
			shares[i]++
		}
	}
	return shares
}

type child struct {
	handle      runtime.Handle
	ordinal     int
	attempt     int
	ops         uint64
	terminating bool
}

type childExit struct {
	child *child
	exit  runtime.Exit
}

// run is the state of one Supervisor.Run call. Only the Run goroutine touches
// it, apart from the channels.
type run struct {
	sup    *Supervisor
	region *shm.Region
	ctx    context.Context
	parent context.Context
	shares []uint64

	live       map[int]*child
	exits      chan childExit
	terminated chan bool
	parentDone chan error
	logWG      sync.WaitGroup

	nextSpare   int
	restarts    int
	terminating int
	stopping    bool
	failed      bool

	// completed counts participants that ran to the end of their share or
	// until stopped; noResource and unsupported count those that gave up.
	completed   int
	noResource  int
	unsupported int
}

func (r *run) execute() Outcome {
	s := r.sup
	for ordinal := 0; ordinal < s.spec.Workers; ordinal++ {
		if r.ctx.Err() != nil {
			break
		}
		_ = r.start(ordinal, r.shares[ordinal], 0, ReasonInitialStart)
	}
	if s.spec.Workers > 0 && len(r.live) == 0 {
		s.emit(Event{Type: EventTypeSkipped, Ordinal: -1, Message: "no worker could be started", Reason: ReasonNoResource, Level: "warn", Err: ErrNoWorkers})
		return Outcome{Status: StatusNoResource, Reason: ErrNoWorkers.Error()}
	}

	if s.spec.ParentBatch {
		ordinal := s.spec.Workers
		ops := r.shares[ordinal]
		r.parentDone = make(chan error, 1)
		go func() {
			r.parentDone <- s.runBatch(r.ctx, r.region, ordinal, ops)
		}()
	}

	r.loop()
	return r.finish()
}

func (r *run) loop() {
	s := r.sup
	var grace <-chan time.Time
	done := r.ctx.Done()

	for len(r.live) > 0 || r.parentDone != nil || r.terminating > 0 {
		select {
		case ex := <-r.exits:
			r.reap(ex)
		case err := <-r.parentDone:
			r.parentDone = nil
			r.batchFinished(err)
			if !r.stopping {
				grace = r.beginStop(ReasonParentBatch)
			}
		case <-done:
			done = nil
			if !r.stopping {
				reason := ReasonShutdown
				if r.parent.Err() == nil {
					reason = ReasonTimeout
				}
				grace = r.beginStop(reason)
			}
		case <-grace:
			grace = nil
			r.escalate()
		case forced := <-r.terminated:
			r.terminating--
			if forced {
				s.addForced()
			}
		}
	}
}

// beginStop clears the continue flag and starts the kill grace period.
func (r *run) beginStop(reason string) <-chan time.Time {
	s := r.sup
	r.stopping = true
	r.region.Stop()
	s.emit(Event{Type: EventTypeStopping, Ordinal: -1, Message: "stopping workers", Reason: reason})
	return time.After(s.spec.KillGrace)
}

// escalate terminates every worker still alive after the grace period.
func (r *run) escalate() {
	s := r.sup
	for _, c := range r.live {
		if c.terminating {
			continue
		}
		c.terminating = true
		r.terminating++
		s.setWorkerState(c.ordinal, WorkerStopping)
		go func(c *child) {
			forced, err := runtime.Terminate(context.Background(), c.handle, s.spec.TermGrace)
			if err != nil {
				s.emit(Event{Type: EventTypeFailed, Ordinal: c.ordinal, Pid: c.handle.Pid(), Attempt: c.attempt, Message: "terminate worker", Level: "error", Reason: ReasonEscalated, Err: err})
			}
			r.terminated <- forced
		}(c)
	}
}

func (r *run) start(ordinal int, ops uint64, attempt int, reason string) error {
	s := r.sup
	spec := runtime.WorkerSpec{
		RunID:     s.spec.RunID,
		Stressor:  s.stressor.Name,
		Ordinal:   ordinal,
		Ops:       ops,
		Options:   s.spec.Options,
		LogLevel:  s.spec.LogLevel,
		LogFormat: s.spec.LogFormat,
		ParentPid: os.Getpid(),
	}
	s.emit(Event{Type: EventTypeStarting, Ordinal: ordinal, Attempt: attempt, Message: "starting worker", Reason: reason})

	h, err := s.spawn(r.ctx, spec, r.region.File(), attempt)
	if err != nil {
		if r.ctx.Err() == nil {
			s.emit(Event{Type: EventTypeFailed, Ordinal: ordinal, Attempt: attempt, Message: "worker start failed, slot abandoned", Level: "error", Reason: ReasonStartFailure, Err: err})
		}
		return err
	}

	c := &child{handle: h, ordinal: ordinal, attempt: attempt, ops: ops}
	r.live[ordinal] = c
	s.trackStart(c, s.now())
	s.emit(Event{Type: EventTypeRunning, Ordinal: ordinal, Pid: h.Pid(), Attempt: attempt, Message: "worker running", Reason: reason})

	r.logWG.Add(1)
	go s.streamLogs(r.parent, c, &r.logWG)
	go func() {
		<-h.Done()
		r.exits <- childExit{child: c, exit: h.Exit()}
	}()
	return nil
}

// spawn starts a worker, retrying transient resource exhaustion with
// jittered exponential backoff until ctx ends.
func (s *Supervisor) spawn(ctx context.Context, spec runtime.WorkerSpec, region *os.File, attempt int) (runtime.Handle, error) {
	backoff := s.policy.min
	for {
		h, err := s.spawner.Spawn(ctx, spec, region)
		if err == nil {
			return h, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !transientSpawnError(err) {
			return nil, err
		}
		s.emit(Event{Type: EventTypeRestarting, Ordinal: spec.Ordinal, Attempt: attempt, Message: "transient spawn failure, retrying", Level: "warn", Reason: ReasonSpawnRetry, Err: err})
		if err := s.sleepBackoff(ctx, &backoff); err != nil {
			return nil, err
		}
	}
}

func transientSpawnError(err error) bool {
	return errors.Is(err, syscall.EAGAIN) || errors.Is(err, syscall.ENOMEM)
}

func (s *Supervisor) sleepBackoff(ctx context.Context, base *time.Duration) error {
	delay := *base
	if delay <= 0 {
		delay = s.policy.min
	}
	if delay > s.policy.max {
		delay = s.policy.max
	}

	jittered := s.jitter(delay)
	if jittered > s.policy.max {
		jittered = s.policy.max
	}
	if jittered < 0 {
		jittered = 0
	}

	if err := s.sleep(ctx, jittered); err != nil {
		return err
	}

	next := float64(delay) * s.policy.factor
	if math.IsInf(next, 0) || next > float64(s.policy.max) {
		*base = s.policy.max
		return nil
	}
	n := time.Duration(next)
	if n < s.policy.min {
		n = s.policy.min
	}
	*base = n
	return nil
}

func (r *run) reap(ex childExit) {
	s := r.sup
	c := ex.child
	delete(r.live, c.ordinal)
	s.dropRecord(c.ordinal)

	exit := ex.exit
	evt := Event{Ordinal: c.ordinal, Pid: c.handle.Pid(), Attempt: c.attempt}

	switch {
	case exit.Err != nil:
		evt.Type, evt.Message, evt.Err = EventTypeFailed, "wait for worker failed", exit.Err
		r.fail(evt)
	case exit.Signal == syscall.SIGKILL && !r.stopping && r.ctx.Err() == nil && !reportedFailure(exit):
		r.restart(c)
	case exit.Signaled():
		if r.stopping && (exit.Signal == syscall.SIGTERM || exit.Signal == syscall.SIGKILL) {
			evt.Type, evt.Message, evt.Reason = EventTypeExited, "worker stopped: "+exit.String(), ReasonShutdown
			r.completed++
			s.emit(evt)
			return
		}
		evt.Type, evt.Message, evt.Reason = EventTypeSignaled, "worker "+exit.String(), ReasonUnexpectedExit
		evt.Err = fmt.Errorf("worker %d %s", c.ordinal, exit)
		r.fail(evt)
	case exit.Code == runtime.ExitSuccess:
		evt.Type, evt.Message, evt.Reason = EventTypeExited, "worker finished", ReasonCompleted
		r.completed++
		s.emit(evt)
	case exit.Code == runtime.ExitFailure || exit.Code == runtime.ExitNotSuccess:
		evt.Type, evt.Message, evt.Reason = EventTypeFailed, "worker failed: "+exit.String(), ReasonWorkerFailure
		evt.Err = workerError(c.ordinal, exit)
		r.fail(evt)
	default:
		evt.Type, evt.Message, evt.Level = EventTypeExited, "worker gave up: "+exit.String(), "warn"
		evt.Err = workerError(c.ordinal, exit)
		if exit.Code == runtime.ExitNoResource {
			evt.Reason = ReasonNoResource
			r.noResource++
		} else {
			evt.Reason = ReasonUnsupported
			r.unsupported++
		}
		s.emit(evt)
	}
}

func reportedFailure(exit runtime.Exit) bool {
	return exit.Report != nil && exit.Report.Error != ""
}

func workerError(ordinal int, exit runtime.Exit) error {
	if exit.Report != nil && exit.Report.Error != "" {
		return fmt.Errorf("worker %d: %s", ordinal, exit.Report.Error)
	}
	return fmt.Errorf("worker %d: %s", ordinal, exit)
}

func (r *run) fail(evt Event) {
	r.failed = true
	r.sup.addFailure()
	if evt.Level == "" {
		evt.Level = "error"
	}
	r.sup.emit(evt)
}

// restart replaces a worker lost to SIGKILL on a fresh spare slot, handing it
// the unused part of the dead worker's pass budget.
func (r *run) restart(c *child) {
	s := r.sup
	remaining := r.remaining(c)
	if remaining == 0 {
		s.emit(Event{Type: EventTypeKilled, Ordinal: c.ordinal, Pid: c.handle.Pid(), Attempt: c.attempt, Level: "warn", Message: "worker killed after completing its pass budget", Reason: ReasonProbableOOM})
		r.completed++
		return
	}
	if r.restarts >= s.spec.RestartBudget {
		r.fail(Event{Type: EventTypeFailed, Ordinal: c.ordinal, Pid: c.handle.Pid(), Attempt: c.attempt, Message: "worker killed by SIGKILL, restart budget exhausted", Reason: ReasonBudgetExhausted})
		return
	}
	s.emit(Event{Type: EventTypeKilled, Ordinal: c.ordinal, Pid: c.handle.Pid(), Attempt: c.attempt, Level: "warn", Message: "worker killed by SIGKILL, assuming OOM killer, restarting", Reason: ReasonProbableOOM})

	ordinal := r.nextSpare
	r.nextSpare++
	r.restarts++
	s.addRestart()
	s.emit(Event{Type: EventTypeRestarting, Ordinal: ordinal, Attempt: c.attempt + 1, Message: fmt.Sprintf("replacing worker %d", c.ordinal), Reason: ReasonRestart})
	_ = r.start(ordinal, remaining, c.attempt+1, ReasonRestart)
}

func (r *run) remaining(c *child) uint64 {
	if c.ops == workload.Unbounded {
		return workload.Unbounded
	}
	used := r.region.Slot(c.ordinal).Bogo()
	if used >= c.ops {
		return 0
	}
	return c.ops - used
}

func (r *run) batchFinished(err error) {
	s := r.sup
	ordinal := s.spec.Workers
	if err != nil {
		r.fail(Event{Type: EventTypeFailed, Ordinal: ordinal, Pid: os.Getpid(), Message: "parent batch failed", Reason: ReasonWorkerFailure, Err: err})
		return
	}
	r.completed++
	s.emit(Event{Type: EventTypeExited, Ordinal: ordinal, Pid: os.Getpid(), Message: "parent batch finished", Reason: ReasonParentBatch})
}

func (r *run) finish() Outcome {
	s := r.sup
	r.logWG.Wait()
	s.setState(StateDeinit)

	totals := shm.Aggregate(r.region)
	var rec report.Recorder
	report.Publish(totals, s.stressor.Kinds, report.Multi{s.sink, &rec})
	s.mu.Lock()
	s.finalRates = rec.Rates()
	s.mu.Unlock()
	bogo := r.region.BogoOps()
	metrics.SetBogoOps(s.spec.Name, bogo)

	out := Outcome{
		Status:   StatusSuccess,
		Totals:   totals,
		BogoOps:  bogo,
		Timeouts: shm.Timeouts(r.region),
	}
	switch {
	case r.failed:
		out.Status = StatusFailure
		out.Reason = fmt.Sprintf("%d worker failures", s.Snapshot().Failures)
	case r.completed == 0 && r.noResource > 0:
		out.Status = StatusNoResource
		out.Reason = fmt.Sprintf("%d workers gave up for lack of resources", r.noResource)
	case r.completed == 0 && r.unsupported > 0:
		out.Status = StatusSkipped
		out.Reason = fmt.Sprintf("%d workers reported the stressor unsupported", r.unsupported)
	}
	s.emit(Event{Type: EventTypeStopped, Ordinal: -1, Message: fmt.Sprintf("stressor stopped: %s, %d bogo ops", out.Status, bogo), Reason: ReasonCompleted})
	return out
}

// runBatch runs one participant inside the supervisor process.
func (s *Supervisor) runBatch(ctx context.Context, region *shm.Region, ordinal int, ops uint64) error {
	slot := region.Slot(ordinal)
	slot.SetPid(os.Getpid())
	logger := s.logger.With(slog.String("stressor", s.stressor.Name), slog.Int("ordinal", ordinal))
	set, err := s.stressor.Open(workload.Env{
		Ordinal: ordinal,
		Region:  region,
		Slot:    slot,
		Logger:  logger,
		Options: s.spec.Options,
	})
	if err != nil {
		return fmt.Errorf("open parent batch: %w", err)
	}
	_, err = workload.Loop(ctx, set, region, slot, s.stressor.Kinds, ops)
	if cerr := set.Close(); cerr != nil {
		logger.Warn("close stressor", "err", cerr)
	}
	return err
}

func (s *Supervisor) emit(evt Event) {
	evt.RunID = s.spec.RunID
	evt.Stressor = s.spec.Name
	sendEvent(s.events, evt)
}

func (s *Supervisor) setState(state ProcState) {
	s.mu.Lock()
	s.stats.State = state
	s.mu.Unlock()
	if s.state != nil {
		s.state.SetState(s.spec.Name, state)
	}
}

func (s *Supervisor) setRegion(region *shm.Region) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.region = region
	s.finalRates = nil
}

// releaseRegion snapshots the bogo total and unmaps the region.
func (s *Supervisor) releaseRegion() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.region == nil {
		return
	}
	s.finalBogo = s.region.BogoOps()
	if err := s.region.Close(); err != nil {
		s.logger.Warn("release shared region", "err", err)
	}
	s.region = nil
}

func (s *Supervisor) trackStart(c *child, at time.Time) {
	s.mu.Lock()
	s.stats.Started++
	s.records[c.ordinal] = &WorkerRecord{
		Pid:       c.handle.Pid(),
		Ordinal:   c.ordinal,
		Attempt:   c.attempt,
		State:     WorkerRunning,
		StartedAt: at,
	}
	s.mu.Unlock()
	metrics.IncrementWorkerStarts(s.spec.Name)
}

func (s *Supervisor) setWorkerState(ordinal int, state WorkerState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.records[ordinal]; ok {
		rec.State = state
	}
}

func (s *Supervisor) dropRecord(ordinal int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, ordinal)
}

func (s *Supervisor) addRestart() {
	s.mu.Lock()
	s.stats.Restarts++
	s.mu.Unlock()
	metrics.IncrementWorkerRestarts(s.spec.Name)
}

func (s *Supervisor) addFailure() {
	s.mu.Lock()
	s.stats.Failures++
	s.mu.Unlock()
	metrics.IncrementWorkerFailures(s.spec.Name)
}

func (s *Supervisor) addForced() {
	s.mu.Lock()
	s.stats.ForcedKills++
	s.mu.Unlock()
	metrics.AddForcedKills(s.spec.Name, 1)
}
