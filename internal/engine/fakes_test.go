package engine

import (
	"context"
	"os"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/Paintersrp/thrash/internal/runtime"
	"github.com/Paintersrp/thrash/internal/shm"
	"github.com/Paintersrp/thrash/internal/workload"
)

type fakeHandle struct {
	pid  int
	done chan struct{}
	logs chan runtime.LogEntry
	once sync.Once

	mu       sync.Mutex
	exit     runtime.Exit
	signals  []syscall.Signal
	onSignal func(sig syscall.Signal)
}

func newFakeHandle(pid int) *fakeHandle {
	return &fakeHandle{
		pid:  pid,
		done: make(chan struct{}),
		logs: make(chan runtime.LogEntry, 16),
	}
}

func (h *fakeHandle) Pid() int                      { return h.pid }
func (h *fakeHandle) Done() <-chan struct{}         { return h.done }
func (h *fakeHandle) Logs() <-chan runtime.LogEntry { return h.logs }

func (h *fakeHandle) Exit() runtime.Exit {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.exit
}

func (h *fakeHandle) Signal(sig syscall.Signal) error {
	h.mu.Lock()
	h.signals = append(h.signals, sig)
	fn := h.onSignal
	h.mu.Unlock()
	if fn != nil {
		fn(sig)
	}
	return nil
}

func (h *fakeHandle) sent() []syscall.Signal {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]syscall.Signal(nil), h.signals...)
}

func (h *fakeHandle) finish(exit runtime.Exit) {
	h.once.Do(func() {
		h.mu.Lock()
		h.exit = exit
		h.mu.Unlock()
		close(h.logs)
		close(h.done)
	})
}

func exitCode(code int) runtime.Exit { return runtime.Exit{Code: code} }

func exitSignal(sig syscall.Signal) runtime.Exit { return runtime.Exit{Code: -1, Signal: sig} }

type fakeSpawner struct {
	mu      sync.Mutex
	calls   int
	specs   []runtime.WorkerSpec
	handles []*fakeHandle

	// fail returns the error for a Spawn call, nil to succeed.
	fail func(call int) error
	// setup runs synchronously for each started worker, in start order.
	setup func(index int, spec runtime.WorkerSpec, h *fakeHandle)
}

func (f *fakeSpawner) Spawn(ctx context.Context, spec runtime.WorkerSpec, region *os.File) (runtime.Handle, error) {
	f.mu.Lock()
	call := f.calls
	f.calls++
	if f.fail != nil {
		if err := f.fail(call); err != nil {
			f.mu.Unlock()
			return nil, err
		}
	}
	index := len(f.specs)
	h := newFakeHandle(1000 + index)
	f.specs = append(f.specs, spec)
	f.handles = append(f.handles, h)
	setup := f.setup
	f.mu.Unlock()

	if setup != nil {
		setup(index, spec, h)
	}
	return h, nil
}

func (f *fakeSpawner) started() []runtime.WorkerSpec {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]runtime.WorkerSpec(nil), f.specs...)
}

func fakeStressor() workload.Stressor {
	return workload.Stressor{
		Name:  "fake",
		Kinds: []string{"fake ops per sec"},
		Open: func(workload.Env) (*workload.Set, error) {
			return &workload.Set{Workloads: []workload.Workload{workload.Func(func(ctx context.Context, m *shm.Metric) error {
				m.Add(0.5, 2)
				return nil
			})}}, nil
		},
	}
}

type testSupervisor struct {
	*Supervisor
	region *shm.Region
	sleeps []time.Duration
}

func newTestSupervisor(t *testing.T, cfg Config) *testSupervisor {
	t.Helper()
	if cfg.Stressor.Name == "" {
		cfg.Stressor = fakeStressor()
	}
	if cfg.Spec.KillGrace == 0 {
		cfg.Spec.KillGrace = 20 * time.Millisecond
	}
	if cfg.Spec.TermGrace == 0 {
		cfg.Spec.TermGrace = 20 * time.Millisecond
	}
	probe, err := shm.Allocate(1, 1)
	if err != nil {
		t.Skipf("memfd region unavailable: %v", err)
	}
	_ = probe.Close()

	ts := &testSupervisor{Supervisor: NewSupervisor(cfg)}
	ts.jitter = func(d time.Duration) time.Duration { return d }
	ts.sleep = func(ctx context.Context, d time.Duration) error {
		ts.sleeps = append(ts.sleeps, d)
		return ctx.Err()
	}
	ts.allocate = func(slots, kinds int) (*shm.Region, error) {
		r, err := shm.Allocate(slots, kinds)
		ts.region = r
		return r, err
	}
	return ts
}

// runWithTimeout runs the supervisor and fails the test if it does not
// return in time.
func (ts *testSupervisor) runWithTimeout(t *testing.T, ctx context.Context) Outcome {
	t.Helper()
	result := make(chan Outcome, 1)
	go func() { result <- ts.Run(ctx) }()
	select {
	case out := <-result:
		return out
	case <-time.After(10 * time.Second):
		t.Fatalf("supervisor did not finish")
		return Outcome{}
	}
}

func eventsOf(events chan Event) []Event {
	var out []Event
	for {
		select {
		case evt := <-events:
			out = append(out, evt)
		default:
			return out
		}
	}
}

func hasEvent(events []Event, typ EventType, reason string) bool {
	for _, evt := range events {
		if evt.Type == typ && (reason == "" || evt.Reason == reason) {
			return true
		}
	}
	return false
}
