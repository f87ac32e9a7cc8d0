package workload

import (
	"context"
	"errors"
	"testing"

	"github.com/Paintersrp/thrash/internal/shm"
)

func newRegion(t *testing.T, kinds int) *shm.Region {
	t.Helper()
	r, err := shm.Allocate(1, kinds)
	if err != nil {
		t.Skipf("memfd region unavailable: %v", err)
	}
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func counting(calls *int) Workload {
	return Func(func(ctx context.Context, m *shm.Metric) error {
		*calls++
		m.Add(0.001, 1)
		return nil
	})
}

func TestLoopStopsAtOpBudget(t *testing.T) {
	r := newRegion(t, 2)
	var a, b int
	set := &Set{Workloads: []Workload{counting(&a), counting(&b)}}

	passes, err := Loop(context.Background(), set, r, r.Slot(0), nil, 5)
	if err != nil {
		t.Fatalf("loop: %v", err)
	}
	if passes != 5 || a != 5 || b != 5 {
		t.Fatalf("expected 5 passes over both kinds, got passes=%d a=%d b=%d", passes, a, b)
	}
	if got := r.Slot(0).Bogo(); got != 5 {
		t.Fatalf("expected 5 bogo ops, got %d", got)
	}
	if got := r.Slot(0).Metric(1).Count; got != 5 {
		t.Fatalf("expected kind 1 count 5, got %v", got)
	}
}

func TestLoopNoNewPassAfterStop(t *testing.T) {
	r := newRegion(t, 2)
	var first, second int
	stopper := Func(func(ctx context.Context, m *shm.Metric) error {
		first++
		if first == 3 {
			r.Stop()
		}
		return nil
	})
	set := &Set{Workloads: []Workload{stopper, counting(&second)}}

	passes, err := Loop(context.Background(), set, r, r.Slot(0), nil, Unbounded)
	if err != nil {
		t.Fatalf("loop: %v", err)
	}
	if passes != 3 {
		t.Fatalf("expected in-flight pass to finish and no more, got %d passes", passes)
	}
	if first != 3 || second != 3 {
		t.Fatalf("expected 3 calls per kind, got %d and %d", first, second)
	}
}

func TestLoopHonoursContext(t *testing.T) {
	r := newRegion(t, 1)
	ctx, cancel := context.WithCancel(context.Background())
	var calls int
	set := &Set{Workloads: []Workload{Func(func(context.Context, *shm.Metric) error {
		calls++
		cancel()
		return nil
	})}}

	passes, err := Loop(ctx, set, r, r.Slot(0), nil, Unbounded)
	if err != nil {
		t.Fatalf("loop: %v", err)
	}
	if passes != 1 || calls != 1 {
		t.Fatalf("expected a single pass, got passes=%d calls=%d", passes, calls)
	}
}

func TestLoopSurfacesVerificationMismatch(t *testing.T) {
	r := newRegion(t, 1)
	set := &Set{Workloads: []Workload{Func(func(context.Context, *shm.Metric) error {
		return ErrVerificationMismatch
	})}}

	passes, err := Loop(context.Background(), set, r, r.Slot(0), []string{"uint64 atomic ops per sec"}, Unbounded)
	if !errors.Is(err, ErrVerificationMismatch) {
		t.Fatalf("expected verification mismatch, got %v", err)
	}
	if passes != 0 || r.Slot(0).Bogo() != 0 {
		t.Fatalf("expected failed pass to not count, got passes=%d", passes)
	}
}

func TestLoopZeroBudgetRunsNothing(t *testing.T) {
	r := newRegion(t, 1)
	var calls int
	set := &Set{Workloads: []Workload{counting(&calls)}}

	passes, err := Loop(context.Background(), set, r, r.Slot(0), nil, 0)
	if err != nil {
		t.Fatalf("loop: %v", err)
	}
	if passes != 0 || calls != 0 {
		t.Fatalf("expected no passes, got passes=%d calls=%d", passes, calls)
	}
}
