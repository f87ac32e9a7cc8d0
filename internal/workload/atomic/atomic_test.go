package atomic

import (
	"context"
	"sync"
	"testing"
	"unsafe"

	"github.com/Paintersrp/thrash/internal/codec"
	"github.com/Paintersrp/thrash/internal/shm"
	"github.com/Paintersrp/thrash/internal/workload"
)

func openSet(t *testing.T, slots, rounds int) (*shm.Region, *workload.Set) {
	t.Helper()
	region, err := shm.Allocate(slots, len(Kinds))
	if err != nil {
		t.Skipf("memfd region unavailable: %v", err)
	}
	t.Cleanup(func() { _ = region.Close() })

	raw, err := codec.Marshal(Options{Rounds: rounds})
	if err != nil {
		t.Fatalf("marshal options: %v", err)
	}
	set, err := Open(workload.Env{Region: region, Slot: region.Slot(0), Options: raw})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	return region, set
}

func TestRunCountsOpsPerKind(t *testing.T) {
	region, set := openSet(t, 1, 10)
	if len(set.Workloads) != len(Kinds) {
		t.Fatalf("expected %d workloads, got %d", len(Kinds), len(set.Workloads))
	}

	slot := region.Slot(0)
	for kind, w := range set.Workloads {
		if err := w.Run(context.Background(), slot.Metric(kind)); err != nil {
			t.Fatalf("kind %d: %v", kind, err)
		}
		m := slot.Metric(kind)
		if m.Count != 10*OpsPerCall {
			t.Fatalf("kind %d: expected count %d, got %v", kind, 10*OpsPerCall, m.Count)
		}
		if m.Duration < 0 {
			t.Fatalf("kind %d: negative duration %v", kind, m.Duration)
		}
	}

	for i := 0; i < len(Kinds)*wordsPerKind; i++ {
		if got := *region.Word(i); got != 0 {
			t.Fatalf("word %d: expected cleared word, got %#x", i, got)
		}
	}
}

func TestConcurrentSequencesVerify(t *testing.T) {
	region, _ := openSet(t, 4, 1)

	var wg sync.WaitGroup
	errs := make(chan error, 4*len(Kinds))
	for w := 0; w < 4; w++ {
		set, err := Open(workload.Env{Region: region, Slot: region.Slot(w)})
		if err != nil {
			t.Fatalf("open: %v", err)
		}
		wg.Add(1)
		go func(ordinal int, set *workload.Set) {
			defer wg.Done()
			slot := region.Slot(ordinal)
			for kind, wl := range set.Workloads {
				if err := wl.Run(context.Background(), slot.Metric(kind)); err != nil {
					errs <- err
				}
			}
		}(w, set)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("unexpected verification error: %v", err)
	}

	totals := shm.Aggregate(region)
	for kind, total := range totals {
		if want := float64(4 * DefaultRounds * OpsPerCall); total.Count != want {
			t.Fatalf("kind %d: expected %v ops, got %v", kind, want, total.Count)
		}
	}
}

func TestNandAndXor(t *testing.T) {
	o := ops[uint32]{load: func(p *uint32) uint32 { return *p }, cas: func(p *uint32, old, new uint32) bool {
		if *p != old {
			return false
		}
		*p = new
		return true
	}}
	v := uint32(0xF0)
	o.xor(&v, 0xFF)
	if v != 0x0F {
		t.Fatalf("expected xor result 0x0f, got %#x", v)
	}
	o.nand(&v, 0x0F)
	if v != ^uint32(0x0F) {
		t.Fatalf("expected nand result %#x, got %#x", ^uint32(0x0F), v)
	}
}

func TestRegistered(t *testing.T) {
	s, ok := workload.Lookup(Name)
	if !ok {
		t.Fatalf("expected %s to be registered", Name)
	}
	if len(s.Kinds) != 4 {
		t.Fatalf("expected 4 kinds, got %d", len(s.Kinds))
	}
}

func TestLaneOpsLeaveNeighboursAlone(t *testing.T) {
	word := new(uint64)
	base := unsafe.Pointer(word)
	o := laneOps[uint8]()
	lanes := make([]*uint8, 8)
	for i := range lanes {
		lanes[i] = (*uint8)(unsafe.Add(base, i))
		o.store(lanes[i], uint8(i+1))
	}
	o.add(lanes[2], 0xFE)
	o.and(lanes[5], 0x02)
	o.or(lanes[7], 0xF0)
	if !o.cas(lanes[0], 1, 0x80) || o.cas(lanes[0], 1, 0x81) {
		t.Fatalf("expected cas to succeed once")
	}

	want := []uint8{0x80, 2, 1, 4, 5, 2, 7, 0xF8}
	for i, p := range lanes {
		if got := o.load(p); got != want[i] {
			t.Fatalf("lane %d: expected %#x, got %#x", i, want[i], got)
		}
	}
}

func TestLaneOpsConcurrentAdds(t *testing.T) {
	word := new(uint64)
	o := laneOps[uint16]()
	lanes := []*uint16{(*uint16)(unsafe.Pointer(word)), (*uint16)(unsafe.Add(unsafe.Pointer(word), 2))}

	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func(p *uint16) {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				o.add(p, 1)
			}
		}(lanes[g%2])
	}
	wg.Wait()

	for i, p := range lanes {
		if got := o.load(p); got != 2000 {
			t.Fatalf("lane %d: expected 2000, got %d", i, got)
		}
	}
}
