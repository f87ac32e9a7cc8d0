package shm

import (
	"errors"
	"sync"
	"testing"
)

func allocate(t *testing.T, slots, kinds int) *Region {
	t.Helper()
	r, err := Allocate(slots, kinds)
	if err != nil {
		t.Skipf("memfd region unavailable: %v", err)
	}
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func TestAllocateRejectsEmptyGeometry(t *testing.T) {
	if _, err := Allocate(0, 1); !errors.Is(err, ErrNoResource) {
		t.Fatalf("expected ErrNoResource, got %v", err)
	}
}

func TestAllocateStartsZeroedAndRunning(t *testing.T) {
	r := allocate(t, 3, 4)
	if !r.Running() {
		t.Fatalf("expected continue flag to be set")
	}
	for i := 0; i < r.Slots(); i++ {
		s := r.Slot(i)
		for k := 0; k < r.Kinds(); k++ {
			if m := s.Metric(k); m.Duration != 0 || m.Count != 0 {
				t.Fatalf("slot %d kind %d: expected zero metric, got %+v", i, k, *m)
			}
		}
		if s.Bogo() != 0 || s.Timeouts() != 0 || s.Pid() != 0 {
			t.Fatalf("slot %d: expected zero counters", i)
		}
	}
}

func TestStopClearsFlag(t *testing.T) {
	r := allocate(t, 1, 1)
	r.Stop()
	if r.Running() {
		t.Fatalf("expected continue flag to be cleared")
	}
	r.Continue()
	if !r.Running() {
		t.Fatalf("expected continue flag to be set again")
	}
}

func TestSlotIsolation(t *testing.T) {
	const workers, kinds, steps = 8, 3, 500
	r := allocate(t, workers, kinds)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(ordinal int) {
			defer wg.Done()
			s := r.Slot(ordinal)
			for i := 0; i < steps; i++ {
				for k := 0; k < kinds; k++ {
					s.Metric(k).Add(float64(ordinal+1), float64(k+1))
				}
				s.AddBogo(1)
			}
		}(w)
	}
	wg.Wait()

	for w := 0; w < workers; w++ {
		s := r.Slot(w)
		for k := 0; k < kinds; k++ {
			m := s.Metric(k)
			if want := float64((w + 1) * steps); m.Duration != want {
				t.Fatalf("slot %d kind %d: expected duration %v, got %v", w, k, want, m.Duration)
			}
			if want := float64((k + 1) * steps); m.Count != want {
				t.Fatalf("slot %d kind %d: expected count %v, got %v", w, k, want, m.Count)
			}
		}
	}
	if got := r.BogoOps(); got != workers*steps {
		t.Fatalf("expected %d bogo ops, got %d", workers*steps, got)
	}
}

func TestOpenSharesMapping(t *testing.T) {
	r := allocate(t, 2, 2)
	peer, err := Open(r.File())
	if err != nil {
		t.Fatalf("open region: %v", err)
	}
	defer func() {
		// Shares r's file; only unmap.
		peer.file = nil
		_ = peer.Close()
	}()

	if peer.Slots() != 2 || peer.Kinds() != 2 {
		t.Fatalf("expected 2x2 geometry, got %dx%d", peer.Slots(), peer.Kinds())
	}
	peer.Slot(1).Metric(1).Add(1.5, 3)
	peer.Slot(1).AddTimeout()
	*peer.Word(0) = 42

	if m := r.Slot(1).Metric(1); m.Duration != 1.5 || m.Count != 3 {
		t.Fatalf("expected write through peer mapping, got %+v", *m)
	}
	if Timeouts(r) != 1 {
		t.Fatalf("expected 1 timeout, got %d", Timeouts(r))
	}
	if *r.Word(0) != 42 {
		t.Fatalf("expected scratch word to be shared")
	}

	r.Stop()
	if peer.Running() {
		t.Fatalf("expected peer to observe cleared flag")
	}
}
