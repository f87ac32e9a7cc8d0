package shm

import "testing"

func TestAggregateSumsSlots(t *testing.T) {
	r := allocate(t, 2, 1)
	r.Slot(0).Metric(0).Add(2.0, 10)
	r.Slot(1).Metric(0).Add(3.0, 5)

	totals := Aggregate(r)
	if len(totals) != 1 {
		t.Fatalf("expected 1 total, got %d", len(totals))
	}
	got := totals[0]
	if got.Duration != 5.0 || got.Count != 15 || got.Rate != 3.0 {
		t.Fatalf("expected {5 15 3}, got %+v", got)
	}
}

func TestAggregateZeroDurationRate(t *testing.T) {
	r := allocate(t, 4, 3)
	for _, total := range Aggregate(r) {
		if total.Rate != 0 {
			t.Fatalf("expected zero rate, got %+v", total)
		}
	}
}

func TestAggregateCountWithoutDuration(t *testing.T) {
	r := allocate(t, 1, 1)
	r.Slot(0).Metric(0).Count = 7
	if total := Aggregate(r)[0]; total.Rate != 0 || total.Count != 7 {
		t.Fatalf("expected count 7 and zero rate, got %+v", total)
	}
}

func TestAggregatePerKind(t *testing.T) {
	r := allocate(t, 3, 2)
	for i := 0; i < 3; i++ {
		r.Slot(i).Metric(0).Add(1, 4)
		r.Slot(i).Metric(1).Add(0.5, 1)
	}
	totals := Aggregate(r)
	if totals[0].Rate != 4 {
		t.Fatalf("kind 0: expected rate 4, got %v", totals[0].Rate)
	}
	if totals[1].Duration != 1.5 || totals[1].Count != 3 || totals[1].Rate != 2 {
		t.Fatalf("kind 1: expected {1.5 3 2}, got %+v", totals[1])
	}
}
