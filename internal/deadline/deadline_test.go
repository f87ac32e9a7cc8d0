package deadline

import (
	"errors"
	"testing"
	"time"

	"github.com/Paintersrp/thrash/internal/clock"
)

func TestBudgetAbandonsAfterThirdStep(t *testing.T) {
	fake := clock.Fake(time.Unix(0, 0))
	guard := Guard{Threshold: 250 * time.Millisecond, Clock: fake}
	budget := guard.Begin()

	ran := 0
	step := func() error {
		ran++
		fake.Advance(100 * time.Millisecond)
		return nil
	}

	for i := 1; i <= 2; i++ {
		if err := budget.Do(step); err != nil {
			t.Fatalf("step %d: expected no error, got %v", i, err)
		}
	}
	if budget.Exceeded() {
		t.Fatalf("expected 0.2s to stay within a 0.25s budget")
	}

	if err := budget.Do(step); !errors.Is(err, ErrExceeded) {
		t.Fatalf("expected ErrExceeded after third step, got %v", err)
	}
	if !budget.Abandoned() {
		t.Fatalf("expected budget to be abandoned")
	}

	if err := budget.Do(step); !errors.Is(err, ErrExceeded) {
		t.Fatalf("expected ErrExceeded for step after abandonment, got %v", err)
	}
	if ran != 3 {
		t.Fatalf("expected 3 steps to run, got %d", ran)
	}
}

func TestBudgetExactThresholdIsNotExceeded(t *testing.T) {
	fake := clock.Fake(time.Unix(0, 0))
	budget := Guard{Threshold: time.Second, Clock: fake}.Begin()
	fake.Advance(time.Second)
	if budget.Exceeded() {
		t.Fatalf("expected elapsed == threshold to be within budget")
	}
	fake.Advance(time.Nanosecond)
	if !budget.Exceeded() {
		t.Fatalf("expected elapsed > threshold to exceed budget")
	}
}

func TestBudgetDoJoinsStepError(t *testing.T) {
	fake := clock.Fake(time.Unix(0, 0))
	budget := Guard{Threshold: 10 * time.Millisecond, Clock: fake}.Begin()
	boom := errors.New("boom")

	err := budget.Do(func() error {
		fake.Advance(time.Second)
		return boom
	})
	if !errors.Is(err, ErrExceeded) || !errors.Is(err, boom) {
		t.Fatalf("expected joined ErrExceeded and step error, got %v", err)
	}
}

func TestGuardDefaultsThreshold(t *testing.T) {
	fake := clock.Fake(time.Unix(0, 0))
	budget := Guard{Clock: fake}.Begin()
	fake.Advance(DefaultThreshold)
	if budget.Exceeded() {
		t.Fatalf("expected default threshold of %s", DefaultThreshold)
	}
}
