// Package deadline bounds sequences of blocking operations with a soft,
// cooperative wall-clock budget.
//
// A Budget is checked between suspension points only. A call already blocked
// inside the kernel (a hung device open or read) cannot be interrupted; the
// guard only stops further work from being queued once the threshold is
// crossed.
package deadline

import (
	"errors"
	"time"

	"github.com/Paintersrp/thrash/internal/clock"
)

// ErrExceeded reports that a budget crossed its threshold and the unit of work
// was abandoned.
var ErrExceeded = errors.New("deadline exceeded")

// DefaultThreshold matches the per-device bound used by the device stressor.
const DefaultThreshold = 250 * time.Millisecond

// Guard creates budgets with a shared threshold.
type Guard struct {
	Threshold time.Duration
	Clock     clock.Clock
}

// New returns a guard using the real clock.
func New(threshold time.Duration) Guard {
	return Guard{Threshold: threshold, Clock: clock.Real()}
}

// Budget tracks the elapsed time of one guarded unit of work.
type Budget struct {
	clock     clock.Clock
	start     time.Time
	threshold time.Duration
	abandoned bool
}

// Begin records the start of a unit of work.
func (g Guard) Begin() *Budget {
	c := g.Clock
	if c == nil {
		c = clock.Real()
	}
	threshold := g.Threshold
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Budget{clock: c, start: c.Now(), threshold: threshold}
}

// Elapsed returns the time since Begin.
func (b *Budget) Elapsed() time.Duration {
	return b.clock.Now().Sub(b.start)
}

// Exceeded reports whether the elapsed time is strictly greater than the
// threshold.
func (b *Budget) Exceeded() bool {
	return b.Elapsed() > b.threshold
}

// Abandoned reports whether Do has already detected exceedance.
func (b *Budget) Abandoned() bool { return b.abandoned }

// Do runs one suspension point and checks the budget afterwards. Once a
// check fails the budget is abandoned and every later call returns
// ErrExceeded without running step. Errors from step are returned as-is.
func (b *Budget) Do(step func() error) error {
	if b.abandoned {
		return ErrExceeded
	}
	err := step()
	if b.Exceeded() {
		b.abandoned = true
		if err != nil {
			return errors.Join(ErrExceeded, err)
		}
		return ErrExceeded
	}
	return err
}
