package workload

import (
	"context"
	"fmt"

	"github.com/Paintersrp/thrash/internal/shm"
)

// Unbounded is the pass budget of a worker limited only by time.
const Unbounded = ^uint64(0)

// Loop runs full passes over set until ctx is cancelled, the region's continue
// flag is cleared, or ops passes have completed.
// Each completed pass adds one bogo op to slot. The checks happen between
// passes only; a pass already in flight runs to completion.
//
// Loop returns the number of passes completed. A workload error ends the loop
// and is returned wrapped with the kind label.
func Loop(ctx context.Context, set *Set, region *shm.Region, slot shm.Slot, labels []string, ops uint64) (uint64, error) {
	var passes uint64
	for {
		if ctx.Err() != nil || !region.Running() {
			return passes, nil
		}
		if passes >= ops {
			return passes, nil
		}
		for kind, w := range set.Workloads {
			if err := w.Run(ctx, slot.Metric(kind)); err != nil {
				return passes, fmt.Errorf("%s: %w", label(labels, kind), err)
			}
		}
		slot.AddBogo(1)
		passes++
	}
}

func label(labels []string, kind int) string {
	if kind < len(labels) {
		return labels[kind]
	}
	return fmt.Sprintf("kind %d", kind)
}
