package shm

// Total is the sum of one metric kind across all slots.
type Total struct {
	Duration float64
	Count    float64
	Rate     float64
}

// Aggregate sums every slot per kind. Call it only after all writers have
// been reaped.
func Aggregate(r *Region) []Total {
	slots := make([]Slot, r.Slots())
	for i := range slots {
		slots[i] = r.Slot(i)
	}
	return Sum(r.Kinds(), slots...)
}

// Sum totals the given slots per kind. Rate is zero when Duration is zero.
func Sum(kinds int, slots ...Slot) []Total {
	totals := make([]Total, kinds)
	for _, s := range slots {
		for k := 0; k < kinds && k < s.Kinds(); k++ {
			m := s.Metric(k)
			totals[k].Duration += m.Duration
			totals[k].Count += m.Count
		}
	}
	for k := range totals {
		totals[k].Rate = rate(totals[k].Count, totals[k].Duration)
	}
	return totals
}

// Timeouts sums the abandoned unit counters across all slots.
func Timeouts(r *Region) uint64 {
	var total uint64
	for i := 0; i < r.Slots(); i++ {
		total += r.Slot(i).Timeouts()
	}
	return total
}

func rate(count, duration float64) float64 {
	if duration > 0 {
		return count / duration
	}
	return 0
}
