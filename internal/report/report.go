// Package report turns aggregated region totals into published rates and
// renders run summaries.
package report

import (
	"fmt"
	"sync"
	"time"

	"github.com/Paintersrp/thrash/internal/shm"
)

// Sink receives one throughput rate per metric kind.
type Sink interface {
	Set(kind int, label string, rate float64)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(kind int, label string, rate float64)

// Set calls f.
func (f SinkFunc) Set(kind int, label string, rate float64) { f(kind, label, rate) }

// Publish calls sink.Set once per kind with the aggregated rate. Kinds
// without a label are published as "kind N".
func Publish(totals []shm.Total, labels []string, sink Sink) {
	if sink == nil {
		return
	}
	for kind, total := range totals {
		sink.Set(kind, label(labels, kind), total.Rate)
	}
}

func label(labels []string, kind int) string {
	if kind < len(labels) && labels[kind] != "" {
		return labels[kind]
	}
	return fmt.Sprintf("kind %d", kind)
}

// Multi fans out to every sink.
type Multi []Sink

// Set forwards to each non-nil sink.
func (m Multi) Set(kind int, label string, rate float64) {
	for _, s := range m {
		if s != nil {
			s.Set(kind, label, rate)
		}
	}
}

// Rate is one published metric.
type Rate struct {
	Kind  int     `json:"kind"`
	Label string  `json:"label"`
	Value float64 `json:"value"`
}

// Recorder keeps published rates in kind order.
type Recorder struct {
	mu    sync.Mutex
	rates []Rate
}

// Set records the rate, replacing an earlier value for the same kind.
func (r *Recorder) Set(kind int, label string, rate float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.rates {
		if r.rates[i].Kind == kind {
			r.rates[i] = Rate{Kind: kind, Label: label, Value: rate}
			return
		}
	}
	r.rates = append(r.rates, Rate{Kind: kind, Label: label, Value: rate})
}

// Rates returns a copy of the recorded rates.
func (r *Recorder) Rates() []Rate {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Rate(nil), r.rates...)
}

// Result summarises one stressor run.
type Result struct {
	RunID       string        `json:"runId"`
	Stressor    string        `json:"stressor"`
	Status      string        `json:"status"`
	Reason      string        `json:"reason,omitempty"`
	Workers     int           `json:"workers"`
	BogoOps     uint64        `json:"bogoOps"`
	Timeouts    uint64        `json:"timeouts"`
	Restarts    int           `json:"restarts"`
	Failures    int           `json:"failures"`
	ForcedKills int           `json:"forcedKills"`
	Elapsed     time.Duration `json:"elapsed"`
	Rates       []Rate        `json:"rates"`
}

// BogoRate returns completed passes per second of wall time.
func (r Result) BogoRate() float64 {
	if r.Elapsed <= 0 {
		return 0
	}
	return float64(r.BogoOps) / r.Elapsed.Seconds()
}
