package report

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/Paintersrp/thrash/internal/shm"
)

func TestPublishCallsSinkOncePerKind(t *testing.T) {
	totals := []shm.Total{
		{Duration: 5, Count: 15, Rate: 3},
		{Duration: 0, Count: 10, Rate: 0},
	}
	var rec Recorder

	Publish(totals, []string{"uint64 atomic ops per sec"}, &rec)

	rates := rec.Rates()
	if len(rates) != 2 {
		t.Fatalf("expected 2 rates, got %d", len(rates))
	}
	if rates[0].Label != "uint64 atomic ops per sec" || rates[0].Value != 3 {
		t.Fatalf("unexpected first rate %+v", rates[0])
	}
	if rates[1].Label != "kind 1" || rates[1].Value != 0 {
		t.Fatalf("expected zero-duration kind to publish 0 under a default label, got %+v", rates[1])
	}
}

func TestPublishToleratesNilSink(t *testing.T) {
	Publish([]shm.Total{{Rate: 1}}, nil, nil)
}

func TestMultiFansOut(t *testing.T) {
	var a, b Recorder
	calls := 0
	m := Multi{&a, nil, &b, SinkFunc(func(int, string, float64) { calls++ })}

	m.Set(0, "x", 1.5)

	if len(a.Rates()) != 1 || len(b.Rates()) != 1 || calls != 1 {
		t.Fatalf("expected every sink to receive the rate")
	}
}

func TestRecorderReplacesKind(t *testing.T) {
	var rec Recorder
	rec.Set(0, "a", 1)
	rec.Set(0, "a", 2)
	if rates := rec.Rates(); len(rates) != 1 || rates[0].Value != 2 {
		t.Fatalf("expected last value to win, got %+v", rates)
	}
}

func TestBogoRateGuardsZeroElapsed(t *testing.T) {
	if got := (Result{BogoOps: 10}).BogoRate(); got != 0 {
		t.Fatalf("expected 0 for zero elapsed, got %v", got)
	}
	if got := (Result{BogoOps: 10, Elapsed: 2 * time.Second}).BogoRate(); got != 5 {
		t.Fatalf("expected 5 ops/s, got %v", got)
	}
}

func sampleResults() []Result {
	return []Result{
		{
			Stressor: "atomic",
			Status:   "success",
			Workers:  4,
			BogoOps:  1200,
			Restarts: 1,
			Elapsed:  10 * time.Second,
			Rates:    []Rate{{Kind: 0, Label: "uint64 atomic ops per sec", Value: 1234.5}},
		},
		{Stressor: "cgroup", Status: "skipped", Reason: "need to be running with CAP_SYS_ADMIN rights"},
	}
}

func TestTableRendersSummaryAndRates(t *testing.T) {
	var buf bytes.Buffer
	if err := Table(&buf, sampleResults()); err != nil {
		t.Fatalf("table: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"STRESSOR", "BOGO/S", "atomic", "success", "1200", "120.00", "uint64 atomic ops per sec", "1234.50", "CAP_SYS_ADMIN"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected table to contain %q, got:\n%s", want, out)
		}
	}
}

func TestJSONEncodesResults(t *testing.T) {
	var buf bytes.Buffer
	if err := JSON(&buf, sampleResults()); err != nil {
		t.Fatalf("json: %v", err)
	}
	var doc struct {
		Results []Result `json:"results"`
	}
	if err := json.Unmarshal(buf.Bytes(), &doc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(doc.Results) != 2 || doc.Results[0].Rates[0].Value != 1234.5 {
		t.Fatalf("unexpected decoded results %+v", doc.Results)
	}
}
