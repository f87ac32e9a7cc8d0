package config

import (
	"testing"
	"time"

	"github.com/Paintersrp/thrash/internal/codec"
	"github.com/Paintersrp/thrash/internal/workload/atomic"
	"github.com/Paintersrp/thrash/internal/workload/cgroup"
	"github.com/Paintersrp/thrash/internal/workload/devfs"
)

func TestEncodeDevOptionsOverlaysDefaults(t *testing.T) {
	threads := 0
	data, err := EncodeOptions(devfs.Name, &StressorSpec{Dev: &DevSpec{
		Root:      "/tmp/dev",
		Threads:   &threads,
		Threshold: Duration{Duration: 100 * time.Millisecond},
	}})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var got devfs.Options
	if err := codec.Unmarshal(data, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := devfs.DefaultOptions()
	if got.Root != "/tmp/dev" || got.Threads != 0 || got.Threshold != 100*time.Millisecond {
		t.Fatalf("expected overrides to apply, got %+v", got)
	}
	if got.MaxDepth != want.MaxDepth || got.Sysfs != want.Sysfs || got.OpenTimeout != want.OpenTimeout {
		t.Fatalf("expected defaults for unset fields, got %+v", got)
	}
}

func TestEncodeCgroupOptions(t *testing.T) {
	data, err := EncodeOptions(cgroup.Name, &StressorSpec{Cgroup: &CgroupSpec{MemoryMax: "64M", CPUMax: "500m"}})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var got cgroup.Options
	if err := codec.Unmarshal(data, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.MemoryMax != "64M" || got.CPUMax != "500m" || got.MemoryHigh != cgroup.DefaultOptions().MemoryHigh {
		t.Fatalf("unexpected cgroup options %+v", got)
	}
}

func TestEncodeOptionsWithoutBlock(t *testing.T) {
	for _, name := range []string{atomic.Name, devfs.Name, cgroup.Name, "other"} {
		data, err := EncodeOptions(name, &StressorSpec{})
		if err != nil || data != nil {
			t.Fatalf("%s: expected no options, got %v, %v", name, data, err)
		}
	}
	if data, err := EncodeOptions(atomic.Name, nil); err != nil || data != nil {
		t.Fatalf("expected nil spec to encode nothing, got %v, %v", data, err)
	}
}
