package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeManifest(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	return path
}

func TestLoadValidManifest(t *testing.T) {
	t.Setenv("THRASH_DEV_ROOT", "/tmp/devroot")
	path := writeManifest(t, "thrash.yaml", `version: "1"
run:
  name: nightly
  workers: 2
  timeout: 30s
  restartBudget: 4
  killGrace: 500ms
  metricsAddr: 127.0.0.1:9100
  backoff:
    min: 5ms
    max: 1s
    factor: 1.5
stressors:
  atomic:
    ops: 1000
    atomic:
      rounds: 50
  dev:
    workers: 1
    timeout: 10s
    dev:
      root: ${THRASH_DEV_ROOT}
      sysfs: ${THRASH_SYSFS:-/sys}
      threads: 2
      threshold: 100ms
`)

	doc, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if doc.Run.Name != "nightly" || *doc.Run.Workers != 2 || doc.Run.Timeout.Duration != 30*time.Second {
		t.Fatalf("unexpected run section %+v", doc.Run)
	}
	if doc.Run.KillGrace.Duration != 500*time.Millisecond || doc.Run.Backoff.Factor != 1.5 {
		t.Fatalf("unexpected grace or backoff: %+v", doc.Run)
	}

	atomicSpec := doc.Stressors["atomic"]
	if *atomicSpec.Workers != 2 || *atomicSpec.Ops != 1000 || *atomicSpec.RestartBudget != 4 {
		t.Fatalf("expected atomic to inherit run settings, got workers=%d ops=%d budget=%d", *atomicSpec.Workers, *atomicSpec.Ops, *atomicSpec.RestartBudget)
	}
	if atomicSpec.Timeout.Duration != 30*time.Second {
		t.Fatalf("expected inherited timeout, got %v", atomicSpec.Timeout.Duration)
	}

	dev := doc.Stressors["dev"]
	if *dev.Workers != 1 || dev.Timeout.Duration != 10*time.Second {
		t.Fatalf("expected dev overrides, got workers=%d timeout=%v", *dev.Workers, dev.Timeout.Duration)
	}
	if dev.Dev.Root != "/tmp/devroot" || dev.Dev.Sysfs != "/sys" {
		t.Fatalf("expected env expansion, got root=%q sysfs=%q", dev.Dev.Root, dev.Dev.Sysfs)
	}
	if got := doc.StressorsSorted(); strings.Join(got, ",") != "atomic,dev" {
		t.Fatalf("unexpected stressor order %v", got)
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeManifest(t, "thrash.yaml", "stressors:\n  atomic:\n")

	doc, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if doc.Version != Version {
		t.Fatalf("expected version %q, got %q", Version, doc.Version)
	}
	if *doc.Run.Workers != DefaultWorkers || !*doc.Run.ParentBatch || *doc.Run.RestartBudget != DefaultWorkers {
		t.Fatalf("unexpected defaults %+v", doc.Run)
	}
	if doc.Run.Timeout.Duration != DefaultTimeout {
		t.Fatalf("expected default timeout without an op budget, got %v", doc.Run.Timeout.Duration)
	}
	st := doc.Stressors["atomic"]
	if st == nil || *st.Workers != DefaultWorkers || *st.Ops != 0 {
		t.Fatalf("expected null stressor to be defaulted, got %+v", st)
	}
}

func TestLoadOpBudgetSkipsDefaultTimeout(t *testing.T) {
	path := writeManifest(t, "thrash.yaml", "run:\n  ops: 500\nstressors:\n  atomic: {}\n")

	doc, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if doc.Run.Timeout.IsSet() {
		t.Fatalf("expected no timeout with an op budget, got %v", doc.Run.Timeout.Duration)
	}
}

func TestLoadJSONCManifest(t *testing.T) {
	path := writeManifest(t, "thrash.jsonc", `{
  // four widths, fewer rounds
  "version": "1",
  "stressors": {
    "atomic": {"workers": 1, "atomic": {"rounds": 10},},
  },
}`)

	doc, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if got := doc.Stressors["atomic"].Atomic.Rounds; got != 10 {
		t.Fatalf("expected rounds 10, got %d", got)
	}
}

func TestLoadRejectsInvalidManifests(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{name: "unknown field", body: "stressors:\n  atomic:\n    bogus: 1\n", want: "schema validation failed"},
		{name: "bad version", body: "version: \"2\"\nstressors:\n  atomic:\n", want: "schema validation failed"},
		{name: "bad duration", body: "run:\n  timeout: soon\nstressors:\n  atomic:\n", want: "run.timeout"},
		{name: "no stressors", body: "run:\n  workers: 1\n", want: "stressors"},
		{name: "unknown stressor", body: "stressors:\n  fork:\n", want: "stressors.fork: unknown stressor"},
		{name: "foreign options", body: "stressors:\n  atomic:\n    dev:\n      threads: 1\n", want: "only apply to the dev stressor"},
		{name: "bad memory", body: "stressors:\n  cgroup:\n    cgroup:\n      memoryMax: lots\n", want: "stressors.cgroup.cgroup.memoryMax"},
		{name: "backoff order", body: "run:\n  backoff:\n    min: 2s\n    max: 1s\nstressors:\n  atomic:\n", want: "run.backoff.min"},
		{name: "metrics addr", body: "run:\n  metricsAddr: nope\nstressors:\n  atomic:\n", want: "run.metricsAddr"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeManifest(t, "thrash.yaml", tc.body))
			if err == nil {
				t.Fatalf("expected error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil || !strings.Contains(err.Error(), "open manifest") {
		t.Fatalf("expected open error, got %v", err)
	}
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("THRASH_SET", "value")
	t.Setenv("THRASH_EMPTY", "")
	cases := map[string]string{
		"${THRASH_SET}":             "value",
		"$THRASH_SET/x":             "value/x",
		"${THRASH_EMPTY:-fallback}": "fallback",
		"${THRASH_UNSET_VAR:-/dev}": "/dev",
		"${THRASH_UNSET_VAR}":       "",
		"plain":                     "plain",
	}
	for in, want := range cases {
		if got := expandEnv(in); got != want {
			t.Fatalf("expandEnv(%q): expected %q, got %q", in, want, got)
		}
	}
}
