package config

import (
	"fmt"
	"net"
	"strings"

	"github.com/Paintersrp/thrash/internal/resources"
	"github.com/Paintersrp/thrash/internal/workload"
	"github.com/Paintersrp/thrash/internal/workload/atomic"
	"github.com/Paintersrp/thrash/internal/workload/cgroup"
	"github.com/Paintersrp/thrash/internal/workload/devfs"
)

func validateRun(r *RunSpec) error {
	if r.Workers != nil && *r.Workers < 0 {
		return fmt.Errorf("%s: must be non-negative", fieldPath("run", "workers"))
	}
	if r.RestartBudget != nil && *r.RestartBudget < 0 {
		return fmt.Errorf("%s: must be non-negative", fieldPath("run", "restartBudget"))
	}
	for field, d := range map[string]Duration{"timeout": r.Timeout, "killGrace": r.KillGrace, "termGrace": r.TermGrace} {
		if d.Duration < 0 {
			return fmt.Errorf("%s: must be non-negative", fieldPath("run", field))
		}
	}
	if b := r.Backoff; b != nil {
		if b.Min.Duration < 0 || b.Max.Duration < 0 {
			return fmt.Errorf("%s: must be non-negative", fieldPath("run", "backoff"))
		}
		if b.Max.IsSet() && b.Min.Duration > b.Max.Duration {
			return fmt.Errorf("%s: must not exceed max", fieldPath("run", "backoff", "min"))
		}
		if b.Factor != 0 && b.Factor < 1 {
			return fmt.Errorf("%s: must be at least 1", fieldPath("run", "backoff", "factor"))
		}
	}
	if r.MetricsAddr != "" {
		if _, _, err := net.SplitHostPort(r.MetricsAddr); err != nil {
			return fmt.Errorf("%s: %w", fieldPath("run", "metricsAddr"), err)
		}
	}
	return nil
}

func validateStressor(name string, s *StressorSpec) error {
	if _, ok := workload.Lookup(name); !ok {
		return fmt.Errorf("%s: unknown stressor", stressorField(name))
	}
	if s == nil {
		return nil
	}
	if s.Workers != nil && *s.Workers < 0 {
		return fmt.Errorf("%s: must be non-negative", stressorField(name, "workers"))
	}
	if s.RestartBudget != nil && *s.RestartBudget < 0 {
		return fmt.Errorf("%s: must be non-negative", stressorField(name, "restartBudget"))
	}
	if s.Timeout.Duration < 0 {
		return fmt.Errorf("%s: must be non-negative", stressorField(name, "timeout"))
	}

	blocks := map[string]bool{
		atomic.Name: s.Atomic != nil,
		devfs.Name:  s.Dev != nil,
		cgroup.Name: s.Cgroup != nil,
	}
	for block, set := range blocks {
		if set && block != name {
			return fmt.Errorf("%s: options only apply to the %s stressor", stressorField(name, block), block)
		}
	}

	if a := s.Atomic; a != nil && a.Rounds < 0 {
		return fmt.Errorf("%s: must be non-negative", stressorField(name, "atomic", "rounds"))
	}
	if d := s.Dev; d != nil {
		if d.Threads != nil && *d.Threads < 0 {
			return fmt.Errorf("%s: must be non-negative", stressorField(name, "dev", "threads"))
		}
		if d.MaxDepth < 0 {
			return fmt.Errorf("%s: must be non-negative", stressorField(name, "dev", "maxDepth"))
		}
		if d.Threshold.Duration < 0 {
			return fmt.Errorf("%s: must be non-negative", stressorField(name, "dev", "threshold"))
		}
		if d.OpenTimeout.Duration < 0 {
			return fmt.Errorf("%s: must be non-negative", stressorField(name, "dev", "openTimeout"))
		}
	}
	if c := s.Cgroup; c != nil {
		for field, value := range map[string]string{"memoryMax": c.MemoryMax, "memoryHigh": c.MemoryHigh} {
			if _, err := resources.ParseMemory(value); err != nil {
				return fmt.Errorf("%s: %w", stressorField(name, "cgroup", field), err)
			}
		}
		if _, err := resources.CPUMax(c.CPUMax); err != nil {
			return fmt.Errorf("%s: %w", stressorField(name, "cgroup", "cpuMax"), err)
		}
		if c.PidsMax < 0 {
			return fmt.Errorf("%s: must be non-negative", stressorField(name, "cgroup", "pidsMax"))
		}
	}
	return nil
}

func fieldPath(parts ...string) string {
	return strings.Join(parts, ".")
}

func stressorField(stressor string, parts ...string) string {
	return fieldPath(append([]string{"stressors", stressor}, parts...)...)
}
