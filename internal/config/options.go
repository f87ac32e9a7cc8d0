package config

import (
	"fmt"

	"github.com/Paintersrp/thrash/internal/codec"
	"github.com/Paintersrp/thrash/internal/workload/atomic"
	"github.com/Paintersrp/thrash/internal/workload/cgroup"
	"github.com/Paintersrp/thrash/internal/workload/devfs"
)

// EncodeOptions renders the stressor's options block in the form its Open
// function decodes. Stressors without options yield nil.
func EncodeOptions(name string, s *StressorSpec) ([]byte, error) {
	if s == nil {
		return nil, nil
	}
	var opts any
	switch name {
	case atomic.Name:
		if s.Atomic == nil {
			return nil, nil
		}
		o := atomic.Options{Rounds: atomic.DefaultRounds}
		if s.Atomic.Rounds > 0 {
			o.Rounds = s.Atomic.Rounds
		}
		opts = o
	case devfs.Name:
		if s.Dev == nil {
			return nil, nil
		}
		opts = devOptions(s.Dev)
	case cgroup.Name:
		if s.Cgroup == nil {
			return nil, nil
		}
		o := cgroup.DefaultOptions()
		c := s.Cgroup
		if c.MemoryMax != "" {
			o.MemoryMax = c.MemoryMax
		}
		if c.MemoryHigh != "" {
			o.MemoryHigh = c.MemoryHigh
		}
		if c.CPUMax != "" {
			o.CPUMax = c.CPUMax
		}
		if c.PidsMax > 0 {
			o.PidsMax = c.PidsMax
		}
		o.Dir = c.Dir
		opts = o
	default:
		return nil, nil
	}
	data, err := codec.Marshal(opts)
	if err != nil {
		return nil, fmt.Errorf("%s: encode options: %w", stressorField(name), err)
	}
	return data, nil
}

func devOptions(d *DevSpec) devfs.Options {
	o := devfs.DefaultOptions()
	if d.Root != "" {
		o.Root = d.Root
	}
	if d.Sysfs != "" {
		o.Sysfs = d.Sysfs
	}
	if d.Threads != nil {
		o.Threads = *d.Threads
	}
	if d.MaxDepth > 0 {
		o.MaxDepth = d.MaxDepth
	}
	if d.SiblingLimit != nil {
		o.SiblingLimit = *d.SiblingLimit
	}
	if d.Threshold.Duration > 0 {
		o.Threshold = d.Threshold.Duration
	}
	if d.OpenTimeout.Duration > 0 {
		o.OpenTimeout = d.OpenTimeout.Duration
	}
	if d.Buckets > 0 {
		o.Buckets = d.Buckets
	}
	return o
}
