package config

import (
	"fmt"
	"sort"
	"time"
)

// Version is the only manifest version understood by this build.
const Version = "1"

// Duration wraps time.Duration for YAML unmarshalling.
type Duration struct {
	time.Duration
	explicit bool
}

// UnmarshalText parses a textual duration, accepting empty strings.
func (d *Duration) UnmarshalText(text []byte) error {
	d.explicit = true
	if len(text) == 0 {
		d.Duration = 0
		return nil
	}
	dur, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	d.Duration = dur
	return nil
}

// MarshalText renders the duration using time.Duration formatting.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// IsSet reports whether the duration was explicitly provided or non-zero.
func (d Duration) IsSet() bool {
	return d.explicit || d.Duration != 0
}

// Explicit returns d marked as set, so a zero value survives ApplyDefaults.
func Explicit(d time.Duration) Duration {
	return Duration{Duration: d, explicit: true}
}

// Manifest mirrors the thrash.yaml document structure.
type Manifest struct {
	Version   string                   `yaml:"version"`
	Run       RunSpec                  `yaml:"run"`
	Stressors map[string]*StressorSpec `yaml:"stressors"`
}

// RunSpec holds run-wide settings. Stressors inherit them unless they set
// their own.
type RunSpec struct {
	Name          string       `yaml:"name"`
	Workers       *int         `yaml:"workers"`
	Ops           uint64       `yaml:"ops"`
	Timeout       Duration     `yaml:"timeout"`
	ParentBatch   *bool        `yaml:"parentBatch"`
	RestartBudget *int         `yaml:"restartBudget"`
	KillGrace     Duration     `yaml:"killGrace"`
	TermGrace     Duration     `yaml:"termGrace"`
	Backoff       *BackoffSpec `yaml:"backoff"`
	MetricsAddr   string       `yaml:"metricsAddr"`
}

// BackoffSpec describes the exponential backoff between spawn retries.
type BackoffSpec struct {
	Min    Duration `yaml:"min"`
	Max    Duration `yaml:"max"`
	Factor float64  `yaml:"factor"`
}

// StressorSpec configures one stressor. Only the options block matching the
// stressor name may be set.
type StressorSpec struct {
	Workers       *int     `yaml:"workers"`
	Ops           *uint64  `yaml:"ops"`
	Timeout       Duration `yaml:"timeout"`
	RestartBudget *int     `yaml:"restartBudget"`

	Atomic *AtomicSpec `yaml:"atomic"`
	Dev    *DevSpec    `yaml:"dev"`
	Cgroup *CgroupSpec `yaml:"cgroup"`
}

// AtomicSpec configures the atomic stressor.
type AtomicSpec struct {
	Rounds int `yaml:"rounds"`
}

// DevSpec configures the device stressor.
type DevSpec struct {
	Root         string   `yaml:"root"`
	Sysfs        string   `yaml:"sysfs"`
	Threads      *int     `yaml:"threads"`
	MaxDepth     int      `yaml:"maxDepth"`
	SiblingLimit *int     `yaml:"siblingLimit"`
	Threshold    Duration `yaml:"threshold"`
	OpenTimeout  Duration `yaml:"openTimeout"`
	Buckets      int      `yaml:"buckets"`
}

// CgroupSpec configures the cgroup stressor.
type CgroupSpec struct {
	MemoryMax  string `yaml:"memoryMax"`
	MemoryHigh string `yaml:"memoryHigh"`
	CPUMax     string `yaml:"cpuMax"`
	PidsMax    int    `yaml:"pidsMax"`
	Dir        string `yaml:"dir"`
}

// Defaults applied when neither the manifest nor flags say otherwise.
const (
	DefaultWorkers = 3
	DefaultTimeout = 60 * time.Second
)

// ApplyDefaults fills run-wide defaults and propagates them to stressors.
func (m *Manifest) ApplyDefaults() error {
	if m.Version == "" {
		m.Version = Version
	}
	if m.Run.Workers == nil {
		workers := DefaultWorkers
		m.Run.Workers = &workers
	}
	if m.Run.ParentBatch == nil {
		batch := true
		m.Run.ParentBatch = &batch
	}
	if m.Run.RestartBudget == nil {
		budget := *m.Run.Workers
		m.Run.RestartBudget = &budget
	}
	if m.Run.Ops == 0 && !m.Run.Timeout.IsSet() {
		m.Run.Timeout = Duration{Duration: DefaultTimeout}
	}
	for name, st := range m.Stressors {
		if st == nil {
			st = &StressorSpec{}
			m.Stressors[name] = st
		}
		if st.Workers == nil {
			workers := *m.Run.Workers
			st.Workers = &workers
		}
		if st.Ops == nil {
			ops := m.Run.Ops
			st.Ops = &ops
		}
		if !st.Timeout.IsSet() {
			st.Timeout = m.Run.Timeout
		}
		if st.RestartBudget == nil {
			budget := *m.Run.RestartBudget
			st.RestartBudget = &budget
		}
	}
	return nil
}

// Validate enforces manifest invariants not covered by the JSON schema.
func (m *Manifest) Validate() error {
	if m.Version == "" {
		return fmt.Errorf("%s: is required", fieldPath("version"))
	}
	if m.Version != Version {
		return fmt.Errorf("%s: unsupported version %q", fieldPath("version"), m.Version)
	}
	if len(m.Stressors) == 0 {
		return fmt.Errorf("%s: must define at least one stressor", fieldPath("stressors"))
	}
	if err := validateRun(&m.Run); err != nil {
		return err
	}
	for _, name := range m.StressorsSorted() {
		if err := validateStressor(name, m.Stressors[name]); err != nil {
			return err
		}
	}
	return nil
}

// StressorsSorted returns stressor names in lexical order.
func (m *Manifest) StressorsSorted() []string {
	names := make([]string, 0, len(m.Stressors))
	for name := range m.Stressors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
