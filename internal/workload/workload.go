// Package workload defines the pluggable units of stress work run by workers
// and the loop that drives them.
package workload

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Paintersrp/thrash/internal/codec"
	"github.com/Paintersrp/thrash/internal/shm"
)

// ErrVerificationMismatch reports that a workload observed corrupted state in
// the primitive it stresses. Workers must abort with a failure status.
var ErrVerificationMismatch = errors.New("verification mismatch")

// Workload runs one unit of stress work, accumulating elapsed seconds and
// completed operations into m. It is called repeatedly.
type Workload interface {
	Run(ctx context.Context, m *shm.Metric) error
}

// Func adapts a function to Workload.
type Func func(ctx context.Context, m *shm.Metric) error

// Run calls f.
func (f Func) Run(ctx context.Context, m *shm.Metric) error { return f(ctx, m) }

// UnsupportedError reports that a stressor cannot run on this host.
type UnsupportedError struct {
	Stressor string
	Reason   string
}

func (e *UnsupportedError) Error() string {
	return fmt.Sprintf("stressor %s unsupported: %s", e.Stressor, e.Reason)
}

// Unsupported builds an UnsupportedError.
func Unsupported(stressor, format string, args ...any) error {
	return &UnsupportedError{Stressor: stressor, Reason: fmt.Sprintf(format, args...)}
}

// Env is handed to Stressor.Open inside the process running the batch.
type Env struct {
	Ordinal int
	Region  *shm.Region
	Slot    shm.Slot
	Logger  *slog.Logger
	// Options holds the stressor options as encoded CBOR.
	Options []byte
}

// DecodeOptions decodes Options into v. Empty options leave v untouched.
func (e Env) DecodeOptions(v any) error {
	if len(e.Options) == 0 {
		return nil
	}
	if err := codec.Unmarshal(e.Options, v); err != nil {
		return fmt.Errorf("decode options: %w", err)
	}
	return nil
}

// Set is an opened batch of workloads, one per metric kind.
type Set struct {
	Workloads []Workload
	Closer    func() error
}

// Close releases resources held by the set.
func (s *Set) Close() error {
	if s == nil || s.Closer == nil {
		return nil
	}
	return s.Closer()
}

// Stressor describes a named workload set.
type Stressor struct {
	Name string
	Help string
	// Kinds labels each metric kind, in slot order.
	Kinds []string
	// Supported returns an *UnsupportedError when the host cannot run the
	// stressor. Nil means always supported.
	Supported func() error
	Open      func(env Env) (*Set, error)
}

// Probe runs the support check.
func (s Stressor) Probe() error {
	if s.Supported == nil {
		return nil
	}
	return s.Supported()
}
