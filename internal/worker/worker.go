// Package worker is the body of a worker process: it maps the shared region,
// opens the requested stressor and loops until told to stop.
package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/Paintersrp/thrash/internal/codec"
	"github.com/Paintersrp/thrash/internal/runtime"
	"github.com/Paintersrp/thrash/internal/shm"
	"github.com/Paintersrp/thrash/internal/workload"
)

// Inherited descriptor numbers.
const (
	RegionFD = 3
	ReportFD = 4
)

// ErrParentGone reports that the supervisor exited before the worker armed
// its parent-death signal.
var ErrParentGone = errors.New("supervisor exited")

// Runner executes one worker job.
type Runner struct {
	Stdin  io.Reader
	Region *os.File
	Report io.Writer
	Stderr io.Writer
	// Prepare hardens the process before any work starts. Nil skips it.
	Prepare func(parentPid int) error
}

// Main runs a worker from the inherited descriptors and returns the process
// exit code.
func Main(ctx context.Context) int {
	report := os.NewFile(ReportFD, "report")
	defer report.Close()
	r := &Runner{
		Stdin:   os.Stdin,
		Region:  os.NewFile(RegionFD, "region"),
		Report:  report,
		Stderr:  os.Stderr,
		Prepare: harden,
	}
	return r.Run(ctx)
}

// Run executes the job read from Stdin and returns the exit code.
func (r *Runner) Run(ctx context.Context) int {
	var spec runtime.WorkerSpec
	if err := codec.NewDecoder(r.Stdin).Decode(&spec); err != nil {
		fmt.Fprintf(r.Stderr, "decode worker spec: %v\n", err)
		return runtime.ExitFailure
	}

	logger := NewLogger(r.Stderr, spec.LogLevel, spec.LogFormat).With(
		slog.String("stressor", spec.Stressor),
		slog.Int("ordinal", spec.Ordinal),
		slog.Int("pid", os.Getpid()),
	)

	if r.Prepare != nil {
		if err := r.Prepare(spec.ParentPid); err != nil {
			if errors.Is(err, ErrParentGone) {
				return runtime.ExitFailure
			}
			logger.Warn("process hardening incomplete", "err", err)
		}
	}

	rep := runtime.WorkerReport{Ordinal: spec.Ordinal}
	code := r.run(ctx, spec, logger, &rep)
	if err := codec.NewEncoder(r.Report).Encode(rep); err != nil {
		logger.Debug("report not delivered", "err", err)
	}
	return code
}

func (r *Runner) run(ctx context.Context, spec runtime.WorkerSpec, logger *slog.Logger, rep *runtime.WorkerReport) int {
	fail := func(code int, err error) int {
		rep.Error = err.Error()
		return code
	}

	region, err := shm.Open(r.Region)
	if err != nil {
		logger.Error("map shared region", "err", err)
		return fail(runtime.ExitNoResource, err)
	}
	defer region.Close()
	if spec.Ordinal < 0 || spec.Ordinal >= region.Slots() {
		err := fmt.Errorf("ordinal %d outside region of %d slots", spec.Ordinal, region.Slots())
		logger.Error("invalid worker spec", "err", err)
		return fail(runtime.ExitFailure, err)
	}
	slot := region.Slot(spec.Ordinal)
	slot.SetPid(os.Getpid())

	stressor, ok := workload.Lookup(spec.Stressor)
	if !ok {
		err := fmt.Errorf("unknown stressor %q", spec.Stressor)
		logger.Error("lookup stressor", "err", err)
		return fail(runtime.ExitNotImplemented, err)
	}
	if region.Kinds() < len(stressor.Kinds) {
		err := fmt.Errorf("region has %d kinds, stressor needs %d", region.Kinds(), len(stressor.Kinds))
		logger.Error("invalid region", "err", err)
		return fail(runtime.ExitFailure, err)
	}

	set, err := stressor.Open(workload.Env{
		Ordinal: spec.Ordinal,
		Region:  region,
		Slot:    slot,
		Logger:  logger,
		Options: spec.Options,
	})
	if err != nil {
		var unsupported *workload.UnsupportedError
		if errors.As(err, &unsupported) {
			logger.Info("stressor unsupported", "reason", unsupported.Reason)
			return fail(runtime.ExitNotImplemented, err)
		}
		logger.Error("open stressor", "err", err)
		return fail(runtime.ExitNoResource, err)
	}

	passes, err := workload.Loop(ctx, set, region, slot, stressor.Kinds, spec.Ops)
	rep.Passes = passes
	if cerr := set.Close(); cerr != nil {
		logger.Warn("close stressor", "err", cerr)
	}
	if err != nil {
		if errors.Is(err, workload.ErrVerificationMismatch) {
			rep.Mismatch = true
			logger.Error("verification failed", "err", err, "passes", passes)
		} else {
			logger.Error("workload failed", "err", err, "passes", passes)
		}
		return fail(runtime.ExitFailure, err)
	}
	logger.Debug("worker finished", "passes", passes)
	return runtime.ExitSuccess
}

// NewLogger builds the worker logger. format is "json" or text; an unknown
// level falls back to info.
func NewLogger(w io.Writer, level, format string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
