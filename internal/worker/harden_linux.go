package worker

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// harden makes the worker the preferred OOM victim, ties its lifetime to the
// supervisor and keeps the inherited descriptors out of helper processes.
func harden(parentPid int) error {
	var errs []error
	if err := os.WriteFile("/proc/self/oom_score_adj", []byte("1000"), 0); err != nil {
		errs = append(errs, fmt.Errorf("oom_score_adj: %w", err))
	}
	// Re-armed here since the parent may have died between fork and exec.
	if err := unix.Prctl(unix.PR_SET_PDEATHSIG, uintptr(unix.SIGKILL), 0, 0, 0); err != nil {
		errs = append(errs, fmt.Errorf("prctl pdeathsig: %w", err))
	}
	if parentPid > 0 && os.Getppid() != parentPid {
		return ErrParentGone
	}
	unix.CloseOnExec(RegionFD)
	unix.CloseOnExec(ReportFD)
	return errors.Join(errs...)
}
