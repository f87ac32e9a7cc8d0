package runtime

import (
	"context"
	"errors"
	"fmt"
	"syscall"
	"time"
)

// Terminate reaps h, escalating as needed: a worker that already exited is
// returned immediately, otherwise it gets SIGTERM and grace to exit before
// SIGKILL and a blocking wait. forced reports whether SIGKILL was sent.
func Terminate(ctx context.Context, h Handle, grace time.Duration) (forced bool, err error) {
	select {
	case <-h.Done():
		return false, nil
	default:
	}

	if err := h.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, syscall.ESRCH) {
		return false, fmt.Errorf("signal worker %d: %w", h.Pid(), err)
	}

	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-h.Done():
		return false, nil
	case <-timer.C:
	case <-ctx.Done():
	}

	if err := h.Signal(syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
		return true, fmt.Errorf("kill worker %d: %w", h.Pid(), err)
	}
	<-h.Done()
	return true, nil
}
