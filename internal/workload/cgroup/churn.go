package cgroup

import (
	"context"
	"os"
	"os/exec"
	"runtime"
	"syscall"

	"golang.org/x/sys/unix"
)

// ChurnArg is the worker flag that runs Churn instead of a stressor.
const ChurnArg = "--churn"

const churnSize = 1 << 20

func spawnChurn() (*exec.Cmd, error) {
	self, err := os.Executable()
	if err != nil {
		return nil, err
	}
	cmd := exec.Command(self, "worker", ChurnArg)
	cmd.SysProcAttr = &syscall.SysProcAttr{Pdeathsig: syscall.SIGKILL}
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return cmd, nil
}

// Churn maps and unmaps a shared page range until ctx is done. It is the
// body of the helper process moved between groups.
func Churn(ctx context.Context) {
	for ctx.Err() == nil {
		mem, err := unix.Mmap(-1, 0, churnSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANONYMOUS|unix.MAP_SHARED)
		runtime.Gosched()
		if err == nil {
			_ = unix.Munmap(mem)
		}
		runtime.Gosched()
	}
}
