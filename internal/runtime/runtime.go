// Package runtime defines how the supervisor launches and controls worker
// processes, and the messages exchanged with them.
package runtime

import (
	"context"
	"fmt"
	"os"
	"syscall"
	"time"
)

// Exit codes used by worker processes and the thrash binary.
const (
	ExitSuccess        = 0
	ExitFailure        = 1
	ExitNotSuccess     = 2
	ExitNoResource     = 3
	ExitNotImplemented = 4
)

// Log sources attached to LogEntry.
const (
	LogSourceStdout = "stdout"
	LogSourceStderr = "stderr"
	LogSourceSystem = "system"
)

// WorkerSpec is the job handed to a worker process on stdin.
type WorkerSpec struct {
	RunID    string `cbor:"run_id"`
	Stressor string `cbor:"stressor"`
	Ordinal  int    `cbor:"ordinal"`
	// Ops is the private pass budget. workload.Unbounded means time-limited.
	Ops       uint64 `cbor:"ops"`
	Options   []byte `cbor:"options,omitempty"`
	LogLevel  string `cbor:"log_level,omitempty"`
	LogFormat string `cbor:"log_format,omitempty"`
	// ParentPid lets the worker detect that its supervisor died before the
	// parent-death signal was armed.
	ParentPid int `cbor:"parent_pid"`
}

// WorkerReport is written by a worker on its report pipe before exiting.
type WorkerReport struct {
	Ordinal  int    `cbor:"ordinal"`
	Passes   uint64 `cbor:"passes"`
	Error    string `cbor:"error,omitempty"`
	Mismatch bool   `cbor:"mismatch,omitempty"`
}

// LogEntry is one line of worker output.
type LogEntry struct {
	Timestamp time.Time
	Message   string
	Source    string
	Level     string
}

// Exit describes how a worker process ended.
type Exit struct {
	// Code is the exit status, or -1 when the process was signaled.
	Code int
	// Signal is the terminating signal, zero for a normal exit.
	Signal syscall.Signal
	// Err holds a wait failure unrelated to the child's own status.
	Err error
	// Report is the worker's final report, nil if none was received.
	Report *WorkerReport
}

// Signaled reports whether the process was terminated by a signal.
func (e Exit) Signaled() bool { return e.Signal != 0 }

func (e Exit) String() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("wait failed: %v", e.Err)
	case e.Signaled():
		return fmt.Sprintf("terminated by signal %d (%s)", int(e.Signal), e.Signal)
	default:
		return fmt.Sprintf("exit status %d", e.Code)
	}
}

// Handle is a running worker process.
type Handle interface {
	Pid() int
	// Done is closed once the process has been reaped and its output drained.
	Done() <-chan struct{}
	// Exit is valid after Done is closed.
	Exit() Exit
	// Signal delivers sig to the worker's process group. Signalling a process
	// that already exited is not an error.
	Signal(sig syscall.Signal) error
	// Logs streams worker output and must be drained; Done is not closed
	// until both output pipes reach EOF.
	Logs() <-chan LogEntry
}

// Spawner starts worker processes.
type Spawner interface {
	// Spawn starts a worker for spec with region inherited as fd 3. Errors
	// wrap the underlying errno so callers can detect transient failures.
	Spawn(ctx context.Context, spec WorkerSpec, region *os.File) (Handle, error)
}
