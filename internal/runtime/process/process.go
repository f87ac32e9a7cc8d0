package process

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/Paintersrp/thrash/internal/codec"
	"github.com/Paintersrp/thrash/internal/runtime"
)

// WorkerCommand is the hidden subcommand that runs a worker.
const WorkerCommand = "worker"

// Spawner launches workers from an executable.
type Spawner struct {
	// Path is the executable to run. Empty means the running binary.
	Path string
	// Args precede the worker subcommand, for binaries that need them.
	Args []string
	// Env is appended to the inherited environment.
	Env []string
}

// New constructs a spawner that re-executes the running binary.
func New() *Spawner {
	return &Spawner{}
}

var _ runtime.Spawner = (*Spawner)(nil)

// Spawn starts a worker process for spec.
func (s *Spawner) Spawn(ctx context.Context, spec runtime.WorkerSpec, region *os.File) (runtime.Handle, error) {
	path := s.Path
	if path == "" {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("resolve executable: %w", err)
		}
		path = exe
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	payload, err := codec.Marshal(spec)
	if err != nil {
		return nil, fmt.Errorf("encode worker spec: %w", err)
	}

	reportRead, reportWrite, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("worker %d report pipe: %w", spec.Ordinal, err)
	}

	args := append(append([]string(nil), s.Args...), WorkerCommand)
	cmd := exec.Command(path, args...)
	cmd.Env = append(os.Environ(), s.Env...)
	cmd.Stdin = bytes.NewReader(payload)
	cmd.ExtraFiles = []*os.File{region, reportWrite}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		reportRead.Close()
		reportWrite.Close()
		return nil, fmt.Errorf("worker %d stdout: %w", spec.Ordinal, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		reportRead.Close()
		reportWrite.Close()
		return nil, fmt.Errorf("worker %d stderr: %w", spec.Ordinal, err)
	}

	configureCmdSysProcAttr(cmd)

	if err := cmd.Start(); err != nil {
		reportRead.Close()
		reportWrite.Close()
		return nil, fmt.Errorf("start worker %d: %w", spec.Ordinal, err)
	}
	// The child holds its own copy; EOF on the read end now means it exited.
	reportWrite.Close()

	w := &worker{
		cmd:    cmd,
		logs:   make(chan runtime.LogEntry, 64),
		done:   make(chan struct{}),
		report: make(chan *runtime.WorkerReport, 1),
	}

	go w.readReport(reportRead)

	var wg sync.WaitGroup
	wg.Add(2)
	go w.streamLogs(stdout, runtime.LogSourceStdout, &wg)
	go w.streamLogs(stderr, runtime.LogSourceStderr, &wg)
	go func() {
		wg.Wait()
		close(w.logs)
	}()

	go func() {
		// Wait closes the output pipes, so drain them first.
		wg.Wait()
		err := cmd.Wait()
		w.exit = classify(cmd.ProcessState, err)
		w.exit.Report = <-w.report
		close(w.done)
	}()

	return w, nil
}

type worker struct {
	cmd    *exec.Cmd
	logs   chan runtime.LogEntry
	done   chan struct{}
	report chan *runtime.WorkerReport
	exit   runtime.Exit
}

func (w *worker) Pid() int { return w.cmd.Process.Pid }

func (w *worker) Done() <-chan struct{} { return w.done }

func (w *worker) Exit() runtime.Exit {
	<-w.done
	return w.exit
}

func (w *worker) Logs() <-chan runtime.LogEntry { return w.logs }

func (w *worker) Signal(sig syscall.Signal) error {
	if err := syscall.Kill(-w.cmd.Process.Pid, sig); err != nil {
		if errors.Is(err, syscall.ESRCH) {
			return nil
		}
		return fmt.Errorf("signal process group %d: %w", w.cmd.Process.Pid, err)
	}
	return nil
}

func (w *worker) readReport(r io.ReadCloser) {
	defer r.Close()
	var report runtime.WorkerReport
	if err := codec.NewDecoder(r).Decode(&report); err != nil {
		w.report <- nil
		return
	}
	// Drain so a chatty child never blocks on a full pipe.
	_, _ = io.Copy(io.Discard, r)
	w.report <- &report
}

func (w *worker) streamLogs(r io.Reader, source string, wg *sync.WaitGroup) {
	defer wg.Done()
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\n")
		entry := runtime.LogEntry{Timestamp: time.Now(), Message: line, Source: source}
		if source == runtime.LogSourceStderr {
			entry.Level = "warn"
		}
		w.logs <- entry
	}
	// Keep draining after an oversized line so the child cannot block.
	_, _ = io.Copy(io.Discard, r)
}

func classify(state *os.ProcessState, err error) runtime.Exit {
	if state == nil {
		return runtime.Exit{Code: -1, Err: err}
	}
	if status, ok := state.Sys().(syscall.WaitStatus); ok && status.Signaled() {
		return runtime.Exit{Code: -1, Signal: status.Signal()}
	}
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		return runtime.Exit{Code: state.ExitCode(), Err: err}
	}
	return runtime.Exit{Code: state.ExitCode()}
}
