package process

import (
	"context"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/Paintersrp/thrash/internal/runtime"
)

func shellSpawner(t *testing.T, script string) *Spawner {
	t.Helper()
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("no /bin/sh")
	}
	// The worker subcommand lands in $1 and is ignored.
	return &Spawner{Path: "/bin/sh", Args: []string{"-c", script, "sh"}}
}

func regionFile(t *testing.T) *os.File {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "region")
	if err != nil {
		t.Fatalf("create region file: %v", err)
	}
	t.Cleanup(func() { f.Close() })
	return f
}

func collect(t *testing.T, h runtime.Handle) []runtime.LogEntry {
	t.Helper()
	var entries []runtime.LogEntry
	timeout := time.After(10 * time.Second)
	for {
		select {
		case entry, ok := <-h.Logs():
			if !ok {
				return entries
			}
			entries = append(entries, entry)
		case <-timeout:
			t.Fatalf("timed out draining logs")
		}
	}
}

func waitDone(t *testing.T, h runtime.Handle) runtime.Exit {
	t.Helper()
	select {
	case <-h.Done():
	case <-time.After(10 * time.Second):
		t.Fatalf("timed out waiting for worker")
	}
	return h.Exit()
}

func TestSpawnStreamsOutputAndExitCode(t *testing.T) {
	s := shellSpawner(t, "cat >/dev/null; echo ready; echo failing >&2; exit 1")

	h, err := s.Spawn(context.Background(), runtime.WorkerSpec{Stressor: "atomic"}, regionFile(t))
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	entries := collect(t, h)
	exit := waitDone(t, h)

	if exit.Code != runtime.ExitFailure || exit.Signaled() {
		t.Fatalf("expected exit status 1, got %s", exit)
	}
	if exit.Report != nil {
		t.Fatalf("expected no report from a shell, got %+v", exit.Report)
	}
	var sawStdout, sawStderr bool
	for _, entry := range entries {
		switch {
		case entry.Source == runtime.LogSourceStdout && entry.Message == "ready":
			sawStdout = true
		case entry.Source == runtime.LogSourceStderr && entry.Message == "failing":
			sawStderr = entry.Level == "warn"
		}
	}
	if !sawStdout || !sawStderr {
		t.Fatalf("expected stdout and warn-level stderr lines, got %+v", entries)
	}
}

func TestSpawnReportsSignal(t *testing.T) {
	s := shellSpawner(t, "kill -KILL $$")

	h, err := s.Spawn(context.Background(), runtime.WorkerSpec{}, regionFile(t))
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	collect(t, h)
	exit := waitDone(t, h)
	if exit.Signal != syscall.SIGKILL {
		t.Fatalf("expected SIGKILL, got %s", exit)
	}
}

func TestTerminateEscalatesOnProcessGroup(t *testing.T) {
	s := shellSpawner(t, "trap '' TERM; exec sleep 30")

	h, err := s.Spawn(context.Background(), runtime.WorkerSpec{}, regionFile(t))
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	go func() {
		for range h.Logs() {
		}
	}()

	// Give the shell time to install its trap.
	time.Sleep(200 * time.Millisecond)
	forced, err := runtime.Terminate(context.Background(), h, 100*time.Millisecond)
	if err != nil {
		t.Fatalf("terminate: %v", err)
	}
	if !forced {
		t.Fatalf("expected SIGKILL escalation for a worker ignoring SIGTERM")
	}
	if exit := h.Exit(); exit.Signal != syscall.SIGKILL {
		t.Fatalf("expected SIGKILL exit, got %s", exit)
	}
}

func TestSpawnMissingExecutable(t *testing.T) {
	s := &Spawner{Path: "/nonexistent/thrash"}
	if _, err := s.Spawn(context.Background(), runtime.WorkerSpec{}, regionFile(t)); err == nil {
		t.Fatalf("expected spawn error")
	}
}
