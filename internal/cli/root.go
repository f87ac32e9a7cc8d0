package cli

import (
	stdcontext "context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Paintersrp/thrash/internal/cliutil"
	"github.com/Paintersrp/thrash/internal/engine"
	"github.com/Paintersrp/thrash/internal/runtime"
	"github.com/Paintersrp/thrash/internal/runtime/process"
	"github.com/Paintersrp/thrash/internal/worker"

	// Stressors register themselves.
	_ "github.com/Paintersrp/thrash/internal/workload/atomic"
	_ "github.com/Paintersrp/thrash/internal/workload/cgroup"
	_ "github.com/Paintersrp/thrash/internal/workload/devfs"
)

const defaultManifest = "thrash.yaml"

// NewRootCmd builds the thrash command tree.
func NewRootCmd() *cobra.Command {
	root, _ := newRootCommand()
	return root
}

func newRootCommand() (*cobra.Command, *context) {
	var (
		manifest  string
		logFormat string
		logLevel  string
	)

	root := &cobra.Command{
		Use:   "thrash",
		Short: "Single-host stress testing harness",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			switch logFormat {
			case "text", "json":
			default:
				return fmt.Errorf("invalid --log-format %q (want text or json)", logFormat)
			}
			return nil
		},
	}

	root.PersistentFlags().StringVarP(&manifest, "file", "f", defaultManifest, "Path to run manifest")
	root.PersistentFlags().StringVar(&logFormat, "log-format", "text", "Event log format: text or json")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Minimum event level: debug, info, warn or error")

	ctx := &context{manifest: &manifest, logFormat: &logFormat, logLevel: &logLevel}
	root.AddCommand(newRunCmd(ctx))
	root.AddCommand(newListCmd())
	root.AddCommand(newConfigCmd())
	root.AddCommand(newWorkerCmd())

	root.SilenceUsage = true
	root.SilenceErrors = true

	return root, ctx
}

// Execute runs the CLI entrypoint and exits with the run's exit code.
func Execute() {
	ctx, stop := signal.NotifyContext(stdcontext.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx stdcontext.Context, args []string, stderr io.Writer) int {
	root := NewRootCmd()
	root.SetArgs(args)
	root.SetContext(ctx)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return runtime.ExitSuccess
	}
	var exitErr *exitError
	if errors.As(err, &exitErr) {
		if exitErr.msg != "" {
			fmt.Fprintln(stderr, exitErr.msg)
		}
		return exitErr.code
	}
	fmt.Fprintln(stderr, err)
	return runtime.ExitFailure
}

// exitError carries a process exit code out of a command.
type exitError struct {
	code int
	msg  string
}

func (e *exitError) Error() string {
	if e.msg != "" {
		return e.msg
	}
	return fmt.Sprintf("exit code %d", e.code)
}

type context struct {
	manifest  *string
	logFormat *string
	logLevel  *string

	// spawner overrides the process spawner in tests.
	spawner runtime.Spawner

	mu         sync.RWMutex
	deployment *engine.Deployment
	runName    string
	startedAt  time.Time
	tracker    *statusTracker
}

func (c *context) getSpawner() runtime.Spawner {
	if c.spawner == nil {
		c.spawner = process.New()
	}
	return c.spawner
}

func (c *context) logger(w io.Writer) *slog.Logger {
	return worker.NewLogger(w, *c.logLevel, *c.logFormat)
}

func (c *context) level() slog.Level {
	return cliutil.ParseLevel(*c.logLevel)
}

func (c *context) setDeployment(dep *engine.Deployment, name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deployment = dep
	c.runName = name
	c.startedAt = time.Now()
}

func (c *context) currentDeployment() (*engine.Deployment, string, time.Time) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.deployment, c.runName, c.startedAt
}

func (c *context) statusTracker() *statusTracker {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tracker == nil {
		c.tracker = newStatusTracker()
	}
	return c.tracker
}
