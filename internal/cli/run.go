package cli

import (
	stdcontext "context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	httpapi "github.com/Paintersrp/thrash/internal/api/http"
	"github.com/Paintersrp/thrash/internal/cliutil"
	"github.com/Paintersrp/thrash/internal/config"
	"github.com/Paintersrp/thrash/internal/engine"
	"github.com/Paintersrp/thrash/internal/metrics"
	"github.com/Paintersrp/thrash/internal/report"
	"github.com/Paintersrp/thrash/internal/tui"
	"github.com/Paintersrp/thrash/internal/workload"
)

const eventBuffer = 256

type runOptions struct {
	workers       int
	ops           uint64
	timeout       time.Duration
	restartBudget int
	killGrace     time.Duration
	noParentBatch bool
	metricsAddr   string
	tui           bool
	output        string
}

func newRunCmd(ctx *context) *cobra.Command {
	var opts runOptions
	cmd := &cobra.Command{
		Use:   "run [stressor...]",
		Short: "Run stressors and report their throughput",
		Long: "Run the stressors named on the command line, or every stressor in the run manifest.\n" +
			"Flags override manifest values; without a manifest the flags alone define the run.",
		RunE: func(cmd *cobra.Command, args []string) error {
			switch opts.output {
			case "table", "json":
			default:
				return fmt.Errorf("invalid --output %q (want table or json)", opts.output)
			}
			manifest, err := loadRunManifest(ctx, cmd.Flags().Changed, &opts, args)
			if err != nil {
				return err
			}
			return runStressors(cmd, ctx, manifest, &opts)
		},
	}

	flags := cmd.Flags()
	flags.IntVar(&opts.workers, "workers", config.DefaultWorkers, "Worker processes per stressor")
	flags.Uint64Var(&opts.ops, "ops", 0, "Total pass budget per stressor (0 limits by time only)")
	flags.DurationVar(&opts.timeout, "timeout", config.DefaultTimeout, "Run time limit (0 disables)")
	flags.IntVar(&opts.restartBudget, "restart-budget", 0, "Replacements for workers lost to the OOM killer (defaults to --workers)")
	flags.DurationVar(&opts.killGrace, "kill-grace", 0, "How long workers get to exit before they are signalled")
	flags.BoolVar(&opts.noParentBatch, "no-parent-batch", false, "Do not run a participant inside the supervisor")
	flags.StringVar(&opts.metricsAddr, "metrics-addr", "", "Serve status and Prometheus metrics on this address")
	flags.BoolVar(&opts.tui, "tui", false, "Show a live dashboard instead of the event log")
	flags.StringVarP(&opts.output, "output", "o", "table", "Summary format: table or json")

	return cmd
}

// loadRunManifest resolves the manifest for a run. An explicit -f must load;
// the default path is used only when present. Positional stressors select
// from the manifest or add stressors to it.
func loadRunManifest(ctx *context, changed func(string) bool, opts *runOptions, args []string) (*config.Manifest, error) {
	path := *ctx.manifest
	var manifest *config.Manifest
	if _, statErr := os.Stat(path); changed("file") || statErr == nil {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		manifest = loaded
	} else {
		if len(args) == 0 {
			return nil, fmt.Errorf("no stressors named and %s not found", path)
		}
		manifest = &config.Manifest{Version: config.Version}
	}

	if len(args) > 0 {
		selected := make(map[string]*config.StressorSpec, len(args))
		for _, name := range args {
			selected[name] = manifest.Stressors[name]
		}
		manifest.Stressors = selected
	}

	applyRunFlags(manifest, changed, opts)
	if err := manifest.ApplyDefaults(); err != nil {
		return nil, err
	}
	if err := manifest.Validate(); err != nil {
		return nil, err
	}
	return manifest, nil
}

// applyRunFlags overrides run-wide settings and every listed stressor with
// the flags the user set.
func applyRunFlags(m *config.Manifest, changed func(string) bool, opts *runOptions) {
	each := func(fn func(*config.StressorSpec)) {
		for _, st := range m.Stressors {
			if st != nil {
				fn(st)
			}
		}
	}
	if changed("workers") {
		workers := opts.workers
		m.Run.Workers = &workers
		each(func(st *config.StressorSpec) { st.Workers = &workers })
	}
	if changed("ops") {
		ops := opts.ops
		m.Run.Ops = ops
		each(func(st *config.StressorSpec) { st.Ops = &ops })
	}
	if changed("timeout") {
		m.Run.Timeout = config.Explicit(opts.timeout)
		each(func(st *config.StressorSpec) { st.Timeout = config.Explicit(opts.timeout) })
	}
	if changed("restart-budget") {
		budget := opts.restartBudget
		m.Run.RestartBudget = &budget
		each(func(st *config.StressorSpec) { st.RestartBudget = &budget })
	}
	if changed("kill-grace") {
		m.Run.KillGrace = config.Explicit(opts.killGrace)
	}
	if changed("no-parent-batch") {
		batch := !opts.noParentBatch
		m.Run.ParentBatch = &batch
	}
	if changed("metrics-addr") {
		m.Run.MetricsAddr = opts.metricsAddr
	}
}

func buildPlans(ctx *context, m *config.Manifest) ([]engine.Plan, error) {
	var backoff engine.Backoff
	if b := m.Run.Backoff; b != nil {
		backoff = engine.Backoff{Min: b.Min.Duration, Max: b.Max.Duration, Factor: b.Factor}
	}
	plans := make([]engine.Plan, 0, len(m.Stressors))
	for _, name := range m.StressorsSorted() {
		st := m.Stressors[name]
		stressor, ok := workload.Lookup(name)
		if !ok {
			return nil, fmt.Errorf("stressor %s: not registered", name)
		}
		options, err := config.EncodeOptions(name, st)
		if err != nil {
			return nil, fmt.Errorf("stressor %s: %w", name, err)
		}
		plans = append(plans, engine.Plan{
			Stressor: stressor,
			Spec: engine.Spec{
				Name:          name,
				Workers:       *st.Workers,
				Ops:           *st.Ops,
				Timeout:       st.Timeout.Duration,
				ParentBatch:   *m.Run.ParentBatch,
				RestartBudget: *st.RestartBudget,
				KillGrace:     m.Run.KillGrace.Duration,
				TermGrace:     m.Run.TermGrace.Duration,
				Options:       options,
				LogLevel:      *ctx.logLevel,
				LogFormat:     *ctx.logFormat,
				Backoff:       backoff,
			},
		})
	}
	return plans, nil
}

func runStressors(cmd *cobra.Command, ctx *context, m *config.Manifest, opts *runOptions) error {
	stdout, stderr := cmd.OutOrStdout(), cmd.ErrOrStderr()

	plans, err := buildPlans(ctx, m)
	if err != nil {
		return err
	}

	var ui *tui.UI
	if opts.tui {
		if !isTerminal(stdout) {
			return errors.New("--tui requires an interactive terminal")
		}
		ui = tui.New(tui.WithStats(ctx.liveStats))
	}

	tracker := ctx.statusTracker()
	orch := engine.NewOrchestrator(ctx.getSpawner())
	orch.State = tracker
	orch.Sink = func(stressor string) report.Sink { return metrics.RateSink{Stressor: stressor} }
	if ui != nil {
		orch.Logger = ctx.logger(io.Discard)
	} else {
		orch.Logger = ctx.logger(stderr)
	}

	if m.Run.MetricsAddr != "" {
		server, err := httpapi.NewServer(httpapi.Config{Addr: m.Run.MetricsAddr, Controller: NewControlAPI(ctx)})
		if err != nil {
			return err
		}
		if err := server.Listen(); err != nil {
			return err
		}
		fmt.Fprintf(stderr, "status server listening on %s\n", server.Addr())

		serverCtx, stopServer := stdcontext.WithCancel(stdcontext.Background())
		serverDone := make(chan error, 1)
		go func() { serverDone <- server.Run(serverCtx) }()
		defer func() {
			stopServer()
			if err := <-serverDone; err != nil {
				fmt.Fprintf(stderr, "status server: %v\n", err)
			}
		}()
	}

	runCtx, cancel := stdcontext.WithCancel(cmd.Context())
	defer cancel()

	events := make(chan engine.Event, eventBuffer)
	dep, err := orch.Start(runCtx, uuid.NewString(), plans, events)
	if err != nil {
		return err
	}
	ctx.setDeployment(dep, m.Run.Name)
	go func() {
		<-dep.Done()
		close(events)
	}()

	stream := ctx.trackEvents(events, eventBuffer)
	consumed := make(chan struct{})
	var uiErr chan error
	if ui != nil {
		uiErr = make(chan error, 1)
		go func() { uiErr <- ui.Run(runCtx) }()
		go func() {
			// Leaving the dashboard ends the run; a finished run closes it.
			select {
			case <-ui.Done():
				cancel()
			case <-dep.Done():
				ui.Stop()
			}
		}()
		go func() {
			defer close(consumed)
			sink := ui.EventSink()
			for evt := range stream {
				sink <- evt
			}
			ui.CloseEvents()
		}()
	} else {
		go func() {
			defer close(consumed)
			printEvents(cmd.Context(), ctx, stderr, stream)
		}()
	}

	outcomes, err := dep.Wait(stdcontext.Background())
	if err != nil {
		return err
	}
	<-consumed
	if uiErr != nil {
		if err := <-uiErr; err != nil {
			fmt.Fprintf(stderr, "dashboard: %v\n", err)
		}
	}

	sups := dep.Supervisors()
	results := make([]report.Result, len(outcomes))
	for i, out := range outcomes {
		spec := sups[i].Spec()
		tracker.SetOutcome(spec.Name, out.Status)
		results[i] = out.Result(spec)
	}
	if opts.output == "json" {
		err = report.JSON(stdout, results)
	} else {
		err = report.Table(stdout, results)
	}
	if err != nil {
		return err
	}

	if code := engine.ExitCode(outcomes); code != 0 {
		return &exitError{code: code}
	}
	return nil
}

// printEvents renders the event stream on w until it closes, dropping events
// below the configured level.
func printEvents(ctx stdcontext.Context, c *context, w io.Writer, events <-chan engine.Event) {
	minLevel := c.level()
	var enc *json.Encoder
	if *c.logFormat == "json" {
		enc = json.NewEncoder(w)
	}
	logger := c.logger(w)
	for evt := range events {
		if cliutil.ParseLevel(cliutil.EventLevel(evt)) < minLevel {
			continue
		}
		if enc != nil {
			cliutil.EncodeLogEvent(enc, w, evt)
			continue
		}
		cliutil.LogEvent(ctx, logger, evt)
	}
}

// liveStats feeds the dashboard from the active deployment.
func (c *context) liveStats(stressor string) (tui.Stats, bool) {
	dep, _, _ := c.currentDeployment()
	if dep == nil {
		return tui.Stats{}, false
	}
	sup, ok := dep.Supervisor(stressor)
	if !ok {
		return tui.Stats{}, false
	}
	stats := sup.Snapshot()
	return tui.Stats{
		State:    string(stats.State),
		Workers:  sup.Spec().Workers,
		Live:     stats.Live,
		Restarts: stats.Restarts,
		Failures: stats.Failures,
		BogoOps:  sup.BogoOps(),
	}, true
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
