package metrics

import (
	"runtime"
	"runtime/debug"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registry = prometheus.NewRegistry()

	stressorRunning = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "thrash",
		Name:      "stressor_running",
		Help:      "Whether a stressor is currently running (1=running, 0=not running).",
	}, []string{"stressor"})

	workerStarts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "thrash",
		Name:      "worker_starts_total",
		Help:      "Total number of worker processes started for each stressor.",
	}, []string{"stressor"})

	workerRestarts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "thrash",
		Name:      "worker_restarts_total",
		Help:      "Total number of workers restarted after being killed.",
	}, []string{"stressor"})

	workerFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "thrash",
		Name:      "worker_failures_total",
		Help:      "Total number of workers that ended in failure.",
	}, []string{"stressor"})

	forcedKills = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "thrash",
		Name:      "worker_forced_kills_total",
		Help:      "Total number of workers that had to be sent SIGKILL at shutdown.",
	}, []string{"stressor"})

	bogoOps = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "thrash",
		Name:      "bogo_ops",
		Help:      "Completed passes over the workload set, summed across workers.",
	}, []string{"stressor"})

	rates = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "thrash",
		Name:      "rate",
		Help:      "Aggregated operations per second for each stressor metric kind.",
	}, []string{"stressor", "kind"})

	buildInfo = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "thrash",
		Name:      "build_info",
		Help:      "Build metadata for the running thrash binary.",
	}, []string{"go_version", "vcs", "vcs_revision", "vcs_time", "vcs_modified"})

	buildInfoOnce sync.Once
)

func init() {
	registry.MustRegister(stressorRunning, workerStarts, workerRestarts, workerFailures, forcedKills, bogoOps, rates, buildInfo)
}

// Registry returns the Prometheus registry containing all thrash metrics.
func Registry() *prometheus.Registry {
	return registry
}

// SetStressorRunning records whether the stressor is running.
func SetStressorRunning(stressor string, running bool) {
	if stressor == "" {
		return
	}
	value := 0.0
	if running {
		value = 1.0
	}
	stressorRunning.WithLabelValues(stressor).Set(value)
}

// IncrementWorkerStarts counts one worker start.
func IncrementWorkerStarts(stressor string) {
	if stressor == "" {
		return
	}
	workerStarts.WithLabelValues(stressor).Inc()
}

// IncrementWorkerRestarts counts one restart.
func IncrementWorkerRestarts(stressor string) {
	if stressor == "" {
		return
	}
	workerRestarts.WithLabelValues(stressor).Inc()
}

// IncrementWorkerFailures counts one failed worker.
func IncrementWorkerFailures(stressor string) {
	if stressor == "" {
		return
	}
	workerFailures.WithLabelValues(stressor).Inc()
}

// AddForcedKills counts workers killed during escalation.
func AddForcedKills(stressor string, n int) {
	if stressor == "" || n <= 0 {
		return
	}
	forcedKills.WithLabelValues(stressor).Add(float64(n))
}

// SetBogoOps records the current bogo op total.
func SetBogoOps(stressor string, n uint64) {
	if stressor == "" {
		return
	}
	bogoOps.WithLabelValues(stressor).Set(float64(n))
}

// RateSink publishes aggregated rates as gauges labelled by stressor and
// kind label.
type RateSink struct {
	Stressor string
}

// Set records rate for the kind label.
func (s RateSink) Set(_ int, label string, rate float64) {
	rates.WithLabelValues(s.Stressor, label).Set(rate)
}

// EmitBuildInfo publishes build metadata about the running binary.
func EmitBuildInfo() {
	buildInfoOnce.Do(func() {
		labels := prometheus.Labels{
			"go_version":   runtime.Version(),
			"vcs":          "",
			"vcs_revision": "",
			"vcs_time":     "",
			"vcs_modified": "",
		}
		if info, ok := debug.ReadBuildInfo(); ok {
			if info.GoVersion != "" {
				labels["go_version"] = info.GoVersion
			}
			for _, setting := range info.Settings {
				switch setting.Key {
				case "vcs":
					labels["vcs"] = setting.Value
				case "vcs.revision":
					labels["vcs_revision"] = setting.Value
				case "vcs.time":
					labels["vcs_time"] = setting.Value
				case "vcs.modified":
					labels["vcs_modified"] = setting.Value
				}
			}
		}
		buildInfo.With(labels).Set(1)
	})
}

// ResetStressor clears all series for a stressor.
func ResetStressor(stressor string) {
	if stressor == "" {
		return
	}
	stressorRunning.DeleteLabelValues(stressor)
	workerStarts.DeleteLabelValues(stressor)
	workerRestarts.DeleteLabelValues(stressor)
	workerFailures.DeleteLabelValues(stressor)
	forcedKills.DeleteLabelValues(stressor)
	bogoOps.DeleteLabelValues(stressor)
	rates.DeletePartialMatch(prometheus.Labels{"stressor": stressor})
}
