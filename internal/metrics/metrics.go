package metrics

import (
	"runtime"
	"runtime/debug"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcome labels for worker exits.
const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
)

var (
	registry = prometheus.NewRegistry()

	workersForked = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "procgroup",
		Name:      "workers_forked_total",
		Help:      "Total number of worker processes forked by the primary, by spawn strategy.",
	}, []string{"type"})

	workersRunning = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "procgroup",
		Name:      "workers_running",
		Help:      "Number of forked worker processes that have not exited yet.",
	})

	workerExits = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "procgroup",
		Name:      "worker_exits_total",
		Help:      "Total number of observed worker process exits, by spawn strategy and outcome.",
	}, []string{"type", "outcome"})

	buildInfo = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "procgroup",
		Name:      "build_info",
		Help:      "Build metadata for the running procgroup binary.",
	}, []string{"go_version", "vcs", "vcs_revision", "vcs_time", "vcs_modified"})

	buildInfoOnce sync.Once
)

func init() {
	registry.MustRegister(
		workersForked,
		workersRunning,
		workerExits,
		buildInfo,
	)
}

// Registry returns the Prometheus registry containing all procgroup metrics.
// Only the primary serves it, so every series here is recorded there.
func Registry() *prometheus.Registry {
	return registry
}

// WorkerForked records a successful fork for the given spawn strategy.
func WorkerForked(workerType string) {
	workersForked.WithLabelValues(workerType).Inc()
	workersRunning.Inc()
}

// WorkerExited records an observed worker exit. A nil error counts as ok.
func WorkerExited(workerType string, err error) {
	outcome := OutcomeOK
	if err != nil {
		outcome = OutcomeError
	}
	workerExits.WithLabelValues(workerType, outcome).Inc()
	workersRunning.Dec()
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

// BuildVersion returns the main module version and VCS revision, if known.
func BuildVersion() (version, revision string) {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "(devel)", ""
	}
	version = info.Main.Version
	if version == "" {
		version = "(devel)"
	}
	for _, setting := range info.Settings {
		if setting.Key == "vcs.revision" {
			revision = setting.Value
		}
	}
	return version, revision
}
