// File: internal/metrics/metrics.go
package metrics

import (
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

// DefaultRegistry holds every droidctl collector.
var DefaultRegistry = prometheus.NewRegistry()

func init() {
	DefaultRegistry.MustRegister(
		ADBCommandsTotal, ADBCommandDuration,
		ActionsTotal,
		StabilizationTotal, StabilizationSamples,
	)
}

// ADBCommandsTotal counts adb invocations by subcommand and outcome.
var ADBCommandsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "droidctl_adb_commands_total",
		Help: "adb invocations by subcommand and outcome.",
	},
	[]string{"command", "outcome"}, // outcome: ok | error
)

// ADBCommandDuration is the wall clock time of one adb invocation.
var ADBCommandDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "droidctl_adb_command_duration_seconds",
		Help:    "adb invocation latency in seconds.",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"command"},
)

// ActionsTotal counts routed actions by kind and outcome.
var ActionsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "droidctl_actions_total",
		Help: "Executed actions by kind and outcome.",
	},
	[]string{"kind", "outcome"},
)

// StabilizationTotal counts stabilization runs that settled or gave up.
var StabilizationTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "droidctl_stabilization_total",
		Help: "Stabilization runs by outcome.",
	},
	[]string{"outcome"}, // stable | timeout
)

// StabilizationSamples is the number of snapshots one run acquired.
var StabilizationSamples = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "droidctl_stabilization_samples",
		Help:    "Snapshots acquired per stabilization run.",
		Buckets: prometheus.LinearBuckets(1, 2, 8),
	},
)

// Outcome maps an error onto the outcome label.
func Outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// WritePrometheus writes the registry in the text exposition format.
func WritePrometheus(w io.Writer) error {
	families, err := DefaultRegistry.Gather()
	if err != nil {
		return err
	}
	enc := expfmt.NewEncoder(w, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return err
		}
	}
	return nil
}

// WriteTextfile atomically writes the registry for the node exporter textfile collector.
func WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, DefaultRegistry); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}
