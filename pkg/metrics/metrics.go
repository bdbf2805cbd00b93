// Package metrics exposes per-run generator statistics in the Prometheus text
// format for the node_exporter textfile collector.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SourceSample is the per-source part of a run.
type SourceSample struct {
	Label    string
	Lines    int
	Accepted int
	Failed   bool
}

// RunSample is what one build contributes to the metrics.
type RunSample struct {
	Entries   int
	Added     int
	Retracted int
	Sources   []SourceSample
	Finished  time.Time
	Duration  time.Duration
}

// Recorder holds the gauges of the most recent run.
type Recorder struct {
	registry *prometheus.Registry

	entries        prometheus.Gauge
	added          prometheus.Gauge
	retracted      prometheus.Gauge
	lastRun        prometheus.Gauge
	runDuration    prometheus.Gauge
	sourceLines    *prometheus.GaugeVec
	sourceAccepted *prometheus.GaugeVec
	sourceFailed   *prometheus.GaugeVec
}

// NewRecorder registers the generator gauges on a private registry.
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		entries: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hostsgen_entries",
			Help: "Number of entries in the generated hosts file.",
		}),
		added: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hostsgen_entries_added",
			Help: "Entries added by the last run.",
		}),
		retracted: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hostsgen_entries_retracted",
			Help: "Entries removed by the whitelist in the last run.",
		}),
		lastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hostsgen_last_run_timestamp_seconds",
			Help: "Unix time the last run finished.",
		}),
		runDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hostsgen_run_duration_seconds",
			Help: "Wall time of the last run.",
		}),
		sourceLines: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "hostsgen_source_lines",
			Help: "Lines read per source.",
		}, []string{"source"}),
		sourceAccepted: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "hostsgen_source_accepted",
			Help: "Domains accepted per source.",
		}, []string{"source"}),
		sourceFailed: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "hostsgen_source_failed",
			Help: "1 if the source could not be read.",
		}, []string{"source"}),
	}

	r.registry.MustRegister(
		r.entries,
		r.added,
		r.retracted,
		r.lastRun,
		r.runDuration,
		r.sourceLines,
		r.sourceAccepted,
		r.sourceFailed,
	)
	return r
}

// Registry returns the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Observe replaces the gauges with the values of run.
func (r *Recorder) Observe(run RunSample) {
	r.entries.Set(float64(run.Entries))
	r.added.Set(float64(run.Added))
	r.retracted.Set(float64(run.Retracted))
	if !run.Finished.IsZero() {
		r.lastRun.Set(float64(run.Finished.Unix()))
	}
	r.runDuration.Set(run.Duration.Seconds())

	r.sourceLines.Reset()
	r.sourceAccepted.Reset()
	r.sourceFailed.Reset()
	for _, src := range run.Sources {
		r.sourceLines.WithLabelValues(src.Label).Set(float64(src.Lines))
		r.sourceAccepted.WithLabelValues(src.Label).Set(float64(src.Accepted))
		failed := 0.0
		if src.Failed {
			failed = 1
		}
		r.sourceFailed.WithLabelValues(src.Label).Set(failed)
	}
}

// WriteTextfile writes the current gauges to path.
func (r *Recorder) WriteTextfile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create metrics dir: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
