// Package metrics records the outcome of a run and writes it as a Prometheus textfile, for
// node_exporter's textfile collector or for a CI artifact.
package metrics

import (
	"fmt"
	"log/slog"
	"time"

	"bridle/internal/monitor"
	"bridle/internal/process"
	"bridle/pkg/eventlog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const MetricsNamespace = "bridle"

// Recorder holds the metrics of one run in its own registry
type Recorder struct {
	registry *prometheus.Registry

	results         *prometheus.CounterVec
	resultsDuration *prometheus.CounterVec
	timeouts        *prometheus.CounterVec
	uploadFailures  *prometheus.CounterVec
	runDuration     prometheus.Gauge
	runTimestamp    prometheus.Gauge
	exitCode        prometheus.Gauge
	peakRSS         prometheus.Gauge
	peakProcesses   prometheus.Gauge
	cpuSeconds      prometheus.Gauge
}

func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Recorder{
		registry: reg,
		results: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Name:      "results_total",
			Help:      "Number of resolved test results",
		}, []string{
			"outcome",
		}),
		resultsDuration: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Name:      "results_duration_seconds_total",
			Help:      "Sum of the reported test durations",
		}, []string{
			"outcome",
		}),
		timeouts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Name:      "timeouts_total",
			Help:      "Number of runs killed by a timeout",
		}, []string{
			"kind",
		}),
		uploadFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Name:      "upload_failures_total",
			Help:      "Number of failed backend uploads",
		}, []string{
			"backend",
		}),
		runDuration: f.NewGauge(prometheus.GaugeOpts{
			Namespace: MetricsNamespace,
			Name:      "run_duration_seconds",
			Help:      "Wall-clock duration of the run",
		}),
		runTimestamp: f.NewGauge(prometheus.GaugeOpts{
			Namespace: MetricsNamespace,
			Name:      "run_timestamp_seconds",
			Help:      "Unix time the run started",
		}),
		exitCode: f.NewGauge(prometheus.GaugeOpts{
			Namespace: MetricsNamespace,
			Name:      "exit_code",
			Help:      "Exit code of the test process",
		}),
		peakRSS: f.NewGauge(prometheus.GaugeOpts{
			Namespace: MetricsNamespace,
			Name:      "child_peak_rss_bytes",
			Help:      "Highest resident memory of the test process tree",
		}),
		peakProcesses: f.NewGauge(prometheus.GaugeOpts{
			Namespace: MetricsNamespace,
			Name:      "child_peak_processes",
			Help:      "Highest number of processes in the test process tree",
		}),
		cpuSeconds: f.NewGauge(prometheus.GaugeOpts{
			Namespace: MetricsNamespace,
			Name:      "child_cpu_seconds",
			Help:      "CPU time of the test process tree",
		}),
	}
}

// RecordResults counts the resolved results per outcome
func (r *Recorder) RecordResults(results []eventlog.Finished) {
	for _, outcome := range eventlog.Outcomes {
		r.results.WithLabelValues(string(outcome))
	}
	for _, res := range results {
		r.results.WithLabelValues(string(res.Outcome)).Inc()
		r.resultsDuration.WithLabelValues(string(res.Outcome)).Add(max(res.Duration, 0))
	}
}

func (r *Recorder) RecordRun(started time.Time, elapsed time.Duration, exitCode int) {
	r.runTimestamp.Set(float64(started.Unix()))
	r.runDuration.Set(elapsed.Seconds())
	r.exitCode.Set(float64(exitCode))
}

// RecordUsage sets the resource gauges. Nothing is recorded without samples.
func (r *Recorder) RecordUsage(usage process.Usage) {
	if usage.Samples == 0 {
		return
	}
	r.peakRSS.Set(float64(usage.PeakRSS))
	r.peakProcesses.Set(float64(usage.PeakProcesses))
	r.cpuSeconds.Set(usage.CPUSeconds)
}

// RecordTimeout counts a fired timeout. A nil report is ignored.
func (r *Recorder) RecordTimeout(report *monitor.TimeoutReport) {
	if report == nil {
		return
	}
	r.timeouts.WithLabelValues(string(report.Kind)).Inc()
}

func (r *Recorder) RecordUploadFailures(backends []string) {
	for _, name := range backends {
		r.uploadFailures.WithLabelValues(name).Inc()
	}
}

// Gatherer exposes the registry
func (r *Recorder) Gatherer() prometheus.Gatherer {
	return r.registry
}

// WriteTextfile atomically writes the metrics in the text exposition format
func (r *Recorder) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("failed to write metrics file: %w", err)
	}
	slog.Debug("Wrote metrics file", "path", path)
	return nil
}
