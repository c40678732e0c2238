// Package metrics records catalog call outcomes and per-stage record counts.
// A Prometheus registry is kept per run and written as a node-exporter
// textfile when the run ends.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Recorder receives operation outcomes from the transform and replay stages.
type Recorder interface {
	// Observe records one catalog call.
	Observe(ctx context.Context, operation string, success bool, duration time.Duration)
	// Record counts one record leaving a stage with the given outcome, e.g.
	// stage "transform" and outcome "qc_metrics" or "skip_unchanged".
	Record(ctx context.Context, stage, outcome string)
}

type nop struct{}

// Nop returns a Recorder that discards everything.
func Nop() Recorder { return nop{} }

func (nop) Observe(context.Context, string, bool, time.Duration) {}
func (nop) Record(context.Context, string, string)               {}

// Prometheus is a Recorder backed by its own registry.
type Prometheus struct {
	registry *prometheus.Registry
	calls    *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	records  *prometheus.CounterVec
}

// NewPrometheus registers the migration collectors on a fresh registry.
func NewPrometheus() *Prometheus {
	p := &Prometheus{
		registry: prometheus.NewRegistry(),
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "song_migration",
			Name:      "catalog_calls_total",
			Help:      "Catalog calls by operation and status.",
		}, []string{"operation", "status"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "song_migration",
			Name:      "catalog_call_duration_seconds",
			Help:      "Catalog call latency including the configured delay.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}, []string{"operation"}),
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "song_migration",
			Name:      "records_total",
			Help:      "Records by stage and outcome.",
		}, []string{"stage", "outcome"}),
	}
	p.registry.MustRegister(p.calls, p.latency, p.records)
	return p
}

func (p *Prometheus) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	if operation == "" {
		return
	}
	status := "error"
	if success {
		status = "success"
	}
	p.calls.WithLabelValues(operation, status).Inc()
	p.latency.WithLabelValues(operation).Observe(duration.Seconds())
}

func (p *Prometheus) Record(_ context.Context, stage, outcome string) {
	p.records.WithLabelValues(stage, outcome).Inc()
}

// Gatherer exposes the registry.
func (p *Prometheus) Gatherer() prometheus.Gatherer { return p.registry }

// WriteTextfile writes the current samples to path in the text exposition
// format. An empty path is a no-op.
func (p *Prometheus) WriteTextfile(path string) error {
	if path == "" {
		return nil
	}
	return prometheus.WriteToTextfile(path, p.registry)
}
