// Package metrics records per-stage progress counters with Prometheus
// collectors. The CLI has no HTTP surface, so the registry is dumped to a
// textfile at the end of each run for node_exporter-style collection.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder owns a private registry so tests and repeated runs never collide
// with the global default registry.
type Recorder struct {
	reg      *prometheus.Registry
	items    *prometheus.CounterVec
	duration *prometheus.HistogramVec
	complete *prometheus.GaugeVec
}

// New creates a Recorder with its own registry.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Recorder{
		reg: reg,
		items: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "peerjudge",
			Name:      "stage_items_total",
			Help:      "Items handled by a pipeline stage, by outcome.",
		}, []string{"stage", "outcome"}),
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "peerjudge",
			Name:      "stage_item_duration_seconds",
			Help:      "Wall time of one collaborator call, including retries.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 40, 80, 160},
		}, []string{"stage"}),
		complete: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "peerjudge",
			Name:      "stage_completed_records",
			Help:      "Valid output records present for a stage at last inspection.",
		}, []string{"stage"}),
	}
}

// Item counts one item outcome for stage.
func (r *Recorder) Item(stage, outcome string) {
	if r == nil {
		return
	}
	r.items.WithLabelValues(stage, outcome).Inc()
}

// Duration observes the time spent on one item.
func (r *Recorder) Duration(stage string, d time.Duration) {
	if r == nil {
		return
	}
	r.duration.WithLabelValues(stage).Observe(d.Seconds())
}

// Completed sets the completed-record gauge for stage.
func (r *Recorder) Completed(stage string, n int) {
	if r == nil {
		return
	}
	r.complete.WithLabelValues(stage).Set(float64(n))
}

// Gatherer exposes the registry, mainly for tests.
func (r *Recorder) Gatherer() prometheus.Gatherer { return r.reg }

// WriteTextfile writes the current metric values to path in the Prometheus
// text exposition format.
func (r *Recorder) WriteTextfile(path string) error {
	if r == nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("metrics: mkdir: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, r.reg); err != nil {
		return fmt.Errorf("metrics: write %s: %w", path, err)
	}
	return nil
}
