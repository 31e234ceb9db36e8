// Package metrics records the outcome and duration of core operations.
package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Recorder observes one completed operation
type Recorder interface {
	Observe(ctx context.Context, operation string, success bool, duration time.Duration)
}

// Nop discards every observation
type Nop struct{}

func (Nop) Observe(context.Context, string, bool, time.Duration) {}

// Prometheus records operations into its own registry as
// hlu_operations_total{operation,result} and hlu_operation_duration_seconds{operation}.
type Prometheus struct {
	registry *prometheus.Registry
	total    *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewPrometheus creates a recorder with a fresh registry
func NewPrometheus() *Prometheus {
	p := &Prometheus{
		registry: prometheus.NewRegistry(),
		total: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hlu",
			Name:      "operations_total",
			Help:      "Core operations by result.",
		}, []string{"operation", "result"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "hlu",
			Name:      "operation_duration_seconds",
			Help:      "Duration of core operations.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}, []string{"operation"}),
	}
	p.registry.MustRegister(p.total, p.duration)
	return p
}

// Registry returns the registry holding the recorder's collectors
func (p *Prometheus) Registry() *prometheus.Registry {
	return p.registry
}

func (p *Prometheus) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	if operation == "" {
		return
	}
	result := "error"
	if success {
		result = "success"
	}
	p.total.WithLabelValues(operation, result).Inc()
	p.duration.WithLabelValues(operation).Observe(duration.Seconds())
}

// WriteTextfile writes the registry in the node exporter textfile format.
// An empty path is a no-op.
func (p *Prometheus) WriteTextfile(path string) error {
	if path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, p.registry); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}

// Track observes fn's outcome under operation
func Track(ctx context.Context, r Recorder, operation string, fn func() error) error {
	started := time.Now()
	err := fn()
	if r != nil {
		r.Observe(ctx, operation, err == nil, time.Since(started))
	}
	return err
}
