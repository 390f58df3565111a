// Package metrics records embed cycle metrics in Prometheus form.
//
// The package supports two modes of operation:
//   - Scrape mode (server): metrics live in a Prometheus registry exposed over HTTP
//   - Push mode (CLI): metrics are buffered and written to a remote write endpoint on Flush
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Gauge is a metric that represents a single numerical value that can go up and down.
type Gauge interface {
	Set(float64)
}

// Counter is a metric that represents a single monotonically increasing counter.
type Counter interface {
	// Inc increments the counter by 1.
	Inc()
	// Add adds the given value to the counter. It panics if the value is negative.
	Add(float64)
}

// Histogram samples observations such as cycle durations.
type Histogram interface {
	Observe(float64)
}

// CounterVec is a Counter with labels.
type CounterVec interface {
	With(prometheus.Labels) Counter
}

// Registry creates and registers metrics.
// Implementations handle the differences between push and scrape modes.
type Registry interface {
	NewGauge(opts prometheus.GaugeOpts) (Gauge, error)
	NewCounter(opts prometheus.CounterOpts) (Counter, error)
	NewCounterVec(opts prometheus.CounterOpts, labels []string) (CounterVec, error)
	NewHistogram(opts prometheus.HistogramOpts) (Histogram, error)
}
