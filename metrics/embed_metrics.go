package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nomis52/embedflow/embed"
)

// EmbedMetrics records token cycles and embed driver activity. It satisfies
// orchestrator.Metrics and embed.Observer.
type EmbedMetrics struct {
	cyclesStarted  Counter
	cyclesSettled  CounterVec
	cycleDuration  Histogram
	staleResponses CounterVec
	embeds         Counter
	events         CounterVec
	mergeFailures  Counter
	lastSuccess    Gauge
	now            func() time.Time
}

// NewEmbedMetrics registers the embed metrics with reg.
func NewEmbedMetrics(reg Registry) (*EmbedMetrics, error) {
	m := &EmbedMetrics{now: time.Now}
	var err error

	if m.cyclesStarted, err = reg.NewCounter(prometheus.CounterOpts{
		Name: "token_cycles_started_total",
		Help: "Token cycles started",
	}); err != nil {
		return nil, fmt.Errorf("creating cycles started counter: %w", err)
	}
	if m.cyclesSettled, err = reg.NewCounterVec(prometheus.CounterOpts{
		Name: "token_cycles_settled_total",
		Help: "Token cycles that reached Embedded or Failed",
	}, []string{"outcome"}); err != nil {
		return nil, fmt.Errorf("creating cycles settled counter: %w", err)
	}
	if m.cycleDuration, err = reg.NewHistogram(prometheus.HistogramOpts{
		Name:    "token_cycle_duration_seconds",
		Help:    "Time from cycle start until it settled",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	}); err != nil {
		return nil, fmt.Errorf("creating cycle duration histogram: %w", err)
	}
	if m.staleResponses, err = reg.NewCounterVec(prometheus.CounterOpts{
		Name: "stale_responses_discarded_total",
		Help: "Fetch outcomes discarded because their cycle had ended",
	}, []string{"stage"}); err != nil {
		return nil, fmt.Errorf("creating stale responses counter: %w", err)
	}
	if m.embeds, err = reg.NewCounter(prometheus.CounterOpts{
		Name: "embeds_total",
		Help: "Reports embedded into the container",
	}); err != nil {
		return nil, fmt.Errorf("creating embeds counter: %w", err)
	}
	if m.events, err = reg.NewCounterVec(prometheus.CounterOpts{
		Name: "surface_events_total",
		Help: "Lifecycle events received from the embedded report",
	}, []string{"event"}); err != nil {
		return nil, fmt.Errorf("creating surface events counter: %w", err)
	}
	if m.mergeFailures, err = reg.NewCounter(prometheus.CounterOpts{
		Name: "filter_merge_failures_total",
		Help: "Loaded events whose filter read or write failed",
	}); err != nil {
		return nil, fmt.Errorf("creating filter merge failures counter: %w", err)
	}
	if m.lastSuccess, err = reg.NewGauge(prometheus.GaugeOpts{
		Name: "last_embed_timestamp_seconds",
		Help: "Unix time of the last successful embed",
	}); err != nil {
		return nil, fmt.Errorf("creating last embed gauge: %w", err)
	}
	return m, nil
}

func (m *EmbedMetrics) CycleStarted() {
	m.cyclesStarted.Inc()
}

func (m *EmbedMetrics) CycleSettled(outcome string, d time.Duration) {
	m.cyclesSettled.With(prometheus.Labels{"outcome": outcome}).Inc()
	m.cycleDuration.Observe(d.Seconds())
}

func (m *EmbedMetrics) StaleResponseDiscarded(stage string) {
	m.staleResponses.With(prometheus.Labels{"stage": stage}).Inc()
}

func (m *EmbedMetrics) Embedded() {
	m.embeds.Inc()
	m.lastSuccess.Set(float64(m.now().Unix()))
}

func (m *EmbedMetrics) EventReceived(ev embed.Event) {
	m.events.With(prometheus.Labels{"event": string(ev)}).Inc()
}

func (m *EmbedMetrics) FilterMergeFailed() {
	m.mergeFailures.Inc()
}
