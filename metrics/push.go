package metrics

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/golang/protobuf/proto"
	"github.com/golang/snappy"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/prometheus/prompb"
)

const (
	// DefaultTimeout is the default timeout for HTTP requests
	DefaultTimeout = 30 * time.Second

	writePath = "/api/v1/write"
)

// PushConfig configures a PushRegistry.
type PushConfig struct {
	// URL is the base URL of the remote write endpoint (e.g., "http://localhost:8428").
	URL string
	// Prefix is prepended to every metric name, followed by an underscore.
	Prefix string
	// Job is the job label for all metrics.
	Job string
	// Instance is the instance label for all metrics.
	Instance string
	// Timeout is the HTTP client timeout. Defaults to DefaultTimeout.
	Timeout time.Duration
}

// PushRegistry implements Registry for push-based metrics collection.
// Updates are held in memory; Flush writes the current value of every series
// in a single remote write request.
type PushRegistry struct {
	url        string
	httpClient *http.Client
	prefix     string
	job        string
	instance   string
	now        func() time.Time

	mu     sync.Mutex
	series map[string]*series
}

// series is one named, labelled value.
type series struct {
	name   string
	labels map[string]string
	value  float64
}

// NewPushRegistry creates a new PushRegistry that pushes metrics to the given URL.
func NewPushRegistry(cfg PushConfig) *PushRegistry {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	return &PushRegistry{
		url:        strings.TrimRight(cfg.URL, "/") + writePath,
		httpClient: &http.Client{Timeout: timeout},
		prefix:     cfg.Prefix,
		job:        cfg.Job,
		instance:   cfg.Instance,
		now:        time.Now,
		series:     make(map[string]*series),
	}
}

func (r *PushRegistry) NewGauge(opts prometheus.GaugeOpts) (Gauge, error) {
	return &pushGauge{registry: r, s: r.lookup(opts.Name, nil)}, nil
}

func (r *PushRegistry) NewCounter(opts prometheus.CounterOpts) (Counter, error) {
	return &pushCounter{registry: r, s: r.lookup(opts.Name, nil)}, nil
}

func (r *PushRegistry) NewCounterVec(opts prometheus.CounterOpts, labels []string) (CounterVec, error) {
	return &pushCounterVec{registry: r, name: opts.Name, labels: labels}, nil
}

// NewHistogram records the _sum and _count series of the histogram. Buckets
// are not pushed.
func (r *PushRegistry) NewHistogram(opts prometheus.HistogramOpts) (Histogram, error) {
	return &pushHistogram{
		registry: r,
		sum:      r.lookup(opts.Name+"_sum", nil),
		count:    r.lookup(opts.Name+"_count", nil),
	}, nil
}

// Flush writes every series to the remote write endpoint. A registry with
// no series sends nothing.
func (r *PushRegistry) Flush(ctx context.Context) error {
	req := r.writeRequest()
	if len(req.Timeseries) == 0 {
		return nil
	}

	data, err := proto.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshaling write request: %w", err)
	}
	compressed := snappy.Encode(nil, data)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(compressed))
	if err != nil {
		return fmt.Errorf("creating HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Encoding", "snappy")
	httpReq.Header.Set("Content-Type", "application/x-protobuf")
	httpReq.Header.Set("X-Prometheus-Remote-Write-Version", "0.1.0")

	resp, err := r.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}
	return nil
}

// lookup returns the series for name and labels, creating it if needed.
func (r *PushRegistry) lookup(name string, labels map[string]string) *series {
	key := seriesKey(name, labels)

	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.series[key]; ok {
		return s
	}
	s := &series{name: name, labels: labels}
	r.series[key] = s
	return s
}

func (r *PushRegistry) update(s *series, f func(v float64) float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s.value = f(s.value)
}

func (r *PushRegistry) writeRequest() *prompb.WriteRequest {
	r.mu.Lock()
	defer r.mu.Unlock()

	keys := make([]string, 0, len(r.series))
	for k := range r.series {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	ts := r.now().UnixMilli()
	req := &prompb.WriteRequest{Timeseries: make([]prompb.TimeSeries, 0, len(keys))}
	for _, k := range keys {
		req.Timeseries = append(req.Timeseries, r.toTimeSeries(r.series[k], ts))
	}
	return req
}

// toTimeSeries converts a series to Prometheus TimeSeries format.
func (r *PushRegistry) toTimeSeries(s *series, timestamp int64) prompb.TimeSeries {
	name := s.name
	if r.prefix != "" {
		name = r.prefix + "_" + name
	}

	labels := make([]prompb.Label, 0, len(s.labels)+3)
	labels = append(labels, prompb.Label{Name: "__name__", Value: name})
	if r.job != "" {
		labels = append(labels, prompb.Label{Name: "job", Value: r.job})
	}
	if r.instance != "" {
		labels = append(labels, prompb.Label{Name: "instance", Value: r.instance})
	}
	names := make([]string, 0, len(s.labels))
	for k := range s.labels {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, k := range names {
		labels = append(labels, prompb.Label{Name: k, Value: s.labels[k]})
	}

	return prompb.TimeSeries{
		Labels:  labels,
		Samples: []prompb.Sample{{Value: s.value, Timestamp: timestamp}},
	}
}

// seriesKey identifies a series independent of label map order.
func seriesKey(name string, labels map[string]string) string {
	names := make([]string, 0, len(labels))
	for k := range labels {
		names = append(names, k)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString(name)
	for _, k := range names {
		b.WriteString(",")
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(labels[k])
	}
	return b.String()
}

type pushGauge struct {
	registry *PushRegistry
	s        *series
}

func (g *pushGauge) Set(v float64) {
	g.registry.update(g.s, func(float64) float64 { return v })
}

type pushCounter struct {
	registry *PushRegistry
	s        *series
}

func (c *pushCounter) Inc() {
	c.Add(1)
}

func (c *pushCounter) Add(v float64) {
	if v < 0 {
		panic("counter cannot decrease in value")
	}
	c.registry.update(c.s, func(old float64) float64 { return old + v })
}

type pushCounterVec struct {
	registry *PushRegistry
	name     string
	labels   []string
}

func (c *pushCounterVec) With(labels prometheus.Labels) Counter {
	copied := make(map[string]string, len(c.labels))
	for _, k := range c.labels {
		copied[k] = labels[k]
	}
	return &pushCounter{registry: c.registry, s: c.registry.lookup(c.name, copied)}
}

type pushHistogram struct {
	registry   *PushRegistry
	sum, count *series
}

func (h *pushHistogram) Observe(v float64) {
	h.registry.mu.Lock()
	defer h.registry.mu.Unlock()
	h.sum.value += v
	h.count.value++
}
