package prometheus

import (
	"strconv"
	"time"

	"github.com/turtacn/citeresolve/internal/application/batch"
	"github.com/turtacn/citeresolve/internal/application/resolution"
)

var (
	DefaultAdapterLatencyBuckets = []float64{.05, .1, .25, .5, 1, 2, 5, 10, 30}
	DefaultHTTPDurationBuckets   = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30}
)

// ResolverMetrics implements resolution.Metrics and batch.Metrics. All
// methods are no-ops on a nil receiver.
type ResolverMetrics struct {
	ResolutionsTotal      CounterVec
	AdapterRequestsTotal  CounterVec
	AdapterLatency        HistogramVec
	CacheLookupsTotal     CounterVec
	BatchItemsTotal       CounterVec
	BatchRetriesTotal     CounterVec
	BatchInFlight         GaugeVec
	CheckpointWritesTotal CounterVec

	HTTPRequestsTotal   CounterVec
	HTTPRequestDuration HistogramVec
}

var (
	_ resolution.Metrics = (*ResolverMetrics)(nil)
	_ batch.Metrics      = (*ResolverMetrics)(nil)
)

// NewResolverMetrics registers every metric on c.
func NewResolverMetrics(c MetricsCollector) *ResolverMetrics {
	return &ResolverMetrics{
		ResolutionsTotal:      c.RegisterCounter("resolutions_total", "Citation resolutions by final status.", "status"),
		AdapterRequestsTotal:  c.RegisterCounter("adapter_requests_total", "Source adapter calls by outcome.", "source", "outcome"),
		AdapterLatency:        c.RegisterHistogram("adapter_latency_seconds", "Source adapter call latency.", DefaultAdapterLatencyBuckets, "source"),
		CacheLookupsTotal:     c.RegisterCounter("cache_lookups_total", "Resolution cache lookups.", "result"),
		BatchItemsTotal:       c.RegisterCounter("batch_items_total", "Batch items completed by status.", "status"),
		BatchRetriesTotal:     c.RegisterCounter("batch_retries_total", "Batch item retries scheduled."),
		BatchInFlight:         c.RegisterGauge("batch_inflight", "Batch items currently resolving."),
		CheckpointWritesTotal: c.RegisterCounter("checkpoint_writes_total", "Batch checkpoint writes by outcome.", "outcome"),
		HTTPRequestsTotal:     c.RegisterCounter("http_requests_total", "HTTP requests by route and status code.", "method", "route", "code"),
		HTTPRequestDuration:   c.RegisterHistogram("http_request_duration_seconds", "HTTP request latency.", DefaultHTTPDurationBuckets, "method", "route"),
	}
}

func (m *ResolverMetrics) ObserveResolution(status string) {
	if m == nil {
		return
	}
	m.ResolutionsTotal.WithLabelValues(status).Inc()
}

func (m *ResolverMetrics) ObserveAdapterCall(source, outcome string, latency time.Duration) {
	if m == nil {
		return
	}
	m.AdapterRequestsTotal.WithLabelValues(source, outcome).Inc()
	m.AdapterLatency.WithLabelValues(source).Observe(latency.Seconds())
}

func (m *ResolverMetrics) ObserveCacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookupsTotal.WithLabelValues(result).Inc()
}

func (m *ResolverMetrics) ObserveBatchItem(status string) {
	if m == nil {
		return
	}
	m.BatchItemsTotal.WithLabelValues(status).Inc()
}

func (m *ResolverMetrics) ObserveBatchRetry() {
	if m == nil {
		return
	}
	m.BatchRetriesTotal.WithLabelValues().Inc()
}

func (m *ResolverMetrics) AddInFlight(delta int) {
	if m == nil {
		return
	}
	m.BatchInFlight.WithLabelValues().Add(float64(delta))
}

func (m *ResolverMetrics) ObserveCheckpointWrite(ok bool) {
	if m == nil {
		return
	}
	outcome := "error"
	if ok {
		outcome = "ok"
	}
	m.CheckpointWritesTotal.WithLabelValues(outcome).Inc()
}

// ObserveHTTPRequest records one served request. route is the matched
// pattern, not the raw path.
func (m *ResolverMetrics) ObserveHTTPRequest(method, route string, code int, d time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}
