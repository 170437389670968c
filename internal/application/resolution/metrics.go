package resolution

import "time"

// Adapter call outcomes reported to Metrics.
const (
	OutcomeMatch       = "match"
	OutcomeEmpty       = "empty"
	OutcomeUnavailable = "unavailable"
	OutcomeError       = "error"
)

// Metrics receives resolution telemetry. The prometheus ResolverMetrics
// type implements it.
type Metrics interface {
	ObserveResolution(status string)
	ObserveAdapterCall(source, outcome string, latency time.Duration)
	ObserveCacheLookup(hit bool)
}

type nopMetrics struct{}

func (nopMetrics) ObserveResolution(string)                         {}
func (nopMetrics) ObserveAdapterCall(string, string, time.Duration) {}
func (nopMetrics) ObserveCacheLookup(bool)                          {}

func metricsOrNop(m Metrics) Metrics {
	if m == nil {
		return nopMetrics{}
	}
	return m
}
