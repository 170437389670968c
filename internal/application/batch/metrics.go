package batch

// Metrics receives batch telemetry. The prometheus ResolverMetrics type
// implements it.
type Metrics interface {
	ObserveBatchItem(status string)
	ObserveBatchRetry()
	AddInFlight(delta int)
	ObserveCheckpointWrite(ok bool)
}

type nopMetrics struct{}

func (nopMetrics) ObserveBatchItem(string)     {}
func (nopMetrics) ObserveBatchRetry()          {}
func (nopMetrics) AddInFlight(int)             {}
func (nopMetrics) ObserveCheckpointWrite(bool) {}
