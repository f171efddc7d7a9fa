package observability

// MetricsSink counts registry instrumentation events. It satisfies
// registry.EventSink.
type MetricsSink struct{}

func (MetricsSink) Record(event string, _ map[string]any) {
	RecordedEvents.WithLabelValues(event).Inc()
}
