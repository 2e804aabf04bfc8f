package checker

import "time"

const (
	MetricBrokerOffset   = "broker_offset"
	MetricConsumerOffset = "consumer_offset"
	MetricConsumerLag    = "consumer_lag"
)

// Tags carry the metric dimensions (topic, partition, consumer group, offset source) plus any
// statically configured tags.
type Tags map[string]string

// Emitter receives the gauges a check cycle produces.
type Emitter interface {
	Gauge(name string, value float64, tags Tags)
}

// Event is an anomaly notification, e.g. a negative consumer lag which signals potential data loss.
type Event struct {
	Timestamp time.Time
	Source    string
	Title     string
	Type      string
	Severity  string
	Body      string
	Tags      Tags

	// DedupKey aggregates repeated events for the same group/topic/partition.
	DedupKey string
}

// EventSink receives anomaly events. Emitting an event is purely side-effecting, it never alters
// the check cycle's state.
type EventSink interface {
	Emit(event Event)
}
