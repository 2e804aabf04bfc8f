package prometheus

import (
	"github.com/cloudhut/klag/checker"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// gaugeEmitter translates the gauges of one check cycle into Prometheus metrics and streams them
// into the scrape that triggered the cycle. Tags that are not part of a metric's label set (e.g.
// custom static tags, which are modelled as const labels) are simply not extracted here.
type gaugeEmitter struct {
	exporter *Exporter
	ch       chan<- prometheus.Metric
}

func (g *gaugeEmitter) Gauge(name string, value float64, tags checker.Tags) {
	switch name {
	case checker.MetricBrokerOffset:
		g.ch <- prometheus.MustNewConstMetric(g.exporter.brokerOffset, prometheus.GaugeValue, value,
			tags["topic"], tags["partition"])
	case checker.MetricConsumerOffset:
		g.ch <- prometheus.MustNewConstMetric(g.exporter.consumerOffset, prometheus.GaugeValue, value,
			tags["consumer_group"], tags["topic"], tags["partition"], tags["source"])
	case checker.MetricConsumerLag:
		g.ch <- prometheus.MustNewConstMetric(g.exporter.consumerLag, prometheus.GaugeValue, value,
			tags["consumer_group"], tags["topic"], tags["partition"], tags["source"])
	default:
		g.exporter.logger.Warn("check reported a gauge this exporter does not know",
			zap.String("metric_name", name))
	}
}

// eventLogger is the event sink of the exporter. Prometheus has no native event concept, so events
// are logged at error level and counted.
type eventLogger struct {
	exporter *Exporter
}

func (l *eventLogger) Emit(event checker.Event) {
	l.exporter.eventsTotal.Inc()
	l.exporter.logger.Error(event.Title,
		zap.String("event_type", event.Type),
		zap.String("severity", event.Severity),
		zap.String("dedup_key", event.DedupKey),
		zap.String("body", event.Body))
}
