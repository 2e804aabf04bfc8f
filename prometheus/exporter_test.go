package prometheus

import (
	"context"
	"errors"
	"strconv"
	"testing"

	"github.com/cloudhut/klag/checker"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeChecker replays a fixed set of gauges and events into whatever sink a cycle hands it.
type fakeChecker struct {
	gauges    []fakeGauge
	events    []checker.Event
	err       error
	anomalies int64
}

type fakeGauge struct {
	name  string
	value float64
	tags  checker.Tags
}

func (f *fakeChecker) RunCheck(_ context.Context, emitter checker.Emitter, events checker.EventSink) error {
	if f.err != nil {
		return f.err
	}
	for _, gauge := range f.gauges {
		emitter.Gauge(gauge.name, gauge.value, gauge.tags)
	}
	for _, event := range f.events {
		events.Emit(event)
	}
	return nil
}

func (f *fakeChecker) TotalAnomalies() int64 {
	return f.anomalies
}

func gather(t *testing.T, exporter *Exporter) map[string][]*dto.Metric {
	t.Helper()
	registry := prometheus.NewPedanticRegistry()
	require.NoError(t, registry.Register(exporter))

	families, err := registry.Gather()
	require.NoError(t, err)

	metrics := make(map[string][]*dto.Metric)
	for _, family := range families {
		metrics[family.GetName()] = family.GetMetric()
	}
	return metrics
}

func labelValue(metric *dto.Metric, name string) string {
	for _, label := range metric.GetLabel() {
		if label.GetName() == name {
			return label.GetValue()
		}
	}
	return ""
}

func newTestConfig() Config {
	var cfg Config
	cfg.SetDefaults()
	return cfg
}

func TestExporterTranslatesCheckGauges(t *testing.T) {
	tags := checker.Tags{
		"consumer_group": "billing",
		"topic":          "orders",
		"partition":      strconv.Itoa(0),
		"source":         "zookeeper",
	}
	fake := &fakeChecker{
		gauges: []fakeGauge{
			{name: checker.MetricBrokerOffset, value: 20, tags: checker.Tags{"topic": "orders", "partition": "0"}},
			{name: checker.MetricConsumerOffset, value: 10, tags: tags},
			{name: checker.MetricConsumerLag, value: 10, tags: tags},
		},
		anomalies: 3,
	}
	exporter := NewExporter(newTestConfig(), zap.NewNop(), fake, nil)

	metrics := gather(t, exporter)

	brokerOffsets := metrics["klag_kafka_broker_offset"]
	require.Len(t, brokerOffsets, 1)
	assert.Equal(t, 20.0, brokerOffsets[0].GetGauge().GetValue())
	assert.Equal(t, "orders", labelValue(brokerOffsets[0], "topic"))

	lags := metrics["klag_kafka_consumer_lag"]
	require.Len(t, lags, 1)
	assert.Equal(t, 10.0, lags[0].GetGauge().GetValue())
	assert.Equal(t, "billing", labelValue(lags[0], "consumer_group"))
	assert.Equal(t, "zookeeper", labelValue(lags[0], "source"))

	up := metrics["klag_exporter_up"]
	require.Len(t, up, 1)
	assert.Equal(t, 1.0, up[0].GetGauge().GetValue())

	anomalies := metrics["klag_kafka_negative_lag_anomalies_total"]
	require.Len(t, anomalies, 1)
	assert.Equal(t, 3.0, anomalies[0].GetCounter().GetValue())
}

func TestExporterReportsFailedCycles(t *testing.T) {
	fake := &fakeChecker{err: errors.New("too many contexts")}
	exporter := NewExporter(newTestConfig(), zap.NewNop(), fake, nil)

	metrics := gather(t, exporter)

	up := metrics["klag_exporter_up"]
	require.Len(t, up, 1)
	assert.Equal(t, 0.0, up[0].GetGauge().GetValue())

	failed := metrics["klag_exporter_failed_cycles_total"]
	require.Len(t, failed, 1)
	assert.Equal(t, 1.0, failed[0].GetCounter().GetValue())
}

func TestExporterCountsEvents(t *testing.T) {
	fake := &fakeChecker{
		events: []checker.Event{
			{Title: "Negative consumer lag for group 'billing'.", Type: "consumer_lag", Severity: "error"},
		},
	}
	exporter := NewExporter(newTestConfig(), zap.NewNop(), fake, nil)

	metrics := gather(t, exporter)

	events := metrics["klag_kafka_negative_lag_events_total"]
	require.Len(t, events, 1)
	assert.Equal(t, 1.0, events[0].GetCounter().GetValue())
}

func TestExporterAttachesStaticTagsAsConstLabels(t *testing.T) {
	fake := &fakeChecker{
		gauges: []fakeGauge{
			{name: checker.MetricBrokerOffset, value: 20, tags: checker.Tags{"topic": "orders", "partition": "0", "env": "staging"}},
		},
	}
	exporter := NewExporter(newTestConfig(), zap.NewNop(), fake, map[string]string{"env": "staging"})

	metrics := gather(t, exporter)

	brokerOffsets := metrics["klag_kafka_broker_offset"]
	require.Len(t, brokerOffsets, 1)
	assert.Equal(t, "staging", labelValue(brokerOffsets[0], "env"))
}
