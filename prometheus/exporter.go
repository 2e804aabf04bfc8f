package prometheus

import (
	"context"
	"sync"

	"github.com/cloudhut/klag/checker"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// LagChecker runs one lag check cycle and reports its results into the given emitter and event
// sink. Implemented by checker.Service.
type LagChecker interface {
	RunCheck(ctx context.Context, emitter checker.Emitter, events checker.EventSink) error
	TotalAnomalies() int64
}

// Exporter implements the prometheus.Collector interface. Every scrape triggers one check cycle
// whose gauges are translated into Prometheus metrics. Scrapes are serialized: no two cycles run
// concurrently.
type Exporter struct {
	cfg      Config
	logger   *zap.Logger
	checkSvc LagChecker

	checkMutex   sync.Mutex
	lastCycleOk  *atomic.Bool
	failedCycles *atomic.Int64

	// Exporter metrics
	exporterUp        *prometheus.Desc
	failedCyclesTotal *prometheus.Desc
	anomaliesTotal    *prometheus.Desc

	// Check metrics
	brokerOffset   *prometheus.Desc
	consumerOffset *prometheus.Desc
	consumerLag    *prometheus.Desc
	eventsTotal    *atomic.Int64
	eventsDesc     *prometheus.Desc
}

func NewExporter(cfg Config, logger *zap.Logger, checkSvc LagChecker, constLabels map[string]string) *Exporter {
	e := &Exporter{
		cfg:      cfg,
		logger:   logger,
		checkSvc: checkSvc,

		lastCycleOk:  atomic.NewBool(false),
		failedCycles: atomic.NewInt64(0),
		eventsTotal:  atomic.NewInt64(0),
	}
	e.initializeMetrics(prometheus.Labels(constLabels))

	return e
}

func (e *Exporter) initializeMetrics(constLabels prometheus.Labels) {
	e.exporterUp = prometheus.NewDesc(
		prometheus.BuildFQName(e.cfg.Namespace, "exporter", "up"),
		"Gauge that is 1 if the last check cycle completed, 0 if it was aborted or failed.",
		nil,
		constLabels,
	)
	e.failedCyclesTotal = prometheus.NewDesc(
		prometheus.BuildFQName(e.cfg.Namespace, "exporter", "failed_cycles_total"),
		"Number of check cycles that have been aborted or failed.",
		nil,
		constLabels,
	)
	e.anomaliesTotal = prometheus.NewDesc(
		prometheus.BuildFQName(e.cfg.Namespace, "kafka", "negative_lag_anomalies_total"),
		"Number of negative consumer lag observations since process start.",
		nil,
		constLabels,
	)

	e.brokerOffset = prometheus.NewDesc(
		prometheus.BuildFQName(e.cfg.Namespace, "kafka", "broker_offset"),
		"High water mark of a topic partition, i.e. the next offset the leader will assign on write.",
		[]string{"topic", "partition"},
		constLabels,
	)
	e.consumerOffset = prometheus.NewDesc(
		prometheus.BuildFQName(e.cfg.Namespace, "kafka", "consumer_offset"),
		"Committed offset of a consumer group on a topic partition, tagged by offset source.",
		[]string{"consumer_group", "topic", "partition", "source"},
		constLabels,
	)
	e.consumerLag = prometheus.NewDesc(
		prometheus.BuildFQName(e.cfg.Namespace, "kafka", "consumer_lag"),
		"High water mark minus committed offset. Negative values indicate an offset past the log head.",
		[]string{"consumer_group", "topic", "partition", "source"},
		constLabels,
	)
	e.eventsDesc = prometheus.NewDesc(
		prometheus.BuildFQName(e.cfg.Namespace, "kafka", "negative_lag_events_total"),
		"Number of negative consumer lag events emitted since process start.",
		nil,
		constLabels,
	)
}

// Describe implements the prometheus.Collector interface.
func (e *Exporter) Describe(ch chan<- *prometheus.Desc) {
	ch <- e.exporterUp
	ch <- e.failedCyclesTotal
	ch <- e.anomaliesTotal
	ch <- e.brokerOffset
	ch <- e.consumerOffset
	ch <- e.consumerLag
	ch <- e.eventsDesc
}

// Collect implements the prometheus.Collector interface. It runs one check cycle and streams the
// cycle's gauges into the given channel.
func (e *Exporter) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.CheckTimeout)
	defer cancel()

	// One cycle at a time. A scrape that arrives while a cycle is still running waits for its turn
	// rather than kicking off a second cycle against the same cluster.
	e.checkMutex.Lock()
	defer e.checkMutex.Unlock()

	emitter := &gaugeEmitter{exporter: e, ch: ch}
	events := &eventLogger{exporter: e}

	err := e.checkSvc.RunCheck(ctx, emitter, events)
	if err != nil {
		e.logger.Error("check cycle did not complete", zap.Error(err))
		e.failedCycles.Inc()
	}
	e.lastCycleOk.Store(err == nil)

	upValue := 0.0
	if e.lastCycleOk.Load() {
		upValue = 1.0
	}
	ch <- prometheus.MustNewConstMetric(e.exporterUp, prometheus.GaugeValue, upValue)
	ch <- prometheus.MustNewConstMetric(e.failedCyclesTotal, prometheus.CounterValue, float64(e.failedCycles.Load()))
	ch <- prometheus.MustNewConstMetric(e.anomaliesTotal, prometheus.CounterValue, float64(e.checkSvc.TotalAnomalies()))
	ch <- prometheus.MustNewConstMetric(e.eventsDesc, prometheus.CounterValue, float64(e.eventsTotal.Load()))
}
