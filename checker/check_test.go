package checker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/go-zookeeper/zk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kmsg"
	"go.uber.org/zap"
)

// fakeKafka answers the protocol requests of a check cycle from in-memory state.
type fakeKafka struct {
	metadata     *kmsg.MetadataResponse
	coordinators map[string]int32
	groupOffsets map[string]map[TopicPartition]int64
	marks        map[TopicPartition]int64
	markErrors   map[TopicPartition]int16

	mu               sync.Mutex
	listOffsetsCalls map[int32]int
}

func (f *fakeKafka) Request(_ context.Context, req kmsg.Request) (kmsg.Response, error) {
	switch r := req.(type) {
	case *kmsg.MetadataRequest:
		return f.metadata, nil
	case *kmsg.ApiVersionsRequest:
		res := kmsg.NewApiVersionsResponse()
		findCoordinatorReq := kmsg.NewFindCoordinatorRequest()
		offsetFetchReq := kmsg.NewOffsetFetchRequest()
		findCoordinator := kmsg.NewApiVersionsResponseApiKey()
		findCoordinator.ApiKey = findCoordinatorReq.Key()
		findCoordinator.MaxVersion = 2
		offsetFetch := kmsg.NewApiVersionsResponseApiKey()
		offsetFetch.ApiKey = offsetFetchReq.Key()
		offsetFetch.MaxVersion = 5
		res.ApiKeys = []kmsg.ApiVersionsResponseApiKey{findCoordinator, offsetFetch}
		return &res, nil
	case *kmsg.FindCoordinatorRequest:
		res := kmsg.NewFindCoordinatorResponse()
		if nodeID, exists := f.coordinators[r.CoordinatorKey]; exists {
			res.NodeID = nodeID
		} else {
			res.NodeID = -1
			res.ErrorCode = kerr.CoordinatorNotAvailable.Code
		}
		return &res, nil
	default:
		return nil, fmt.Errorf("fake received an unexpected request type %T", req)
	}
}

func (f *fakeKafka) RequestBroker(_ context.Context, brokerID int32, req kmsg.Request) (kmsg.Response, error) {
	switch r := req.(type) {
	case *kmsg.OffsetFetchRequest:
		res := kmsg.NewOffsetFetchResponse()
		committed := f.groupOffsets[r.Group]
		for _, topic := range r.Topics {
			resTopic := kmsg.NewOffsetFetchResponseTopic()
			resTopic.Topic = topic.Topic
			for _, partition := range topic.Partitions {
				resPartition := kmsg.NewOffsetFetchResponseTopicPartition()
				resPartition.Partition = partition
				if offset, exists := committed[TopicPartition{Topic: topic.Topic, Partition: partition}]; exists {
					resPartition.Offset = offset
				} else {
					resPartition.Offset = -1
				}
				resTopic.Partitions = append(resTopic.Partitions, resPartition)
			}
			res.Topics = append(res.Topics, resTopic)
		}
		return &res, nil
	case *kmsg.ListOffsetsRequest:
		f.mu.Lock()
		if f.listOffsetsCalls == nil {
			f.listOffsetsCalls = make(map[int32]int)
		}
		f.listOffsetsCalls[brokerID]++
		f.mu.Unlock()

		res := kmsg.NewListOffsetsResponse()
		for _, topic := range r.Topics {
			resTopic := kmsg.NewListOffsetsResponseTopic()
			resTopic.Topic = topic.Topic
			for _, partition := range topic.Partitions {
				resPartition := kmsg.NewListOffsetsResponseTopicPartition()
				resPartition.Partition = partition.Partition
				tp := TopicPartition{Topic: topic.Topic, Partition: partition.Partition}
				if code, exists := f.markErrors[tp]; exists {
					resPartition.ErrorCode = code
				} else {
					resPartition.Offset = f.marks[tp]
				}
				resTopic.Partitions = append(resTopic.Partitions, resPartition)
			}
			res.Topics = append(res.Topics, resTopic)
		}
		return &res, nil
	default:
		return nil, fmt.Errorf("fake received an unexpected broker request type %T", req)
	}
}

// fakeZk serves a static ZooKeeper tree. Paths absent from both maps do not exist.
type fakeZk struct {
	children map[string][]string
	values   map[string]string
	closed   bool
}

func (z *fakeZk) Children(path string) ([]string, error) {
	if children, exists := z.children[path]; exists {
		return children, nil
	}
	return nil, zk.ErrNoNode
}

func (z *fakeZk) Get(path string) ([]byte, error) {
	if value, exists := z.values[path]; exists {
		return []byte(value), nil
	}
	return nil, zk.ErrNoNode
}

func (z *fakeZk) Close() {
	z.closed = true
}

type gaugeRecord struct {
	name  string
	value float64
	tags  Tags
}

type metricRecorder struct {
	mu     sync.Mutex
	gauges []gaugeRecord
}

func (r *metricRecorder) Gauge(name string, value float64, tags Tags) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gauges = append(r.gauges, gaugeRecord{name: name, value: value, tags: tags})
}

// lookup returns the value of the first gauge whose name and tag subset match.
func (r *metricRecorder) lookup(name string, match Tags) (float64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
outer:
	for _, gauge := range r.gauges {
		if gauge.name != name {
			continue
		}
		for key, value := range match {
			if gauge.tags[key] != value {
				continue outer
			}
		}
		return gauge.value, true
	}
	return 0, false
}

func (r *metricRecorder) count(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	total := 0
	for _, gauge := range r.gauges {
		if gauge.name == name {
			total++
		}
	}
	return total
}

type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) Emit(event Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func newTestService(cfg Config, kafkaFake *fakeKafka, zkFake *fakeZk) *Service {
	if cfg.MaxPartitionContexts == 0 {
		cfg.MaxPartitionContexts = 200
	}
	var connector ZookeeperConnector
	if zkFake != nil {
		connector = func() (ZookeeperConn, error) { return zkFake, nil }
	}
	return NewService(cfg, zap.NewNop(), kafkaFake, connector)
}

// buildMetadata constructs a MetadataResponse for tests. For every topic the slice holds the
// leader broker id per partition, index position is the partition id and -1 means leaderless.
func buildMetadata(topics map[string][]int32) *kmsg.MetadataResponse {
	res := kmsg.NewMetadataResponse()
	for name, leaders := range topics {
		topic := kmsg.NewMetadataResponseTopic()
		topic.Topic = kmsg.StringPtr(name)
		for partitionID, leader := range leaders {
			partition := kmsg.NewMetadataResponseTopicPartition()
			partition.Partition = int32(partitionID)
			partition.Leader = leader
			topic.Partitions = append(topic.Partitions, partition)
		}
		res.Topics = append(res.Topics, topic)
	}
	return &res
}

func TestRunCheck_BothSourcesReportedIndependently(t *testing.T) {
	kafkaFake := &fakeKafka{
		metadata:     buildMetadata(map[string][]int32{"orders": {1, 1}}),
		coordinators: map[string]int32{"billing": 1},
		groupOffsets: map[string]map[TopicPartition]int64{
			"billing": {
				{Topic: "orders", Partition: 0}: 12,
				{Topic: "orders", Partition: 1}: 15,
			},
		},
		marks: map[TopicPartition]int64{
			{Topic: "orders", Partition: 0}: 20,
			{Topic: "orders", Partition: 1}: 15,
		},
	}
	zkFake := &fakeZk{
		values: map[string]string{
			"/consumers/billing/offsets/orders/0": "10",
			"/consumers/billing/offsets/orders/1": "11",
		},
	}
	cfg := Config{
		ConsumerGroups:       map[string]map[string][]int32{"billing": {"orders": {0, 1}}},
		KafkaConsumerOffsets: true,
	}
	svc := newTestService(cfg, kafkaFake, zkFake)
	recorder := &metricRecorder{}
	events := &eventRecorder{}

	err := svc.RunCheck(context.Background(), recorder, events)
	require.NoError(t, err)

	// One high water mark per partition, independent of consumer groups
	assert.Equal(t, 2, recorder.count(MetricBrokerOffset))
	mark, exists := recorder.lookup(MetricBrokerOffset, Tags{"topic": "orders", "partition": "0"})
	require.True(t, exists)
	assert.Equal(t, 20.0, mark)

	// The same context is reported once per source, never merged
	zkLag, exists := recorder.lookup(MetricConsumerLag, Tags{"partition": "0", "source": "zookeeper"})
	require.True(t, exists)
	assert.Equal(t, 10.0, zkLag)
	kafkaLag, exists := recorder.lookup(MetricConsumerLag, Tags{"partition": "0", "source": "kafka"})
	require.True(t, exists)
	assert.Equal(t, 8.0, kafkaLag)

	zkOffset, exists := recorder.lookup(MetricConsumerOffset, Tags{"partition": "1", "source": "zookeeper"})
	require.True(t, exists)
	assert.Equal(t, 11.0, zkOffset)
	caughtUpLag, exists := recorder.lookup(MetricConsumerLag, Tags{"partition": "1", "source": "kafka"})
	require.True(t, exists)
	assert.Equal(t, 0.0, caughtUpLag)

	assert.Empty(t, events.events)
	assert.True(t, zkFake.closed, "the zookeeper session must be released at the end of discovery")
}

func TestRunCheck_NegativeLagEmitsEventAndKeepsGauge(t *testing.T) {
	kafkaFake := &fakeKafka{
		metadata: buildMetadata(map[string][]int32{"orders": {1}}),
		marks: map[TopicPartition]int64{
			{Topic: "orders", Partition: 0}: 20,
		},
	}
	zkFake := &fakeZk{
		values: map[string]string{
			"/consumers/billing/offsets/orders/0": "25",
		},
	}
	cfg := Config{
		ConsumerGroups: map[string]map[string][]int32{"billing": {"orders": {0}}},
	}
	svc := newTestService(cfg, kafkaFake, zkFake)
	recorder := &metricRecorder{}
	events := &eventRecorder{}

	err := svc.RunCheck(context.Background(), recorder, events)
	require.NoError(t, err)

	lag, exists := recorder.lookup(MetricConsumerLag, Tags{"partition": "0", "source": "zookeeper"})
	require.True(t, exists)
	assert.Equal(t, -5.0, lag, "a negative lag must be reported as-is, clamping it would hide the signal")

	require.Len(t, events.events, 1)
	event := events.events[0]
	assert.Equal(t, "billing:orders:0", event.DedupKey)
	assert.Equal(t, "consumer_lag", event.Type)
	assert.Equal(t, "error", event.Severity)
	assert.Equal(t, "kafka", event.Source)
	assert.Contains(t, event.Title, "billing")

	assert.Equal(t, int64(1), svc.TotalAnomalies())
}

func TestRunCheck_ContextLimitAbortsWithoutReporting(t *testing.T) {
	kafkaFake := &fakeKafka{
		metadata: buildMetadata(map[string][]int32{"orders": {1, 1}}),
		marks: map[TopicPartition]int64{
			{Topic: "orders", Partition: 0}: 20,
			{Topic: "orders", Partition: 1}: 20,
		},
	}
	zkFake := &fakeZk{
		values: map[string]string{
			"/consumers/billing/offsets/orders/0": "10",
			"/consumers/billing/offsets/orders/1": "11",
		},
	}
	cfg := Config{
		ConsumerGroups:       map[string]map[string][]int32{"billing": {"orders": {0, 1}}},
		MaxPartitionContexts: 1,
	}
	svc := newTestService(cfg, kafkaFake, zkFake)
	recorder := &metricRecorder{}
	events := &eventRecorder{}

	err := svc.RunCheck(context.Background(), recorder, events)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTooManyContexts))
	assert.Empty(t, recorder.gauges, "an aborted cycle must not report anything")
	assert.Empty(t, events.events)
}

func TestRunCheck_LeaderlessPartitionIsSkippedQuietly(t *testing.T) {
	kafkaFake := &fakeKafka{
		metadata: buildMetadata(map[string][]int32{"orders": {1, -1}}),
		marks: map[TopicPartition]int64{
			{Topic: "orders", Partition: 0}: 20,
		},
	}
	zkFake := &fakeZk{
		values: map[string]string{
			"/consumers/billing/offsets/orders/0": "10",
			"/consumers/billing/offsets/orders/1": "11",
		},
	}
	cfg := Config{
		ConsumerGroups: map[string]map[string][]int32{"billing": {"orders": {0, 1}}},
	}
	svc := newTestService(cfg, kafkaFake, zkFake)
	recorder := &metricRecorder{}
	events := &eventRecorder{}

	err := svc.RunCheck(context.Background(), recorder, events)
	require.NoError(t, err)

	// The leaderless partition is excluded from the marks and hence from all consumer metrics,
	// while the healthy partition is reported normally.
	assert.Equal(t, 1, recorder.count(MetricBrokerOffset))
	assert.Equal(t, 1, recorder.count(MetricConsumerOffset))
	assert.Equal(t, 1, recorder.count(MetricConsumerLag))
	_, exists := recorder.lookup(MetricConsumerLag, Tags{"partition": "1"})
	assert.False(t, exists)
	assert.Empty(t, events.events)
}

func TestRunCheck_FatalListOffsetsErrorAbortsCycle(t *testing.T) {
	kafkaFake := &fakeKafka{
		metadata: buildMetadata(map[string][]int32{"orders": {1}}),
		markErrors: map[TopicPartition]int16{
			{Topic: "orders", Partition: 0}: kerr.UnknownServerError.Code,
		},
	}
	zkFake := &fakeZk{
		values: map[string]string{
			"/consumers/billing/offsets/orders/0": "10",
		},
	}
	cfg := Config{
		ConsumerGroups: map[string]map[string][]int32{"billing": {"orders": {0}}},
	}
	svc := newTestService(cfg, kafkaFake, zkFake)
	recorder := &metricRecorder{}
	events := &eventRecorder{}

	err := svc.RunCheck(context.Background(), recorder, events)
	require.Error(t, err)
	assert.Empty(t, recorder.gauges)
}

func TestRunCheck_KafkaOnlyWithoutGroupsIsAConfigError(t *testing.T) {
	kafkaFake := &fakeKafka{
		metadata: buildMetadata(map[string][]int32{"orders": {1}}),
	}
	cfg := Config{
		KafkaConsumerOffsets: true,
	}
	svc := newTestService(cfg, kafkaFake, nil)
	recorder := &metricRecorder{}
	events := &eventRecorder{}

	err := svc.RunCheck(context.Background(), recorder, events)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
}

func TestRunCheck_NoConfiguredGroupsDiscoversAllFromZookeeper(t *testing.T) {
	kafkaFake := &fakeKafka{
		metadata: buildMetadata(map[string][]int32{"orders": {1}}),
		marks: map[TopicPartition]int64{
			{Topic: "orders", Partition: 0}: 20,
		},
	}
	zkFake := &fakeZk{
		children: map[string][]string{
			"/consumers":                        {"billing"},
			"/consumers/billing/offsets":        {"orders"},
			"/consumers/billing/offsets/orders": {"0"},
		},
		values: map[string]string{
			"/consumers/billing/offsets/orders/0": "10",
		},
	}
	// No groups configured at all: everything stored in ZooKeeper must be discovered and monitored
	svc := newTestService(Config{}, kafkaFake, zkFake)
	recorder := &metricRecorder{}

	err := svc.RunCheck(context.Background(), recorder, &eventRecorder{})
	require.NoError(t, err)

	offset, exists := recorder.lookup(MetricConsumerOffset, Tags{"consumer_group": "billing", "source": "zookeeper"})
	require.True(t, exists, "omitting the group spec must fall back to full zookeeper discovery")
	assert.Equal(t, 10.0, offset)
	lag, exists := recorder.lookup(MetricConsumerLag, Tags{"consumer_group": "billing", "source": "zookeeper"})
	require.True(t, exists)
	assert.Equal(t, 10.0, lag)
}

func TestRunCheck_StaticTagsAreAttachedEverywhere(t *testing.T) {
	kafkaFake := &fakeKafka{
		metadata: buildMetadata(map[string][]int32{"orders": {1}}),
		marks: map[TopicPartition]int64{
			{Topic: "orders", Partition: 0}: 20,
		},
	}
	zkFake := &fakeZk{
		values: map[string]string{
			"/consumers/billing/offsets/orders/0": "10",
		},
	}
	cfg := Config{
		ConsumerGroups: map[string]map[string][]int32{"billing": {"orders": {0}}},
		Tags:           map[string]string{"env": "staging"},
	}
	svc := newTestService(cfg, kafkaFake, zkFake)
	recorder := &metricRecorder{}

	err := svc.RunCheck(context.Background(), recorder, &eventRecorder{})
	require.NoError(t, err)

	for _, gauge := range recorder.gauges {
		assert.Equalf(t, "staging", gauge.tags["env"], "gauge %v is missing the static tag", gauge.name)
	}
}
