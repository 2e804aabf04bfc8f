package checker

import "fmt"

// OffsetSource describes where a committed consumer group offset has been read from. Old consumers
// commit their offsets into ZooKeeper, newer ones into Kafka's internal __consumer_offsets topic.
// Both sources may report different values for the same group/topic/partition; they are never
// merged, only reported independently with this tag attached.
type OffsetSource string

const (
	OffsetSourceZookeeper OffsetSource = "zookeeper"
	OffsetSourceKafka     OffsetSource = "kafka"
)

// TopicPartition identifies a single partition of a topic.
type TopicPartition struct {
	Topic     string
	Partition int32
}

// GroupTopicPartition identifies one committed offset of a consumer group, which is the unit
// ("context") the cardinality limit is enforced on.
type GroupTopicPartition struct {
	Group     string
	Topic     string
	Partition int32
}

func (g GroupTopicPartition) TopicPartition() TopicPartition {
	return TopicPartition{Topic: g.Topic, Partition: g.Partition}
}

// DedupKey returns a stable key in the format "group:topic:partition" that is used to aggregate
// anomaly events for the same context.
func (g GroupTopicPartition) DedupKey() string {
	return fmt.Sprintf("%v:%v:%v", g.Group, g.Topic, g.Partition)
}

// GroupOffsets holds the committed offsets of one offset source.
type GroupOffsets map[GroupTopicPartition]int64

// HighWaterMarks holds the next offset each partition leader will assign on write.
type HighWaterMarks map[TopicPartition]int64
