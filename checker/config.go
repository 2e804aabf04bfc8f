package checker

import "fmt"

type Config struct {
	// ConsumerGroups maps each monitored group to its topics and partitions. A nil/empty topic map
	// means "discover the group's topics dynamically", an empty partition list means "discover the
	// topic's partitions dynamically".
	ConsumerGroups map[string]map[string][]int32 `koanf:"consumerGroups"`

	// MonitorUnlistedGroups discovers and monitors all groups found in ZooKeeper instead of only
	// the explicitly configured ones.
	MonitorUnlistedGroups bool `koanf:"monitorUnlistedGroups"`

	// KafkaConsumerOffsets reads committed offsets that are stored in the Kafka cluster itself
	// (the __consumer_offsets mechanism). This can be combined with ZooKeeper stored offsets,
	// both sources are then reported independently.
	KafkaConsumerOffsets bool `koanf:"kafkaConsumerOffsets"`

	// MaxPartitionContexts caps the number of distinct group/topic/partition combinations that one
	// check cycle may report. When an offset source exceeds the cap the whole cycle is aborted and
	// nothing is reported, since a partially reported cardinality explosion is worse than a gap.
	MaxPartitionContexts int `koanf:"maxPartitionContexts"`

	// Tags are static key/value pairs attached to every reported metric and event.
	Tags map[string]string `koanf:"tags"`
}

func (c *Config) SetDefaults() {
	c.KafkaConsumerOffsets = true
	c.MaxPartitionContexts = 200
}

func (c *Config) Validate() error {
	if c.MaxPartitionContexts <= 0 {
		return fmt.Errorf("max partition contexts must be greater than 0")
	}

	for group, topics := range c.ConsumerGroups {
		if group == "" {
			return fmt.Errorf("consumer group names must not be empty")
		}
		for topic, partitions := range topics {
			if topic == "" {
				return fmt.Errorf("topic names in the spec of consumer group '%v' must not be empty", group)
			}
			for _, partition := range partitions {
				if partition < 0 {
					return fmt.Errorf("partition '%v' of topic '%v' in consumer group '%v' is invalid, "+
						"partitions must not be negative", partition, topic, group)
				}
			}
		}
	}

	return nil
}

// configuredGroups returns a deep copy of the configured group spec so that dynamic discovery can
// fill in topics and partitions without mutating long lived configuration state. When all unlisted
// groups shall be monitored, or no groups are configured at all, a nil map is returned, which
// discovery resolves against ZooKeeper.
func (c *Config) configuredGroups() map[string]map[string][]int32 {
	if c.MonitorUnlistedGroups || len(c.ConsumerGroups) == 0 {
		return nil
	}

	groups := make(map[string]map[string][]int32, len(c.ConsumerGroups))
	for group, topics := range c.ConsumerGroups {
		var topicsCopy map[string][]int32
		if topics != nil {
			topicsCopy = make(map[string][]int32, len(topics))
			for topic, partitions := range topics {
				topicsCopy[topic] = append([]int32(nil), partitions...)
			}
		}
		groups[group] = topicsCopy
	}
	return groups
}
