package checker

// TopicPartitionSet accumulates the partitions of interest per topic across all offset sources.
// A topic that is present with an empty partition set means "all partitions currently known to
// the cluster". That substitution happens at the point of use against live metadata rather than
// at accumulation time, because the topology may change in between.
type TopicPartitionSet map[string]map[int32]struct{}

func NewTopicPartitionSet() TopicPartitionSet {
	return make(TopicPartitionSet)
}

// Add records interest in one specific partition of a topic.
func (s TopicPartitionSet) Add(topic string, partition int32) {
	s.AddTopic(topic)
	s[topic][partition] = struct{}{}
}

// AddTopic records interest in a topic without naming partitions. If no partition is ever added
// the topic keeps its empty set, which resolves to all known partitions at lookup time.
func (s TopicPartitionSet) AddTopic(topic string) {
	if _, exists := s[topic]; !exists {
		s[topic] = make(map[int32]struct{})
	}
}

// AddGroupTopics merges the topic/partition interest of one consumer group spec. Re-applying the
// same spec is a no-op thanks to set semantics.
func (s TopicPartitionSet) AddGroupTopics(topics map[string][]int32) {
	for topic, partitions := range topics {
		s.AddTopic(topic)
		for _, partition := range partitions {
			s.Add(topic, partition)
		}
	}
}

// Partitions returns the accumulated partitions for a topic, which may be empty.
func (s TopicPartitionSet) Partitions(topic string) []int32 {
	partitions := make([]int32, 0, len(s[topic]))
	for partition := range s[topic] {
		partitions = append(partitions, partition)
	}
	return partitions
}
