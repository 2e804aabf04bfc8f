package checker

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrTooManyContexts is returned when an offset source discovered more group/topic/partition
// combinations than the configured maximum allows to report.
var ErrTooManyContexts = errors.New("discovered more partition contexts than the configured maximum")

// RunCheck executes one lag check cycle: discover committed consumer group offsets from the
// enabled sources, fetch the high water mark of every involved partition and report each source's
// lag independently.
//
// Consumer offsets are deliberately fetched before the high water marks. Whichever side is fetched
// first may be outdated by the time the other is read, and fetching consumer offsets first at
// worst overstates the lag a little, while the other order can understate it to the point of a
// negative lag, which is theoretically impossible and only creates confusion.
//
// Everything the cycle discovers is rebuilt from scratch on the next cycle, nothing is carried
// over. A fatal condition (invalid configuration, too many contexts, failure to fetch the high
// water marks) aborts the cycle without emitting anything.
func (s *Service) RunCheck(ctx context.Context, emitter Emitter, events EventSink) error {
	ctx = context.WithValue(ctx, "requestId", uuid.New().String())

	zkEnabled := s.zkConnect != nil
	groups := s.Cfg.configuredGroups()

	if s.Cfg.KafkaConsumerOffsets && !zkEnabled && len(groups) == 0 {
		return fmt.Errorf("invalid configuration - if you are not collecting offsets from zookeeper " +
			"you must specify consumer groups")
	}

	var zkOffsets GroupOffsets
	if zkEnabled {
		zkOffsets, groups = s.getZookeeperConsumerOffsets(groups)
	}

	// Refresh the metadata snapshot before any broker-side lookup of this cycle
	metadata, err := s.GetMetadataCached(ctx)
	if err != nil {
		s.logger.Error("failed to refresh cluster metadata, aborting the cycle", zap.Error(err))
		return fmt.Errorf("failed to refresh cluster metadata: %w", err)
	}

	var kafkaOffsets GroupOffsets
	topics := NewTopicPartitionSet()
	if s.Cfg.KafkaConsumerOffsets {
		supported, err := s.SupportsKafkaConsumerOffsets(ctx)
		switch {
		case err != nil:
			s.logger.Warn("failed to determine whether the cluster supports kafka stored offsets, "+
				"skipping the kafka offset source for this cycle", zap.Error(err))
		case !supported:
			s.logger.Info("the cluster does not support kafka stored consumer offsets, " +
				"skipping the kafka offset source")
		default:
			kafkaOffsets, topics = s.getKafkaConsumerOffsets(ctx, groups, metadata)
		}
	}

	// If the kafka offset source did not accumulate any topics, fall back to the resolved group
	// spec so that high water marks are still fetched for everything the groups are known to
	// consume.
	if len(topics) == 0 {
		for _, groupTopics := range groups {
			topics.AddGroupTopics(groupTopics)
		}
	}

	if err := s.checkContextLimit(len(zkOffsets), OffsetSourceZookeeper); err != nil {
		return err
	}
	if err := s.checkContextLimit(len(kafkaOffsets), OffsetSourceKafka); err != nil {
		return err
	}

	marks, withoutLeader, err := s.getHighWaterMarks(ctx, metadata, topics)
	if err != nil {
		s.logger.Error("there was a problem collecting the high water marks, aborting the cycle",
			zap.Error(err))
		return fmt.Errorf("failed to collect high water marks: %w", err)
	}

	// Report the high water mark of every partition of interest, independent of any consumer group
	for tp, mark := range marks {
		emitter.Gauge(MetricBrokerOffset, float64(mark), s.brokerTags(tp))
	}

	s.reportConsumerMetrics(emitter, events, OffsetSourceZookeeper, zkOffsets, marks, withoutLeader)
	s.reportConsumerMetrics(emitter, events, OffsetSourceKafka, kafkaOffsets, marks, withoutLeader)

	return nil
}

// checkContextLimit aborts the cycle when one offset source discovered more contexts than the
// check may report. Half reported cardinality-exploding data is worse than no data.
func (s *Service) checkContextLimit(contextCount int, source OffsetSource) error {
	if contextCount <= s.Cfg.MaxPartitionContexts {
		return nil
	}

	s.logger.Warn("discovered more partition contexts than the maximum number permitted by the check, "+
		"aborting the cycle without reporting anything. Narrow the monitored consumer groups, topics "+
		"and partitions via the consumer group spec",
		zap.Int("context_count", contextCount),
		zap.Int("max_partition_contexts", s.Cfg.MaxPartitionContexts),
		zap.String("source", string(source)))
	return fmt.Errorf("%w: %d contexts from source '%v'", ErrTooManyContexts, contextCount, source)
}

// reportConsumerMetrics reports the committed offset and the lag of every context of one offset
// source. The source is carried as a tag on every metric and event; two sources may legitimately
// disagree for the same context and are never merged.
func (s *Service) reportConsumerMetrics(
	emitter Emitter,
	events EventSink,
	source OffsetSource,
	offsets GroupOffsets,
	marks HighWaterMarks,
	withoutLeader map[TopicPartition]struct{},
) {
	for key, consumerOffset := range offsets {
		tp := key.TopicPartition()

		mark, exists := marks[tp]
		if !exists {
			s.logger.Warn("no high water mark is available for the partition, "+
				"skipping consumer metric submission",
				zap.String("consumer_group", key.Group),
				zap.String("topic_name", key.Topic),
				zap.Int32("partition_id", key.Partition),
				zap.String("source", string(source)))
			if _, unled := withoutLeader[tp]; !unled {
				s.logger.Warn("consumer group has committed offsets for a topic partition that "+
					"does not exist in the cluster",
					zap.String("consumer_group", key.Group),
					zap.String("topic_name", key.Topic),
					zap.Int32("partition_id", key.Partition))
			}
			continue
		}

		tags := s.consumerTags(source, key)
		emitter.Gauge(MetricConsumerOffset, float64(consumerOffset), tags)

		lag := mark - consumerOffset
		if lag < 0 {
			// A consumer offset past the log head means data loss or an offset reset race, emit an
			// event for maximum visibility. The negative gauge is still reported, clamping it would
			// hide the signal.
			event := Event{
				Timestamp: time.Now(),
				Source:    "kafka",
				Title:     fmt.Sprintf("Negative consumer lag for group '%v'.", key.Group),
				Type:      "consumer_lag",
				Severity:  "error",
				Body: fmt.Sprintf("Consumer lag for consumer group '%v', topic '%v', partition '%v' "+
					"is negative. This should never happen.", key.Group, key.Topic, key.Partition),
				Tags:     tags,
				DedupKey: key.DedupKey(),
			}
			events.Emit(event)
			s.anomalies.record(key, lag)
			s.logger.Debug(event.Body)
		}
		emitter.Gauge(MetricConsumerLag, float64(lag), tags)
	}
}

func (s *Service) baseTags() Tags {
	tags := make(Tags, len(s.Cfg.Tags)+4)
	for key, value := range s.Cfg.Tags {
		tags[key] = value
	}
	return tags
}

func (s *Service) brokerTags(tp TopicPartition) Tags {
	tags := s.baseTags()
	tags["topic"] = tp.Topic
	tags["partition"] = strconv.Itoa(int(tp.Partition))
	return tags
}

func (s *Service) consumerTags(source OffsetSource, key GroupTopicPartition) Tags {
	tags := s.brokerTags(key.TopicPartition())
	tags["consumer_group"] = key.Group
	tags["source"] = string(source)
	return tags
}
