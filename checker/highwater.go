package checker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kmsg"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// getHighWaterMarks fetches the high water mark (the next offset to be written) for every
// partition in the accumulated topic/partition set. Topics with an empty partition set resolve to
// all partitions the current metadata knows for them.
//
// Fetching is done for all partitions regardless of whether they have active consumers, because
// producer-only topics still need liveness visibility, and it is batched into one ListOffsets
// request per partition leader to keep the cost low at cluster scale.
//
// Partitions without a known leader, and partitions the contacted broker no longer leads, are
// returned in the second result and excluded from the marks. Any other broker error is fatal for
// the whole fetch: protocol errors beyond the expected transient cases indicate a deeper problem
// and must not be silently swallowed.
func (s *Service) getHighWaterMarks(
	ctx context.Context,
	metadata *kmsg.MetadataResponse,
	topics TopicPartitionSet,
) (HighWaterMarks, map[TopicPartition]struct{}, error) {
	marks := make(HighWaterMarks)
	withoutLeader := make(map[TopicPartition]struct{})

	// Group the partitions of interest by their current leader so that each broker receives
	// exactly one request for all partitions it leads.
	partitionsByLeader := make(map[int32]map[string][]int32)
	for topic := range topics {
		partitions := topics.Partitions(topic)
		if len(partitions) == 0 {
			partitions = availablePartitionsForTopic(metadata, topic)
		}

		for _, partition := range partitions {
			leader := leaderForPartition(metadata, topic, partition)
			if leader < 0 {
				withoutLeader[TopicPartition{Topic: topic, Partition: partition}] = struct{}{}
				continue
			}
			if _, exists := partitionsByLeader[leader]; !exists {
				partitionsByLeader[leader] = make(map[string][]int32)
			}
			partitionsByLeader[leader][topic] = append(partitionsByLeader[leader][topic], partition)
		}
	}

	eg, _ := errgroup.WithContext(ctx)
	mutex := sync.Mutex{}

	f := func(brokerID int32, leaderTopics map[string][]int32) func() error {
		return func() error {
			req := kmsg.NewListOffsetsRequest()
			for topic, partitions := range leaderTopics {
				reqTopic := kmsg.NewListOffsetsRequestTopic()
				reqTopic.Topic = topic
				for _, partition := range partitions {
					reqPartition := kmsg.NewListOffsetsRequestTopicPartition()
					reqPartition.Partition = partition
					reqPartition.Timestamp = -1 // -1 = latest offset
					reqPartition.MaxNumOffsets = 1
					reqTopic.Partitions = append(reqTopic.Partitions, reqPartition)
				}
				req.Topics = append(req.Topics, reqTopic)
			}

			res, err := s.kafkaSvc.RequestBroker(ctx, brokerID, &req)
			if err != nil {
				return fmt.Errorf("failed to list offsets on broker '%v': %w", brokerID, err)
			}

			mutex.Lock()
			defer mutex.Unlock()
			return s.processHighWaterMarks(res.(*kmsg.ListOffsetsResponse), marks, withoutLeader)
		}
	}

	for brokerID, leaderTopics := range partitionsByLeader {
		eg.Go(f(brokerID, leaderTopics))
	}

	if err := eg.Wait(); err != nil {
		return nil, nil, err
	}

	return marks, withoutLeader, nil
}

// processHighWaterMarks folds one broker's ListOffsets response into the accumulated marks.
func (s *Service) processHighWaterMarks(
	res *kmsg.ListOffsetsResponse,
	marks HighWaterMarks,
	withoutLeader map[TopicPartition]struct{},
) error {
	for _, topic := range res.Topics {
		for _, partition := range topic.Partitions {
			tp := TopicPartition{Topic: topic.Topic, Partition: partition.Partition}

			err := kerr.ErrorForCode(partition.ErrorCode)
			switch {
			case err == nil:
				marks[tp] = listedOffset(partition)
			case errors.Is(err, kerr.NotLeaderForPartition):
				// Stale metadata: the broker that led this partition when metadata was fetched no
				// longer leads it.
				s.logger.Warn("broker is no longer the leader of this partition",
					zap.String("topic_name", topic.Topic),
					zap.Int32("partition_id", partition.Partition),
					zap.Error(err))
				withoutLeader[tp] = struct{}{}
			case errors.Is(err, kerr.UnknownTopicOrPartition):
				// The topic is currently being deleted or the configuration lists topic partitions
				// that don't exist.
				s.logger.Warn("broker does not know the requested topic or partition",
					zap.String("topic_name", topic.Topic),
					zap.Int32("partition_id", partition.Partition),
					zap.Error(err))
				withoutLeader[tp] = struct{}{}
			default:
				return fmt.Errorf("unexpected error while fetching the high water mark for topic '%v' partition '%v': %w",
					topic.Topic, partition.Partition, err)
			}
		}
	}

	return nil
}

// listedOffset returns the offset of one ListOffsets response entry. Old protocol versions return
// a list of offsets, newer ones a single offset.
func listedOffset(partition kmsg.ListOffsetsResponseTopicPartition) int64 {
	if len(partition.OldStyleOffsets) > 0 {
		return partition.OldStyleOffsets[0]
	}
	return partition.Offset
}

// availablePartitionsForTopic returns all partition ids of the topic that currently have a leader
// according to the given metadata snapshot.
func availablePartitionsForTopic(metadata *kmsg.MetadataResponse, topicName string) []int32 {
	for _, topic := range metadata.Topics {
		if topic.Topic == nil || *topic.Topic != topicName {
			continue
		}

		partitions := make([]int32, 0, len(topic.Partitions))
		for _, partition := range topic.Partitions {
			if partition.Leader < 0 {
				continue
			}
			partitions = append(partitions, partition.Partition)
		}
		return partitions
	}
	return nil
}

// leaderForPartition returns the broker id of the partition's current leader, or -1 if the
// partition or its leader is unknown.
func leaderForPartition(metadata *kmsg.MetadataResponse, topicName string, partitionID int32) int32 {
	for _, topic := range metadata.Topics {
		if topic.Topic == nil || *topic.Topic != topicName {
			continue
		}
		for _, partition := range topic.Partitions {
			if partition.Partition == partitionID {
				return partition.Leader
			}
		}
	}
	return -1
}
