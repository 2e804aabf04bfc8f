package checker

import (
	"context"
	"fmt"
	"sync"

	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kmsg"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// getKafkaConsumerOffsets reads committed consumer group offsets that are stored in the Kafka
// cluster itself (the __consumer_offsets mechanism) rather than in ZooKeeper. Groups are fetched
// concurrently and failures are isolated per group: one group's failure does not prevent offsets
// of other groups from being reported.
//
// The returned TopicPartitionSet accumulates every topic/partition an offset was found for, so
// that high water marks can be fetched for them later in the cycle.
func (s *Service) getKafkaConsumerOffsets(
	ctx context.Context,
	groups map[string]map[string][]int32,
	metadata *kmsg.MetadataResponse,
) (GroupOffsets, TopicPartitionSet) {
	eg, _ := errgroup.WithContext(ctx)

	mutex := sync.Mutex{}
	offsets := make(GroupOffsets)
	topics := NewTopicPartitionSet()

	f := func(group string, groupTopics map[string][]int32) func() error {
		return func() error {
			groupOffsets, err := s.getSingleGroupOffsets(ctx, group, groupTopics, metadata)
			if err != nil {
				s.logger.Warn("failed to fetch consumer group offsets from kafka",
					zap.String("consumer_group", group),
					zap.Error(err))
				return nil
			}

			mutex.Lock()
			defer mutex.Unlock()
			for tp, offset := range groupOffsets {
				topics.Add(tp.Topic, tp.Partition)
				offsets[GroupTopicPartition{Group: group, Topic: tp.Topic, Partition: tp.Partition}] = offset
			}
			return nil
		}
	}

	for group, groupTopics := range groups {
		eg.Go(f(group, groupTopics))
	}
	_ = eg.Wait()

	return offsets, topics
}

// getSingleGroupOffsets resolves the group's coordinator and asks it for all committed offsets of
// the group's partitions of interest in one batched request.
func (s *Service) getSingleGroupOffsets(
	ctx context.Context,
	group string,
	groupTopics map[string][]int32,
	metadata *kmsg.MetadataResponse,
) (map[TopicPartition]int64, error) {
	coordinatorID, found, err := s.findGroupCoordinator(ctx, group)
	if err != nil {
		return nil, err
	}
	if !found {
		s.logger.Info("unable to find group coordinator, skipping group for this cycle",
			zap.String("consumer_group", group))
		return nil, nil
	}

	req := kmsg.NewOffsetFetchRequest()
	req.Group = group
	for topic, partitions := range groupTopics {
		if len(partitions) == 0 {
			partitions = availablePartitionsForTopic(metadata, topic)
		}
		reqTopic := kmsg.NewOffsetFetchRequestTopic()
		reqTopic.Topic = topic
		reqTopic.Partitions = partitions
		req.Topics = append(req.Topics, reqTopic)
	}

	res, err := s.kafkaSvc.RequestBroker(ctx, coordinatorID, &req)
	if err != nil {
		return nil, fmt.Errorf("failed to request group offsets for group '%v': %w", group, err)
	}
	offsetRes := res.(*kmsg.OffsetFetchResponse)

	err = kerr.ErrorForCode(offsetRes.ErrorCode)
	if err != nil {
		return nil, fmt.Errorf("failed to request group offsets for group '%v'. Inner kafka error: %w", group, err)
	}

	groupOffsets := make(map[TopicPartition]int64)
	for _, topic := range offsetRes.Topics {
		for _, partition := range topic.Partitions {
			err := kerr.ErrorForCode(partition.ErrorCode)
			if err != nil {
				// The partition simply has no committed offset yet (or is momentarily unavailable)
				s.logger.Debug("got an error code for a partition in the offset fetch response",
					zap.String("consumer_group", group),
					zap.String("topic_name", topic.Topic),
					zap.Int32("partition_id", partition.Partition),
					zap.Error(err))
				continue
			}
			if partition.Offset < 0 {
				// Offset -1 means the group has no committed offset for this partition
				continue
			}
			groupOffsets[TopicPartition{Topic: topic.Topic, Partition: partition.Partition}] = partition.Offset
		}
	}

	return groupOffsets, nil
}

// findGroupCoordinator determines which broker is the group coordinator for the given consumer
// group. The second return value is false when no broker identifies itself as the coordinator,
// which is a recoverable per-group condition.
func (s *Service) findGroupCoordinator(ctx context.Context, group string) (int32, bool, error) {
	req := kmsg.NewFindCoordinatorRequest()
	req.CoordinatorKey = group
	req.CoordinatorType = 0 // 0 = group coordinator

	res, err := s.kafkaSvc.Request(ctx, &req)
	if err != nil {
		return -1, false, fmt.Errorf("failed to find coordinator for group '%v': %w", group, err)
	}
	coordinatorRes := res.(*kmsg.FindCoordinatorResponse)

	// FindCoordinator v4+ answers in a batched coordinators list, older versions inline
	errCode := coordinatorRes.ErrorCode
	nodeID := coordinatorRes.NodeID
	if len(coordinatorRes.Coordinators) > 0 {
		errCode = coordinatorRes.Coordinators[0].ErrorCode
		nodeID = coordinatorRes.Coordinators[0].NodeID
	}

	if err := kerr.ErrorForCode(errCode); err != nil {
		return -1, false, nil
	}

	return nodeID, true, nil
}
