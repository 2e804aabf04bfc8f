package checker

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/cloudhut/klag/zookeeper"
	"go.uber.org/zap"
)

// Old consumers persist their committed offsets in ZooKeeper under
// /consumers/[groupId]/offsets/[topic]/[partitionId].
const zkPathConsumers = "/consumers"

// getZookeeperConsumerOffsets reads committed consumer group offsets from ZooKeeper. Groups,
// topics and partitions that the given spec leaves unspecified are discovered by listing the
// respective tree level. Missing nodes and unreadable values are skipped so that the source
// returns a best effort partial result rather than aborting the whole cycle.
//
// The second return value is the resolved group spec: the input spec with all discovered groups,
// topics and partitions filled in. The Kafka offset source reuses it so that both sources monitor
// the same universe of groups.
func (s *Service) getZookeeperConsumerOffsets(groups map[string]map[string][]int32) (GroupOffsets, map[string]map[string][]int32) {
	offsets := make(GroupOffsets)

	conn, err := s.zkConnect()
	if err != nil {
		s.logger.Error("failed to connect to zookeeper, no zookeeper stored offsets will be reported this cycle",
			zap.Error(err))
		return offsets, groups
	}
	defer conn.Close()

	if groups == nil {
		// No groups were specified, the groups found in ZooKeeper become the universe to inspect.
		groups = make(map[string]map[string][]int32)
		for _, group := range s.zkPathChildren(conn, zkPathConsumers, "consumer groups") {
			groups[group] = nil
		}
	}

	for group, topics := range groups {
		groupPath := fmt.Sprintf("%v/%v/offsets", zkPathConsumers, group)

		if len(topics) == 0 {
			topics = make(map[string][]int32)
			for _, topic := range s.zkPathChildren(conn, groupPath, "topics") {
				topics[topic] = nil
			}
			groups[group] = topics
		}

		for topic, partitions := range topics {
			topicPath := fmt.Sprintf("%v/%v", groupPath, topic)

			if len(partitions) == 0 {
				// ZooKeeper returns partition ids as strings because they are node names
				for _, child := range s.zkPathChildren(conn, topicPath, "partitions") {
					partition, err := strconv.ParseInt(child, 10, 32)
					if err != nil {
						s.logger.Warn("found a partition node whose name is not a valid partition id",
							zap.String("zk_path", topicPath),
							zap.String("node_name", child))
						continue
					}
					partitions = append(partitions, int32(partition))
				}
				topics[topic] = partitions
			}

			for _, partition := range partitions {
				partitionPath := fmt.Sprintf("%v/%v", topicPath, partition)

				value, err := conn.Get(partitionPath)
				if err != nil {
					if zookeeper.IsNoNode(err) {
						s.logger.Info("no zookeeper node at partition path", zap.String("zk_path", partitionPath))
					} else {
						s.logger.Warn("could not read consumer offset",
							zap.String("zk_path", partitionPath),
							zap.Error(err))
					}
					continue
				}

				offset, err := strconv.ParseInt(strings.TrimSpace(string(value)), 10, 64)
				if err != nil {
					s.logger.Warn("consumer offset node does not contain a valid offset",
						zap.String("zk_path", partitionPath),
						zap.String("value", string(value)))
					continue
				}

				key := GroupTopicPartition{Group: group, Topic: topic, Partition: partition}
				offsets[key] = offset
			}
		}
	}

	return offsets, groups
}

// zkPathChildren lists the child nodes of one ZooKeeper path. A missing node is expected (e.g. a
// group that never committed an offset) and yields an empty result, as does any other per-node
// read failure.
func (s *Service) zkPathChildren(conn ZookeeperConn, path string, nameForError string) []string {
	children, err := conn.Children(path)
	if err != nil {
		if zookeeper.IsNoNode(err) {
			s.logger.Info("no zookeeper node at path", zap.String("zk_path", path))
		} else {
			s.logger.Warn("could not read "+nameForError+" from zookeeper",
				zap.String("zk_path", path),
				zap.Error(err))
		}
		return nil
	}
	return children
}
