package checker

import (
	"context"
	"time"

	"github.com/jellydator/ttlcache/v2"
	"github.com/twmb/franz-go/pkg/kmsg"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// KafkaRequester is the capability the checker consumes from the Kafka client. Requests that any
// broker can answer go through Request, requests that must reach a specific broker (a partition
// leader or a group coordinator) go through RequestBroker.
type KafkaRequester interface {
	Request(ctx context.Context, req kmsg.Request) (kmsg.Response, error)
	RequestBroker(ctx context.Context, brokerID int32, req kmsg.Request) (kmsg.Response, error)
}

// ZookeeperConn is one scoped session against the coordination store. It is acquired at the start
// of ZooKeeper offset discovery and released before the discovery returns.
type ZookeeperConn interface {
	Children(path string) ([]string, error)
	Get(path string) ([]byte, error)
	Close()
}

// ZookeeperConnector opens a new ZooKeeper session. It is nil when ZooKeeper offsets are disabled.
type ZookeeperConnector func() (ZookeeperConn, error)

type Service struct {
	Cfg    Config
	logger *zap.Logger

	kafkaSvc  KafkaRequester
	zkConnect ZookeeperConnector

	// requestGroup deduplicates concurrent identical requests against the Kafka cluster,
	// cache holds their responses for the duration of one check cycle.
	requestGroup *singleflight.Group
	cache        *ttlcache.Cache

	anomalies *anomalyTracker
}

func NewService(cfg Config, logger *zap.Logger, kafkaSvc KafkaRequester, zkConnect ZookeeperConnector) *Service {
	cache := ttlcache.NewCache()
	_ = cache.SetTTL(2 * time.Minute)
	cache.SkipTTLExtensionOnHit(true)

	return &Service{
		Cfg:    cfg,
		logger: logger,

		kafkaSvc:  kafkaSvc,
		zkConnect: zkConnect,

		requestGroup: &singleflight.Group{},
		cache:        cache,

		anomalies: newAnomalyTracker(logger.Named("anomaly_tracker")),
	}
}

// TotalAnomalies returns how many negative lag anomalies have been observed since process start.
func (s *Service) TotalAnomalies() int64 {
	return s.anomalies.total()
}

// GetMetadataCached returns the cluster metadata for the current check cycle. The response is
// cached per cycle (keyed by the cycle's request id), so every cycle starts from a fresh snapshot
// while all lookups within one cycle read the same one.
func (s *Service) GetMetadataCached(ctx context.Context) (*kmsg.MetadataResponse, error) {
	reqID := ctx.Value("requestId").(string)
	key := "metadata-" + reqID

	if cachedRes, err := s.cache.Get(key); err == nil {
		return cachedRes.(*kmsg.MetadataResponse), nil
	}

	res, err, _ := s.requestGroup.Do(key, func() (interface{}, error) {
		metadata, err := s.GetMetadata(ctx)
		if err != nil {
			return nil, err
		}

		_ = s.cache.Set(key, metadata)

		return metadata, nil
	})
	if err != nil {
		return nil, err
	}

	return res.(*kmsg.MetadataResponse), nil
}

func (s *Service) GetMetadata(ctx context.Context) (*kmsg.MetadataResponse, error) {
	req := kmsg.NewMetadataRequest()
	req.Topics = nil

	res, err := s.kafkaSvc.Request(ctx, &req)
	if err != nil {
		return nil, err
	}

	return res.(*kmsg.MetadataResponse), nil
}
