package checker

import (
	"context"
	"fmt"

	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kmsg"
	"github.com/twmb/franz-go/pkg/kversion"
)

// SupportsKafkaConsumerOffsets reports whether the negotiated protocol version of the cluster
// supports broker-stored consumer offsets (added in Kafka 0.8.2). When unsupported, the Kafka
// offset source is skipped for the cycle.
func (s *Service) SupportsKafkaConsumerOffsets(ctx context.Context) (bool, error) {
	res, err := s.getAPIVersionsCached(ctx)
	if err != nil {
		return false, err
	}
	versions := kversion.FromApiVersionsResponse(res)

	findCoordinator := kmsg.NewFindCoordinatorRequest()
	offsetFetch := kmsg.NewOffsetFetchRequest()
	return versions.HasKey(findCoordinator.Key()) && versions.HasKey(offsetFetch.Key()), nil
}

// getAPIVersionsCached caches the ApiVersions response across cycles. Protocol support only
// changes on cluster upgrades, so there's no need to renegotiate every cycle.
func (s *Service) getAPIVersionsCached(ctx context.Context) (*kmsg.ApiVersionsResponse, error) {
	key := "api-versions"

	if cachedRes, err := s.cache.Get(key); err == nil {
		return cachedRes.(*kmsg.ApiVersionsResponse), nil
	}

	res, err, _ := s.requestGroup.Do(key, func() (interface{}, error) {
		versions, err := s.GetAPIVersions(ctx)
		if err != nil {
			return nil, err
		}

		_ = s.cache.Set(key, versions)

		return versions, nil
	})
	if err != nil {
		return nil, err
	}

	return res.(*kmsg.ApiVersionsResponse), nil
}

func (s *Service) GetAPIVersions(ctx context.Context) (*kmsg.ApiVersionsResponse, error) {
	req := kmsg.NewApiVersionsRequest()
	req.ClientSoftwareName = "klag"
	req.ClientSoftwareVersion = "v1"

	res, err := s.kafkaSvc.Request(ctx, &req)
	if err != nil {
		return nil, fmt.Errorf("failed to request api versions: %w", err)
	}

	versionsRes := res.(*kmsg.ApiVersionsResponse)
	err = kerr.ErrorForCode(versionsRes.ErrorCode)
	if err != nil {
		return nil, fmt.Errorf("failed to request api versions. Inner kafka error: %w", err)
	}

	return versionsRes, nil
}
