package checker

import (
	"time"

	cmap "github.com/orcaman/concurrent-map"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// anomalyTracker remembers every negative lag observation across check cycles. It only serves
// observability (a counter metric and context for operators), it never feeds back into the lag
// computation itself.
type anomalyTracker struct {
	logger *zap.Logger

	// anomalies is keyed by the anomaly's dedup key in the format "group:topic:partition".
	// Value is of type anomalyEntry
	anomalies cmap.ConcurrentMap

	observed *atomic.Int64
}

// anomalyEntry is used as value for the anomalies map
type anomalyEntry struct {
	Key GroupTopicPartition

	// Count is the number of cycles this context has reported a negative lag so far
	Count    int
	LastLag  int64
	LastSeen time.Time
}

func newAnomalyTracker(logger *zap.Logger) *anomalyTracker {
	return &anomalyTracker{
		logger:    logger,
		anomalies: cmap.New(),
		observed:  atomic.NewInt64(0),
	}
}

func (t *anomalyTracker) record(key GroupTopicPartition, lag int64) {
	uniqueKey := key.DedupKey()

	count := 0
	if entryInterface, exists := t.anomalies.Get(uniqueKey); exists {
		count = entryInterface.(anomalyEntry).Count
	}

	entry := anomalyEntry{
		Key:      key,
		Count:    count + 1,
		LastLag:  lag,
		LastSeen: time.Now(),
	}
	t.anomalies.Set(uniqueKey, entry)
	t.observed.Add(1)

	if entry.Count > 1 {
		t.logger.Debug("context has reported a negative lag before",
			zap.String("dedup_key", uniqueKey),
			zap.Int("occurrence_count", entry.Count))
	}
}

func (t *anomalyTracker) total() int64 {
	return t.observed.Load()
}
