package fees

import (
	"context"

	"github.com/rovshanmuradov/token-engine/internal/fixedpoint"
	"github.com/rovshanmuradov/token-engine/internal/storage"
)

// DurableMetricStore is the database-backed MetricStore. Each delta field maps
// to one atomic upsert increment, so concurrent fee events across processes
// never lose updates.
type DurableMetricStore struct {
	store storage.Storage
}

// NewDurableMetricStore wraps a storage backend.
func NewDurableMetricStore(store storage.Storage) *DurableMetricStore {
	return &DurableMetricStore{store: store}
}

// IncrementDaily applies the non-zero delta fields to the day's row.
func (s *DurableMetricStore) IncrementDaily(date string, delta MetricDelta) error {
	ctx := context.Background()
	columns := []struct {
		name  string
		value fixedpoint.Value
	}{
		{"fees_collected", delta.FeesCollected},
		{"tokens_burned", delta.TokensBurned},
		{"trading_volume", delta.TradingVolume},
		{"creator_rewards", delta.CreatorRewards},
	}
	for _, col := range columns {
		if col.value.IsZero() {
			continue
		}
		if err := s.store.IncrementMetric(ctx, date, col.name, col.value.String()); err != nil {
			return err
		}
	}
	return nil
}

// Snapshot reads the day's row back. A missing row means no fee event has
// happened that day.
func (s *DurableMetricStore) Snapshot(date string) (PlatformMetric, bool) {
	record, err := s.store.GetMetric(context.Background(), date)
	if err != nil {
		return PlatformMetric{}, false
	}
	metric := PlatformMetric{Date: record.Date}
	var parseErr error
	if metric.FeesCollected, parseErr = fixedpoint.FromString(record.FeesCollected); parseErr != nil {
		return PlatformMetric{}, false
	}
	if metric.TokensBurned, parseErr = fixedpoint.FromString(record.TokensBurned); parseErr != nil {
		return PlatformMetric{}, false
	}
	if metric.TradingVolume, parseErr = fixedpoint.FromString(record.TradingVolume); parseErr != nil {
		return PlatformMetric{}, false
	}
	if metric.CreatorRewards, parseErr = fixedpoint.FromString(record.CreatorRewards); parseErr != nil {
		return PlatformMetric{}, false
	}
	return metric, true
}
