package fees

import (
	"sync"
	"time"

	"github.com/rovshanmuradov/token-engine/internal/fixedpoint"
)

// PlatformMetric is one daily aggregate bucket. Counters only grow within a
// day; rows are retained indefinitely.
type PlatformMetric struct {
	Date           string // YYYY-MM-DD, UTC
	FeesCollected  fixedpoint.Value
	TokensBurned   fixedpoint.Value
	TradingVolume  fixedpoint.Value
	CreatorRewards fixedpoint.Value
}

// MetricDelta is an atomic increment applied to a daily bucket. Absent fields
// stay zero.
type MetricDelta struct {
	FeesCollected  fixedpoint.Value
	TokensBurned   fixedpoint.Value
	TradingVolume  fixedpoint.Value
	CreatorRewards fixedpoint.Value
}

// MetricStore applies atomic increments to daily platform metrics. This is
// the platform's only cross-token shared state, so implementations must make
// each increment atomic.
type MetricStore interface {
	IncrementDaily(date string, delta MetricDelta) error
	Snapshot(date string) (PlatformMetric, bool)
}

// MetricDate formats t into the store's day key.
func MetricDate(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// MemoryMetricStore is the in-process MetricStore. A mutex around the whole
// bucket map makes every increment atomic; buckets are created lazily on the
// first fee event of a day.
type MemoryMetricStore struct {
	mu      sync.Mutex
	buckets map[string]*PlatformMetric
}

// NewMemoryMetricStore creates an empty store.
func NewMemoryMetricStore() *MemoryMetricStore {
	return &MemoryMetricStore{buckets: make(map[string]*PlatformMetric)}
}

// IncrementDaily applies delta to the bucket for date.
func (s *MemoryMetricStore) IncrementDaily(date string, delta MetricDelta) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.buckets[date]
	if !ok {
		b = &PlatformMetric{Date: date}
		s.buckets[date] = b
	}
	var err error
	if b.FeesCollected, err = b.FeesCollected.Add(delta.FeesCollected); err != nil {
		return err
	}
	if b.TokensBurned, err = b.TokensBurned.Add(delta.TokensBurned); err != nil {
		return err
	}
	if b.TradingVolume, err = b.TradingVolume.Add(delta.TradingVolume); err != nil {
		return err
	}
	if b.CreatorRewards, err = b.CreatorRewards.Add(delta.CreatorRewards); err != nil {
		return err
	}
	return nil
}

// Snapshot returns a copy of the bucket for date.
func (s *MemoryMetricStore) Snapshot(date string) (PlatformMetric, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.buckets[date]
	if !ok {
		return PlatformMetric{}, false
	}
	return *b, true
}
