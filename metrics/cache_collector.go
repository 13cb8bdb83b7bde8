package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/marcelsud/library-catalog/cache"
)

// CacheCollector implements the Collector interface over a cache client
type CacheCollector struct {
	client *cache.Client
}

// NewCacheCollector creates a new cache metrics collector
func NewCacheCollector(client *cache.Client) *CacheCollector {
	return &CacheCollector{
		client: client,
	}
}

// Collect gathers all metrics from the cache
func (c *CacheCollector) Collect(ctx context.Context) (Metrics, error) {
	entries, err := c.GetEntryCounts(ctx)
	if err != nil {
		return Metrics{}, fmt.Errorf("getting entry counts: %w", err)
	}

	subscribers, err := c.GetSubscribers(ctx)
	if err != nil {
		return Metrics{}, fmt.Errorf("getting subscribers: %w", err)
	}

	requests, err := c.GetRequestCounts(ctx)
	if err != nil {
		return Metrics{}, fmt.Errorf("getting request counts: %w", err)
	}

	mutations, err := c.GetMutationCounts(ctx)
	if err != nil {
		return Metrics{}, fmt.Errorf("getting mutation counts: %w", err)
	}

	activity, err := c.GetActivity(ctx)
	if err != nil {
		return Metrics{}, fmt.Errorf("getting activity: %w", err)
	}

	return Metrics{
		Entries:     entries,
		Subscribers: subscribers,
		Requests:    requests,
		Mutations:   mutations,
		Activity:    activity,
		Timestamp:   time.Now(),
	}, nil
}

// GetEntryCounts returns the number of entries per status. Stale entries are counted apart.
func (c *CacheCollector) GetEntryCounts(ctx context.Context) (map[string]int64, error) {
	counts := map[string]int64{
		cache.Pending.String():   0,
		cache.Fulfilled.String(): 0,
		cache.Errored.String():   0,
		"stale":                  0,
	}
	for _, e := range c.client.Store().Entries() {
		if e.Stale {
			counts["stale"]++
			continue
		}
		counts[e.Status.String()]++
	}
	return counts, nil
}

// GetSubscribers returns the number of subscriptions over all entries
func (c *CacheCollector) GetSubscribers(ctx context.Context) (int64, error) {
	var total int64
	for _, e := range c.client.Store().Entries() {
		total += int64(e.Subscribers)
	}
	return total, nil
}

// GetRequestCounts returns read counts by outcome
func (c *CacheCollector) GetRequestCounts(ctx context.Context) (map[string]int64, error) {
	s := c.client.Stats()
	return map[string]int64{
		"hit":         int64(s.Hits),
		"miss":        int64(s.Misses),
		"fetch":       int64(s.Fetches),
		"fetch_error": int64(s.FetchErrors),
		"discarded":   int64(s.Discarded),
		"coalesced":   int64(s.Coalesced()),
	}, nil
}

// GetMutationCounts returns mutation counts by result
func (c *CacheCollector) GetMutationCounts(ctx context.Context) (map[string]int64, error) {
	s := c.client.Stats()
	success := int64(s.Mutations) - int64(s.MutationErrors)
	if success < 0 {
		success = 0
	}
	return map[string]int64{
		"success": success,
		"error":   int64(s.MutationErrors),
	}, nil
}

// GetActivity returns invalidation, refetch and eviction counts
func (c *CacheCollector) GetActivity(ctx context.Context) (ActivityMetrics, error) {
	s := c.client.Stats()
	return ActivityMetrics{
		Invalidations: int64(s.Invalidations),
		Refetches:     int64(s.Refetches),
		Evictions:     int64(s.Evictions),
	}, nil
}
