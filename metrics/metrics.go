package metrics

import (
	"context"
	"time"
)

// Metrics represents the current state of the resource cache.
type Metrics struct {
	// Entries maps an entry status (pending, fulfilled, error, stale) to the number of entries
	Entries map[string]int64 `json:"entries"`

	// Subscribers is the number of active watchers over all entries
	Subscribers int64 `json:"subscribers"`

	// Requests maps a read outcome (hit, miss, fetch, fetch_error, discarded) to its count
	Requests map[string]int64 `json:"requests"`

	// Mutations maps a mutation result (success, error) to its count
	Mutations map[string]int64 `json:"mutations"`

	// Activity counts the background work triggered by invalidations
	Activity ActivityMetrics `json:"activity"`

	// Timestamp when metrics were collected
	Timestamp time.Time `json:"timestamp"`
}

// ActivityMetrics represents cache maintenance since start.
type ActivityMetrics struct {
	// Invalidations is the number of tag invalidations
	Invalidations int64 `json:"invalidations"`

	// Refetches is the number of background refetches started
	Refetches int64 `json:"refetches"`

	// Evictions is the number of entries dropped after their grace period
	Evictions int64 `json:"evictions"`
}

// Collector defines the interface for collecting metrics from the resource cache.
type Collector interface {
	// Collect gathers current metrics from the system
	Collect(ctx context.Context) (Metrics, error)

	// GetEntryCounts returns the number of entries by status
	GetEntryCounts(ctx context.Context) (map[string]int64, error)

	// GetSubscribers returns the number of active subscriptions
	GetSubscribers(ctx context.Context) (int64, error)

	// GetRequestCounts returns read counts by outcome
	GetRequestCounts(ctx context.Context) (map[string]int64, error)

	// GetMutationCounts returns mutation counts by result
	GetMutationCounts(ctx context.Context) (map[string]int64, error)

	// GetActivity returns invalidation, refetch and eviction counts
	GetActivity(ctx context.Context) (ActivityMetrics, error)
}
