package cache

import "sync/atomic"

// Stats is a point in time copy of the cache counters.
type Stats struct {
	Hits           uint64
	Misses         uint64
	Fetches        uint64
	FetchErrors    uint64
	Discarded      uint64
	Invalidations  uint64
	Refetches      uint64
	Evictions      uint64
	Mutations      uint64
	MutationErrors uint64
}

// Coalesced is the number of misses served by a fetch started for another caller.
func (s Stats) Coalesced() uint64 {
	if s.Misses <= s.Fetches {
		return 0
	}
	return s.Misses - s.Fetches
}

type counters struct {
	hits           atomic.Uint64
	misses         atomic.Uint64
	fetches        atomic.Uint64
	fetchErrors    atomic.Uint64
	discarded      atomic.Uint64
	invalidations  atomic.Uint64
	refetches      atomic.Uint64
	evictions      atomic.Uint64
	mutations      atomic.Uint64
	mutationErrors atomic.Uint64
}

func (c *counters) snapshot() Stats {
	return Stats{
		Hits:           c.hits.Load(),
		Misses:         c.misses.Load(),
		Fetches:        c.fetches.Load(),
		FetchErrors:    c.fetchErrors.Load(),
		Discarded:      c.discarded.Load(),
		Invalidations:  c.invalidations.Load(),
		Refetches:      c.refetches.Load(),
		Evictions:      c.evictions.Load(),
		Mutations:      c.mutations.Load(),
		MutationErrors: c.mutationErrors.Load(),
	}
}
