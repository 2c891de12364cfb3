package cache

import "sync/atomic"

// Stats counts cache traffic since the cache was created.
type Stats struct {
	Hits            int64
	Misses          int64
	Puts            int64
	Evictions       int64
	Collisions      int64
	IntegrityErrors int64
	PersistFailures int64
	LoadFailures    int64
}

// HitRate returns Hits / (Hits + Misses), or 0 before any lookup.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

type counters struct {
	hits, misses, puts, evictions atomic.Int64
	collisions, integrity         atomic.Int64
	persistFailures, loadFailures atomic.Int64
}

// Stats returns a snapshot of the cache's counters.
func (c *Cache) Stats() Stats {
	return Stats{
		Hits:            c.stats.hits.Load(),
		Misses:          c.stats.misses.Load(),
		Puts:            c.stats.puts.Load(),
		Evictions:       c.stats.evictions.Load(),
		Collisions:      c.stats.collisions.Load(),
		IntegrityErrors: c.stats.integrity.Load(),
		PersistFailures: c.stats.persistFailures.Load(),
		LoadFailures:    c.stats.loadFailures.Load(),
	}
}
