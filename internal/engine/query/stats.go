package query

import "sync/atomic"

// Stats counts how queries were answered.
type Stats struct {
	// Hits were served from a fresh memo.
	Hits int64
	// Misses found no fresh memo.
	Misses int64
	// Cutoffs were misses resolved without changing the generation, either
	// by re-verifying the read set or because the recomputed value was equal.
	Cutoffs int64
	// Deduplicated callers waited on another caller's computation.
	Deduplicated int64
	// Executions counts calls of registered functions.
	Executions int64
}

// HitRate returns Hits / (Hits + Misses), or 0 before any query.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

type counters struct {
	hits         atomic.Int64
	misses       atomic.Int64
	cutoffs      atomic.Int64
	deduplicated atomic.Int64
	executions   atomic.Int64
}

// Stats returns a snapshot of the engine's counters.
func (e *Engine) Stats() Stats {
	return Stats{
		Hits:         e.stats.hits.Load(),
		Misses:       e.stats.misses.Load(),
		Cutoffs:      e.stats.cutoffs.Load(),
		Deduplicated: e.stats.deduplicated.Load(),
		Executions:   e.stats.executions.Load(),
	}
}
