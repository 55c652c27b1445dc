package cache

import "sync/atomic"

// Metrics tracks atomic counters for cache activity. All fields are
// updated without holding the cache's lock, so a snapshot is always
// available without contending with readers or writers. This mirrors
// the counter-plus-snapshot shape used for OCI cache observability in
// the retrieval pack, scaled down to the handful of events this
// in-memory cache actually produces.
type Metrics struct {
	hits                int64
	misses              int64
	insertions          int64
	removals            int64
	evictions           int64
	expirations         int64
	scavengePasses      int64
	errors              int64
	oversizeAdmissions  int64
}

// NewMetrics returns a zeroed Metrics ready for use.
func NewMetrics() *Metrics {
	return &Metrics{}
}

func (m *Metrics) recordHit()               { atomic.AddInt64(&m.hits, 1) }
func (m *Metrics) recordMiss()              { atomic.AddInt64(&m.misses, 1) }
func (m *Metrics) recordInsert()            { atomic.AddInt64(&m.insertions, 1) }
func (m *Metrics) recordRemoval()           { atomic.AddInt64(&m.removals, 1) }
func (m *Metrics) recordEviction(n int64)   { atomic.AddInt64(&m.evictions, n) }
func (m *Metrics) recordExpiration(n int64) { atomic.AddInt64(&m.expirations, n) }
func (m *Metrics) recordScavengePass()      { atomic.AddInt64(&m.scavengePasses, 1) }
func (m *Metrics) recordError()             { atomic.AddInt64(&m.errors, 1) }
func (m *Metrics) recordOversizeAdmission() { atomic.AddInt64(&m.oversizeAdmissions, 1) }

// MetricsSnapshot is a point-in-time, immutable copy of a Metrics.
type MetricsSnapshot struct {
	Hits               int64
	Misses             int64
	Insertions         int64
	Removals           int64
	Evictions          int64
	Expirations        int64
	ScavengePasses     int64
	Errors             int64
	OversizeAdmissions int64
}

// Snapshot copies the current counter values.
func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		Hits:               atomic.LoadInt64(&m.hits),
		Misses:             atomic.LoadInt64(&m.misses),
		Insertions:         atomic.LoadInt64(&m.insertions),
		Removals:           atomic.LoadInt64(&m.removals),
		Evictions:          atomic.LoadInt64(&m.evictions),
		Expirations:        atomic.LoadInt64(&m.expirations),
		ScavengePasses:     atomic.LoadInt64(&m.scavengePasses),
		Errors:             atomic.LoadInt64(&m.errors),
		OversizeAdmissions: atomic.LoadInt64(&m.oversizeAdmissions),
	}
}

// HitRate returns hits / (hits + misses), or 0 when there have been no
// lookups at all.
func (s MetricsSnapshot) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}
