// Package stats keeps anonymous aggregate counters about the query
// pipeline.
//
// Counters only ever hold totals. No domain, no query content and no
// per-domain breakdown is recorded here, which is what makes them safe to
// persist and expose.
package stats

import (
	"io"

	vm "github.com/VictoriaMetrics/metrics"
)

// Aggregator holds the process-lifetime counters of the pipeline. All
// increments are atomic, so it can be shared by any number of concurrent
// queries. Counters reset only on process restart.
type Aggregator struct {
	set *vm.Set

	totalQueries   *vm.Counter
	blockedQueries *vm.Counter
	failedQueries  *vm.Counter
	cacheHits      *vm.Counter
	cacheMisses    *vm.Counter
}

// Counters is a read-only snapshot of the aggregate counters.
type Counters struct {
	TotalQueries   uint64 `json:"total_queries"`
	BlockedQueries uint64 `json:"blocked_queries"`
	FailedQueries  uint64 `json:"failed_queries"`
	CacheHits      uint64 `json:"cache_hits"`
	CacheMisses    uint64 `json:"cache_misses"`
}

// NewAggregator returns a new aggregator with all counters at zero. Each
// aggregator has its own metrics set, so tests and multiple pipelines do not
// collide in a global registry.
func NewAggregator() *Aggregator {
	set := vm.NewSet()
	return &Aggregator{
		set:            set,
		totalQueries:   set.NewCounter("quietdns_queries_total"),
		blockedQueries: set.NewCounter("quietdns_queries_blocked_total"),
		failedQueries:  set.NewCounter("quietdns_queries_failed_total"),
		cacheHits:      set.NewCounter("quietdns_cache_hits_total"),
		cacheMisses:    set.NewCounter("quietdns_cache_misses_total"),
	}
}

// CountQuery counts one processed query.
func (agg *Aggregator) CountQuery() {
	agg.totalQueries.Inc()
}

// CountBlocked counts one blocked query.
func (agg *Aggregator) CountBlocked() {
	agg.blockedQueries.Inc()
}

// CountFailed counts one failed query.
func (agg *Aggregator) CountFailed() {
	agg.failedQueries.Inc()
}

// CountCacheHit counts one answer served from the cache.
func (agg *Aggregator) CountCacheHit() {
	agg.cacheHits.Inc()
}

// CountCacheMiss counts one query that had to go upstream.
func (agg *Aggregator) CountCacheMiss() {
	agg.cacheMisses.Inc()
}

// Snapshot returns the current counter values.
func (agg *Aggregator) Snapshot() Counters {
	return Counters{
		TotalQueries:   agg.totalQueries.Get(),
		BlockedQueries: agg.blockedQueries.Get(),
		FailedQueries:  agg.failedQueries.Get(),
		CacheHits:      agg.cacheHits.Get(),
		CacheMisses:    agg.cacheMisses.Get(),
	}
}

// WritePrometheus writes the counters in Prometheus text format.
func (agg *Aggregator) WritePrometheus(w io.Writer) {
	agg.set.WritePrometheus(w)
}
