package stats

import (
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCounters(t *testing.T) {
	t.Parallel()

	agg := NewAggregator()
	agg.CountQuery()
	agg.CountQuery()
	agg.CountBlocked()
	agg.CountFailed()
	agg.CountCacheHit()
	agg.CountCacheMiss()
	agg.CountCacheMiss()

	snap := agg.Snapshot()
	assert.Equal(t, uint64(2), snap.TotalQueries)
	assert.Equal(t, uint64(1), snap.BlockedQueries)
	assert.Equal(t, uint64(1), snap.FailedQueries)
	assert.Equal(t, uint64(1), snap.CacheHits)
	assert.Equal(t, uint64(2), snap.CacheMisses)
}

func TestConcurrentIncrements(t *testing.T) {
	t.Parallel()

	agg := NewAggregator()
	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 1000 {
				agg.CountQuery()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, uint64(16000), agg.Snapshot().TotalQueries)
}

func TestWritePrometheus(t *testing.T) {
	t.Parallel()

	agg := NewAggregator()
	agg.CountQuery()

	var sb strings.Builder
	agg.WritePrometheus(&sb)
	assert.Contains(t, sb.String(), "quietdns_queries_total 1")
}
