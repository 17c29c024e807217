package blocklist

import (
	"fmt"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildSnapshot(t testing.TB, generation uint64, patterns ...string) *Snapshot {
	t.Helper()

	entries := make([]Entry, 0, len(patterns))
	for _, pattern := range patterns {
		entries = append(entries, Entry{Pattern: pattern, Source: "test"})
	}
	snap, err := NewSnapshot(generation, entries)
	require.NoError(t, err)
	return snap
}

func TestLookupMatching(t *testing.T) {
	t.Parallel()

	engine := NewEngine()
	engine.Replace(buildSnapshot(t, 1,
		"ads.example.com",
		"tracker.net",
		"UPPER.example.org",
		"*.wild.example.net",
	))

	blocked := []string{
		"ads.example.com",            // exact
		"ads.example.com.",           // trailing dot
		"x.ads.example.com",          // subdomain
		"deep.x.ads.example.com",     // deeper subdomain
		"ADS.EXAMPLE.COM",            // case folding
		"tracker.net",                // second entry
		"cdn.tracker.net",            // subdomain of second entry
		"upper.example.org",          // entry stored lower case
		"wild.example.net",           // wildcard entry matches base
		"anything.wild.example.net",  // wildcard entry matches subdomain
	}
	for _, domain := range blocked {
		assert.Truef(t, engine.Lookup(domain), "%s should be blocked", domain)
	}

	notBlocked := []string{
		"example.com",          // parent of an entry
		"com",                  // tld of an entry
		"ads.example.com.evil", // entry as non-suffix substring
		"xads.example.com",     // label boundary must hold
		"tracker.network",      // suffix of a label, not of the domain
		"",                     // empty input
	}
	for _, domain := range notBlocked {
		assert.Falsef(t, engine.Lookup(domain), "%s should not be blocked", domain)
	}
}

func TestLookupIdempotent(t *testing.T) {
	t.Parallel()

	engine := NewEngine()
	engine.Replace(buildSnapshot(t, 1, "ads.example.com"))

	for _, domain := range []string{"ads.example.com", "good.example.com"} {
		first := engine.Lookup(domain)
		second := engine.Lookup(domain)
		assert.Equal(t, first, second, "blocking decision must be stable for %s", domain)
	}
}

func TestFailOpenWithoutSnapshot(t *testing.T) {
	t.Parallel()

	engine := NewEngine()
	assert.False(t, engine.Ready())
	assert.False(t, engine.Lookup("ads.example.com"))
	assert.Equal(t, 0, engine.EntryCount())
	assert.Equal(t, 0, engine.SourceCount())
}

func TestSnapshotBuildReportsInvalidEntries(t *testing.T) {
	t.Parallel()

	snap, err := NewSnapshot(7, []Entry{
		{Pattern: "ads.example.com", Source: "list-a"},
		{Pattern: "", Source: "list-a"},
		{Pattern: "bad domain.com", Source: "list-b"},
		{Pattern: "also.fine.org", Source: "list-b"},
		{Pattern: "ads.example.com", Source: "list-a"}, // duplicate
	})

	// Invalid entries are reported, valid ones still make it in.
	require.Error(t, err)
	assert.Equal(t, 2, snap.Len())
	assert.Equal(t, 2, snap.SourceCount())
	assert.Equal(t, uint64(7), snap.Generation())
	assert.True(t, snap.lookup("ads.example.com"))
	assert.True(t, snap.lookup("also.fine.org"))
}

// TestReplaceIsAtomic hammers the engine with concurrent lookups while
// snapshots are being swapped. A domain present in both snapshots must always
// be blocked, a domain present in neither must never be, regardless of how
// lookups interleave with swaps. A half-applied update would break this.
func TestReplaceIsAtomic(t *testing.T) {
	t.Parallel()

	engine := NewEngine()
	oldSnap := buildSnapshot(t, 1, "always.example.com", "old-only.example.com")
	newSnap := buildSnapshot(t, 2, "always.example.com", "new-only.example.com")
	engine.Replace(oldSnap)

	done := make(chan struct{})
	var wg sync.WaitGroup

	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}

				if !engine.Lookup("always.example.com") {
					t.Error("domain present in both snapshots was not blocked")
					return
				}
				if engine.Lookup("never.example.com") {
					t.Error("domain present in no snapshot was blocked")
					return
				}
				// Must be blocked in exactly one of the two snapshots,
				// the result just depends on which one is active.
				_ = engine.Lookup("old-only.example.com")
			}
		}()
	}

	for range 1000 {
		engine.Replace(newSnap)
		engine.Replace(oldSnap)
	}
	close(done)
	wg.Wait()
}

func TestReplaceUpdatesCounts(t *testing.T) {
	t.Parallel()

	engine := NewEngine()
	engine.Replace(buildSnapshot(t, 1, "a.com", "b.com", "c.com"))
	assert.Equal(t, 3, engine.EntryCount())
	assert.Equal(t, 1, engine.SourceCount())

	engine.Replace(buildSnapshot(t, 2, "a.com"))
	assert.Equal(t, 1, engine.EntryCount())
	assert.True(t, engine.Ready())
}

func makeHugeSnapshot(tb testing.TB, n int) *Snapshot {
	tb.Helper()

	entries := make([]Entry, 0, n)
	for i := range n {
		entries = append(entries, Entry{
			Pattern: fmt.Sprintf("host-%d.blocked-%d.example.org", i, i%977),
			Source:  fmt.Sprintf("source-%d", i%5),
		})
	}
	snap, err := NewSnapshot(1, entries)
	if err != nil {
		tb.Fatal(err)
	}
	return snap
}

func TestLookupAgainstLargeSnapshot(t *testing.T) {
	t.Parallel()
	if testing.Short() {
		t.Skip("skipping large snapshot test in short mode")
	}

	engine := NewEngine()
	engine.Replace(makeHugeSnapshot(t, 1_000_000))

	assert.True(t, engine.Lookup("host-500.blocked-500.example.org"))
	assert.True(t, engine.Lookup("sub.host-500.blocked-500.example.org"))
	assert.False(t, engine.Lookup("not-listed.example.org"))
}

func BenchmarkLookup(b *testing.B) {
	engine := NewEngine()
	engine.Replace(makeHugeSnapshot(b, 1_000_000))

	domains := make([]string, 1024)
	for i := range domains {
		if i%2 == 0 {
			domains[i] = fmt.Sprintf("host-%d.blocked-%d.example.org", i, i%977)
		} else {
			domains[i] = fmt.Sprintf("clean-%d.some.other.example.net", rand.Int())
		}
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; b.Loop(); i++ {
		engine.Lookup(domains[i%len(domains)])
	}
}
