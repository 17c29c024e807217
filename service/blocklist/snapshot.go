package blocklist

import (
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/tannerryan/ring"
)

const (
	// minBloomSize is the smallest bloom filter we create. Sizing the
	// filter below this brings no savings and makes tiny snapshots
	// needlessly collide.
	minBloomSize = 1024

	// bfFalsePositiveRate is the target false positive rate of the bloom
	// prefilter. A false positive only costs one extra map lookup.
	bfFalsePositiveRate = 0.001
)

// Snapshot is an immutable set of blocked domain patterns. It is built once,
// then only read. The engine swaps whole snapshots atomically, so readers
// never observe a partially updated set.
type Snapshot struct {
	generation uint64

	// patterns holds all canonical patterns for exact and suffix matching.
	patterns map[string]struct{}

	// sources counts entries per source identifier.
	sources map[string]int

	// bloom is a prefilter over patterns. It answers "definitely not
	// blocked" without touching the map for the vast majority of labels of
	// unblocked domains.
	bloom *ring.Ring
}

// NewSnapshot builds an immutable snapshot from the given entries. Invalid
// entries are skipped and reported in the returned error while the snapshot
// is still built from the valid remainder, so a few bad lines in a huge list
// do not discard the whole update.
func NewSnapshot(generation uint64, entries []Entry) (*Snapshot, error) {
	var errs *multierror.Error

	bloomSize := len(entries)
	if bloomSize < minBloomSize {
		bloomSize = minBloomSize
	}
	bloom, err := ring.Init(bloomSize, bfFalsePositiveRate)
	if err != nil {
		// Parameters are fully under our control, this cannot happen with
		// the sizes used here.
		return nil, err
	}

	snap := &Snapshot{
		generation: generation,
		patterns:   make(map[string]struct{}, len(entries)),
		sources:    make(map[string]int),
		bloom:      bloom,
	}

	for _, entry := range entries {
		pattern := NormalizeDomain(entry.Pattern)
		if err := validatePattern(pattern); err != nil {
			errs = multierror.Append(errs, err)
			continue
		}
		if _, ok := snap.patterns[pattern]; ok {
			continue
		}
		snap.patterns[pattern] = struct{}{}
		snap.bloom.Add([]byte(pattern))
		snap.sources[entry.Source]++
	}

	return snap, errs.ErrorOrNil()
}

// Generation returns the version stamp of the snapshot.
func (snap *Snapshot) Generation() uint64 {
	return snap.generation
}

// Len returns the number of patterns in the snapshot.
func (snap *Snapshot) Len() int {
	return len(snap.patterns)
}

// SourceCount returns the number of distinct sources in the snapshot.
func (snap *Snapshot) SourceCount() int {
	return len(snap.sources)
}

// lookup reports whether domain matches any pattern, either exactly or as a
// subdomain of it. The cost is one bloom test plus at most one map lookup
// per label of the queried domain.
func (snap *Snapshot) lookup(domain string) bool {
	domain = NormalizeDomain(domain)
	if domain == "" {
		return false
	}

	// Walk the label suffixes of the domain, longest first:
	// a.ads.example.com -> ads.example.com -> example.com -> com
	suffix := domain
	for {
		if snap.bloom.Test([]byte(suffix)) {
			if _, ok := snap.patterns[suffix]; ok {
				return true
			}
		}

		dot := strings.IndexByte(suffix, '.')
		if dot < 0 {
			return false
		}
		suffix = suffix[dot+1:]
	}
}
