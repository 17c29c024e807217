package pipeline

import (
	"encoding/binary"
	"hash/fnv"
	"time"

	"github.com/bluele/gcache"
	"github.com/miekg/dns"

	"github.com/safing/quietdns/service/resolver"
)

// Answer cache limits.
const (
	defaultCacheSize = 1024

	// Cached answers expire with the record TTL, clamped to this range so
	// broken upstreams can neither pin answers forever nor thrash the cache.
	minCacheTTL = 10 * time.Second
	maxCacheTTL = 15 * time.Minute
)

// cachedAnswer is one cached resolution outcome. Only the outcome and the
// serving upstream are kept, answer records stay with the caller.
type cachedAnswer struct {
	server string
}

// answerCache holds recent upstream answers, keyed by a hash of the
// question and the upstream that answered it. The queried domain itself is
// never stored as a key, so a dump of the cache structure does not read as
// a browsing history. Keying by upstream keeps answers from one server from
// being served on behalf of another, so exception overrides take effect
// immediately instead of after expiry.
type answerCache struct {
	backend gcache.Cache
}

// newAnswerCache creates an answer cache holding up to size entries. A
// negative size disables caching entirely, zero selects the default size.
func newAnswerCache(size int) *answerCache {
	if size < 0 {
		return &answerCache{}
	}
	if size == 0 {
		size = defaultCacheSize
	}
	return &answerCache{
		backend: gcache.New(size).ARC().Build(),
	}
}

// enabled reports whether caching is active.
func (ac *answerCache) enabled() bool {
	return ac.backend != nil
}

// get returns the cached answer of the given upstream for the given query,
// if present.
func (ac *answerCache) get(upstreamID string, q *resolver.Query) (cachedAnswer, bool) {
	if ac.backend == nil {
		return cachedAnswer{}, false
	}
	v, err := ac.backend.Get(cacheKey(upstreamID, q))
	if err != nil {
		return cachedAnswer{}, false
	}
	answer, ok := v.(cachedAnswer)
	return answer, ok
}

// put caches the given reply under the upstream and query key, honoring
// the record TTL. Replies without answer records are not cached, as
// negative caching requires SOA minimum handling the pipeline does not do.
func (ac *answerCache) put(upstreamID string, q *resolver.Query, reply *resolver.Reply) {
	if ac.backend == nil {
		return
	}
	if reply.RCode != dns.RcodeSuccess || len(reply.Answer) == 0 {
		return
	}

	ttl := minAnswerTTL(reply.Answer)
	if ttl < minCacheTTL {
		ttl = minCacheTTL
	}
	if ttl > maxCacheTTL {
		ttl = maxCacheTTL
	}

	_ = ac.backend.SetWithExpire(cacheKey(upstreamID, q), cachedAnswer{
		server: reply.Server,
	}, ttl)
}

// purge drops all cached answers.
func (ac *answerCache) purge() {
	if ac.backend == nil {
		return
	}
	ac.backend.Purge()
}

// cacheKey hashes the upstream and the question into a fixed-size key.
func cacheKey(upstreamID string, q *resolver.Query) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(upstreamID))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(q.FQDN))
	var qtype [2]byte
	binary.BigEndian.PutUint16(qtype[:], uint16(q.QType))
	_, _ = h.Write(qtype[:])
	return h.Sum64()
}

// minAnswerTTL returns the smallest TTL of the answer section.
func minAnswerTTL(answer []dns.RR) time.Duration {
	min := answer[0].Header().Ttl
	for _, rr := range answer[1:] {
		if rr.Header().Ttl < min {
			min = rr.Header().Ttl
		}
	}
	return time.Duration(min) * time.Second
}
