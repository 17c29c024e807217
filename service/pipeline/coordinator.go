// Package pipeline coordinates the query-resolution flow: exception check,
// blocklist check, encrypted upstream resolution, result assembly.
//
// Per query, the coordinator walks a fixed state sequence:
//
//	Received -> ExceptionChecked -> BlocklistChecked ->
//	(Blocked | Resolving) -> (Resolved | Failed) -> Responded
//
// Every query is an independent unit of work; there is no ordering between
// concurrent queries and no global lock on the hot path. The queried domain
// stays on the stack of the single call and is never copied into results,
// counters, logs or errors.
package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tevino/abool"

	"github.com/safing/quietdns/base/log"
	"github.com/safing/quietdns/service/blocklist"
	"github.com/safing/quietdns/service/exceptions"
	"github.com/safing/quietdns/service/resolver"
	"github.com/safing/quietdns/service/stats"
)

// resultEventBacklog sizes the buffer between responding to the caller and
// counting the result, so counter updates do not add to caller latency.
const resultEventBacklog = 1024

// Coordinator sequences blocklist check, exception handling and upstream
// resolution for every query.
type Coordinator struct {
	blocklist  *blocklist.Engine
	exceptions *exceptions.Registry
	stats      *stats.Aggregator

	// defaultConfig holds the active upstream config. It is replaced
	// wholesale on configuration change, in-flight queries keep the
	// config they started with.
	defaultConfig atomic.Pointer[resolver.Config]

	// enabled reflects the provider-enabled flag of the settings
	// collaborator.
	enabled *abool.AtomicBool

	// transports caches one live transport per upstream, so encrypted
	// connections are reused across queries.
	transportsLock sync.Mutex
	transports     map[string]resolver.Transport
	newTransport   func(cfg *resolver.Config) (resolver.Transport, error)

	cache *answerCache

	queryTimeout time.Duration

	// events decouples responding from counting.
	events    chan resultEvent
	closeOnce sync.Once
	closed    chan struct{}
}

type resultEvent struct {
	status   Status
	cacheHit bool
}

// Options configures a Coordinator.
type Options struct {
	// QueryTimeout bounds a single upstream resolution. Defaults to
	// resolver.DefaultRequestTimeout.
	QueryTimeout time.Duration

	// CacheSize is the maximum number of cached answers. Defaults to
	// defaultCacheSize, 0 keeps the default, negative disables caching.
	CacheSize int
}

// NewCoordinator returns a running coordinator. Callers must Close it to
// release transport connections.
func NewCoordinator(engine *blocklist.Engine, registry *exceptions.Registry, aggregator *stats.Aggregator, opts Options) *Coordinator {
	if opts.QueryTimeout <= 0 {
		opts.QueryTimeout = resolver.DefaultRequestTimeout
	}

	c := &Coordinator{
		blocklist:    engine,
		exceptions:   registry,
		stats:        aggregator,
		enabled:      abool.NewBool(true),
		transports:   make(map[string]resolver.Transport),
		newTransport: resolver.New,
		cache:        newAnswerCache(opts.CacheSize),
		queryTimeout: opts.QueryTimeout,
		events:       make(chan resultEvent, resultEventBacklog),
		closed:       make(chan struct{}),
	}
	go c.countResults()
	return c
}

// SetUpstream replaces the active upstream config. The answer cache is
// dropped, as cached decisions were made by a different upstream, and all
// cached transports are closed: they were dialed for the previous default
// or for overrides derived from it, and would otherwise hold encrypted
// connections to servers no longer in use. Fresh transports are dialed
// lazily on the next query.
func (c *Coordinator) SetUpstream(cfg *resolver.Config) {
	c.defaultConfig.Store(cfg)
	c.cache.purge()

	c.transportsLock.Lock()
	for id, transport := range c.transports {
		transport.Close()
		delete(c.transports, id)
	}
	c.transportsLock.Unlock()

	if cfg != nil {
		log.Infof("pipeline: upstream set to %s", cfg.DescriptiveName())
	}
}

// SetEnabled sets the provider-enabled flag. While disabled, all queries
// fail with ErrUpstreamDisabled instead of being resolved.
func (c *Coordinator) SetEnabled(enabled bool) {
	c.enabled.SetTo(enabled)
}

// Resolve runs one query through the pipeline and returns its result. The
// result never contains the queried domain.
func (c *Coordinator) Resolve(ctx context.Context, req *Request) *Result {
	started := time.Now()

	result := c.resolve(ctx, req)
	result.ID = req.ID
	result.Duration = time.Since(started)

	// Responded: the caller gets the result now, counting happens on the
	// aggregator goroutine.
	c.emit(result)
	return result
}

func (c *Coordinator) resolve(ctx context.Context, req *Request) *Result {
	// Received: validate before touching anything else.
	if err := req.Validate(); err != nil {
		return &Result{Status: StatusFailed, Err: err}
	}

	// ExceptionChecked: an exception bypasses the blocklist and may
	// redirect to an override upstream.
	effectiveConfig := c.defaultConfig.Load()
	exception, excepted := c.exceptions.Lookup(req.Domain)
	if excepted && exception.Upstream != "" && effectiveConfig != nil {
		effectiveConfig = effectiveConfig.WithHost(exception.Upstream)
	}

	// BlocklistChecked: skipped if an exception applied.
	if !excepted {
		if !c.blocklist.Ready() {
			// Fail open: resolution must not stall on missing blocklist
			// data. Logged without any query content.
			log.Tracef("pipeline: %s, failing open", blocklist.ErrUnavailable)
		}
		if c.blocklist.Lookup(req.Domain) {
			// Blocked: terminate without any network I/O.
			return &Result{Status: StatusBlocked, Blocked: true}
		}
	}

	// Resolving.
	if !c.enabled.IsSet() {
		return &Result{Status: StatusFailed, Err: ErrUpstreamDisabled}
	}
	if err := effectiveConfig.Validate(); err != nil {
		return &Result{Status: StatusFailed, Err: err}
	}

	q := resolver.NewQuery(req.Domain, req.QType)

	// Serve from cache if this upstream answered the same question
	// recently. The upstream is part of the key, so an exception override
	// takes effect immediately and is never shadowed by an answer cached
	// from the default upstream.
	upstreamID := effectiveConfig.ID()
	if cached, ok := c.cache.get(upstreamID, q); ok {
		return &Result{Status: StatusResolved, Resolver: cached.server, cacheHit: true}
	}

	transport, err := c.transportFor(effectiveConfig)
	if err != nil {
		return &Result{Status: StatusFailed, Err: err}
	}

	queryCtx, cancel := context.WithTimeout(ctx, c.queryTimeout)
	defer cancel()

	reply, err := transport.Query(queryCtx, q)
	if err != nil {
		transport.ReportFailure()
		return &Result{Status: StatusFailed, Err: err, Resolver: effectiveConfig.ID()}
	}
	transport.ResetFailure()

	c.cache.put(upstreamID, q, reply)

	// Resolved.
	return &Result{Status: StatusResolved, Resolver: reply.Server}
}

// transportFor returns the cached transport for the given upstream,
// creating it on first use.
func (c *Coordinator) transportFor(cfg *resolver.Config) (resolver.Transport, error) {
	id := cfg.ID()

	c.transportsLock.Lock()
	defer c.transportsLock.Unlock()

	if transport, ok := c.transports[id]; ok {
		return transport, nil
	}

	transport, err := c.newTransport(cfg)
	if err != nil {
		return nil, err
	}
	c.transports[id] = transport
	return transport, nil
}

func (c *Coordinator) emit(result *Result) {
	select {
	case c.events <- resultEvent{status: result.Status, cacheHit: result.cacheHit}:
	case <-c.closed:
	}
}

// countResults consumes the result stream and updates the anonymous
// counters. Only outcome kinds ever reach this function.
func (c *Coordinator) countResults() {
	for {
		select {
		case event := <-c.events:
			c.stats.CountQuery()
			switch event.status {
			case StatusBlocked:
				c.stats.CountBlocked()
			case StatusFailed:
				c.stats.CountFailed()
			case StatusResolved:
				switch {
				case event.cacheHit:
					c.stats.CountCacheHit()
				case c.cache.enabled():
					// With caching disabled there is nothing to miss.
					c.stats.CountCacheMiss()
				}
			}
		case <-c.closed:
			return
		}
	}
}

// Close shuts the coordinator down and releases all transport connections.
func (c *Coordinator) Close() {
	c.closeOnce.Do(func() { close(c.closed) })

	c.transportsLock.Lock()
	defer c.transportsLock.Unlock()
	for id, transport := range c.transports {
		transport.Close()
		delete(c.transports, id)
	}
}

