// Package exceptions holds per-domain resolver overrides.
//
// An exception intentionally bypasses both the default upstream selection
// and the blocklist: the user decided that this domain is resolved, and
// optionally where. The registry is low-churn and read on every query, so a
// plain read/write lock is enough.
package exceptions

import (
	"sync"
	"time"

	"github.com/safing/quietdns/base/log"
	"github.com/safing/quietdns/service/blocklist"
)

// Exception is a per-domain override.
type Exception struct {
	// Domain is the canonical domain the exception applies to.
	Domain string

	// Upstream is the override resolver host (optionally host:port). If
	// empty, the default upstream is used and only the blocklist bypass
	// applies.
	Upstream string

	// Created is the time the exception was added.
	Created time.Time
}

// Registry is a set of exceptions keyed by domain.
type Registry struct {
	lock    sync.RWMutex
	entries map[string]Exception
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]Exception),
	}
}

// Add adds an exception for the given domain. Domain keys are unique: adding
// an exception for a domain that already has one replaces the previous
// entry. The last user action wins.
func (reg *Registry) Add(domain, upstream string) {
	key := blocklist.NormalizeDomain(domain)
	if key == "" {
		return
	}

	reg.lock.Lock()
	defer reg.lock.Unlock()

	if _, exists := reg.entries[key]; exists {
		log.Debugf("exceptions: replacing existing exception entry")
	}
	reg.entries[key] = Exception{
		Domain:   key,
		Upstream: upstream,
		Created:  time.Now(),
	}
}

// Remove removes the exception for the given domain, if one exists.
func (reg *Registry) Remove(domain string) {
	key := blocklist.NormalizeDomain(domain)

	reg.lock.Lock()
	defer reg.lock.Unlock()
	delete(reg.entries, key)
}

// Lookup returns the exception for the given domain.
func (reg *Registry) Lookup(domain string) (Exception, bool) {
	key := blocklist.NormalizeDomain(domain)

	reg.lock.RLock()
	defer reg.lock.RUnlock()
	exception, ok := reg.entries[key]
	return exception, ok
}

// List returns all exceptions, for the settings collaborator.
func (reg *Registry) List() []Exception {
	reg.lock.RLock()
	defer reg.lock.RUnlock()

	list := make([]Exception, 0, len(reg.entries))
	for _, exception := range reg.entries {
		list = append(list, exception)
	}
	return list
}

// Count returns the number of exceptions.
func (reg *Registry) Count() int {
	reg.lock.RLock()
	defer reg.lock.RUnlock()
	return len(reg.entries)
}
