// Package blocklist implements the blocked-domain matching engine.
//
// The engine holds one active immutable Snapshot behind an atomic pointer.
// Lookups are lock-free and complete against the snapshot that was active
// when they started; Replace swaps the whole set in one step. This trades a
// more expensive (and rare) update for a read path that stays flat under
// heavy concurrent query load, even with millions of entries.
package blocklist

import (
	"errors"
	"sync/atomic"

	"github.com/safing/quietdns/base/log"
)

// ErrUnavailable describes the state before the first snapshot is loaded.
// It is never returned from Lookup, which fails open instead; it exists so
// the permissive state can be logged and reported with one stable message.
var ErrUnavailable = errors.New("no blocklist snapshot loaded")

// Engine answers blocked-domain membership queries against the currently
// active snapshot.
type Engine struct {
	active atomic.Pointer[Snapshot]
}

// NewEngine returns an engine without a loaded snapshot. Until the first
// Replace, all lookups fail open and report "not blocked".
func NewEngine() *Engine {
	return &Engine{}
}

// Lookup reports whether the given domain is blocked.
//
// If no snapshot has been loaded yet, Lookup returns false. Resolution must
// not stall waiting for blocklist data, so absence of data is treated as
// permissive. Callers that need to distinguish this state can check Ready.
func (e *Engine) Lookup(domain string) bool {
	snap := e.active.Load()
	if snap == nil {
		return false
	}
	return snap.lookup(domain)
}

// Replace atomically swaps in a new snapshot. In-flight lookups finish
// against the snapshot they started with.
func (e *Engine) Replace(snap *Snapshot) {
	old := e.active.Swap(snap)

	switch {
	case snap == nil:
		log.Warningf("blocklist: active snapshot removed, failing open")
	case old == nil:
		log.Infof("blocklist: loaded snapshot gen=%d with %d entries from %d sources", snap.Generation(), snap.Len(), snap.SourceCount())
	default:
		log.Infof("blocklist: replaced snapshot gen=%d with gen=%d (%d entries)", old.Generation(), snap.Generation(), snap.Len())
	}
}

// Ready reports whether a snapshot has been loaded.
func (e *Engine) Ready() bool {
	return e.active.Load() != nil
}

// EntryCount returns the number of entries in the active snapshot.
func (e *Engine) EntryCount() int {
	snap := e.active.Load()
	if snap == nil {
		return 0
	}
	return snap.Len()
}

// SourceCount returns the number of distinct sources in the active snapshot.
func (e *Engine) SourceCount() int {
	snap := e.active.Load()
	if snap == nil {
		return 0
	}
	return snap.SourceCount()
}
