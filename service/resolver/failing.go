package resolver

import (
	"sync"
	"time"

	"github.com/tevino/abool"
)

var (
	// FailThreshold is the number of errors a transport must experience in
	// order to be regarded as failing.
	FailThreshold = 5

	// FailObserveDuration is the duration in which failures are counted in
	// order to mark a transport as failing.
	FailObserveDuration = time.Duration(FailThreshold) * 10 * time.Second
)

// basicTransport holds the state shared by all transport implementations.
type basicTransport struct {
	cfg *Config

	failing        *abool.AtomicBool
	failingStarted time.Time
	fails          int
	failLock       sync.Mutex
}

func newBasicTransport(cfg *Config) basicTransport {
	return basicTransport{
		cfg:     cfg,
		failing: abool.New(),
	}
}

// IsFailing returns whether the transport is currently considered failing.
func (bt *basicTransport) IsFailing() bool {
	return bt.failing.IsSet()
}

// ReportFailure reports that a query over this transport failed.
func (bt *basicTransport) ReportFailure() {
	// Ignore reports when we are already failing.
	if bt.IsFailing() {
		return
	}

	bt.failLock.Lock()
	defer bt.failLock.Unlock()

	// Check if we are within the observation period.
	if time.Since(bt.failingStarted) > FailObserveDuration {
		bt.fails = 1
		bt.failingStarted = time.Now()
		return
	}

	// Increase and check if we need to set to failing.
	bt.fails++
	if bt.fails > FailThreshold {
		bt.failing.Set()
	}
}

// ResetFailure resets the failure state.
func (bt *basicTransport) ResetFailure() {
	if bt.failing.SetToIf(true, false) {
		bt.failLock.Lock()
		defer bt.failLock.Unlock()
		bt.fails = 0
		bt.failingStarted = time.Time{}
	}
}
