package pipeline

import (
	"errors"
	"time"

	"github.com/miekg/dns"
)

// Errors.
var (
	// ErrInvalidRequest is returned for malformed requests: empty domain
	// or unsupported record type. Not retryable.
	ErrInvalidRequest = errors.New("invalid query request")

	// ErrUpstreamDisabled is returned while upstream resolution is
	// switched off by the settings collaborator.
	ErrUpstreamDisabled = errors.New("upstream resolution is disabled")
)

// Status is the outcome of a query.
type Status uint8

// Query outcomes.
const (
	StatusFailed Status = iota
	StatusResolved
	StatusBlocked
)

// String returns the name of the status.
func (s Status) String() string {
	switch s {
	case StatusResolved:
		return "resolved"
	case StatusBlocked:
		return "blocked"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Request is a single query handed to the coordinator by the interception
// layer.
//
// The Domain field lives in memory for the duration of the call only. It is
// never copied into the Result, the statistics, a log line or an error.
type Request struct {
	// ID is an opaque caller-supplied token used to correlate the Result
	// with the Request. It must not be derived from the queried domain.
	ID string

	// Domain is the queried domain.
	Domain string

	// QType is the queried record type.
	QType dns.Type

	// Source optionally tags where the query came from.
	Source string
}

// Validate checks the request for basic soundness.
func (req *Request) Validate() error {
	if req.Domain == "" {
		return ErrInvalidRequest
	}
	switch uint16(req.QType) {
	case dns.TypeNone, dns.TypeANY, dns.TypeAXFR, dns.TypeIXFR:
		return ErrInvalidRequest
	}
	return nil
}

// Result is the answer of the coordinator to one Request. It deliberately
// carries no domain and no answer data, only the outcome.
type Result struct {
	// ID is the opaque token of the matching Request.
	ID string `json:"id"`

	// Status is the resolution outcome.
	Status Status `json:"status"`

	// Blocked is set if the query was rejected by the blocklist.
	Blocked bool `json:"blocked"`

	// Duration is the time the query spent in the pipeline.
	Duration time.Duration `json:"duration"`

	// Resolver identifies the upstream transport that served the query,
	// empty for blocked and invalid queries.
	Resolver string `json:"resolver,omitempty"`

	// Err holds the typed error of a failed query. Never serialized.
	Err error `json:"-"`

	// cacheHit marks a result served from the answer cache.
	cacheHit bool
}
