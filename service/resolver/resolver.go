// Package resolver implements the encrypted upstream resolver client.
//
// Three transports are supported behind one interface: DNS-over-HTTPS
// (RFC 8484), DNS-over-TLS (RFC 7858) and DNS-over-QUIC (RFC 9250). The
// transport is selected solely by the protocol tag of the Config; callers
// never branch on protocol. Certificate verification is mandatory on all
// three, so a successful query implies the upstream identity was verified.
//
// Transports do not retry. They perform exactly one resolution attempt
// bounded by the caller's deadline and reuse underlying encrypted
// connections across queries, as handshake cost dominates latency.
package resolver

import (
	"context"
	"fmt"
	"time"

	"github.com/miekg/dns"
)

// Timeouts.
const (
	// DefaultRequestTimeout bounds a query if the caller set no deadline.
	DefaultRequestTimeout = 5 * time.Second

	defaultConnectTimeout = 3 * time.Second
	defaultClientTTL      = 5 * time.Minute
)

// Query is a single upstream DNS question. It lives on the stack of one
// resolution call and must not be persisted or logged.
type Query struct {
	// FQDN is the queried domain with trailing dot.
	FQDN string
	// QType is the record type of the question.
	QType dns.Type
}

// NewQuery returns a query for the given domain and record type.
func NewQuery(domain string, qtype dns.Type) *Query {
	return &Query{
		FQDN:  dns.Fqdn(domain),
		QType: qtype,
	}
}

// Reply is the answer to a Query.
type Reply struct {
	// RCode is the DNS response code of the answer.
	RCode int
	// Answer, Ns and Extra are the sections of the answer.
	Answer []dns.RR
	Ns     []dns.RR
	Extra  []dns.RR
	// Server is the ID of the upstream that served the reply.
	Server string
}

// Transport performs upstream resolution over one encrypted protocol.
type Transport interface {
	// Query executes the given query, bounded by the context deadline.
	// It performs a single attempt and returns a typed error on failure.
	Query(ctx context.Context, q *Query) (*Reply, error)

	// ReportFailure reports that a query over this transport failed.
	ReportFailure()
	// IsFailing returns whether the transport is currently considered
	// failing.
	IsFailing() bool
	// ResetFailure resets the failure state.
	ResetFailure()

	// ForceReconnect makes the transport tear down its cached connections
	// and establish fresh ones on the next query.
	ForceReconnect(ctx context.Context)

	// Close releases all connections held by the transport.
	Close()
}

// New creates the transport for the given config. The config is validated
// first, so an incomplete config is caught before any network activity.
func New(cfg *Config) (Transport, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	switch cfg.ServerType {
	case ServerTypeDoH:
		return NewHTTPSTransport(cfg), nil
	case ServerTypeDoT:
		return NewTLSTransport(cfg), nil
	case ServerTypeDoQ:
		return NewQUICTransport(cfg), nil
	default:
		// Already caught by Validate.
		return nil, fmt.Errorf("%w: unknown server type %q", ErrConfigIncomplete, cfg.ServerType)
	}
}

// ensureDeadline returns a context that is guaranteed to carry a deadline,
// applying DefaultRequestTimeout if the caller did not set one.
func ensureDeadline(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, DefaultRequestTimeout)
}

// replyFromMsg builds a Reply from a raw DNS message.
func replyFromMsg(msg *dns.Msg, server string) *Reply {
	return &Reply{
		RCode:  msg.Rcode,
		Answer: msg.Answer,
		Ns:     msg.Ns,
		Extra:  msg.Extra,
		Server: server,
	}
}
