package resolver

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/miekg/dns"
	"github.com/tevino/abool"

	"github.com/safing/quietdns/base/log"
)

const (
	tlsConnectionEstablishmentTimeout = 3 * time.Second
	tlsWriteTimeout                   = 2 * time.Second
	heartbeatTimeout                  = 5 * time.Second
)

// TLSTransport resolves over DNS-over-TLS (RFC 7858) using a single
// pipelined connection per upstream. Many queries share the connection and
// are matched to responses by DNS message ID, so one handshake serves many
// queries.
type TLSTransport struct {
	basicTransport
	sync.Mutex

	// dnsClient holds the connection configuration of the upstream.
	dnsClient *dns.Client
	// conn holds the pipelined connection, including query management.
	conn *tlsPipelineConn
	// connInstanceID holds the current ID of the pipelined connection.
	connInstanceID int
	// closing is set when the transport shuts down for good.
	closing *abool.AtomicBool
}

// tlsPipelineConn represents a single connection to an upstream DNS server.
type tlsPipelineConn struct {
	// ctx is canceled when the connection is torn down.
	ctx       context.Context
	cancelCtx context.CancelFunc
	// id is the instance ID assigned to this connection.
	id int
	// conn is the connection to the DNS server.
	conn *dns.Conn
	// server describes the upstream, for log messages only.
	server string
	// queries is used to submit queries to be sent to the server.
	queries chan *tlsQuery
	// responses is used to hand responses from the reader to the handler.
	responses chan *dns.Msg
	// inFlightQueries holds all in-flight queries of this connection.
	inFlightQueries map[uint16]*tlsQuery
	// heartbeat is an alive-checking channel from which the handler must
	// always read asap.
	heartbeat chan struct{}
	// abandoned signifies that the connection has been given up on.
	abandoned *abool.AtomicBool
}

// tlsQuery holds the query information for a tlsPipelineConn.
type tlsQuery struct {
	Query    *Query
	Response chan *dns.Msg
}

// NewTLSTransport returns a new TLSTransport for the given config.
func NewTLSTransport(cfg *Config) *TLSTransport {
	return &TLSTransport{
		basicTransport: newBasicTransport(cfg),
		dnsClient: &dns.Client{
			Net:          "tcp-tls",
			Timeout:      defaultConnectTimeout,
			WriteTimeout: tlsWriteTimeout,
			TLSConfig: &tls.Config{
				MinVersion: tls.VersionTLS12,
				ServerName: cfg.tlsServerName(),
			},
		},
		closing: abool.New(),
	}
}

func (tt *TLSTransport) getOrCreateConn(ctx context.Context) (*tlsPipelineConn, error) {
	tt.Lock()
	defer tt.Unlock()

	if tt.closing.IsSet() {
		return nil, ErrShuttingDown
	}

	// Check if we have a live connection.
	if tt.conn != nil && tt.conn.abandoned.IsNotSet() {
		// If there is one, check if it's alive!
		select {
		case tt.conn.heartbeat <- struct{}{}:
			return tt.conn, nil
		case <-time.After(heartbeatTimeout):
			log.Warningf("resolver: heartbeat for dns client %s failed", tt.cfg.DescriptiveName())
		case <-ctx.Done():
			return nil, wrapTransportErr(ctx.Err())
		}
	}

	// Create a new connection if no active one is available.
	tt.dnsClient.Dialer = &net.Dialer{
		Timeout:   tlsConnectionEstablishmentTimeout,
		KeepAlive: defaultClientTTL,
	}

	conn, err := tt.dnsClient.Dial(tt.cfg.ServerAddress())
	if err != nil {
		return nil, fmt.Errorf("%w: failed to connect to %s: %s", ErrTransport, tt.cfg.DescriptiveName(), err)
	}
	log.Debugf("resolver: connected to %s", tt.cfg.DescriptiveName())

	tt.connInstanceID++
	pipelineConn := &tlsPipelineConn{
		id:              tt.connInstanceID,
		conn:            conn,
		server:          tt.cfg.DescriptiveName(),
		queries:         make(chan *tlsQuery, 10),
		responses:       make(chan *dns.Msg, 10),
		inFlightQueries: make(map[uint16]*tlsQuery, 10),
		heartbeat:       make(chan struct{}),
		abandoned:       abool.New(),
	}
	pipelineConn.ctx, pipelineConn.cancelCtx = context.WithCancel(context.Background())
	go pipelineConn.handle()

	// Set connection for reuse.
	tt.conn = pipelineConn

	return pipelineConn, nil
}

// Query executes the given query against the upstream.
func (tt *TLSTransport) Query(ctx context.Context, q *Query) (*Reply, error) {
	ctx, cancel := ensureDeadline(ctx)
	defer cancel()

	// Get pipelined connection.
	pipelineConn, err := tt.getOrCreateConn(ctx)
	if err != nil {
		return nil, err
	}

	// Create query request.
	tq := &tlsQuery{
		Query:    q,
		Response: make(chan *dns.Msg, 1),
	}

	// Submit query request to the live connection.
	select {
	case pipelineConn.queries <- tq:
	case <-pipelineConn.ctx.Done():
		return nil, ErrShuttingDown
	case <-ctx.Done():
		return nil, wrapTransportErr(ctx.Err())
	}

	// Wait for the reply.
	var reply *dns.Msg
	select {
	case reply = <-tq.Response:
	case <-ctx.Done():
		return nil, wrapTransportErr(ctx.Err())
	}

	// A closed response channel means the connection went away with the
	// query still in flight.
	if reply == nil {
		return nil, fmt.Errorf("%w: connection to %s was lost", ErrTransport, tt.cfg.DescriptiveName())
	}

	return replyFromMsg(reply, tt.cfg.ID()), nil
}

// ForceReconnect forces the transport to re-establish the connection to the
// server.
func (tt *TLSTransport) ForceReconnect(ctx context.Context) {
	tt.Lock()
	defer tt.Unlock()

	// Do nothing if no connection is available.
	if tt.conn == nil {
		return
	}

	// Mark as abandoned to force a new connection on the next request.
	// The previous connection and its handler keep running until all
	// in-flight requests are handled.
	tt.conn.abandoned.Set()
	log.Tracef("resolver: marked connection to %s for reconnecting", tt.cfg.DescriptiveName())
}

// Close shuts the transport down for good.
func (tt *TLSTransport) Close() {
	tt.closing.Set()

	tt.Lock()
	defer tt.Unlock()
	if tt.conn != nil {
		tt.conn.abandoned.Set()
		tt.conn.cancelCtx()
	}
}

// shutdown cleanly shuts down the pipelined connection.
// Must only be called once, by the handler.
func (tpc *tlsPipelineConn) shutdown() {
	// Set abandoned status and close the connection to the DNS server.
	tpc.abandoned.Set()
	_ = tpc.conn.Close()

	// Close all response channels of in-flight queries.
	for _, tq := range tpc.inFlightQueries {
		close(tq.Response)
	}

	// Respond to any incoming queries for some time in order to not leave
	// them hanging longer than necessary.
	for {
		select {
		case tq := <-tpc.queries:
			close(tq.Response)
		case <-time.After(100 * time.Millisecond):
			return
		}
	}
}

func (tpc *tlsPipelineConn) handle() {
	defer tpc.shutdown()

	// Recycle the connection after its TTL, so long-lived processes rotate
	// their upstream connections now and then.
	var readyToRecycle bool
	ttlTimer := time.After(defaultClientTTL)

	// Start connection reader.
	go tpc.reader()

	for {
		select {
		case <-tpc.heartbeat:
			// Respond to alive checks.

		case <-tpc.ctx.Done():
			// Conn error or transport shutdown.
			return

		case <-ttlTimer:
			readyToRecycle = true
			// Send dummy response to trigger the recycle check.
			select {
			case tpc.responses <- nil:
			default:
				// The response queue is full, the check will be
				// triggered by another response.
			}

		case tq := <-tpc.queries:
			// Create dns request message.
			msg := &dns.Msg{}
			msg.SetQuestion(tq.Query.FQDN, uint16(tq.Query.QType))

			// Assign a unique message ID.
			tpc.assignUniqueID(msg)

			// Add query to the in-flight registry.
			tpc.inFlightQueries[msg.Id] = tq

			// Write query to the connected DNS server.
			_ = tpc.conn.SetWriteDeadline(time.Now().Add(tlsWriteTimeout))
			if err := tpc.conn.WriteMsg(msg); err != nil {
				tpc.logConnectionError(err, false)
				return
			}

		case msg := <-tpc.responses:
			if msg != nil {
				tpc.handleQueryResponse(msg)
			}

			// If we are ready to recycle and have no in-flight queries,
			// shut down and let the next query dial fresh.
			if readyToRecycle || tpc.abandoned.IsSet() {
				if len(tpc.inFlightQueries) == 0 {
					log.Debugf("resolver: recycling connection to %s", tpc.server)
					return
				}
			}
		}
	}
}

// assignUniqueID makes sure that the ID assigned to msg is unique among the
// in-flight queries of this connection.
func (tpc *tlsPipelineConn) assignUniqueID(msg *dns.Msg) {
	// Try a random ID a couple of times.
	for range 10000 { // Don't try forever.
		if _, exists := tpc.inFlightQueries[msg.Id]; !exists {
			return
		}
		msg.Id = dns.Id()
	}
	// Fall back to walking the complete ID space.
	for id := uint16(0); id < (1<<16)-1; id++ {
		if _, exists := tpc.inFlightQueries[id]; !exists {
			msg.Id = id
			return
		}
	}
}

func (tpc *tlsPipelineConn) handleQueryResponse(msg *dns.Msg) {
	// Get in-flight query from the registry.
	tq, ok := tpc.inFlightQueries[msg.Id]
	if !ok {
		log.Debugf("resolver: received possibly unsolicited reply from %s: txid=%d", tpc.server, msg.Id)
		return
	}
	delete(tpc.inFlightQueries, msg.Id)

	// Send the response to the waiting query handler.
	select {
	case tq.Response <- msg:
	default:
		// No one is listening for that response anymore.
	}
}

func (tpc *tlsPipelineConn) reader() {
	defer tpc.cancelCtx()

	for {
		msg, err := tpc.conn.ReadMsg()
		if err != nil {
			tpc.logConnectionError(err, true)
			return
		}
		select {
		case tpc.responses <- msg:
		case <-tpc.ctx.Done():
			return
		}
	}
}

func (tpc *tlsPipelineConn) logConnectionError(err error, reading bool) {
	// Check if we are the first to see an error.
	if tpc.abandoned.SetToIf(false, true) {
		switch {
		case errors.Is(err, io.EOF):
			log.Debugf("resolver: connection to %s was closed", tpc.server)
		case reading:
			log.Warningf("resolver: read error from %s: %s", tpc.server, err)
		default:
			log.Warningf("resolver: write error to %s: %s", tpc.server, err)
		}
	}
}
