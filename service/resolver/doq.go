package resolver

import (
	"context"
	"crypto/tls"
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/jackc/puddle/v2"
	"github.com/miekg/dns"
	"github.com/quic-go/quic-go"

	"github.com/safing/quietdns/base/log"
)

const (
	// doqNoError is the DOQ_NO_ERROR application error code of RFC 9250.
	doqNoError = quic.ApplicationErrorCode(0)

	// maxDoQMessageSize bounds a framed DoQ message.
	maxDoQMessageSize = 65535

	// maxSessionPoolSize is the maximum number of QUIC sessions kept per
	// upstream. Streams already multiplex queries within one session, the
	// pool only smooths bursts over fresh handshakes.
	maxSessionPoolSize = 4

	quicKeepAlivePeriod = 30 * time.Second
	quicMaxIdleTimeout  = 1 * time.Minute
)

// QUICTransport resolves over DNS-over-QUIC (RFC 9250). Each query runs on
// its own bidirectional stream of a pooled QUIC session, so concurrent
// queries share sessions without serializing on each other.
type QUICTransport struct {
	basicTransport

	sessions *puddle.Pool[quic.Connection]
	tlsConf  *tls.Config
}

// NewQUICTransport returns a new QUICTransport for the given config.
func NewQUICTransport(cfg *Config) *QUICTransport {
	t := &QUICTransport{
		basicTransport: newBasicTransport(cfg),
		tlsConf: &tls.Config{
			MinVersion: tls.VersionTLS12,
			ServerName: cfg.tlsServerName(),
			NextProtos: []string{"doq"},
			// Session resumption cuts the cost of re-handshakes.
			ClientSessionCache: tls.NewLRUClientSessionCache(64),
		},
	}

	pool, err := puddle.NewPool(&puddle.Config[quic.Connection]{
		Constructor: t.dialSession,
		Destructor: func(session quic.Connection) {
			_ = session.CloseWithError(doqNoError, "")
		},
		MaxSize: maxSessionPoolSize,
	})
	if err != nil {
		// Only triggered by an invalid pool size, which is constant.
		panic(err)
	}
	t.sessions = pool

	return t
}

func (qt *QUICTransport) dialSession(ctx context.Context) (quic.Connection, error) {
	dialCtx, cancel := context.WithTimeout(ctx, defaultConnectTimeout)
	defer cancel()

	session, err := quic.DialAddr(dialCtx, qt.cfg.ServerAddress(), qt.tlsConf, &quic.Config{
		KeepAlivePeriod: quicKeepAlivePeriod,
		MaxIdleTimeout:  quicMaxIdleTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to connect to %s: %s", ErrTransport, qt.cfg.DescriptiveName(), err)
	}

	log.Debugf("resolver: connected to %s", qt.cfg.DescriptiveName())
	return session, nil
}

// Query executes the given query against the upstream.
func (qt *QUICTransport) Query(ctx context.Context, q *Query) (*Reply, error) {
	ctx, cancel := ensureDeadline(ctx)
	defer cancel()

	msg := new(dns.Msg)
	msg.SetQuestion(q.FQDN, uint16(q.QType))
	// RFC 9250 requires a zero message ID on the wire, streams already
	// separate queries.
	msg.Id = 0

	reply, err := qt.exchange(ctx, msg)
	if err != nil {
		return nil, err
	}
	return replyFromMsg(reply, qt.cfg.ID()), nil
}

func (qt *QUICTransport) exchange(ctx context.Context, msg *dns.Msg) (*dns.Msg, error) {
	res, err := qt.acquireSession(ctx)
	if err != nil {
		return nil, err
	}

	reply, err := exchangeOverStream(ctx, res.Value(), msg)
	if err != nil {
		// A broken stream usually means a broken session. Destroy it so
		// the next query dials fresh instead of reusing a dead session.
		res.Destroy()
		return nil, wrapTransportErr(err)
	}

	res.Release()
	return reply, nil
}

// acquireSession checks a live session out of the pool, discarding sessions
// that have died while idle.
func (qt *QUICTransport) acquireSession(ctx context.Context) (*puddle.Resource[quic.Connection], error) {
	for {
		res, err := qt.sessions.Acquire(ctx)
		if err != nil {
			return nil, wrapTransportErr(err)
		}
		if res.Value().Context().Err() != nil {
			res.Destroy()
			continue
		}
		return res, nil
	}
}

func exchangeOverStream(ctx context.Context, session quic.Connection, msg *dns.Msg) (*dns.Msg, error) {
	stream, err := session.OpenStreamSync(ctx)
	if err != nil {
		return nil, err
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = stream.SetDeadline(deadline)
	}

	if err := writeDoQMsg(stream, msg); err != nil {
		_ = stream.Close()
		return nil, err
	}
	// The client MUST close the send side of the stream after sending the
	// query (RFC 9250, section 4.2).
	if err := stream.Close(); err != nil {
		return nil, err
	}

	return readDoQMsg(stream)
}

// writeDoQMsg writes the message with the 2-byte length prefix framing of
// RFC 9250.
func writeDoQMsg(w io.Writer, msg *dns.Msg) error {
	packed, err := msg.Pack()
	if err != nil {
		return err
	}
	if len(packed) > maxDoQMessageSize {
		return fmt.Errorf("message too large: %d", len(packed))
	}

	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(packed)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err = w.Write(packed)
	return err
}

// readDoQMsg reads one length-prefixed message.
func readDoQMsg(r io.Reader) (*dns.Msg, error) {
	var lenBuf [2]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint16(lenBuf[:])
	if length == 0 {
		return nil, ErrMalformedResponse
	}

	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}

	msg := new(dns.Msg)
	if err := msg.Unpack(buf); err != nil {
		return nil, ErrMalformedResponse
	}
	return msg, nil
}

// ForceReconnect drops all pooled sessions, so following queries perform a
// fresh handshake.
func (qt *QUICTransport) ForceReconnect(ctx context.Context) {
	qt.sessions.Reset()
	log.Tracef("resolver: dropped quic sessions to %s", qt.cfg.DescriptiveName())
}

// Close releases all sessions held by the transport.
func (qt *QUICTransport) Close() {
	qt.sessions.Close()
}
