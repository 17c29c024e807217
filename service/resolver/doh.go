package resolver

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/miekg/dns"

	"github.com/safing/quietdns/base/log"
)

const (
	dnsMessageMimeType = "application/dns-message"
	maxDoHResponseSize = 65535
)

// HTTPSTransport resolves over DNS-over-HTTPS (RFC 8484). The underlying
// http.Client keeps TLS connections alive across queries.
type HTTPSTransport struct {
	basicTransport

	client     *http.Client
	clientLock sync.RWMutex
}

// NewHTTPSTransport returns a new HTTPSTransport for the given config.
func NewHTTPSTransport(cfg *Config) *HTTPSTransport {
	t := &HTTPSTransport{
		basicTransport: newBasicTransport(cfg),
	}
	t.refreshClient()
	return t
}

// Query executes the given query against the upstream.
func (ht *HTTPSTransport) Query(ctx context.Context, q *Query) (*Reply, error) {
	ctx, cancel := ensureDeadline(ctx)
	defer cancel()

	dnsQuery := new(dns.Msg)
	dnsQuery.SetQuestion(q.FQDN, uint16(q.QType))

	buf, err := dnsQuery.Pack()
	if err != nil {
		return nil, wrapTransportErr(err)
	}

	// The query travels in the request body, so it cannot end up in error
	// strings, URLs or access logs.
	endpoint := &url.URL{
		Scheme: "https",
		Host:   ht.cfg.ServerAddress(),
		Path:   ht.cfg.Path,
	}
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), bytes.NewReader(buf))
	if err != nil {
		return nil, wrapTransportErr(err)
	}
	request.Header.Set("Content-Type", dnsMessageMimeType)
	request.Header.Set("Accept", dnsMessageMimeType)

	// Lock client for usage.
	ht.clientLock.RLock()
	defer ht.clientLock.RUnlock()

	resp, err := ht.client.Do(request)
	if err != nil {
		return nil, wrapTransportErr(err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: http request failed with %s", ErrTransport, resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDoHResponseSize))
	if err != nil {
		return nil, wrapTransportErr(err)
	}

	reply := new(dns.Msg)
	if err := reply.Unpack(body); err != nil {
		return nil, ErrMalformedResponse
	}

	return replyFromMsg(reply, ht.cfg.ID()), nil
}

// ForceReconnect forces the transport to re-establish its connections.
func (ht *HTTPSTransport) ForceReconnect(ctx context.Context) {
	ht.refreshClient()
	log.Tracef("resolver: created new http client for %s", ht.cfg.DescriptiveName())
}

// Close releases the idle connections of the transport.
func (ht *HTTPSTransport) Close() {
	ht.clientLock.Lock()
	defer ht.clientLock.Unlock()
	if ht.client != nil {
		ht.client.CloseIdleConnections()
	}
}

func (ht *HTTPSTransport) refreshClient() {
	// Lock client for changing.
	ht.clientLock.Lock()
	defer ht.clientLock.Unlock()

	// Attempt to close connections of the previous client.
	if ht.client != nil {
		ht.client.CloseIdleConnections()
	}

	// Create new client. Certificate verification stays on: the zero
	// tls.Config verifies, and ServerName pins the expected identity.
	tr := &http.Transport{
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
			ServerName: ht.cfg.tlsServerName(),
		},
		ForceAttemptHTTP2:   true,
		IdleConnTimeout:     1 * time.Minute,
		TLSHandshakeTimeout: defaultConnectTimeout,
	}
	ht.client = &http.Client{
		Transport: tr,
	}
}
