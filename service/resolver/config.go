package resolver

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
)

// Server types of the supported encrypted transports.
const (
	ServerTypeDoH = "doh"
	ServerTypeDoT = "dot"
	ServerTypeDoQ = "doq"
)

// Scheme aliases accepted in config URLs.
const (
	httpsProtocol = "https"
	tlsProtocol   = "tls"
	quicProtocol  = "quic"
)

// Config URL parameters.
const (
	parameterName   = "name"
	parameterVerify = "verify"
)

// Config describes one upstream resolver. It is immutable once created:
// configuration changes produce a new Config, they never mutate one that
// in-flight queries may still hold.
//
// Configs are parsed from URLs in the form:
//
//	dot://1.1.1.2:853?verify=cloudflare-dns.com&name=Cloudflare
//	doh://cloudflare-dns.com/dns-query?name=Cloudflare
//	doq://dns.adguard-dns.com:853?name=AdGuard
type Config struct {
	// ServerType is the transport protocol tag: doh, dot or doq.
	ServerType string

	// Host is the upstream host: an IP address, or a domain that is also
	// used for certificate verification.
	Host string

	// Port is the upstream port. Defaults to 443 for doh, 853 for dot and
	// doq.
	Port uint16

	// Path is the HTTP endpoint path, used by doh only.
	Path string

	// Name is an optional human readable name for the upstream.
	Name string

	// VerifyDomain is the domain the upstream certificate is verified
	// against. Defaults to Host if Host is not an IP address.
	VerifyDomain string
}

// ParseConfig parses an upstream resolver config from its URL form.
func ParseConfig(configURL string) (*Config, error) {
	u, err := url.Parse(configURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrConfigIncomplete, err)
	}

	scheme := u.Scheme
	switch scheme {
	case ServerTypeDoH, ServerTypeDoT, ServerTypeDoQ:
	case httpsProtocol:
		scheme = ServerTypeDoH
	case tlsProtocol:
		scheme = ServerTypeDoT
	case quicProtocol:
		scheme = ServerTypeDoQ
	default:
		return nil, fmt.Errorf("%w: resolver scheme %q invalid", ErrConfigIncomplete, u.Scheme)
	}

	query := u.Query()
	cfg := &Config{
		ServerType:   scheme,
		Host:         u.Hostname(),
		Path:         u.Path,
		Name:         query.Get(parameterName),
		VerifyDomain: query.Get(parameterVerify),
	}

	if portStr := u.Port(); portStr != "" {
		port, err := strconv.ParseUint(portStr, 10, 16)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid port %q", ErrConfigIncomplete, portStr)
		}
		cfg.Port = uint16(port)
	} else {
		cfg.Port = defaultPort(scheme)
	}

	if cfg.ServerType == ServerTypeDoH && cfg.Path == "" {
		cfg.Path = "/dns-query"
	}

	// Verify against the host domain if no explicit verify domain is set.
	if cfg.VerifyDomain == "" && net.ParseIP(cfg.Host) == nil {
		cfg.VerifyDomain = cfg.Host
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaultPort(serverType string) uint16 {
	if serverType == ServerTypeDoH {
		return 443
	}
	return 853
}

// Validate checks that the config is complete enough to attempt a
// connection. It returns ErrConfigIncomplete before any network call is
// made.
func (cfg *Config) Validate() error {
	switch {
	case cfg == nil:
		return fmt.Errorf("%w: no resolver configured", ErrConfigIncomplete)
	case cfg.Host == "":
		return fmt.Errorf("%w: empty host", ErrConfigIncomplete)
	case cfg.ServerType != ServerTypeDoH &&
		cfg.ServerType != ServerTypeDoT &&
		cfg.ServerType != ServerTypeDoQ:
		return fmt.Errorf("%w: unknown server type %q", ErrConfigIncomplete, cfg.ServerType)
	case cfg.ServerType == ServerTypeDoH && cfg.Path == "":
		return fmt.Errorf("%w: empty doh endpoint path", ErrConfigIncomplete)
	case cfg.VerifyDomain == "" && net.ParseIP(cfg.Host) == nil:
		return fmt.Errorf("%w: no domain to verify the server certificate against", ErrConfigIncomplete)
	}
	return nil
}

// ID returns a stable identifier of the upstream. It is safe to attach to
// query results and statistics, as it only describes the upstream server.
func (cfg *Config) ID() string {
	return fmt.Sprintf("%s://%s", cfg.ServerType, cfg.ServerAddress())
}

// ServerAddress returns the host:port address of the upstream.
func (cfg *Config) ServerAddress() string {
	return net.JoinHostPort(cfg.Host, strconv.Itoa(int(cfg.Port)))
}

// DescriptiveName returns a human readable representation of the upstream.
func (cfg *Config) DescriptiveName() string {
	if cfg.Name != "" {
		return fmt.Sprintf("%s (%s)", cfg.Name, cfg.ID())
	}
	return cfg.ID()
}

// WithHost returns a copy of the config that targets a different upstream
// host, keeping the protocol. Used for per-domain override servers. The
// override may carry its own port.
func (cfg *Config) WithHost(host string) *Config {
	cp := *cfg
	cp.Name = ""
	cp.Port = defaultPort(cfg.ServerType)
	cp.VerifyDomain = ""
	cp.Host = host

	if h, p, err := net.SplitHostPort(host); err == nil {
		if port, err := strconv.ParseUint(p, 10, 16); err == nil {
			cp.Host = h
			cp.Port = uint16(port)
		}
	}

	if net.ParseIP(cp.Host) == nil {
		cp.VerifyDomain = cp.Host
	}
	return &cp
}

// tlsServerName returns the name the server certificate is verified against.
func (cfg *Config) tlsServerName() string {
	if cfg.VerifyDomain != "" {
		return cfg.VerifyDomain
	}
	return cfg.Host
}
