package resolver

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConfig(t *testing.T) {
	t.Parallel()

	cfg, err := ParseConfig("dot://1.1.1.2:853?verify=cloudflare-dns.com&name=Cloudflare")
	require.NoError(t, err)
	assert.Equal(t, ServerTypeDoT, cfg.ServerType)
	assert.Equal(t, "1.1.1.2", cfg.Host)
	assert.Equal(t, uint16(853), cfg.Port)
	assert.Equal(t, "cloudflare-dns.com", cfg.VerifyDomain)
	assert.Equal(t, "Cloudflare", cfg.Name)
	assert.Equal(t, "dot://1.1.1.2:853", cfg.ID())
	assert.Equal(t, "Cloudflare (dot://1.1.1.2:853)", cfg.DescriptiveName())

	cfg, err = ParseConfig("doh://cloudflare-dns.com/dns-query")
	require.NoError(t, err)
	assert.Equal(t, ServerTypeDoH, cfg.ServerType)
	assert.Equal(t, uint16(443), cfg.Port)
	assert.Equal(t, "/dns-query", cfg.Path)
	// Host doubles as the verification domain.
	assert.Equal(t, "cloudflare-dns.com", cfg.VerifyDomain)

	// Default endpoint path is applied.
	cfg, err = ParseConfig("doh://dns.quad9.net")
	require.NoError(t, err)
	assert.Equal(t, "/dns-query", cfg.Path)

	// Scheme aliases.
	cfg, err = ParseConfig("tls://dns.quad9.net")
	require.NoError(t, err)
	assert.Equal(t, ServerTypeDoT, cfg.ServerType)
	assert.Equal(t, uint16(853), cfg.Port)

	cfg, err = ParseConfig("quic://dns.adguard-dns.com")
	require.NoError(t, err)
	assert.Equal(t, ServerTypeDoQ, cfg.ServerType)
	assert.Equal(t, uint16(853), cfg.Port)
}

func TestParseConfigRejectsIncomplete(t *testing.T) {
	t.Parallel()

	for _, configURL := range []string{
		"dot://",                 // no host
		"ftp://1.1.1.1",          // unsupported scheme
		"dot://1.1.1.1:notaport", // invalid port
		"doh://x\x00y",           // unparsable URL
	} {
		_, err := ParseConfig(configURL)
		assert.Truef(t, errors.Is(err, ErrConfigIncomplete), "%s should be rejected as incomplete, got %v", configURL, err)
	}

	// An IP host without an explicit verify domain is accepted: the
	// certificate is then verified against the IP itself.
	cfg, err := ParseConfig("dot://9.9.9.9")
	require.NoError(t, err)
	assert.Equal(t, "", cfg.VerifyDomain)
	assert.Equal(t, "9.9.9.9", cfg.tlsServerName())
}

func TestValidate(t *testing.T) {
	t.Parallel()

	var nilCfg *Config
	assert.ErrorIs(t, nilCfg.Validate(), ErrConfigIncomplete)

	err := (&Config{ServerType: ServerTypeDoT}).Validate()
	assert.ErrorIs(t, err, ErrConfigIncomplete)

	err = (&Config{ServerType: "smtp", Host: "1.1.1.1", VerifyDomain: "x"}).Validate()
	assert.ErrorIs(t, err, ErrConfigIncomplete)
}

func TestWithHost(t *testing.T) {
	t.Parallel()

	cfg, err := ParseConfig("dot://1.1.1.2:853?verify=cloudflare-dns.com&name=Cloudflare")
	require.NoError(t, err)

	// Override keeps the protocol, replaces the target.
	override := cfg.WithHost("dns.example.org")
	assert.Equal(t, ServerTypeDoT, override.ServerType)
	assert.Equal(t, "dns.example.org", override.Host)
	assert.Equal(t, uint16(853), override.Port)
	assert.Equal(t, "dns.example.org", override.VerifyDomain)
	assert.NoError(t, override.Validate())

	// The original config is untouched (copy-on-write).
	assert.Equal(t, "1.1.1.2", cfg.Host)

	// Override with explicit port.
	override = cfg.WithHost("dns.example.org:8853")
	assert.Equal(t, "dns.example.org", override.Host)
	assert.Equal(t, uint16(8853), override.Port)
}
