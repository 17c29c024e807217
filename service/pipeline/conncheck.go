package pipeline

import (
	"context"
	"time"

	"github.com/gofrs/uuid"
	"github.com/miekg/dns"

	"github.com/safing/quietdns/base/log"
	"github.com/safing/quietdns/service/resolver"
)

// defaultCheckDomain is queried when the caller does not supply a test
// domain. It is expected to exist on any functioning upstream.
const defaultCheckDomain = "example.com."

// CheckReport describes the outcome of one upstream connectivity check.
type CheckReport struct {
	// CheckID correlates the report with log lines of the check.
	CheckID string `json:"checkID"`

	// Server is the ID of the checked upstream.
	Server string `json:"server"`

	// Reachable is whether the upstream answered the probe query.
	Reachable bool `json:"reachable"`

	// EncryptionVerified is whether the upstream's certificate was
	// verified. It is true exactly when the probe succeeded, as all
	// transports require verification to complete a query.
	EncryptionVerified bool `json:"encryptionVerified"`

	// Latency is the duration of the probe query.
	Latency time.Duration `json:"latency"`

	// Err holds the typed probe error. Never serialized.
	Err error `json:"-"`
}

// CheckUpstream probes the given upstream config with a single query and
// reports the outcome. The probe runs over a fresh transport and leaves no
// trace in the answer cache or the query counters, so checks do not skew
// statistics.
func CheckUpstream(ctx context.Context, cfg *resolver.Config, testDomain string) *CheckReport {
	checkID := uuid.Must(uuid.NewV4()).String()
	report := &CheckReport{CheckID: checkID}

	if err := cfg.Validate(); err != nil {
		report.Err = err
		return report
	}
	report.Server = cfg.ID()

	transport, err := resolver.New(cfg)
	if err != nil {
		report.Err = err
		return report
	}
	defer transport.Close()

	if testDomain == "" {
		testDomain = defaultCheckDomain
	}
	q := resolver.NewQuery(testDomain, dns.Type(dns.TypeA))

	log.Debugf("pipeline: check %s probing %s", checkID, cfg.DescriptiveName())

	started := time.Now()
	reply, err := transport.Query(ctx, q)
	report.Latency = time.Since(started)
	if err != nil {
		report.Err = err
		log.Debugf("pipeline: check %s failed after %s: %s", checkID, report.Latency, err)
		return report
	}

	report.Reachable = true
	report.EncryptionVerified = true
	log.Debugf(
		"pipeline: check %s ok: rcode=%s latency=%s",
		checkID, dns.RcodeToString[reply.RCode], report.Latency,
	)
	return report
}
