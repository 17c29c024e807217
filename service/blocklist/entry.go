package blocklist

import (
	"fmt"
	"strings"
)

// Entry is a single blocked domain pattern. An entry always also covers all
// subdomains of its pattern: "ads.example.com" matches "x.ads.example.com",
// but not "example.com".
type Entry struct {
	// Pattern is the blocked domain in canonical form: lower case, no
	// trailing dot, no wildcard prefix.
	Pattern string

	// Source identifies the list the entry came from.
	Source string
}

// NormalizeDomain returns the canonical form of a domain for matching:
// lower case, without a trailing dot and without a "*." wildcard prefix.
func NormalizeDomain(domain string) string {
	domain = strings.ToLower(strings.TrimSpace(domain))
	domain = strings.TrimSuffix(domain, ".")
	domain = strings.TrimPrefix(domain, "*.")
	return domain
}

// validatePattern checks that a pattern is a plausible domain name. It
// intentionally does not do full hostname validation, as many real-world
// blocklists carry entries with underscores or other oddities that still
// resolve in the wild.
func validatePattern(pattern string) error {
	switch {
	case pattern == "":
		return fmt.Errorf("empty pattern")
	case len(pattern) > 253:
		return fmt.Errorf("pattern %q exceeds maximum domain length", pattern)
	case strings.ContainsAny(pattern, " \t/\\"):
		return fmt.Errorf("pattern %q contains invalid characters", pattern)
	case strings.Contains(pattern, ".."):
		return fmt.Errorf("pattern %q contains an empty label", pattern)
	case strings.HasPrefix(pattern, "."):
		return fmt.Errorf("pattern %q starts with a dot", pattern)
	}
	return nil
}
