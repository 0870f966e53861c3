// Package guard decides which hosts a test run may visit.
package guard

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrPolicyViolation is returned when a navigation or click would leave the
// allowed host set.
var ErrPolicyViolation = errors.New("navigation policy violation")

// DefaultIdentityHosts are the identity-provider domains allowed alongside the
// application host and its subdomains. A host matches when it equals an entry or is a subdomain
// of it.
var DefaultIdentityHosts = []string{
	"nih.gov",
	"authtest.nih.gov",
	"stsstg.nih.gov",
	"login.gov",
	"identitysandbox.gov",
}

// Guard holds the allowed host set for a run. It is immutable once created
// and safe for concurrent use.
type Guard struct {
	baseHost string
	suffixes []string
}

// New creates a Guard for baseURL. When identityHosts is nil the defaults
// are used; pass an empty non-nil slice to allow only the base host.
func New(baseURL string, identityHosts []string) (*Guard, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL %q: %w", baseURL, err)
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return nil, fmt.Errorf("base URL %q has no host", baseURL)
	}

	if identityHosts == nil {
		identityHosts = DefaultIdentityHosts
	}
	suffixes := make([]string, 0, len(identityHosts))
	for _, h := range identityHosts {
		h = strings.Trim(strings.ToLower(strings.TrimSpace(h)), ".")
		if h != "" {
			suffixes = append(suffixes, h)
		}
	}

	return &Guard{baseHost: host, suffixes: suffixes}, nil
}

// BaseHost returns the application host.
func (g *Guard) BaseHost() string {
	return g.baseHost
}

// Allowed reports whether rawURL may be visited. URLs that cannot be
// parsed, or that carry no host (relative links, about:blank), are allowed.
func (g *Guard) Allowed(rawURL string) bool {
	host := HostOf(rawURL)
	if host == "" {
		return true
	}
	if matchesSuffix(host, g.baseHost) {
		return true
	}
	for _, s := range g.suffixes {
		if matchesSuffix(host, s) {
			return true
		}
	}
	return false
}

// Check returns ErrPolicyViolation when rawURL is not allowed.
func (g *Guard) Check(rawURL string) error {
	if g.Allowed(rawURL) {
		return nil
	}
	return fmt.Errorf("%w: %s is outside the allowed hosts", ErrPolicyViolation, rawURL)
}

// UnderBase reports whether rawURL points at the application host or one of
// its subdomains. Used to detect the redirect back after authentication.
func (g *Guard) UnderBase(rawURL string) bool {
	host := HostOf(rawURL)
	return host != "" && matchesSuffix(host, g.baseHost)
}

// HostOf returns the lowercased hostname of rawURL, or "" if there is none.
func HostOf(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

func matchesSuffix(host, suffix string) bool {
	return host == suffix || strings.HasSuffix(host, "."+suffix)
}
