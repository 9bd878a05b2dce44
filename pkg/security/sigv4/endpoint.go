package sigv4

import (
	"fmt"
	"net/url"
	"strings"
)

// Endpoint is an endpoint URL that passed EndpointPolicy.Validate.
type Endpoint struct {
	Scheme string
	// Host is the authority as sent in the Host header, including any port.
	Host string
	// BasePath is the escaped endpoint path with trailing slashes removed.
	BasePath string
}

// Origin returns scheme://host.
func (e *Endpoint) Origin() string {
	return e.Scheme + "://" + e.Host
}

// EndpointPolicy decides which endpoints may receive signed requests.
//
// HTTPS is always required. When the policy holds host patterns, the endpoint host
// must also match one of them. A pattern is either a literal host name or "*.suffix",
// which matches proper subdomains of suffix but not suffix itself. Matching is
// case-insensitive. A policy with no patterns accepts any HTTPS host.
//
// The zero value and a nil *EndpointPolicy are both open policies.
type EndpointPolicy struct {
	patterns []string
}

// NewEndpointPolicy builds a policy from host patterns. Blank patterns are ignored.
func NewEndpointPolicy(patterns ...string) *EndpointPolicy {
	var out []string
	for _, p := range patterns {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return &EndpointPolicy{patterns: out}
}

// ParseAllowList splits a comma-separated host list such as
// "storage.example.com, *.r2.cloudflarestorage.com".
func ParseAllowList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Patterns returns a copy of the configured host patterns.
func (p *EndpointPolicy) Patterns() []string {
	if p == nil {
		return nil
	}
	return append([]string(nil), p.patterns...)
}

// Validate checks raw against the policy and returns the parsed endpoint.
// It performs no I/O.
func (p *EndpointPolicy) Validate(raw string) (*Endpoint, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEndpoint, err)
	}
	if !u.IsAbs() || u.Host == "" || u.Hostname() == "" {
		return nil, fmt.Errorf("%w: %q is not an absolute URL", ErrMalformedEndpoint, raw)
	}
	if u.RawQuery != "" || u.ForceQuery || u.Fragment != "" || strings.Contains(raw, "#") {
		return nil, fmt.Errorf("%w: query and fragment are not allowed", ErrMalformedEndpoint)
	}
	if u.User != nil {
		return nil, fmt.Errorf("%w: userinfo is not allowed", ErrMalformedEndpoint)
	}
	// Checked before the allow-list so that no pattern can admit plain http.
	if !strings.EqualFold(u.Scheme, "https") {
		return nil, fmt.Errorf("%w: scheme %q, https required", ErrInsecureEndpoint, u.Scheme)
	}
	host := strings.ToLower(u.Hostname())
	if !p.allows(host) {
		return nil, fmt.Errorf("%w: host %q", ErrEndpointNotAllowed, host)
	}
	base, err := ReescapePath(u.EscapedPath())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEndpoint, err)
	}
	return &Endpoint{
		Scheme:   "https",
		Host:     strings.ToLower(u.Host),
		BasePath: strings.TrimRight(base, "/"),
	}, nil
}

func (p *EndpointPolicy) allows(host string) bool {
	if p == nil || len(p.patterns) == 0 {
		return true
	}
	for _, pat := range p.patterns {
		if matchHost(pat, host) {
			return true
		}
	}
	return false
}

// matchHost expects both arguments lower-cased.
func matchHost(pattern, host string) bool {
	if strings.HasPrefix(pattern, "*.") {
		suffix := pattern[1:] // ".example.com"
		return len(host) > len(suffix) && strings.HasSuffix(host, suffix)
	}
	return pattern == host
}
