package discovery

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"regexp"
	"strings"

	"github.com/CodeMonkeyCybersecurity/satori/pkg/types"
	"golang.org/x/net/idna"
	"golang.org/x/net/publicsuffix"
)

// ErrInvalidTarget is wrapped by every target parsing failure.
var ErrInvalidTarget = errors.New("invalid target")

// UsageError reports bad caller input detected before discovery starts.
type UsageError struct {
	Err error
}

func (e *UsageError) Error() string { return e.Err.Error() }
func (e *UsageError) Unwrap() error { return e.Err }

// IsUsageError reports whether err was caused by caller input.
func IsUsageError(err error) bool {
	var ue *UsageError
	return errors.As(err, &ue)
}

func usageErrorf(format string, args ...interface{}) error {
	return &UsageError{Err: fmt.Errorf(format, args...)}
}

// TargetParser turns hostnames, IP literals and URLs into targets.
type TargetParser struct {
	hostname *regexp.Regexp
}

func NewTargetParser() *TargetParser {
	return &TargetParser{
		hostname: regexp.MustCompile(`^[a-z0-9_]([a-z0-9_\-]{0,61}[a-z0-9])?(\.[a-z0-9_]([a-z0-9_\-]{0,61}[a-z0-9])?)*$`),
	}
}

// ParseTarget classifies input. URLs contribute their host; anything after
// the first "/" of a bare target is ignored.
func (p *TargetParser) ParseTarget(input string) (types.Target, error) {
	raw := strings.TrimSpace(input)
	if raw == "" {
		return types.Target{}, usageErrorf("%w: empty target", ErrInvalidTarget)
	}

	host, err := extractHost(raw)
	if err != nil {
		return types.Target{}, &UsageError{Err: err}
	}

	target := types.Target{Raw: raw, Host: host}

	if ip := net.ParseIP(host); ip != nil {
		target.Host = ip.String()
		target.IsIP = true
		return target, nil
	}

	// Internationalized names are resolved and looked up in punycode.
	if !isASCII(host) {
		ascii, err := idna.Lookup.ToASCII(host)
		if err != nil {
			return types.Target{}, usageErrorf("%w: %q is not a valid hostname: %v", ErrInvalidTarget, host, err)
		}
		host = ascii
		target.Host = ascii
	}

	if len(host) > 253 || !p.hostname.MatchString(host) {
		return types.Target{}, usageErrorf("%w: %q is not a valid hostname", ErrInvalidTarget, host)
	}

	target.Domain = registeredDomain(host)
	return target, nil
}

func extractHost(raw string) (string, error) {
	var host string
	if strings.Contains(raw, "://") {
		u, err := url.Parse(raw)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalidTarget, err)
		}
		host = u.Hostname()
	} else {
		netloc := raw
		if i := strings.Index(netloc, "/"); i >= 0 {
			netloc = netloc[:i]
		}
		host = netloc
		if net.ParseIP(strings.Trim(netloc, "[]")) != nil {
			host = strings.Trim(netloc, "[]")
		} else if h, _, err := net.SplitHostPort(netloc); err == nil {
			host = h
		}
	}

	host = strings.ToLower(strings.TrimSuffix(host, "."))
	if host == "" {
		return "", fmt.Errorf("%w: no hostname in %q", ErrInvalidTarget, raw)
	}
	return host, nil
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 {
			return false
		}
	}
	return true
}

// registeredDomain returns the public-suffix-plus-one of host, or "" for
// single-label names and bare public suffixes.
func registeredDomain(host string) string {
	if !strings.Contains(host, ".") {
		return ""
	}
	domain, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return ""
	}
	return domain
}
