// Package dns resolves target hostnames and domain nameservers with
// github.com/miekg/dns against an explicit list of recursive resolvers.
package dns

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"strings"
	"time"

	"github.com/CodeMonkeyCybersecurity/satori/internal/logger"
	"github.com/miekg/dns"
)

// ErrNotResolvable means every resolver answered but none returned an
// address for the name.
var ErrNotResolvable = errors.New("name is not resolvable")

var defaultResolvers = []string{
	"8.8.8.8:53",
	"1.1.1.1:53",
}

type exchanger interface {
	ExchangeContext(ctx context.Context, m *dns.Msg, address string) (*dns.Msg, time.Duration, error)
}

// Resolver queries A/AAAA and NS records. Names unknown to DNS (hosts file
// entries such as localhost) fall back to the system resolver.
type Resolver struct {
	resolvers []string
	client    exchanger
	fallback  func(ctx context.Context, host string) ([]string, error)
	logger    *logger.Logger
}

// NewResolver uses servers when given, otherwise the nameservers from
// /etc/resolv.conf, otherwise public resolvers.
func NewResolver(servers []string, timeout time.Duration, log *logger.Logger) *Resolver {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if len(servers) == 0 {
		servers = systemResolvers()
	}
	normalized := make([]string, 0, len(servers))
	for _, s := range servers {
		normalized = append(normalized, withPort(s))
	}

	return &Resolver{
		resolvers: normalized,
		client:    &dns.Client{Timeout: timeout},
		fallback:  net.DefaultResolver.LookupHost,
		logger:    log.WithComponent("dns-resolver"),
	}
}

func systemResolvers() []string {
	conf, err := dns.ClientConfigFromFile("/etc/resolv.conf")
	if err != nil || len(conf.Servers) == 0 {
		return defaultResolvers
	}
	servers := make([]string, 0, len(conf.Servers))
	for _, s := range conf.Servers {
		servers = append(servers, net.JoinHostPort(s, conf.Port))
	}
	return servers
}

func withPort(server string) string {
	if _, _, err := net.SplitHostPort(server); err == nil {
		return server
	}
	return net.JoinHostPort(strings.Trim(server, "[]"), "53")
}

func (r *Resolver) Servers() []string {
	return append([]string(nil), r.resolvers...)
}

// Resolve returns the IPv4 addresses of host followed by its IPv6
// addresses, in answer order. IP literals are returned unchanged.
func (r *Resolver) Resolve(ctx context.Context, host string) ([]string, error) {
	if ip := net.ParseIP(host); ip != nil {
		return []string{ip.String()}, nil
	}

	var addrs []string
	var lastErr error
	for _, qtype := range []uint16{dns.TypeA, dns.TypeAAAA} {
		answers, err := r.query(ctx, host, qtype)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			continue
		}
		for _, rr := range answers {
			switch rec := rr.(type) {
			case *dns.A:
				addrs = appendUnique(addrs, rec.A.String())
			case *dns.AAAA:
				addrs = appendUnique(addrs, rec.AAAA.String())
			}
		}
	}

	if len(addrs) > 0 {
		return addrs, nil
	}

	if r.fallback != nil {
		fallbackAddrs, err := r.fallback(ctx, host)
		if err == nil && len(fallbackAddrs) > 0 {
			r.logger.Debugw("Resolved via system resolver", "host", host, "addresses", fallbackAddrs)
			return fallbackAddrs, nil
		}
	}

	if lastErr != nil {
		return nil, fmt.Errorf("%s: %w (%v)", host, ErrNotResolvable, lastErr)
	}
	return nil, fmt.Errorf("%s: %w", host, ErrNotResolvable)
}

// Nameservers returns the NS records of domain, lower-cased and sorted.
func (r *Resolver) Nameservers(ctx context.Context, domain string) ([]string, error) {
	answers, err := r.query(ctx, domain, dns.TypeNS)
	if err != nil {
		return nil, err
	}

	var servers []string
	for _, rr := range answers {
		if ns, ok := rr.(*dns.NS); ok {
			servers = appendUnique(servers, strings.ToLower(strings.TrimSuffix(ns.Ns, ".")))
		}
	}
	sort.Strings(servers)
	return servers, nil
}

// query asks each resolver in turn and returns the answer section of the
// first successful response. NXDOMAIN is final.
func (r *Resolver) query(ctx context.Context, name string, qtype uint16) ([]dns.RR, error) {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(name), qtype)
	m.RecursionDesired = true

	var lastErr error
	for _, server := range r.resolvers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		resp, _, err := r.client.ExchangeContext(ctx, m, server)
		if err != nil {
			r.logger.Debugw("DNS query failed",
				"name", name,
				"type", dns.TypeToString[qtype],
				"resolver", server,
				"error", err,
			)
			lastErr = err
			continue
		}

		switch resp.Rcode {
		case dns.RcodeSuccess:
			return resp.Answer, nil
		case dns.RcodeNameError:
			return nil, fmt.Errorf("%s: NXDOMAIN from %s", name, server)
		default:
			lastErr = fmt.Errorf("%s: %s from %s", name, dns.RcodeToString[resp.Rcode], server)
		}
	}

	if lastErr == nil {
		lastErr = errors.New("no resolvers configured")
	}
	return nil, lastErr
}

func appendUnique(list []string, s string) []string {
	for _, existing := range list {
		if existing == s {
			return list
		}
	}
	return append(list, s)
}
