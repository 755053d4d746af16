// Package httpclient builds the HTTP clients handed to cloud SDKs.
package httpclient

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"
)

// Config configures a cloud API client.
type Config struct {
	Timeout      time.Duration
	MaxRedirects int
	// UserAgent is appended to each request's User-Agent header.
	UserAgent string
}

func DefaultConfig() Config {
	return Config{
		Timeout:      60 * time.Second,
		MaxRedirects: 5,
		UserAgent:    "satori",
	}
}

type restrictKey struct{}

// RestrictPrivate marks ctx so that clients from this package refuse to
// dial loopback, private or link-local addresses for requests made with it.
// Runs requested over the API carry this mark: their endpoints come from
// the caller, not the operator.
func RestrictPrivate(ctx context.Context) context.Context {
	return context.WithValue(ctx, restrictKey{}, true)
}

// IsRestricted reports whether ctx was marked by RestrictPrivate.
func IsRestricted(ctx context.Context) bool {
	restricted, _ := ctx.Value(restrictKey{}).(bool)
	return restricted
}

// ConfigureTransport applies the dialing, proxy and timeout settings shared
// by every cloud client. TLS settings are left alone so SDK options such
// as custom CA bundles still apply.
func ConfigureTransport(transport *http.Transport) {
	dialer := &net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	transport.Proxy = http.ProxyFromEnvironment
	transport.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
		if !IsRestricted(ctx) {
			return dialer.DialContext(ctx, network, addr)
		}
		target, err := resolvePublic(ctx, addr)
		if err != nil {
			return nil, fmt.Errorf("SSRF protection: %w", err)
		}
		return dialer.DialContext(ctx, network, target)
	}

	transport.MaxIdleConns = 20
	transport.MaxIdleConnsPerHost = 4
	transport.IdleConnTimeout = 90 * time.Second

	transport.TLSHandshakeTimeout = 10 * time.Second
	transport.ResponseHeaderTimeout = 30 * time.Second
	transport.ExpectContinueTimeout = 1 * time.Second
}

// New returns a client with context-aware dialing and bounded handshakes.
// Private addresses are allowed unless the request context is restricted:
// Keystone and VPC endpoints commonly live on them.
func New(config Config) *http.Client {
	transport := &http.Transport{}
	ConfigureTransport(transport)

	var rt http.RoundTripper = transport
	if config.UserAgent != "" {
		rt = &userAgentTransport{next: transport, agent: config.UserAgent}
	}

	client := &http.Client{
		Timeout:   config.Timeout,
		Transport: rt,
	}
	if config.MaxRedirects > 0 {
		client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			if len(via) >= config.MaxRedirects {
				return fmt.Errorf("stopped after %d redirects", config.MaxRedirects)
			}
			return nil
		}
	} else {
		client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}
	return client
}

// resolvePublic resolves addr and returns the first address as host:port,
// failing if any resolved address is private. Dialing the resolved address
// keeps a second lookup from returning something else.
func resolvePublic(ctx context.Context, addr string) (string, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "", err
	}

	ips, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", host, err)
	}
	if len(ips) == 0 {
		return "", fmt.Errorf("no addresses for %s", host)
	}
	for _, ip := range ips {
		if isPrivateIP(ip.IP) {
			return "", fmt.Errorf("blocked private IP: %s (%s)", ip.IP, host)
		}
	}
	return net.JoinHostPort(ips[0].IP.String(), port), nil
}

func isPrivateIP(ip net.IP) bool {
	return ip.IsLoopback() ||
		ip.IsPrivate() ||
		ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() ||
		ip.IsUnspecified()
}

type userAgentTransport struct {
	next  http.RoundTripper
	agent string
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	if ua := req.Header.Get("User-Agent"); ua != "" {
		req.Header.Set("User-Agent", ua+" "+t.agent)
	} else {
		req.Header.Set("User-Agent", t.agent)
	}
	return t.next.RoundTrip(req)
}
