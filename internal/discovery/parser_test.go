package discovery

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTarget(t *testing.T) {
	tests := []struct {
		name       string
		input      string
		wantHost   string
		wantIP     bool
		wantDomain string
	}{
		{name: "hostname", input: "www.example.com", wantHost: "www.example.com", wantDomain: "example.com"},
		{name: "uppercase and trailing dot", input: "WWW.Example.COM.", wantHost: "www.example.com", wantDomain: "example.com"},
		{name: "multi-part suffix", input: "api.service.example.co.uk", wantHost: "api.service.example.co.uk", wantDomain: "example.co.uk"},
		{name: "url", input: "https://www.example.com:8443/path?q=1", wantHost: "www.example.com", wantDomain: "example.com"},
		{name: "bare host with path", input: "example.com/index.html", wantHost: "example.com", wantDomain: "example.com"},
		{name: "host with port", input: "example.com:22", wantHost: "example.com", wantDomain: "example.com"},
		{name: "ipv4", input: "192.0.2.10", wantHost: "192.0.2.10", wantIP: true},
		{name: "ipv4 url", input: "http://192.0.2.10/", wantHost: "192.0.2.10", wantIP: true},
		{name: "ipv6", input: "2001:DB8::1", wantHost: "2001:db8::1", wantIP: true},
		{name: "bracketed ipv6 url", input: "http://[2001:db8::1]:8080/", wantHost: "2001:db8::1", wantIP: true},
		{name: "localhost has no domain", input: "localhost", wantHost: "localhost"},
		{name: "internationalized name", input: "www.münchen.de", wantHost: "www.xn--mnchen-3ya.de", wantDomain: "xn--mnchen-3ya.de"},
		{name: "internationalized url", input: "https://Bücher.example.com/", wantHost: "xn--bcher-kva.example.com", wantDomain: "example.com"},
	}

	parser := NewTargetParser()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target, err := parser.ParseTarget(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.wantHost, target.Host)
			assert.Equal(t, tt.wantIP, target.IsIP)
			assert.Equal(t, tt.wantDomain, target.Domain)
		})
	}
}

func TestParseTargetInvalid(t *testing.T) {
	inputs := []string{
		"",
		"   ",
		"http://",
		"https:///path-only",
		"not a host",
		"bad..dots.com",
		"-leading.example.com",
		"bad..münchen.de",
	}

	parser := NewTargetParser()
	for _, input := range inputs {
		t.Run(input, func(t *testing.T) {
			_, err := parser.ParseTarget(input)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidTarget)
			assert.True(t, IsUsageError(err))
		})
	}
}
