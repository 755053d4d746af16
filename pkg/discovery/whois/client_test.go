package whois

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/CodeMonkeyCybersecurity/satori/internal/logger"
	"github.com/CodeMonkeyCybersecurity/satori/internal/ratelimit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const verisignResponse = `   Domain Name: SATORI-EXAMPLE.COM
   Registry Domain ID: 123456789_DOMAIN_COM-VRSN
   Registrar WHOIS Server: whois.example-registrar.com
   Registrar URL: http://www.example-registrar.com
   Updated Date: 2024-01-10T10:00:00Z
   Creation Date: 2010-03-01T12:00:00Z
   Registry Expiry Date: 2030-03-01T12:00:00Z
   Registrar: Example Registrar, Inc.
   Registrar IANA ID: 9999
   Domain Status: clientTransferProhibited https://icann.org/epp#clientTransferProhibited
   Name Server: NS1.EXAMPLE-DNS.NET
   Name Server: NS2.EXAMPLE-DNS.NET
   DNSSEC: unsigned
>>> Last update of whois database: 2024-06-01T00:00:00Z <<<
`

func newTestClient(query func(string) (string, error)) *WhoisClient {
	c := NewWhoisClient(logger.NewNop(), time.Second, nil)
	c.query = query
	return c
}

func TestLookupDomain(t *testing.T) {
	c := newTestClient(func(domain string) (string, error) {
		assert.Equal(t, "satori-example.com", domain)
		return verisignResponse, nil
	})

	result, err := c.LookupDomain(context.Background(), "Satori-Example.com.")
	require.NoError(t, err)

	assert.Equal(t, "satori-example.com", result.Domain)
	assert.Equal(t, "Example Registrar, Inc.", result.Registrar)
	assert.Equal(t, []string{"ns1.example-dns.net", "ns2.example-dns.net"}, result.NameServers)
	require.NotNil(t, result.Expires)
	assert.Equal(t, time.Date(2030, 3, 1, 12, 0, 0, 0, time.UTC), result.Expires.UTC())
	assert.Equal(t, verisignResponse, result.Raw)
}

func TestLookupDomainCachesResults(t *testing.T) {
	var calls int32
	c := newTestClient(func(string) (string, error) {
		atomic.AddInt32(&calls, 1)
		return verisignResponse, nil
	})

	for i := 0; i < 3; i++ {
		_, err := c.LookupDomain(context.Background(), "satori-example.com")
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestLookupDomainQueryError(t *testing.T) {
	c := newTestClient(func(string) (string, error) {
		return "", errors.New("connection refused")
	})

	_, err := c.LookupDomain(context.Background(), "satori-example.com")
	assert.ErrorContains(t, err, "whois lookup failed")
}

func TestLookupDomainNotRegistered(t *testing.T) {
	c := newTestClient(func(string) (string, error) {
		return "No match for domain \"NOPE-SATORI-EXAMPLE.COM\".\r\n", nil
	})

	_, err := c.LookupDomain(context.Background(), "nope-satori-example.com")
	assert.ErrorIs(t, err, ErrDomainNotFound)
}

func TestLookupDomainEmptyAnswers(t *testing.T) {
	answers := map[string]string{
		"registry no match": "No match for domain \"NOPE-SATORI-EXAMPLE.COM\".\r\n>>> Last update of whois database: 2024-06-01T00:00:00Z <<<\r\n",
		"free text":         "This query returned 0 objects.\n",
		"comments only":     "% This is the RIPE Database query service.\n%\n",
	}
	for name, raw := range answers {
		t.Run(name, func(t *testing.T) {
			c := newTestClient(func(string) (string, error) { return raw, nil })
			result, err := c.LookupDomain(context.Background(), "nope-satori-example.com")
			assert.ErrorIs(t, err, ErrDomainNotFound)
			assert.Nil(t, result)
		})
	}
}

func TestLookupDomainHonoursCancellation(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	c := newTestClient(func(string) (string, error) {
		<-release
		return verisignResponse, nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := c.LookupDomain(ctx, "satori-example.com")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLookupDomainRateLimited(t *testing.T) {
	c := NewWhoisClient(logger.NewNop(), time.Second, ratelimit.NewLimiter(ratelimit.Config{MinDelay: time.Hour}))
	c.query = func(string) (string, error) { return verisignResponse, nil }

	_, err := c.LookupDomain(context.Background(), "one-satori-example.com")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = c.LookupDomain(ctx, "two-satori-example.com")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestParseWhoisManual(t *testing.T) {
	raw := `domain:        SATORI-EXAMPLE.RU
nserver:       ns1.example.ru.
nserver:       ns2.example.ru. 192.0.2.1
registrar:     RU-CENTER-RU
paid-till:     2031-05-04T21:00:00Z
`
	c := newTestClient(nil)
	result := c.parseWhoisManual("satori-example.ru", raw)

	assert.Equal(t, "RU-CENTER-RU", result.Registrar)
	assert.Equal(t, []string{"ns1.example.ru", "ns2.example.ru"}, result.NameServers)
	assert.Equal(t, "2031-05-04T21:00:00Z", result.ExpiresDate)
	require.NotNil(t, result.Expires)
	assert.Equal(t, 2031, result.Expires.Year())

	assert.Nil(t, c.parseWhoisManual("satori-example.ru", "% no entries found\n"))
}

func TestParseDate(t *testing.T) {
	assert.Nil(t, parseDate(""))
	assert.Nil(t, parseDate("not a date"))
	assert.NotNil(t, parseDate("2030-01-02"))
	assert.NotNil(t, parseDate("02-Jan-2030"))
}
