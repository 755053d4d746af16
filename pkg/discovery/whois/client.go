package whois

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/CodeMonkeyCybersecurity/satori/internal/logger"
	"github.com/CodeMonkeyCybersecurity/satori/internal/ratelimit"
	"github.com/likexian/whois"
	whoisparser "github.com/likexian/whois-parser"
)

// ErrDomainNotFound means the registry has no record of the domain.
var ErrDomainNotFound = errors.New("domain is not registered")

// errEmptyRecord means whois-parser accepted the answer but found no
// domain in it; the line parser gets a second look.
var errEmptyRecord = errors.New("no domain record in response")

const cacheTTL = time.Hour

// WhoisClient performs rate limited WHOIS lookups
type WhoisClient struct {
	logger  *logger.Logger
	timeout time.Duration
	limiter *ratelimit.Limiter
	query   func(domain string) (string, error)

	mu    sync.Mutex
	cache map[string]cacheEntry
}

type cacheEntry struct {
	result  *WhoisResult
	fetched time.Time
}

// NewWhoisClient creates a WHOIS client. limiter may be nil.
func NewWhoisClient(log *logger.Logger, timeout time.Duration, limiter *ratelimit.Limiter) *WhoisClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	client := whois.NewClient().SetTimeout(timeout)
	return &WhoisClient{
		logger:  log.WithComponent("whois"),
		timeout: timeout,
		limiter: limiter,
		query: func(domain string) (string, error) {
			return client.Whois(domain)
		},
		cache: make(map[string]cacheEntry),
	}
}

// WhoisResult contains parsed WHOIS data
type WhoisResult struct {
	Domain      string
	Registrar   string
	NameServers []string
	ExpiresDate string
	Expires     *time.Time
	Raw         string
}

// LookupDomain performs a WHOIS lookup for a registered domain.
func (w *WhoisClient) LookupDomain(ctx context.Context, domain string) (*WhoisResult, error) {
	domain = strings.ToLower(strings.TrimSuffix(domain, "."))

	w.mu.Lock()
	if cached, exists := w.cache[domain]; exists && time.Since(cached.fetched) < cacheTTL {
		w.mu.Unlock()
		return cached.result, nil
	}
	w.mu.Unlock()

	if w.limiter != nil {
		if err := w.limiter.WaitForKey(ctx, tld(domain)); err != nil {
			return nil, err
		}
	}

	raw, err := w.queryContext(ctx, domain)
	if err != nil {
		return nil, fmt.Errorf("whois lookup failed: %w", err)
	}

	result, err := w.parseWhois(domain, raw)
	if err != nil {
		if errors.Is(err, ErrDomainNotFound) {
			return nil, err
		}
		w.logger.Debugw("Structured WHOIS parse failed, using line parser", "domain", domain, "error", err)
		result = w.parseWhoisManual(domain, raw)
		if result == nil {
			return nil, fmt.Errorf("%s: %w", domain, ErrDomainNotFound)
		}
	}

	w.mu.Lock()
	w.cache[domain] = cacheEntry{result: result, fetched: time.Now()}
	w.mu.Unlock()

	w.logger.Debugw("WHOIS lookup completed",
		"domain", domain,
		"registrar", result.Registrar,
		"nameservers", len(result.NameServers))

	return result, nil
}

// queryContext runs the blocking whois query and stops waiting when ctx is
// done. The query itself is bounded by the client timeout.
func (w *WhoisClient) queryContext(ctx context.Context, domain string) (string, error) {
	type answer struct {
		raw string
		err error
	}
	ch := make(chan answer, 1)
	go func() {
		raw, err := w.query(domain)
		ch <- answer{raw, err}
	}()

	select {
	case a := <-ch:
		return a.raw, a.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (w *WhoisClient) parseWhois(domain, raw string) (*WhoisResult, error) {
	parsed, err := whoisparser.Parse(raw)
	if err != nil {
		if errors.Is(err, whoisparser.ErrNotFoundDomain) {
			return nil, fmt.Errorf("%s: %w", domain, ErrDomainNotFound)
		}
		return nil, err
	}
	if parsed.Domain == nil || parsed.Domain.Domain == "" {
		return nil, errEmptyRecord
	}

	result := &WhoisResult{Domain: domain, Raw: raw}
	if parsed.Registrar != nil {
		result.Registrar = parsed.Registrar.Name
	}
	result.NameServers = normalizeNameServers(parsed.Domain.NameServers)
	result.ExpiresDate = parsed.Domain.ExpirationDate
	result.Expires = parsed.Domain.ExpirationDateInTime
	if result.Expires == nil {
		result.Expires = parseDate(parsed.Domain.ExpirationDate)
	}

	return result, nil
}

// parseWhoisManual extracts the fields we need line by line when the
// registry format is unknown to whois-parser. It returns nil when the
// answer holds none of them.
func (w *WhoisClient) parseWhoisManual(domain, raw string) *WhoisResult {
	result := &WhoisResult{Domain: domain, Raw: raw}

	var servers []string
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		key = strings.ToLower(strings.TrimSpace(key))
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}

		switch {
		case key == "registrar" || key == "registrar name" || key == "sponsoring registrar":
			if result.Registrar == "" {
				result.Registrar = value
			}
		case key == "name server" || key == "nserver" || key == "nameserver" || key == "name servers":
			servers = append(servers, strings.Fields(value)[0])
		case strings.Contains(key, "expir") || key == "paid-till" || key == "renewal date":
			if result.ExpiresDate == "" {
				result.ExpiresDate = value
			}
		}
	}

	result.NameServers = normalizeNameServers(servers)
	if result.Registrar == "" && len(result.NameServers) == 0 && result.ExpiresDate == "" {
		return nil
	}
	result.Expires = parseDate(result.ExpiresDate)
	return result
}

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05Z",
	"2006-01-02T15:04:05.0Z",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05 MST",
	"2006-01-02",
	"2006.01.02",
	"02-Jan-2006",
	"2006/01/02",
	"January 2 2006",
}

func parseDate(value string) *time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			utc := t.UTC()
			return &utc
		}
	}
	return nil
}

func normalizeNameServers(servers []string) []string {
	seen := make(map[string]bool, len(servers))
	out := make([]string, 0, len(servers))
	for _, s := range servers {
		s = strings.ToLower(strings.TrimSuffix(strings.TrimSpace(s), "."))
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

func tld(domain string) string {
	if i := strings.LastIndex(domain, "."); i >= 0 {
		return domain[i+1:]
	}
	return domain
}
