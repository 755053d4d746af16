package discovery

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/CodeMonkeyCybersecurity/satori/pkg/discovery/whois"
	"github.com/CodeMonkeyCybersecurity/satori/pkg/types"
)

type whoisLookup interface {
	LookupDomain(ctx context.Context, domain string) (*whois.WhoisResult, error)
}

type nameserverLookup interface {
	Nameservers(ctx context.Context, domain string) ([]string, error)
}

// PartialLookupError accompanies a Domain fact built from one source
// because the other failed.
type PartialLookupError struct {
	Source string
	Err    error
}

func (e *PartialLookupError) Error() string {
	return fmt.Sprintf("%s lookup failed, domain facts are partial: %v", e.Source, e.Err)
}

func (e *PartialLookupError) Unwrap() error { return e.Err }

// DomainFacts combines registrar data with live NS records. Either source
// may fail on its own: the lookup then returns the partial fact together
// with a *PartialLookupError, and only fails outright when both do.
type DomainFacts struct {
	whois whoisLookup
	dns   nameserverLookup
	now   func() time.Time
}

func NewDomainFacts(w whoisLookup, ns nameserverLookup) *DomainFacts {
	return &DomainFacts{whois: w, dns: ns, now: time.Now}
}

func (d *DomainFacts) Lookup(ctx context.Context, domain string) (*types.DomainInfo, error) {
	info := &types.DomainInfo{Name: domain, Nameservers: []string{}}

	var whoisErr, nsErr error

	if d.whois != nil {
		result, err := d.whois.LookupDomain(ctx, domain)
		if err != nil {
			whoisErr = err
		} else {
			info.Registrar = result.Registrar
			info.Whois = result.Raw
			info.Nameservers = mergeNameservers(info.Nameservers, result.NameServers)
			if result.Expires != nil {
				expires := result.Expires.UTC()
				info.ExpirationDate = expires.Format(types.TimeFormat)
				days := int(math.Floor(expires.Sub(d.now().UTC()).Hours() / 24))
				info.DaysUntilExpires = &days
			} else if result.ExpiresDate != "" {
				info.ExpirationDate = result.ExpiresDate
			}
		}
	} else {
		whoisErr = errors.New("no whois client configured")
	}

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	if d.dns != nil {
		servers, err := d.dns.Nameservers(ctx, domain)
		if err != nil {
			nsErr = err
		} else {
			info.Nameservers = mergeNameservers(info.Nameservers, servers)
		}
	} else {
		nsErr = errors.New("no nameserver lookup configured")
	}

	if whoisErr != nil && nsErr != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("domain lookup for %s failed: whois: %v; dns: %v", domain, whoisErr, nsErr)
	}
	if whoisErr != nil {
		return info, &PartialLookupError{Source: "whois", Err: whoisErr}
	}
	if nsErr != nil {
		return info, &PartialLookupError{Source: "nameserver", Err: nsErr}
	}

	return info, nil
}

func mergeNameservers(existing, more []string) []string {
	seen := make(map[string]bool, len(existing)+len(more))
	out := make([]string, 0, len(existing)+len(more))
	for _, list := range [][]string{existing, more} {
		for _, ns := range list {
			ns = strings.ToLower(strings.TrimSuffix(ns, "."))
			if ns == "" || seen[ns] {
				continue
			}
			seen[ns] = true
			out = append(out, ns)
		}
	}
	sort.Strings(out)
	return out
}
