package core

import (
	"context"
	"errors"
	"time"

	"github.com/CodeMonkeyCybersecurity/satori/internal/credentials"
	"github.com/CodeMonkeyCybersecurity/satori/pkg/types"
)

// ErrNoMatch is returned by a plugin that ran successfully but does not
// manage anything at the requested address.
var ErrNoMatch = errors.New("no matching resource")

// Plugin is the contract between the aggregator and a discovery provider.
//
// Control-plane plugins return the resource that owns Request.Address; the
// first returned resource is the host. Data-plane plugins return fragments
// keyed with Request.Host.Key that are merged into the host resource.
type Plugin interface {
	Name() string
	Phase() types.Phase
	// Priority orders plugins within a phase; higher runs first.
	Priority() int
	ResourceTypes() []string
	// CanHandle reports whether the request carries what the plugin needs.
	CanHandle(req *Request) bool
	Discover(ctx context.Context, req *Request) ([]types.Resource, error)
}

// Request is the input handed to every plugin.
type Request struct {
	Target      types.Target
	Address     string
	Credentials credentials.Bundle
	Domain      *types.DomainInfo
	// Host is a copy of the matched host resource. Nil during the
	// control-plane phase.
	Host *types.Resource
	// SystemInfo names the data-plane plugins the caller asked for.
	SystemInfo []string
}

// Requested reports whether the caller named plugin explicitly.
func (r *Request) Requested(plugin string) bool {
	for _, name := range r.SystemInfo {
		if name == plugin {
			return true
		}
	}
	return false
}

// RequirementReporter is implemented by plugins that can say why
// CanHandle refused a request.
type RequirementReporter interface {
	Unmet(req *Request) string
}

type AddressResolver interface {
	Resolve(ctx context.Context, host string) ([]string, error)
}

type DomainLookup interface {
	Lookup(ctx context.Context, domain string) (*types.DomainInfo, error)
}

type Telemetry interface {
	RecordRun(duration time.Duration, outcome string)
	RecordPlugin(plugin string, phase types.Phase, duration time.Duration, outcome string)
	Close() error
}
