// Package nova matches an address against the servers of an OpenStack
// compute endpoint.
package nova

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/gophercloud/gophercloud/v2"
	"github.com/gophercloud/gophercloud/v2/openstack"
	"github.com/gophercloud/gophercloud/v2/openstack/compute/v2/servers"

	"github.com/CodeMonkeyCybersecurity/satori/internal/core"
	"github.com/CodeMonkeyCybersecurity/satori/internal/credentials"
	"github.com/CodeMonkeyCybersecurity/satori/internal/httpclient"
	"github.com/CodeMonkeyCybersecurity/satori/internal/logger"
	"github.com/CodeMonkeyCybersecurity/satori/pkg/types"
)

const Name = "nova"

// serverLister is the slice of the compute API the plugin needs.
type serverLister interface {
	ListServers(ctx context.Context) ([]servers.Server, error)
	ServerURL(id string) string
}

type connectFunc func(ctx context.Context, creds *credentials.OpenStack) (serverLister, error)

type Plugin struct {
	logger  *logger.Logger
	connect connectFunc
}

func New(log *logger.Logger) *Plugin {
	if log == nil {
		log = logger.NewNop()
	}
	return &Plugin{
		logger:  log.WithComponent("nova"),
		connect: connectCompute,
	}
}

func (p *Plugin) Name() string            { return Name }
func (p *Plugin) Phase() types.Phase      { return types.PhaseControlPlane }
func (p *Plugin) Priority() int           { return 100 }
func (p *Plugin) ResourceTypes() []string { return []string{types.ResourceTypeNovaServer} }

func (p *Plugin) CanHandle(req *core.Request) bool {
	return req.Credentials.OpenStack != nil
}

func (p *Plugin) Discover(ctx context.Context, req *core.Request) ([]types.Resource, error) {
	client, err := p.connect(ctx, req.Credentials.OpenStack)
	if err != nil {
		return nil, fmt.Errorf("openstack authentication failed: %w", err)
	}

	all, err := client.ListServers(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing nova servers: %w", err)
	}
	p.logger.Debugw("Listed nova servers", "count", len(all), "address", req.Address)

	for _, server := range all {
		if hasAddress(server.Addresses, req.Address) {
			return []types.Resource{toResource(server, client)}, nil
		}
	}
	return nil, core.ErrNoMatch
}

// hasAddress walks the addresses document, which maps a network name to a
// list of {"addr": ..., "version": ...} entries.
func hasAddress(addresses map[string]any, address string) bool {
	for _, network := range addresses {
		entries, ok := network.([]any)
		if !ok {
			continue
		}
		for _, entry := range entries {
			fields, ok := entry.(map[string]any)
			if !ok {
				continue
			}
			if addr, _ := fields["addr"].(string); addr == address {
				return true
			}
		}
	}
	return false
}

func toResource(server servers.Server, client serverLister) types.Resource {
	uri := selfLink(server.Links)
	if uri == "" {
		uri = client.ServerURL(server.ID)
	}

	metadata := make(map[string]any, len(server.Metadata))
	for k, v := range server.Metadata {
		metadata[k] = v
	}

	return types.Resource{
		Key:  uri,
		ID:   server.ID,
		Type: types.ResourceTypeNovaServer,
		Data: map[string]any{
			"uri":       uri,
			"id":        server.ID,
			"name":      server.Name,
			"status":    server.Status,
			"addresses": server.Addresses,
			"ips":       addressList(server.Addresses),
			"key_name":  server.KeyName,
			"metadata":  metadata,
		},
	}
}

func selfLink(links []any) string {
	for _, l := range links {
		link, ok := l.(map[string]any)
		if !ok {
			continue
		}
		if rel, _ := link["rel"].(string); rel == "self" {
			href, _ := link["href"].(string)
			return href
		}
	}
	return ""
}

func addressList(addresses map[string]any) []any {
	seen := map[string]bool{}
	var ips []string
	for _, network := range addresses {
		entries, _ := network.([]any)
		for _, entry := range entries {
			fields, _ := entry.(map[string]any)
			if addr, _ := fields["addr"].(string); addr != "" && !seen[addr] {
				seen[addr] = true
				ips = append(ips, addr)
			}
		}
	}
	sort.Strings(ips)
	out := make([]any, len(ips))
	for i, ip := range ips {
		out[i] = ip
	}
	return out
}

type computeClient struct {
	client *gophercloud.ServiceClient
}

func connectCompute(ctx context.Context, creds *credentials.OpenStack) (serverLister, error) {
	opts := gophercloud.AuthOptions{
		IdentityEndpoint: creds.AuthURL,
		Username:         creds.Username,
		Password:         creds.Password,
		TenantID:         creds.TenantID,
		TenantName:       creds.TenantName,
		DomainName:       creds.DomainName,
	}
	// Keystone v3 needs a domain; "Default" is what devstack and most
	// deployments use.
	if opts.DomainName == "" && strings.Contains(creds.AuthURL, "/v3") {
		opts.DomainName = "Default"
	}

	provider, err := openstack.NewClient(creds.AuthURL)
	if err != nil {
		return nil, err
	}
	provider.HTTPClient = *httpclient.New(httpclient.DefaultConfig())
	if err := openstack.Authenticate(ctx, provider, opts); err != nil {
		return nil, err
	}
	client, err := openstack.NewComputeV2(provider, gophercloud.EndpointOpts{Region: creds.Region})
	if err != nil {
		return nil, err
	}
	return &computeClient{client: client}, nil
}

func (c *computeClient) ListServers(ctx context.Context) ([]servers.Server, error) {
	pages, err := servers.List(c.client, servers.ListOpts{}).AllPages(ctx)
	if err != nil {
		return nil, err
	}
	return servers.ExtractServers(pages)
}

func (c *computeClient) ServerURL(id string) string {
	return c.client.ServiceURL("servers", id)
}
