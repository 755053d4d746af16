// Package nmap adds the open TCP ports of a matched host to its inventory
// with an nmap connect scan.
package nmap

import (
	"context"
	"fmt"
	"net"
	"sort"

	nmap "github.com/Ullaakut/nmap/v3"

	"github.com/CodeMonkeyCybersecurity/satori/internal/config"
	"github.com/CodeMonkeyCybersecurity/satori/internal/core"
	"github.com/CodeMonkeyCybersecurity/satori/internal/logger"
	"github.com/CodeMonkeyCybersecurity/satori/internal/plugins/sysinfo"
	"github.com/CodeMonkeyCybersecurity/satori/pkg/types"
)

const Name = "portscan"

type scanFunc func(ctx context.Context, opts ...nmap.Option) (*nmap.Run, []string, error)

type Plugin struct {
	cfg    config.PortScanConfig
	logger *logger.Logger
	scan   scanFunc
}

func New(cfg config.PortScanConfig, log *logger.Logger) *Plugin {
	if log == nil {
		log = logger.NewNop()
	}
	return &Plugin{
		cfg:    cfg,
		logger: log.WithComponent("portscan"),
		scan:   runScanner,
	}
}

func (p *Plugin) Name() string            { return Name }
func (p *Plugin) Phase() types.Phase      { return types.PhaseDataPlane }
func (p *Plugin) Priority() int           { return 10 }
func (p *Plugin) ResourceTypes() []string { return nil }

// CanHandle needs no credentials, only a host and either an enabled
// scanner or an explicit request for it.
func (p *Plugin) CanHandle(req *core.Request) bool {
	return req.Host != nil && (p.cfg.Enabled || req.Requested(Name))
}

func (p *Plugin) Unmet(req *core.Request) string {
	if req.Host == nil {
		return "no host was matched to scan"
	}
	return "port scanning is disabled"
}

func (p *Plugin) Discover(ctx context.Context, req *core.Request) ([]types.Resource, error) {
	if p.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.Timeout)
		defer cancel()
	}

	opts := []nmap.Option{
		nmap.WithTargets(req.Address),
		nmap.WithConnectScan(),
		nmap.WithSkipHostDiscovery(),
		nmap.WithServiceInfo(),
	}
	if p.cfg.Ports != "" {
		opts = append(opts, nmap.WithPorts(p.cfg.Ports))
	}
	if ip := net.ParseIP(req.Address); ip != nil && ip.To4() == nil {
		opts = append(opts, nmap.WithIPv6Scanning())
	}
	if p.cfg.BinaryPath != "" {
		opts = append(opts, nmap.WithBinaryPath(p.cfg.BinaryPath))
	}

	result, warnings, err := p.scan(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("nmap scan of %s failed: %w", req.Address, err)
	}
	if len(warnings) > 0 {
		p.logger.Debugw("nmap reported warnings", "address", req.Address, "warnings", warnings)
	}

	services := openServices(result, req.Address)
	p.logger.Debugw("Port scan complete", "address", req.Address, "open_ports", len(services))

	return []types.Resource{{
		Key: req.Host.Key,
		Data: map[string]any{
			sysinfo.Key: map[string]any{
				"remote_services": sysinfo.Services(services),
				"port_scan": map[string]any{
					"ports":      p.cfg.Ports,
					"open_count": len(services),
				},
			},
		},
	}}, nil
}

func openServices(result *nmap.Run, address string) []sysinfo.RemoteService {
	if result == nil {
		return nil
	}
	var services []sysinfo.RemoteService
	for _, host := range result.Hosts {
		if host.Status.State != "" && host.Status.State != "up" {
			continue
		}
		for _, port := range host.Ports {
			if port.State.State != "open" {
				continue
			}
			process := port.Service.Product
			if process == "" {
				process = port.Service.Name
			}
			services = append(services, sysinfo.RemoteService{
				IP:      address,
				Port:    int(port.ID),
				Process: process,
			})
		}
	}
	sort.Slice(services, func(i, j int) bool { return services[i].Port < services[j].Port })
	return services
}

func runScanner(ctx context.Context, opts ...nmap.Option) (*nmap.Run, []string, error) {
	scanner, err := nmap.NewScanner(ctx, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create scanner: %w", err)
	}
	result, warnings, err := scanner.Run()
	var warns []string
	if warnings != nil {
		warns = *warnings
	}
	return result, warns, err
}
