// Package poshohai gathers Windows host inventory with PoSh-Ohai over WinRM.
package poshohai

import (
	"context"
	"fmt"
	"time"

	"github.com/CodeMonkeyCybersecurity/satori/internal/core"
	"github.com/CodeMonkeyCybersecurity/satori/internal/logger"
	"github.com/CodeMonkeyCybersecurity/satori/internal/plugins/sysinfo"
	"github.com/CodeMonkeyCybersecurity/satori/internal/remote"
	"github.com/CodeMonkeyCybersecurity/satori/pkg/types"
)

const (
	Name    = "posh-ohai"
	command = "Get-ComputerConfiguration"
)

// PowerShell reports an unknown cmdlet with this phrase.
const notRecognized = "is not recognized as the name of a cmdlet"

type Plugin struct {
	logger  *logger.Logger
	timeout time.Duration
	connect func(ctx context.Context, req *core.Request, timeout time.Duration) (remote.Executor, error)
}

func New(log *logger.Logger, timeout time.Duration) *Plugin {
	if log == nil {
		log = logger.NewNop()
	}
	return &Plugin{
		logger:  log.WithComponent("posh-ohai"),
		timeout: timeout,
		connect: func(_ context.Context, req *core.Request, timeout time.Duration) (remote.Executor, error) {
			return remote.NewWinRM(req.Address, req.Credentials.WinRM, timeout)
		},
	}
}

func (p *Plugin) Name() string            { return Name }
func (p *Plugin) Phase() types.Phase      { return types.PhaseDataPlane }
func (p *Plugin) Priority() int           { return 40 }
func (p *Plugin) ResourceTypes() []string { return nil }

func (p *Plugin) CanHandle(req *core.Request) bool {
	return req.Host != nil && req.Credentials.WinRM != nil
}

func (p *Plugin) Unmet(req *core.Request) string {
	if req.Host == nil {
		return "no host was matched to inventory"
	}
	return "no WinRM credentials were supplied"
}

func (p *Plugin) Discover(ctx context.Context, req *core.Request) ([]types.Resource, error) {
	exec, err := p.connect(ctx, req, p.timeout)
	if err != nil {
		return nil, err
	}
	defer exec.Close()

	out, err := exec.Execute(ctx, command)
	if err != nil {
		return nil, err
	}
	if out.Contains(notRecognized) {
		return nil, fmt.Errorf("%w: PoSh-Ohai on %s", sysinfo.ErrCommandMissing, req.Address)
	}

	doc, err := sysinfo.ParseJSON(out.Stdout)
	if err != nil {
		if out.ExitCode != 0 {
			return nil, fmt.Errorf("%s exited with %d: %s", command, out.ExitCode, out.Stderr)
		}
		return nil, err
	}
	p.logger.Debugw("Collected PoSh-Ohai inventory", "address", req.Address, "fields", len(doc))

	return []types.Resource{{
		Key:  req.Host.Key,
		Data: map[string]any{sysinfo.Key: sysinfo.Normalize(Name, doc)},
	}}, nil
}
