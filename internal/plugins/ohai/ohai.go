// Package ohai gathers host inventory with ohai-solo over SSH, or directly
// when the target address belongs to this machine.
package ohai

import (
	"context"
	"fmt"
	"strings"

	"github.com/CodeMonkeyCybersecurity/satori/internal/core"
	"github.com/CodeMonkeyCybersecurity/satori/internal/credentials"
	"github.com/CodeMonkeyCybersecurity/satori/internal/logger"
	"github.com/CodeMonkeyCybersecurity/satori/internal/plugins/sysinfo"
	"github.com/CodeMonkeyCybersecurity/satori/internal/remote"
	"github.com/CodeMonkeyCybersecurity/satori/pkg/types"
)

const (
	Name         = "ohai-solo"
	command      = "ohai-solo"
	manifestPath = "/opt/ohai-solo/version-manifest.txt"
)

var missingMarkers = []string{"command not found", "Could not find ohai"}

type Plugin struct {
	logger  *logger.Logger
	isLocal func(address string) bool
	connect func(ctx context.Context, req *core.Request, local bool) (remote.Executor, error)
}

func New(log *logger.Logger) *Plugin {
	if log == nil {
		log = logger.NewNop()
	}
	return &Plugin{
		logger:  log.WithComponent("ohai-solo"),
		isLocal: remote.IsLocalAddress,
		connect: connect,
	}
}

func (p *Plugin) Name() string            { return Name }
func (p *Plugin) Phase() types.Phase      { return types.PhaseDataPlane }
func (p *Plugin) Priority() int           { return 50 }
func (p *Plugin) ResourceTypes() []string { return nil }

func (p *Plugin) CanHandle(req *core.Request) bool {
	if req.Host == nil {
		return false
	}
	return req.Credentials.SSH != nil || p.isLocal(req.Address)
}

func (p *Plugin) Unmet(req *core.Request) string {
	if req.Host == nil {
		return "no host was matched to inventory"
	}
	return "no SSH credentials were supplied and the host is not this machine"
}

func (p *Plugin) Discover(ctx context.Context, req *core.Request) ([]types.Resource, error) {
	local := p.isLocal(req.Address)
	exec, err := p.connect(ctx, req, local)
	if err != nil {
		return nil, err
	}
	defer exec.Close()

	uname, err := exec.Execute(ctx, "uname -s")
	if err != nil {
		return nil, err
	}
	if uname.ExitCode != 0 {
		return nil, fmt.Errorf("%w: ohai-solo needs a Unix host", sysinfo.ErrUnsupportedPlatform)
	}

	sudo := ""
	if !exec.Privileged() {
		sudo = "sudo -i "
	}

	out, err := exec.Execute(ctx, sudo+command)
	if err != nil {
		return nil, err
	}
	for _, marker := range missingMarkers {
		if out.Contains(marker) {
			p.logger.Warnw("ohai-solo is not installed", "address", req.Address)
			return nil, fmt.Errorf("%w: ohai-solo on %s", sysinfo.ErrCommandMissing, req.Address)
		}
	}

	doc, err := sysinfo.ParseJSON(out.Stdout)
	if err != nil {
		p.logger.Debugw("ohai-solo output was not JSON",
			"stdout", truncate(out.Stdout, 5000),
			"stderr", truncate(out.Stderr, 5000),
		)
		return nil, err
	}

	info := sysinfo.Normalize(Name, doc)
	if version := p.version(ctx, exec, sudo); version != "" {
		info["version"] = version
	}

	return []types.Resource{{
		Key:  req.Host.Key,
		Data: map[string]any{sysinfo.Key: info},
	}}, nil
}

// version reads the installed package version from its manifest. Failure
// is not fatal.
func (p *Plugin) version(ctx context.Context, exec remote.Executor, sudo string) string {
	out, err := exec.Execute(ctx, sudo+"cat "+manifestPath)
	if err != nil || out.ExitCode != 0 {
		return ""
	}
	return parseManifestVersion(out.Stdout)
}

func parseManifestVersion(manifest string) string {
	for _, line := range strings.Split(manifest, "\n") {
		if !strings.Contains(line, "ohai-solo") {
			continue
		}
		for _, field := range strings.Fields(line) {
			if len(strings.Split(field, ".")) == 3 {
				return field
			}
		}
	}
	return ""
}

func connect(ctx context.Context, req *core.Request, local bool) (remote.Executor, error) {
	if local {
		return remote.NewLocal(), nil
	}
	creds := req.Credentials.SSH
	if creds == nil {
		return nil, fmt.Errorf("no SSH credentials for %s", req.Address)
	}
	return remote.DialSSH(ctx, req.Address, inheritKey(creds, req.Host))
}

// inheritKey picks the instance's launch key out of the key directory when
// no explicit key or password was given.
func inheritKey(creds *credentials.SSH, host *types.Resource) *credentials.SSH {
	if host == nil {
		return creds
	}
	keyName, _ := host.Data["key_name"].(string)
	return creds.WithInheritedKey(keyName)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "...TRUNCATED"
}
