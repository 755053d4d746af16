package nmap

import (
	"context"
	"errors"
	"testing"
	"time"

	nmap "github.com/Ullaakut/nmap/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CodeMonkeyCybersecurity/satori/internal/config"
	"github.com/CodeMonkeyCybersecurity/satori/internal/core"
	"github.com/CodeMonkeyCybersecurity/satori/internal/logger"
	"github.com/CodeMonkeyCybersecurity/satori/internal/plugins/sysinfo"
	"github.com/CodeMonkeyCybersecurity/satori/pkg/types"
)

func scanResult() *nmap.Run {
	return &nmap.Run{
		Hosts: []nmap.Host{{
			Status:    nmap.Status{State: "up"},
			Addresses: []nmap.Address{{Addr: "192.0.2.10", AddrType: "ipv4"}},
			Ports: []nmap.Port{
				{ID: 443, Protocol: "tcp", State: nmap.State{State: "open"}, Service: nmap.Service{Name: "https", Product: "nginx"}},
				{ID: 22, Protocol: "tcp", State: nmap.State{State: "open"}, Service: nmap.Service{Name: "ssh"}},
				{ID: 25, Protocol: "tcp", State: nmap.State{State: "filtered"}},
			},
		}},
	}
}

func request() *core.Request {
	return &core.Request{
		Address: "192.0.2.10",
		Host:    &types.Resource{Key: "https://nova.example.com/v2.1/servers/1000B"},
	}
}

func TestDiscoverReportsOpenPorts(t *testing.T) {
	p := New(config.PortScanConfig{Enabled: true, Ports: "1-1024", Timeout: time.Minute}, logger.NewNop())
	var optCount int
	p.scan = func(_ context.Context, opts ...nmap.Option) (*nmap.Run, []string, error) {
		optCount = len(opts)
		return scanResult(), []string{"RTTVAR has grown"}, nil
	}

	resources, err := p.Discover(context.Background(), request())
	require.NoError(t, err)
	require.Len(t, resources, 1)
	assert.Equal(t, 5, optCount)

	res := resources[0]
	assert.Equal(t, "https://nova.example.com/v2.1/servers/1000B", res.Key)
	info := res.Data[sysinfo.Key].(map[string]any)
	assert.Equal(t, []any{
		map[string]any{"ip": "192.0.2.10", "port": 22, "process": "ssh"},
		map[string]any{"ip": "192.0.2.10", "port": 443, "process": "nginx"},
	}, info["remote_services"])
	assert.Equal(t, 2, info["port_scan"].(map[string]any)["open_count"])
}

func TestDiscoverScanError(t *testing.T) {
	p := New(config.PortScanConfig{Enabled: true}, nil)
	p.scan = func(context.Context, ...nmap.Option) (*nmap.Run, []string, error) {
		return nil, nil, errors.New("nmap binary was not found")
	}

	_, err := p.Discover(context.Background(), request())
	assert.ErrorContains(t, err, "nmap binary was not found")
}

func TestCanHandle(t *testing.T) {
	assert.False(t, New(config.PortScanConfig{}, nil).CanHandle(request()), "disabled by default")

	p := New(config.PortScanConfig{Enabled: true}, nil)
	assert.True(t, p.CanHandle(request()))
	assert.False(t, p.CanHandle(&core.Request{Address: "192.0.2.10"}))
}

func TestCanHandleWhenRequestedByName(t *testing.T) {
	p := New(config.DefaultConfig().PortScan, nil)
	req := request()
	assert.False(t, p.CanHandle(req))
	assert.Equal(t, "port scanning is disabled", p.Unmet(req))

	req.SystemInfo = []string{"ohai-solo", Name}
	assert.True(t, p.CanHandle(req))

	req.Host = nil
	assert.False(t, p.CanHandle(req))
	assert.Equal(t, "no host was matched to scan", p.Unmet(req))
}

func TestDiscoverIPv6Address(t *testing.T) {
	p := New(config.PortScanConfig{Enabled: true}, nil)
	var v4Opts, v6Opts int
	p.scan = func(_ context.Context, opts ...nmap.Option) (*nmap.Run, []string, error) {
		if v4Opts == 0 {
			v4Opts = len(opts)
		} else {
			v6Opts = len(opts)
		}
		return scanResult(), nil, nil
	}

	_, err := p.Discover(context.Background(), request())
	require.NoError(t, err)

	req := request()
	req.Address = "2001:db8::10"
	_, err = p.Discover(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, v4Opts+1, v6Opts, "IPv6 targets add the IPv6 scanning option")
}

func TestOpenServicesSkipsDownHosts(t *testing.T) {
	run := scanResult()
	run.Hosts[0].Status.State = "down"
	assert.Empty(t, openServices(run, "192.0.2.10"))
	assert.Empty(t, openServices(nil, "192.0.2.10"))
}
