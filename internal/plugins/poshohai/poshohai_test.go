package poshohai

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CodeMonkeyCybersecurity/satori/internal/core"
	"github.com/CodeMonkeyCybersecurity/satori/internal/credentials"
	"github.com/CodeMonkeyCybersecurity/satori/internal/logger"
	"github.com/CodeMonkeyCybersecurity/satori/internal/plugins/sysinfo"
	"github.com/CodeMonkeyCybersecurity/satori/internal/remote"
	"github.com/CodeMonkeyCybersecurity/satori/pkg/types"
)

type fixedExecutor struct {
	out remote.Output
	ran []string
}

func (f *fixedExecutor) Execute(_ context.Context, command string) (remote.Output, error) {
	f.ran = append(f.ran, command)
	return f.out, nil
}
func (f *fixedExecutor) Privileged() bool { return true }
func (f *fixedExecutor) Close() error     { return nil }

func newPlugin(out remote.Output) (*Plugin, *fixedExecutor) {
	exec := &fixedExecutor{out: out}
	p := New(logger.NewNop(), time.Second)
	p.connect = func(context.Context, *core.Request, time.Duration) (remote.Executor, error) { return exec, nil }
	return p, exec
}

func request() *core.Request {
	return &core.Request{
		Address:     "192.0.2.20",
		Credentials: credentials.Bundle{WinRM: &credentials.WinRM{Username: "Administrator", Password: "pw"}},
		Host:        &types.Resource{Key: "arn:aws:ec2:us-east-1:1:instance/i-1"},
	}
}

func TestDiscover(t *testing.T) {
	p, exec := newPlugin(remote.Output{
		Stdout: "Loading module...\r\n{\"hostname\": \"WIN-01\", \"platform\": \"windows\"}\r\n",
	})

	resources, err := p.Discover(context.Background(), request())
	require.NoError(t, err)
	require.Len(t, resources, 1)

	assert.Equal(t, "arn:aws:ec2:us-east-1:1:instance/i-1", resources[0].Key)
	info := resources[0].Data[sysinfo.Key].(map[string]any)
	assert.Equal(t, "posh-ohai", info["provider"])
	assert.Equal(t, "WIN-01", info["hostname"])
	assert.Equal(t, []string{"Get-ComputerConfiguration"}, exec.ran)
}

func TestDiscoverCommandMissing(t *testing.T) {
	p, _ := newPlugin(remote.Output{
		Stderr:   "Get-ComputerConfiguration : The term 'Get-ComputerConfiguration' is not recognized as the name of a cmdlet",
		ExitCode: 1,
	})
	_, err := p.Discover(context.Background(), request())
	assert.ErrorIs(t, err, sysinfo.ErrCommandMissing)
}

func TestDiscoverNoJSON(t *testing.T) {
	p, _ := newPlugin(remote.Output{Stdout: "nothing useful"})
	_, err := p.Discover(context.Background(), request())
	assert.ErrorIs(t, err, sysinfo.ErrNotJSON)

	p, _ = newPlugin(remote.Output{Stderr: "Access is denied", ExitCode: 5})
	_, err = p.Discover(context.Background(), request())
	assert.ErrorContains(t, err, "Access is denied")
}

func TestCanHandle(t *testing.T) {
	p := New(nil, 0)
	assert.True(t, p.CanHandle(request()))

	req := request()
	req.Host = nil
	assert.False(t, p.CanHandle(req))

	req = request()
	req.Credentials.WinRM = nil
	assert.False(t, p.CanHandle(req))
	assert.Equal(t, "no WinRM credentials were supplied", p.Unmet(req))
}
