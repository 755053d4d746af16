package remote

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalExecute(t *testing.T) {
	out, err := NewLocal().Execute(context.Background(), "echo hello; echo oops >&2; exit 3")
	require.NoError(t, err)
	assert.Equal(t, "hello\n", out.Stdout)
	assert.Equal(t, "oops\n", out.Stderr)
	assert.Equal(t, 3, out.ExitCode)
	assert.True(t, out.Contains("oops"))
}

func TestLocalExecuteCancelled(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := NewLocal().Execute(ctx, "sleep 5")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestIsLocalAddress(t *testing.T) {
	orig := interfaceAddrs
	t.Cleanup(func() { interfaceAddrs = orig })
	interfaceAddrs = func() ([]net.Addr, error) {
		return []net.Addr{
			&net.IPNet{IP: net.ParseIP("10.0.0.5"), Mask: net.CIDRMask(24, 32)},
		}, nil
	}

	assert.True(t, IsLocalAddress("127.0.0.1"))
	assert.True(t, IsLocalAddress("::1"))
	assert.True(t, IsLocalAddress("localhost"))
	assert.True(t, IsLocalAddress("10.0.0.5"))
	assert.False(t, IsLocalAddress("10.0.0.6"))
	assert.False(t, IsLocalAddress("example.com"))

	interfaceAddrs = func() ([]net.Addr, error) { return nil, errors.New("boom") }
	assert.False(t, IsLocalAddress("10.0.0.5"))
}
