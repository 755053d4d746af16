// Package remote runs commands on the host being discovered, either on this
// machine, over SSH or over WinRM.
package remote

import (
	"context"
	"errors"
	"net"
	"strings"
)

// ErrUnsupportedPlatform is returned when no transport can reach a host.
var ErrUnsupportedPlatform = errors.New("unsupported platform")

// Output is the result of one command. A non-zero exit code is not an error.
type Output struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Contains reports whether s appears on either stream.
func (o Output) Contains(s string) bool {
	return strings.Contains(o.Stdout, s) || strings.Contains(o.Stderr, s)
}

type Executor interface {
	Execute(ctx context.Context, command string) (Output, error)
	// Privileged reports whether commands already run as an administrator.
	Privileged() bool
	Close() error
}

var interfaceAddrs = net.InterfaceAddrs

// IsLocalAddress reports whether address is a loopback address or is bound
// to one of this machine's interfaces.
func IsLocalAddress(address string) bool {
	ip := net.ParseIP(address)
	if ip == nil {
		return address == "localhost"
	}
	if ip.IsLoopback() {
		return true
	}
	addrs, err := interfaceAddrs()
	if err != nil {
		return false
	}
	for _, a := range addrs {
		var local net.IP
		switch v := a.(type) {
		case *net.IPNet:
			local = v.IP
		case *net.IPAddr:
			local = v.IP
		}
		if local != nil && local.Equal(ip) {
			return true
		}
	}
	return false
}
