package remote

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/masterzen/winrm"

	"github.com/CodeMonkeyCybersecurity/satori/internal/credentials"
)

// winrmRunner is the part of *winrm.Client used here.
type winrmRunner interface {
	RunWithContextWithString(ctx context.Context, command string, stdin string) (string, string, int, error)
}

// WinRM runs commands on a Windows host. Connections are per request, so
// Close does nothing.
type WinRM struct {
	client winrmRunner
}

// NewWinRM builds a client for host. NTLM is used when requested,
// otherwise basic auth.
func NewWinRM(host string, creds *credentials.WinRM, timeout time.Duration) (*WinRM, error) {
	if creds == nil {
		return nil, errors.New("no WinRM credentials supplied")
	}
	port := creds.Port
	if port == 0 {
		port = 5985
		if creds.HTTPS {
			port = 5986
		}
	}

	endpoint := winrm.NewEndpoint(host, port, creds.HTTPS, creds.Insecure, nil, nil, nil, timeout)

	var (
		client *winrm.Client
		err    error
	)
	if creds.NTLM {
		// DefaultParameters is a shared pointer; decorate a copy.
		params := *winrm.DefaultParameters
		params.TransportDecorator = func() winrm.Transporter {
			return &winrm.ClientNTLM{}
		}
		client, err = winrm.NewClientWithParameters(endpoint, creds.Username, creds.Password, &params)
	} else {
		client, err = winrm.NewClient(endpoint, creds.Username, creds.Password)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create WinRM client: %w", err)
	}
	return &WinRM{client: client}, nil
}

// Execute runs a PowerShell script.
func (w *WinRM) Execute(ctx context.Context, script string) (Output, error) {
	stdout, stderr, code, err := w.client.RunWithContextWithString(ctx, winrm.Powershell(script), "")
	if err != nil {
		if ctx.Err() != nil {
			return Output{}, ctx.Err()
		}
		return Output{}, fmt.Errorf("WinRM execution failed: %w", err)
	}
	return Output{Stdout: stdout, Stderr: stderr, ExitCode: code}, nil
}

// Privileged is always true: WinRM requires an administrative account.
func (w *WinRM) Privileged() bool { return true }

func (w *WinRM) Close() error { return nil }
