package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/CodeMonkeyCybersecurity/satori/internal/credentials"
)

const defaultConnectTimeout = 30 * time.Second

// SSH runs commands over one SSH connection. Each Execute opens a new
// session.
type SSH struct {
	client   *ssh.Client
	username string
}

// DialSSH connects to host with creds.
func DialSSH(ctx context.Context, host string, creds *credentials.SSH) (*SSH, error) {
	if creds == nil {
		return nil, errors.New("no SSH credentials supplied")
	}
	config, err := buildSSHConfig(creds)
	if err != nil {
		return nil, fmt.Errorf("failed to build SSH config: %w", err)
	}

	port := creds.Port
	if port == 0 {
		port = 22
	}
	addr := net.JoinHostPort(host, strconv.Itoa(port))

	dialer := &net.Dialer{Timeout: config.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", addr, err)
	}

	// The handshake has no context of its own.
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to establish SSH connection: %w", err)
	}
	_ = conn.SetDeadline(time.Time{})

	return &SSH{
		client:   ssh.NewClient(sshConn, chans, reqs),
		username: creds.Username,
	}, nil
}

func buildSSHConfig(creds *credentials.SSH) (*ssh.ClientConfig, error) {
	var auth []ssh.AuthMethod

	var signers []ssh.Signer
	if creds.PrivateKey != "" {
		signer, err := ssh.ParsePrivateKey([]byte(creds.PrivateKey))
		if err != nil {
			return nil, fmt.Errorf("failed to parse private key: %w", err)
		}
		signers = append(signers, signer)
	}
	if creds.PrivateKeyFile != "" {
		pem, err := os.ReadFile(creds.PrivateKeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read private key: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(pem)
		if err != nil {
			return nil, fmt.Errorf("failed to parse private key %s: %w", creds.PrivateKeyFile, err)
		}
		signers = append(signers, signer)
	}
	if len(signers) > 0 {
		auth = append(auth, ssh.PublicKeys(signers...))
	}
	if creds.Password != "" {
		auth = append(auth, ssh.Password(creds.Password))
	}
	if len(auth) == 0 {
		return nil, errors.New("no SSH password or private key available")
	}

	hostKeyCallback, err := hostKeyCallback(creds)
	if err != nil {
		return nil, err
	}

	timeout := creds.ConnectTimeout
	if timeout <= 0 {
		timeout = defaultConnectTimeout
	}

	return &ssh.ClientConfig{
		User:            creds.Username,
		Auth:            auth,
		HostKeyCallback: hostKeyCallback,
		Timeout:         timeout,
	}, nil
}

func hostKeyCallback(creds *credentials.SSH) (ssh.HostKeyCallback, error) {
	if creds.InsecureIgnoreHostKey {
		return ssh.InsecureIgnoreHostKey(), nil
	}
	path := creds.KnownHostsFile
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("locating known_hosts: %w", err)
		}
		path = filepath.Join(home, ".ssh", "known_hosts")
	}
	cb, err := knownhosts.New(path)
	if err != nil {
		return nil, fmt.Errorf("loading known hosts from %s: %w", path, err)
	}
	return cb, nil
}

func (s *SSH) Execute(ctx context.Context, command string) (Output, error) {
	session, err := s.client.NewSession()
	if err != nil {
		return Output{}, fmt.Errorf("failed to create session: %w", err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	done := make(chan error, 1)
	go func() { done <- session.Run(command) }()

	select {
	case err = <-done:
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)
		return Output{}, ctx.Err()
	}

	out := Output{Stdout: stdout.String(), Stderr: stderr.String()}
	var exitErr *ssh.ExitError
	switch {
	case err == nil:
	case errors.As(err, &exitErr):
		out.ExitCode = exitErr.ExitStatus()
	default:
		return out, fmt.Errorf("command failed: %w", err)
	}
	return out, nil
}

func (s *SSH) Privileged() bool { return s.username == "root" }

func (s *SSH) Close() error { return s.client.Close() }
