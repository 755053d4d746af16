package remote

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
)

// Local runs commands on this machine through bash.
type Local struct {
	shell string
}

func NewLocal() *Local {
	return &Local{shell: "bash"}
}

func (l *Local) Execute(ctx context.Context, command string) (Output, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, l.shell, "-c", command)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	out := Output{Stdout: stdout.String(), Stderr: stderr.String()}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
	case ctx.Err() != nil:
		return out, ctx.Err()
	case errors.As(err, &exitErr):
		out.ExitCode = exitErr.ExitCode()
	default:
		return out, err
	}
	return out, nil
}

func (l *Local) Privileged() bool { return os.Geteuid() == 0 }

func (l *Local) Close() error { return nil }
