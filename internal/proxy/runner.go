package proxy

import (
	"bytes"
	"context"
	"os/exec"
)

// Runner executes an external command and returns its combined output.
// It exists so the registrar can be exercised in tests without the real
// tailscale binary installed.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (string, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) (string, error) {
	// ok: name comes from config, args are built internally
	// #nosec G204
	cmd := exec.CommandContext(ctx, name, args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	err := cmd.Run()
	return out.String(), err
}
