package mbdump

import (
	"context"
	"io"
	"os/exec"
)

// Runner executes external commands. The import path shells out to
// psql, createdb and docker; tests substitute a fake.
type Runner interface {
	Run(ctx context.Context, stdin io.Reader, env []string, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands on the host.
type ExecRunner struct{}

// Run executes the command and returns its combined output.
func (ExecRunner) Run(ctx context.Context, stdin io.Reader, env []string, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	if env != nil {
		cmd.Env = env
	}
	if stdin != nil {
		cmd.Stdin = stdin
	}
	return cmd.CombinedOutput()
}
