package execx

import (
	"bytes"
	"context"
	"io"
	"os"
	"os/exec"
	"strings"

	"go.uber.org/zap"
)

// Runner abstracts command execution so packages can be unit-tested without
// touching real system networking (ip/wg/wg-quick).
type Runner interface {
	Run(ctx context.Context, name string, args ...string) error
	Output(ctx context.Context, name string, args ...string) (string, error)
}

// CommandError carries the diagnostic text a failed command wrote.
type CommandError struct {
	Name   string
	Args   []string
	Output string
	Err    error
}

func (e *CommandError) Error() string {
	if e.Output != "" {
		return e.Output
	}
	return e.Name + ": " + e.Err.Error()
}

func (e *CommandError) Unwrap() error { return e.Err }

// OSRunner executes commands on the host via os/exec.
type OSRunner struct {
	Stdout io.Writer
	Stderr io.Writer
}

func NewOSRunner(stdout, stderr io.Writer) *OSRunner {
	if stdout == nil {
		stdout = os.Stdout
	}
	if stderr == nil {
		stderr = os.Stderr
	}
	return &OSRunner{Stdout: stdout, Stderr: stderr}
}

func (r *OSRunner) Run(ctx context.Context, name string, args ...string) error {
	zap.S().Debugf("exec %s %s", name, strings.Join(args, " "))
	cmd := exec.CommandContext(ctx, name, args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		return &CommandError{Name: name, Args: args, Output: strings.TrimSpace(out.String()), Err: err}
	}
	if out.Len() > 0 && r.Stdout != nil {
		_, _ = io.Copy(r.Stdout, &out)
	}
	return nil
}

// Output returns trimmed stdout. Stderr is only kept for the error.
func (r *OSRunner) Output(ctx context.Context, name string, args ...string) (string, error) {
	zap.S().Debugf("exec %s %s", name, strings.Join(args, " "))
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = strings.TrimSpace(stdout.String())
		}
		return "", &CommandError{Name: name, Args: args, Output: msg, Err: err}
	}
	return strings.TrimSpace(stdout.String()), nil
}
