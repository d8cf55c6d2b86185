// Package execute runs external tools as argv vectors. Commands are never
// routed through a shell, so an argument can carry arbitrary bytes without
// becoming shell syntax.
package execute

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"
)

// DefaultGracePeriod is how long a timed-out process gets between SIGTERM
// and SIGKILL.
const DefaultGracePeriod = 10 * time.Second

// Command describes one external invocation.
type Command struct {
	Name string
	Args []string

	// Env entries are appended to the parent environment.
	Env []string

	// Stdin, when set, is fed to the process.
	Stdin io.Reader

	// Stdout, when set, receives the process output directly instead of
	// being captured in the Result. Useful for streaming a dump to disk.
	Stdout io.Writer

	// Timeout bounds the whole invocation. Zero means no timeout.
	Timeout time.Duration

	// GracePeriod is the SIGTERM-to-SIGKILL escalation delay applied when
	// the timeout fires. Zero selects DefaultGracePeriod.
	GracePeriod time.Duration
}

// Result holds the outcome of a completed invocation.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}

// Run executes cmd and waits for it to finish. A non-zero exit status is
// returned as an error carrying the captured stderr. On timeout the process
// receives SIGTERM, then SIGKILL after the grace period.
func Run(ctx context.Context, cmd Command) (*Result, error) {
	if cmd.Name == "" {
		return nil, fmt.Errorf("no command name given")
	}

	runCtx := ctx
	if cmd.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, cmd.Timeout)
		defer cancel()
	}

	grace := cmd.GracePeriod
	if grace <= 0 {
		grace = DefaultGracePeriod
	}

	c := exec.CommandContext(runCtx, cmd.Name, cmd.Args...)
	c.Cancel = func() error {
		return c.Process.Signal(syscall.SIGTERM)
	}
	c.WaitDelay = grace

	if len(cmd.Env) > 0 {
		c.Env = append(os.Environ(), cmd.Env...)
	}
	if cmd.Stdin != nil {
		c.Stdin = cmd.Stdin
	}

	var stdout, stderr bytes.Buffer
	if cmd.Stdout != nil {
		c.Stdout = cmd.Stdout
	} else {
		c.Stdout = &stdout
	}
	c.Stderr = &stderr

	start := time.Now()
	err := c.Run()
	result := &Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}
	if c.ProcessState != nil {
		result.ExitCode = c.ProcessState.ExitCode()
	}

	if err != nil {
		if runCtx.Err() == context.DeadlineExceeded {
			return result, fmt.Errorf("%s timed out after %s", cmd.Name, cmd.Timeout)
		}
		msg := strings.TrimSpace(result.Stderr)
		if msg != "" {
			return result, fmt.Errorf("%s failed: %w (stderr: %s)", cmd.Name, err, msg)
		}
		return result, fmt.Errorf("%s failed: %w", cmd.Name, err)
	}
	return result, nil
}
