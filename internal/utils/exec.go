package utils

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"
	"time"

	"fwdctl/pkg/logging"
)

const (
	// DefaultCommandTimeout bounds every external command unless the caller
	// passes its own timeout.
	DefaultCommandTimeout = 10 * time.Second

	// TimedOutMessage is the Stderr of an Outcome whose command hit its timeout.
	TimedOutMessage = "command timed out"

	// waitDelay bounds how long Wait blocks on pipes still held open by a
	// backgrounded grandchild after the shell itself has exited.
	waitDelay = 500 * time.Millisecond
)

// Outcome is the captured result of one external command.
type Outcome struct {
	Succeeded bool
	Stdout    string
	Stderr    string
	timedOut  bool
}

// TimedOut reports whether the command was killed because it exceeded its timeout.
func (o Outcome) TimedOut() bool {
	return o.timedOut
}

// Combined returns stderr when present, otherwise stdout, trimmed.
func (o Outcome) Combined() string {
	if s := strings.TrimSpace(o.Stderr); s != "" {
		return s
	}
	return strings.TrimSpace(o.Stdout)
}

// Runner executes shell command lines with a bounded timeout. Implementations
// never return an error: every failure is folded into the Outcome.
type Runner interface {
	Run(ctx context.Context, commandLine string, timeout time.Duration) Outcome
}

// ShellRunner runs command lines through /bin/sh -c.
type ShellRunner struct {
	Shell          string
	DefaultTimeout time.Duration
}

// NewShellRunner returns a ShellRunner using /bin/sh and the given default timeout.
func NewShellRunner(defaultTimeout time.Duration) *ShellRunner {
	if defaultTimeout <= 0 {
		defaultTimeout = DefaultCommandTimeout
	}
	return &ShellRunner{Shell: "/bin/sh", DefaultTimeout: defaultTimeout}
}

// Run executes commandLine. A zero timeout uses the runner's default.
func (r *ShellRunner) Run(ctx context.Context, commandLine string, timeout time.Duration) Outcome {
	if timeout <= 0 {
		timeout = r.DefaultTimeout
	}
	if timeout <= 0 {
		timeout = DefaultCommandTimeout
	}
	shell := r.Shell
	if shell == "" {
		shell = "/bin/sh"
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, shell, "-c", commandLine)
	cmd.WaitDelay = waitDelay

	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	logging.Debug("Exec", "running: %s", commandLine)
	runErr := cmd.Run()

	out := Outcome{Stdout: stdoutBuf.String(), Stderr: stderrBuf.String()}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		out.timedOut = true
		out.Stderr = TimedOutMessage
		logging.Warn("Exec", "timed out after %s: %s", timeout, commandLine)
		return out
	}
	if runErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(runErr, &exitErr) && !errors.Is(runErr, exec.ErrWaitDelay) {
			// The shell never ran.
			if out.Stderr == "" {
				out.Stderr = runErr.Error()
			}
			logging.Debug("Exec", "spawn failed: %v", runErr)
			return out
		}
		if exitErr == nil {
			out.Succeeded = true
			return out
		}
		logging.Debug("Exec", "exit %d: %s", exitErr.ExitCode(), strings.TrimSpace(out.Stderr))
		return out
	}
	out.Succeeded = true
	return out
}

// TimedOutOutcome builds the Outcome a Runner reports on timeout. Test fakes use it.
func TimedOutOutcome() Outcome {
	return Outcome{Stderr: TimedOutMessage, timedOut: true}
}
