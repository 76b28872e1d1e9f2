package backends

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"fwdctl/internal/forward"
	"fwdctl/internal/procscan"
	"fwdctl/internal/settle"
	"fwdctl/internal/utils"
	"fwdctl/pkg/logging"
)

// SocatConfig tunes SocatBackend.
type SocatConfig struct {
	// Binary is the socat executable, resolved through PATH when not absolute.
	Binary string
	// CommandTimeout bounds each external command; zero uses the runner default.
	CommandTimeout time.Duration
	// Settle bounds the verification after launching or killing.
	Settle settle.Options
}

// SocatBackend forwards each port with its own detached socat process.
type SocatBackend struct {
	runner  utils.Runner
	scanner procscan.Scanner
	cfg     SocatConfig
}

var _ Backend = (*SocatBackend)(nil)

// NewSocatBackend returns a SocatBackend observing forwards through scanner.
func NewSocatBackend(runner utils.Runner, scanner procscan.Scanner, cfg SocatConfig) *SocatBackend {
	if cfg.Binary == "" {
		cfg.Binary = procscan.DefaultTool
	}
	return &SocatBackend{runner: runner, scanner: scanner, cfg: cfg}
}

func (b *SocatBackend) Mode() forward.Mode {
	return forward.ProcessBased
}

// Start launches a detached listener for rule and waits for it to appear.
func (b *SocatBackend) Start(ctx context.Context, rule forward.Rule) forward.Result {
	if err := rule.Validate(); err != nil {
		return forward.Fail(forward.InvalidRule, "invalid rule %s: %v", rule, err)
	}
	if ok, out := toolInstalled(ctx, b.runner, b.cfg.Binary); !ok {
		if out.TimedOut() {
			return forward.Fail(forward.CommandTimeout, "checking for %s: %s", b.cfg.Binary, out.Stderr)
		}
		return forward.Fail(forward.ToolNotInstalled, "%s is not installed", b.cfg.Binary)
	}
	forwarded, err := b.scanner.IsForwarded(ctx, rule.LocalPort)
	if err != nil {
		return forward.Fail(forward.CommandFailed, "cannot tell whether port %d is forwarded: %v", rule.LocalPort, err)
	}
	if forwarded {
		return forward.Fail(forward.AlreadyForwarded, "port %d is already forwarded", rule.LocalPort)
	}

	cmd := fmt.Sprintf("nohup %s TCP-LISTEN:%d,fork,reuseaddr TCP:%s >/dev/null 2>&1 &",
		utils.ShellQuote(b.cfg.Binary), rule.LocalPort, rule.Target())
	logging.Info("Socat", "starting forward %s", rule)
	if out := b.runner.Run(ctx, cmd, b.cfg.CommandTimeout); !out.Succeeded {
		return commandResult(out, "failed to launch socat for port %d", rule.LocalPort)
	}

	up := settle.Until(ctx, func(ctx context.Context) bool {
		forwarded, err := b.scanner.IsForwarded(ctx, rule.LocalPort)
		return err == nil && forwarded
	}, b.cfg.Settle)
	if !up {
		logging.Warn("Socat", "forward on port %d did not come up", rule.LocalPort)
		return forward.Fail(forward.StartVerificationFailed,
			"socat for port %d is not running after launch (check that the port is free)", rule.LocalPort)
	}
	return forward.OK("forwarding port %d to %s", rule.LocalPort, rule.Target())
}

// Stop kills the listener of port and its connection children. Stopping a
// port that is not forwarded succeeds without doing anything.
func (b *SocatBackend) Stop(ctx context.Context, port int) forward.Result {
	if port < 1 || port > 65535 {
		return forward.Fail(forward.InvalidRule, "invalid port %d", port)
	}
	forwarded, err := b.scanner.IsForwarded(ctx, port)
	if err == nil && !forwarded {
		return forward.OK("port %d is not forwarded, nothing to stop", port)
	}
	if err != nil {
		logging.Warn("Socat", "cannot tell whether port %d is forwarded, stopping anyway: %v", port, err)
	}

	logging.Info("Socat", "stopping forward on port %d", port)
	out := b.runner.Run(ctx, fmt.Sprintf("pkill -f '%s:%d([^0-9]|$)'", b.pattern(), port), b.cfg.CommandTimeout)
	if out.TimedOut() {
		return forward.Fail(forward.CommandTimeout, "stopping port %d: %s", port, out.Stderr)
	}

	var scanErr error
	gone := settle.Until(ctx, func(ctx context.Context) bool {
		forwarded, err := b.scanner.IsForwarded(ctx, port)
		scanErr = err
		return err == nil && !forwarded
	}, b.cfg.Settle)
	if !gone {
		if scanErr != nil {
			return forward.Fail(forward.StopVerificationFailed,
				"cannot verify that socat for port %d stopped: %v", port, scanErr)
		}
		return forward.Fail(forward.StopVerificationFailed, "socat for port %d is still running", port)
	}
	return forward.OK("stopped forwarding port %d", port)
}

// StopAll kills every socat listener regardless of who declared it.
func (b *SocatBackend) StopAll(ctx context.Context) forward.Result {
	logging.Info("Socat", "stopping all forwards")
	out := b.runner.Run(ctx, fmt.Sprintf("pkill -f '%s'", b.pattern()), b.cfg.CommandTimeout)
	if out.TimedOut() {
		return forward.Fail(forward.CommandTimeout, "stopping all forwards: %s", out.Stderr)
	}

	var remaining int
	var scanErr error
	gone := settle.Until(ctx, func(ctx context.Context) bool {
		statuses, err := b.scanner.List(ctx)
		remaining, scanErr = len(statuses), err
		return err == nil && remaining == 0
	}, b.cfg.Settle)
	if !gone {
		if scanErr != nil {
			return forward.Fail(forward.StopVerificationFailed, "cannot verify that socat forwards stopped: %v", scanErr)
		}
		return forward.Fail(forward.StopVerificationFailed, "%d socat forwards still running", remaining)
	}
	return forward.OK("stopped all socat forwards")
}

// List reports the listeners in the process table. A table that cannot be
// read lists nothing.
func (b *SocatBackend) List(ctx context.Context) []forward.RuntimeStatus {
	statuses, err := b.scanner.List(ctx)
	if err != nil {
		logging.Warn("Socat", "%v", err)
		return nil
	}
	return statuses
}

func (b *SocatBackend) Status(ctx context.Context) forward.Summary {
	return forward.Summarize(forward.ProcessBased, b.List(ctx))
}

// pattern matches every listener the scanner recognizes, without matching
// the shell that runs pkill.
func (b *SocatBackend) pattern() string {
	name := filepath.Base(b.cfg.Binary)
	return "[" + name[:1] + "]" + name[1:] + ".*TCP[46]?-LISTEN"
}
