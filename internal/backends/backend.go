package backends

import (
	"context"

	"fwdctl/internal/forward"
	"fwdctl/internal/utils"
)

// Backend is one forwarding mechanism. List and Status only observe;
// Start, Stop and StopAll settle before they return.
type Backend interface {
	Mode() forward.Mode
	Start(ctx context.Context, rule forward.Rule) forward.Result
	Stop(ctx context.Context, port int) forward.Result
	StopAll(ctx context.Context) forward.Result
	List(ctx context.Context) []forward.RuntimeStatus
	Status(ctx context.Context) forward.Summary
}

// DeclarativeBackend is a Backend whose rules live in a configuration
// artifact that is edited first and applied as a whole afterwards.
type DeclarativeBackend interface {
	Backend
	AddRules(ctx context.Context, rules []forward.Rule) forward.BatchResult
	RemoveRules(ctx context.Context, ports []int) forward.BatchResult
	ValidateAndReload(ctx context.Context) forward.Result
	StagedRules() ([]forward.Rule, error)
}

// AsDeclarative returns b as a DeclarativeBackend when it is one.
func AsDeclarative(b Backend) (DeclarativeBackend, bool) {
	d, ok := b.(DeclarativeBackend)
	return d, ok
}

// Set holds the backend for every non-disabled mode.
type Set map[forward.Mode]Backend

// For returns the backend of mode, or nil for Disabled and unknown modes.
func (s Set) For(mode forward.Mode) Backend {
	if mode == forward.Disabled {
		return nil
	}
	return s[mode]
}

// commandResult maps a failed launch Outcome to a Result kind.
func commandResult(out utils.Outcome, format string, args ...interface{}) forward.Result {
	if out.TimedOut() {
		return forward.Fail(forward.CommandTimeout, format+": %s", append(args, out.Stderr)...)
	}
	return forward.Fail(forward.CommandFailed, format+": %s", append(args, out.Combined())...)
}

// toolInstalled reports whether binary resolves on PATH (or as a path).
func toolInstalled(ctx context.Context, runner utils.Runner, binary string) (bool, utils.Outcome) {
	out := runner.Run(ctx, "command -v "+utils.ShellQuote(binary), 0)
	return out.Succeeded, out
}
