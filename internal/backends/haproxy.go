package backends

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"k8s.io/apimachinery/pkg/util/sets"

	"fwdctl/internal/forward"
	"fwdctl/internal/settle"
	"fwdctl/internal/utils"
	"fwdctl/pkg/logging"
)

// HAProxyConfig tunes HAProxyBackend.
type HAProxyConfig struct {
	Binary          string
	ConfigPath      string
	StagedPath      string
	PIDFile         string
	StatsSocket     string
	ReloadCommand   string
	RestartCommand  string
	StopCommand     string
	IsActiveCommand string
	CommandTimeout  time.Duration
	// Settle bounds the wait for the daemon to become active or inactive.
	Settle settle.Options
}

// DefaultHAProxyConfig returns the paths and commands of a stock systemd install.
func DefaultHAProxyConfig() HAProxyConfig {
	return HAProxyConfig{
		Binary:          "haproxy",
		ConfigPath:      "/etc/haproxy/haproxy.cfg",
		StagedPath:      "/etc/haproxy/haproxy.cfg.staged",
		PIDFile:         "/run/haproxy.pid",
		StatsSocket:     "/run/haproxy/admin.sock",
		ReloadCommand:   "systemctl reload haproxy",
		RestartCommand:  "systemctl restart haproxy",
		StopCommand:     "systemctl stop haproxy",
		IsActiveCommand: "systemctl is-active --quiet haproxy",
		Settle:          settle.Options{Timeout: 3 * time.Second, Interval: 100 * time.Millisecond},
	}
}

func (c HAProxyConfig) withDefaults() HAProxyConfig {
	d := DefaultHAProxyConfig()
	if c.Binary == "" {
		c.Binary = d.Binary
	}
	if c.ConfigPath == "" {
		c.ConfigPath = d.ConfigPath
	}
	if c.StagedPath == "" {
		c.StagedPath = c.ConfigPath + ".staged"
	}
	if c.ReloadCommand == "" {
		c.ReloadCommand = d.ReloadCommand
	}
	if c.RestartCommand == "" {
		c.RestartCommand = d.RestartCommand
	}
	if c.StopCommand == "" {
		c.StopCommand = d.StopCommand
	}
	if c.IsActiveCommand == "" {
		c.IsActiveCommand = d.IsActiveCommand
	}
	return c
}

// HAProxyBackend realizes all rules as frontend/backend pairs of one haproxy
// daemon. Rule edits land in a staged artifact; ValidateAndReload promotes
// the staged artifact to the live one only after haproxy accepts it.
type HAProxyBackend struct {
	runner utils.Runner
	stats  SessionCounter
	cfg    HAProxyConfig

	// guards the staged artifact
	mu sync.Mutex
}

var _ DeclarativeBackend = (*HAProxyBackend)(nil)

// NewHAProxyBackend returns an HAProxyBackend. A nil stats counter reads the
// configured stats socket.
func NewHAProxyBackend(runner utils.Runner, stats SessionCounter, cfg HAProxyConfig) *HAProxyBackend {
	cfg = cfg.withDefaults()
	if stats == nil && cfg.StatsSocket != "" {
		stats = StatsSocket{Path: cfg.StatsSocket}
	}
	return &HAProxyBackend{runner: runner, stats: stats, cfg: cfg}
}

func (b *HAProxyBackend) Mode() forward.Mode {
	return forward.ProxyBased
}

func (b *HAProxyBackend) settings() ArtifactSettings {
	return ArtifactSettings{PIDFile: b.cfg.PIDFile, StatsSocket: b.cfg.StatsSocket}
}

// StagedRules returns the rules of the staged artifact, falling back to the
// live artifact when nothing is staged.
func (b *HAProxyBackend) StagedRules() ([]forward.Rule, error) {
	rules, found, err := readArtifactRules(b.cfg.StagedPath)
	if err != nil || found {
		return rules, err
	}
	rules, _, err = readArtifactRules(b.cfg.ConfigPath)
	return rules, err
}

// LiveRules returns the rules of the installed artifact.
func (b *HAProxyBackend) LiveRules() ([]forward.Rule, error) {
	rules, _, err := readArtifactRules(b.cfg.ConfigPath)
	return rules, err
}

func (b *HAProxyBackend) writeStaged(rules []forward.Rule) error {
	return utils.WriteFileAtomic(b.cfg.StagedPath, RenderArtifact(rules, b.settings()), 0o644)
}

// AddRules adds rules to the staged artifact. Each rule is checked on its own;
// a port already present is reported and left as it is.
func (b *HAProxyBackend) AddRules(ctx context.Context, rules []forward.Rule) forward.BatchResult {
	b.mu.Lock()
	defer b.mu.Unlock()

	var batch forward.BatchResult
	staged, err := b.StagedRules()
	if err != nil {
		for _, r := range rules {
			batch.Add(r.LocalPort, forward.Fail(forward.CommandFailed, "%v", err))
		}
		return batch
	}

	byPort := make(map[int]forward.Rule, len(staged))
	for _, r := range staged {
		byPort[r.LocalPort] = r
	}
	changed := false
	for _, r := range rules {
		if err := r.Validate(); err != nil {
			batch.Add(r.LocalPort, forward.Fail(forward.InvalidRule, "invalid rule %s: %v", r, err))
			continue
		}
		if existing, ok := byPort[r.LocalPort]; ok {
			if existing.SameTarget(r) {
				batch.Add(r.LocalPort, forward.Fail(forward.AlreadyForwarded, "port %d is already forwarded", r.LocalPort))
			} else {
				batch.Add(r.LocalPort, forward.Fail(forward.AlreadyForwarded,
					"port %d is already forwarded to %s", r.LocalPort, existing.Target()))
			}
			continue
		}
		byPort[r.LocalPort] = r
		changed = true
		batch.Add(r.LocalPort, forward.OK("staged %s", r))
	}

	if changed {
		if err := b.writeStaged(mapRules(byPort)); err != nil {
			return failStaged(batch, err)
		}
	}
	return batch
}

// RemoveRules removes ports from the staged artifact.
func (b *HAProxyBackend) RemoveRules(ctx context.Context, ports []int) forward.BatchResult {
	b.mu.Lock()
	defer b.mu.Unlock()

	var batch forward.BatchResult
	staged, err := b.StagedRules()
	if err != nil {
		for _, p := range ports {
			batch.Add(p, forward.Fail(forward.CommandFailed, "%v", err))
		}
		return batch
	}

	byPort := make(map[int]forward.Rule, len(staged))
	for _, r := range staged {
		byPort[r.LocalPort] = r
	}
	changed := false
	for _, p := range ports {
		if _, ok := byPort[p]; !ok {
			batch.Add(p, forward.Fail(forward.NotForwarded, "port %d is not forwarded", p))
			continue
		}
		delete(byPort, p)
		changed = true
		batch.Add(p, forward.OK("unstaged port %d", p))
	}

	if changed {
		if err := b.writeStaged(mapRules(byPort)); err != nil {
			return failStaged(batch, err)
		}
	}
	return batch
}

// ValidateAndReload checks the staged artifact with haproxy, installs it over
// the live artifact and reloads the daemon. A rejected artifact leaves the
// live file and the running daemon untouched. When neither reload nor restart
// succeeds the previous live file is put back.
func (b *HAProxyBackend) ValidateAndReload(ctx context.Context) forward.Result {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ok, out := toolInstalled(ctx, b.runner, b.cfg.Binary); !ok {
		if out.TimedOut() {
			return forward.Fail(forward.CommandTimeout, "checking for %s: %s", b.cfg.Binary, out.Stderr)
		}
		return forward.Fail(forward.ToolNotInstalled, "%s is not installed", b.cfg.Binary)
	}

	if _, err := os.Stat(b.cfg.StagedPath); os.IsNotExist(err) {
		live, err := b.LiveRules()
		if err != nil {
			return forward.Fail(forward.CommandFailed, "%v", err)
		}
		if err := b.writeStaged(live); err != nil {
			return forward.Fail(forward.CommandFailed, "%v", err)
		}
	}

	check := fmt.Sprintf("%s -c -f %s", utils.ShellQuote(b.cfg.Binary), utils.ShellQuote(b.cfg.StagedPath))
	out := b.runner.Run(ctx, check, b.cfg.CommandTimeout)
	if out.TimedOut() {
		return forward.Fail(forward.CommandTimeout, "haproxy configuration check: %s", out.Stderr)
	}
	if !out.Succeeded {
		logging.Warn("HAProxy", "staged configuration rejected")
		return forward.Fail(forward.ConfigValidationFailed, "%s", strings.TrimSpace(out.Stderr+out.Stdout))
	}

	data, err := os.ReadFile(b.cfg.StagedPath)
	if err != nil {
		return forward.Fail(forward.CommandFailed, "failed to read staged configuration: %v", err)
	}
	previous, err := os.ReadFile(b.cfg.ConfigPath)
	hadLive := err == nil
	if err != nil && !os.IsNotExist(err) {
		return forward.Fail(forward.CommandFailed, "failed to read live configuration: %v", err)
	}
	if err := utils.WriteFileAtomic(b.cfg.ConfigPath, data, 0o644); err != nil {
		return forward.Fail(forward.CommandFailed, "failed to install configuration: %v", err)
	}
	logging.Info("HAProxy", "installed %s", b.cfg.ConfigPath)

	out = b.runner.Run(ctx, b.cfg.ReloadCommand, b.cfg.CommandTimeout)
	if !out.Succeeded {
		logging.Warn("HAProxy", "reload failed (%s), restarting", out.Combined())
		out = b.runner.Run(ctx, b.cfg.RestartCommand, b.cfg.CommandTimeout)
		if !out.Succeeded {
			// The daemon never loaded the new file.
			b.restoreLive(previous, hadLive)
			return commandResult(out, "failed to reload haproxy")
		}
	}

	if !settle.Until(ctx, b.daemonActive, b.cfg.Settle) {
		return forward.Fail(forward.StartVerificationFailed, "haproxy is not active after reload")
	}
	return forward.OK("haproxy configuration validated and reloaded")
}

// Start stages rule and applies it. When applying fails the staged artifact
// is restored so it keeps matching the live one.
func (b *HAProxyBackend) Start(ctx context.Context, rule forward.Rule) forward.Result {
	if err := rule.Validate(); err != nil {
		return forward.Fail(forward.InvalidRule, "invalid rule %s: %v", rule, err)
	}
	before, err := b.StagedRules()
	if err != nil {
		return forward.Fail(forward.CommandFailed, "%v", err)
	}
	if r := b.AddRules(ctx, []forward.Rule{rule}).Result(); !r.Success {
		return r
	}
	if r := b.ValidateAndReload(ctx); !r.Success {
		b.restoreStaged(before)
		return r
	}
	return forward.OK("forwarding port %d to %s", rule.LocalPort, rule.Target())
}

// Stop removes port and applies the change. A port that is not configured
// succeeds without doing anything.
func (b *HAProxyBackend) Stop(ctx context.Context, port int) forward.Result {
	if port < 1 || port > 65535 {
		return forward.Fail(forward.InvalidRule, "invalid port %d", port)
	}
	before, err := b.StagedRules()
	if err != nil {
		return forward.Fail(forward.CommandFailed, "%v", err)
	}
	if !hasPort(before, port) {
		return forward.OK("port %d is not forwarded, nothing to stop", port)
	}
	if r := b.RemoveRules(ctx, []int{port}).Result(); !r.Success {
		return r
	}
	if r := b.ValidateAndReload(ctx); !r.Success {
		b.restoreStaged(before)
		return r
	}
	return forward.OK("stopped forwarding port %d", port)
}

// StopAll stops the daemon. The artifacts keep their rules so a later
// reload brings them back.
func (b *HAProxyBackend) StopAll(ctx context.Context) forward.Result {
	logging.Info("HAProxy", "stopping haproxy")
	out := b.runner.Run(ctx, b.cfg.StopCommand, b.cfg.CommandTimeout)
	if out.TimedOut() {
		return forward.Fail(forward.CommandTimeout, "stopping haproxy: %s", out.Stderr)
	}
	stopped := settle.Until(ctx, func(ctx context.Context) bool {
		return !b.daemonActive(ctx)
	}, b.cfg.Settle)
	if !stopped {
		msg := "haproxy is still active"
		if !out.Succeeded {
			msg += ": " + out.Combined()
		}
		return forward.Fail(forward.StopVerificationFailed, "%s", msg)
	}
	return forward.OK("stopped haproxy")
}

// List reports the union of staged and live rules. A rule runs when it is in
// the live artifact and the daemon is active.
func (b *HAProxyBackend) List(ctx context.Context) []forward.RuntimeStatus {
	live, err := b.LiveRules()
	if err != nil {
		logging.Warn("HAProxy", "reading live configuration: %v", err)
	}
	staged, err := b.StagedRules()
	if err != nil {
		logging.Warn("HAProxy", "reading staged configuration: %v", err)
	}

	active := b.daemonActive(ctx)
	pid := ""
	var sessions map[int]int
	if active {
		pid = b.readPID()
		if b.stats != nil {
			if sessions, err = b.stats.Sessions(ctx); err != nil {
				logging.Debug("HAProxy", "stats unavailable: %v", err)
			}
		}
	}

	livePorts := sets.New[int]()
	byPort := make(map[int]forward.Rule)
	for _, r := range live {
		livePorts.Insert(r.LocalPort)
		byPort[r.LocalPort] = r
	}
	for _, r := range staged {
		if _, ok := byPort[r.LocalPort]; !ok {
			byPort[r.LocalPort] = r
		}
	}

	out := make([]forward.RuntimeStatus, 0, len(byPort))
	for _, r := range mapRules(byPort) {
		st := forward.RuntimeStatus{Rule: r, Backend: forward.ProxyBased}
		if active && livePorts.Has(r.LocalPort) {
			st.Running = true
			st.PID = pid
			if n, ok := sessions[r.LocalPort]; ok {
				st.ActiveSessions = forward.IntPtr(n)
			}
		}
		out = append(out, st)
	}
	return out
}

func (b *HAProxyBackend) Status(ctx context.Context) forward.Summary {
	return forward.Summarize(forward.ProxyBased, b.List(ctx))
}

func (b *HAProxyBackend) daemonActive(ctx context.Context) bool {
	return b.runner.Run(ctx, b.cfg.IsActiveCommand, b.cfg.CommandTimeout).Succeeded
}

func (b *HAProxyBackend) readPID() string {
	if b.cfg.PIDFile == "" {
		return ""
	}
	data, err := os.ReadFile(b.cfg.PIDFile)
	if err != nil {
		return ""
	}
	first, _, _ := strings.Cut(strings.TrimSpace(string(data)), "\n")
	return strings.TrimSpace(first)
}

func (b *HAProxyBackend) restoreLive(previous []byte, existed bool) {
	var err error
	if existed {
		err = utils.WriteFileAtomic(b.cfg.ConfigPath, previous, 0o644)
	} else if err = os.Remove(b.cfg.ConfigPath); os.IsNotExist(err) {
		err = nil
	}
	if err != nil {
		logging.Error("HAProxy", err, "failed to restore live configuration")
		return
	}
	logging.Info("HAProxy", "restored previous %s", b.cfg.ConfigPath)
}

func (b *HAProxyBackend) restoreStaged(rules []forward.Rule) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.writeStaged(rules); err != nil {
		logging.Error("HAProxy", err, "failed to restore staged configuration")
	}
}

func mapRules(byPort map[int]forward.Rule) []forward.Rule {
	rules := make([]forward.Rule, 0, len(byPort))
	for _, r := range byPort {
		rules = append(rules, r)
	}
	forward.SortRules(rules)
	return rules
}

func hasPort(rules []forward.Rule, port int) bool {
	for _, r := range rules {
		if r.LocalPort == port {
			return true
		}
	}
	return false
}

func failStaged(batch forward.BatchResult, err error) forward.BatchResult {
	var out forward.BatchResult
	for _, it := range batch.Items {
		if it.Result.Success {
			it.Result = forward.Fail(forward.CommandFailed, "failed to write staged configuration: %v", err)
		}
		out.Items = append(out.Items, it)
	}
	return out
}
