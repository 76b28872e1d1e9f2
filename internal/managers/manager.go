package managers

import (
	"context"
	"fmt"

	"k8s.io/apimachinery/pkg/util/sets"

	"fwdctl/internal/backends"
	"fwdctl/internal/forward"
	"fwdctl/pkg/logging"
)

// Manager is the facade over the mode controller, the active backend and the
// declared rules of one tunnel. Add and remove act on the selected tunnel;
// apply and reconcile act on the rules of every tunnel.
type Manager struct {
	ctrl       *ModeController
	store      RuleStore
	tunnel     string
	reconciler *forwardReconciler
}

var _ ForwardManagerAPI = (*Manager)(nil)

// NewManager returns a Manager. An empty tunnel selects the only configured
// tunnel when there is exactly one.
func NewManager(ctrl *ModeController, store RuleStore, tunnel string) *Manager {
	m := &Manager{ctrl: ctrl, store: store, tunnel: tunnel}
	m.reconciler = newForwardReconciler(m)
	return m
}

// Tunnel resolves the tunnel that add and remove act on.
func (m *Manager) Tunnel() (string, error) {
	names := m.store.TunnelNames()
	if m.tunnel != "" {
		for _, n := range names {
			if n == m.tunnel {
				return n, nil
			}
		}
		return "", fmt.Errorf("tunnel %q is not configured", m.tunnel)
	}
	switch len(names) {
	case 0:
		return "", fmt.Errorf("no tunnels are configured")
	case 1:
		return names[0], nil
	default:
		return "", fmt.Errorf("%d tunnels are configured, select one with --tunnel", len(names))
	}
}

func (m *Manager) GetMode() forward.Mode {
	return m.ctrl.Mode()
}

// SetMode switches the forward mode. Declared rules are not started.
func (m *Manager) SetMode(ctx context.Context, mode forward.Mode) forward.Result {
	return m.ctrl.SetMode(ctx, mode)
}

// SetModeAndApply switches the mode and then starts the declared rules under
// the new mode without releasing the lock in between.
func (m *Manager) SetModeAndApply(ctx context.Context, mode forward.Mode) forward.Result {
	m.ctrl.mu.Lock()
	defer m.ctrl.mu.Unlock()

	r := m.ctrl.setModeLocked(ctx, mode)
	if !r.Success || mode == forward.Disabled {
		return r
	}
	applied := m.applyLocked(ctx, mode, m.ctrl.backends.For(mode))
	return forward.Result{
		Success: applied.Success,
		Kind:    applied.Kind,
		Message: r.Message + "\n" + applied.Message,
	}
}

// ListForwards returns the runtime status of every forward of the active
// backend. Nothing is listed while forwarding is disabled.
func (m *Manager) ListForwards(ctx context.Context) []forward.RuntimeStatus {
	var out []forward.RuntimeStatus
	m.ctrl.Exec(func(mode forward.Mode, b backends.Backend) {
		if b != nil {
			out = b.List(ctx)
		}
	})
	return out
}

// Status summarizes the active backend.
func (m *Manager) Status(ctx context.Context) forward.Summary {
	s := forward.Summary{Mode: forward.Disabled}
	m.ctrl.Exec(func(mode forward.Mode, b backends.Backend) {
		if b != nil {
			s = b.Status(ctx)
		}
	})
	return s
}

// DeclaredForwards returns the rules declared by every tunnel.
func (m *Manager) DeclaredForwards() ([]forward.Rule, error) {
	rules, err := m.store.DeclaredRules()
	if err != nil {
		return nil, err
	}
	forward.SortRules(rules)
	return rules, nil
}

// AddForwards declares the ports of spec for the selected tunnel and starts
// them under the active backend. Each port is handled on its own.
func (m *Manager) AddForwards(ctx context.Context, spec string) forward.Result {
	mappings, err := forward.ParsePortSpec(spec)
	if err != nil {
		return forward.Fail(forward.InvalidRule, "%v", err)
	}

	var result forward.Result
	m.ctrl.Exec(func(mode forward.Mode, b backends.Backend) {
		if b == nil {
			result = forward.Fail(forward.ModeDisabled, "port forwarding is disabled, select a forward mode first")
			return
		}
		result = m.addLocked(ctx, mappings, b)
	})
	return result
}

func (m *Manager) addLocked(ctx context.Context, mappings []forward.PortMapping, b backends.Backend) forward.Result {
	tunnel, err := m.Tunnel()
	if err != nil {
		return forward.Fail(forward.InvalidRule, "%v", err)
	}
	host, err := m.store.RemoteHost(tunnel)
	if err != nil {
		return forward.Fail(forward.InvalidRule, "%v", err)
	}
	declared, err := m.store.RulesForTunnel(tunnel)
	if err != nil {
		return forward.Fail(forward.StatePersistFailed, "%v", err)
	}
	used, err := m.store.UsedPorts(tunnel)
	if err != nil {
		return forward.Fail(forward.StatePersistFailed, "%v", err)
	}

	running := runningPorts(b.List(ctx))
	byPort := make(map[int]forward.Rule, len(declared))
	for _, r := range declared {
		byPort[r.LocalPort] = r
	}

	var batch forward.BatchResult
	var toStart []forward.Rule
	changed := false
	for _, mp := range mappings {
		rule := forward.Rule{LocalPort: mp.Local, RemoteHost: host, RemotePort: mp.Remote}
		if err := rule.Validate(); err != nil {
			batch.Add(rule.LocalPort, forward.Fail(forward.InvalidRule, "invalid rule %s: %v", rule, err))
			continue
		}
		if used.Has(rule.LocalPort) {
			batch.Add(rule.LocalPort, forward.Fail(forward.AlreadyForwarded, "port %d is declared by another tunnel", rule.LocalPort))
			continue
		}
		if existing, ok := byPort[rule.LocalPort]; ok {
			if !existing.SameTarget(rule) {
				batch.Add(rule.LocalPort, forward.Fail(forward.AlreadyForwarded,
					"port %d is already declared to %s", rule.LocalPort, existing.Target()))
				continue
			}
			if running.Has(rule.LocalPort) {
				batch.Add(rule.LocalPort, forward.Fail(forward.AlreadyForwarded, "port %d is already forwarded", rule.LocalPort))
				continue
			}
		} else {
			byPort[rule.LocalPort] = rule
			changed = true
		}
		toStart = append(toStart, rule)
	}

	if changed {
		if err := m.store.SaveRules(tunnel, mapToRules(byPort)); err != nil {
			for _, r := range toStart {
				batch.Add(r.LocalPort, forward.Fail(forward.StatePersistFailed, "saving declared forwards failed: %v", err))
			}
			return batch.Result()
		}
		logging.Info("Manager", "declared %d forward(s) for tunnel %s", len(toStart), tunnel)
	}

	batch.Merge(m.startRules(ctx, b, toStart))
	return batch.Result()
}

// RemoveForwards undeclares the ports of spec for the selected tunnel and
// stops them under the active backend. While disabled only the declaration
// changes.
func (m *Manager) RemoveForwards(ctx context.Context, spec string) forward.Result {
	ports, err := forward.LocalPorts(spec)
	if err != nil {
		return forward.Fail(forward.InvalidRule, "%v", err)
	}

	var result forward.Result
	m.ctrl.Exec(func(mode forward.Mode, b backends.Backend) {
		result = m.removeLocked(ctx, ports, b)
	})
	return result
}

func (m *Manager) removeLocked(ctx context.Context, ports []int, b backends.Backend) forward.Result {
	tunnel, err := m.Tunnel()
	if err != nil {
		return forward.Fail(forward.InvalidRule, "%v", err)
	}
	declared, err := m.store.RulesForTunnel(tunnel)
	if err != nil {
		return forward.Fail(forward.StatePersistFailed, "%v", err)
	}

	byPort := make(map[int]forward.Rule, len(declared))
	for _, r := range declared {
		byPort[r.LocalPort] = r
	}

	var batch forward.BatchResult
	var toStop []int
	for _, p := range ports {
		if _, ok := byPort[p]; !ok {
			batch.Add(p, forward.Fail(forward.NotForwarded, "port %d is not declared for tunnel %s", p, tunnel))
			continue
		}
		delete(byPort, p)
		toStop = append(toStop, p)
	}
	if len(toStop) == 0 {
		return batch.Result()
	}

	if err := m.store.SaveRules(tunnel, mapToRules(byPort)); err != nil {
		for _, p := range toStop {
			batch.Add(p, forward.Fail(forward.StatePersistFailed, "saving declared forwards failed: %v", err))
		}
		return batch.Result()
	}
	logging.Info("Manager", "undeclared %d forward(s) for tunnel %s", len(toStop), tunnel)

	if b == nil {
		for _, p := range toStop {
			batch.Add(p, forward.OK("removed port %d from the configuration", p))
		}
		return batch.Result()
	}
	batch.Merge(m.stopPorts(ctx, b, toStop))
	return batch.Result()
}

// ValidateAndReload re-applies the active backend's configuration. The proxy
// backend validates and reloads its artifact; the process backend starts any
// declared rule that is not running.
func (m *Manager) ValidateAndReload(ctx context.Context) forward.Result {
	var result forward.Result
	m.ctrl.Exec(func(mode forward.Mode, b backends.Backend) {
		if b == nil {
			result = forward.Fail(forward.ModeDisabled, "port forwarding is disabled, select a forward mode first")
			return
		}
		if d, ok := backends.AsDeclarative(b); ok {
			result = d.ValidateAndReload(ctx)
			return
		}
		result = m.applyLocked(ctx, mode, b)
	})
	return result
}

// StopAllForwards stops every forward of the active backend. Declarations
// are kept.
func (m *Manager) StopAllForwards(ctx context.Context) forward.Result {
	var result forward.Result
	m.ctrl.Exec(func(mode forward.Mode, b backends.Backend) {
		if b == nil {
			result = forward.OK("port forwarding is disabled, nothing to stop")
			return
		}
		result = b.StopAll(ctx)
	})
	return result
}

// ApplyForwards starts every declared rule that is not running.
func (m *Manager) ApplyForwards(ctx context.Context) forward.Result {
	var result forward.Result
	m.ctrl.Exec(func(mode forward.Mode, b backends.Backend) {
		if b == nil {
			result = forward.Fail(forward.ModeDisabled, "port forwarding is disabled, select a forward mode first")
			return
		}
		result = m.applyLocked(ctx, mode, b)
	})
	return result
}

func (m *Manager) applyLocked(ctx context.Context, mode forward.Mode, b backends.Backend) forward.Result {
	declared, err := m.store.DeclaredRules()
	if err != nil {
		return forward.Fail(forward.StatePersistFailed, "%v", err)
	}
	if len(declared) == 0 {
		return forward.OK("no forwards declared")
	}
	forward.SortRules(declared)

	running := runningPorts(b.List(ctx))
	var batch forward.BatchResult
	var toStart []forward.Rule
	for _, r := range declared {
		if running.Has(r.LocalPort) {
			batch.Add(r.LocalPort, forward.OK("port %d is already running", r.LocalPort))
			continue
		}
		toStart = append(toStart, r)
	}
	batch.Merge(m.startRules(ctx, b, toStart))
	logging.Info("Manager", "applied %d declared forward(s) under %s", len(declared), mode)
	return batch.Result()
}

// Reconcile runs one reconcile pass.
func (m *Manager) Reconcile(ctx context.Context, opts ReconcileOptions) (ReconcileReport, forward.Result) {
	return m.reconciler.Reconcile(ctx, opts)
}

// GetReconciler returns the reconciler for periodic monitoring.
func (m *Manager) GetReconciler() ForwardReconciler {
	return m.reconciler
}

// startRules starts rules under b. Declarative backends stage all rules and
// reload once; a rule that is already staged just waits for the reload.
func (m *Manager) startRules(ctx context.Context, b backends.Backend, rules []forward.Rule) forward.BatchResult {
	var batch forward.BatchResult
	if len(rules) == 0 {
		return batch
	}

	d, ok := backends.AsDeclarative(b)
	if !ok {
		for _, r := range rules {
			batch.Add(r.LocalPort, b.Start(ctx, r))
		}
		return batch
	}

	// A staged rule with a stale target is replaced, not kept.
	if current, err := d.StagedRules(); err == nil {
		targets := make(map[int]forward.Rule, len(current))
		for _, c := range current {
			targets[c.LocalPort] = c
		}
		var stale []int
		for _, r := range rules {
			if c, ok := targets[r.LocalPort]; ok && !c.SameTarget(r) {
				stale = append(stale, r.LocalPort)
			}
		}
		if len(stale) > 0 {
			d.RemoveRules(ctx, stale)
		}
	}

	staged := d.AddRules(ctx, rules)
	var pending []forward.Rule
	for i, it := range staged.Items {
		if it.Result.Success || it.Result.Is(forward.AlreadyForwarded) {
			pending = append(pending, rules[i])
			continue
		}
		batch.Add(it.Port, it.Result)
	}
	if len(pending) == 0 {
		return batch
	}

	reload := d.ValidateAndReload(ctx)
	for _, r := range pending {
		if reload.Success {
			batch.Add(r.LocalPort, forward.OK("forwarding port %d to %s", r.LocalPort, r.Target()))
		} else {
			batch.Add(r.LocalPort, reload)
		}
	}
	return batch
}

// stopPorts stops ports under b. Declarative backends unstage all ports and
// reload once.
func (m *Manager) stopPorts(ctx context.Context, b backends.Backend, ports []int) forward.BatchResult {
	var batch forward.BatchResult
	if len(ports) == 0 {
		return batch
	}

	d, ok := backends.AsDeclarative(b)
	if !ok {
		for _, p := range ports {
			batch.Add(p, b.Stop(ctx, p))
		}
		return batch
	}

	unstaged := d.RemoveRules(ctx, ports)
	var pending []int
	for _, it := range unstaged.Items {
		switch {
		case it.Result.Success:
			pending = append(pending, it.Port)
		case it.Result.Is(forward.NotForwarded):
			batch.Add(it.Port, forward.OK("port %d is not forwarded, nothing to stop", it.Port))
		default:
			batch.Add(it.Port, it.Result)
		}
	}
	if len(pending) == 0 {
		return batch
	}

	reload := d.ValidateAndReload(ctx)
	for _, p := range pending {
		if reload.Success {
			batch.Add(p, forward.OK("stopped forwarding port %d", p))
		} else {
			batch.Add(p, reload)
		}
	}
	return batch
}

func runningPorts(statuses []forward.RuntimeStatus) sets.Set[int] {
	s := sets.New[int]()
	for _, st := range statuses {
		if st.Running {
			s.Insert(st.LocalPort)
		}
	}
	return s
}

func mapToRules(byPort map[int]forward.Rule) []forward.Rule {
	rules := make([]forward.Rule, 0, len(byPort))
	for _, r := range byPort {
		rules = append(rules, r)
	}
	forward.SortRules(rules)
	return rules
}
