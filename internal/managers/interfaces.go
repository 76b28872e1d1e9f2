package managers

import (
	"context"
	"time"

	"k8s.io/apimachinery/pkg/util/sets"

	"fwdctl/internal/forward"
)

// RuleStore persists declared forwarding rules per tunnel.
type RuleStore interface {
	// TunnelNames lists the configured tunnels in file order.
	TunnelNames() []string

	// RemoteHost returns the forward target host of a tunnel.
	RemoteHost(tunnel string) (string, error)

	// RulesForTunnel returns the declared rules of one tunnel.
	RulesForTunnel(tunnel string) ([]forward.Rule, error)

	// DeclaredRules returns the declared rules of every tunnel.
	DeclaredRules() ([]forward.Rule, error)

	// SaveRules replaces the declared rules of one tunnel.
	SaveRules(tunnel string, rules []forward.Rule) error

	// UsedPorts returns the local ports declared by every tunnel except exceptTunnel.
	UsedPorts(exceptTunnel string) (sets.Set[int], error)
}

// ModeStore persists the host-wide forward mode.
type ModeStore interface {
	LoadMode() (forward.Mode, error)
	SaveMode(mode forward.Mode) error
}

// ConfigStore is the full persisted configuration used by the manager.
type ConfigStore interface {
	RuleStore
	ModeStore
}

// ForwardManagerAPI is the single entry point used by the CLI and the tool
// server. Every mutating call returns a forward.Result.
type ForwardManagerAPI interface {
	ListForwards(ctx context.Context) []forward.RuntimeStatus
	AddForwards(ctx context.Context, spec string) forward.Result
	RemoveForwards(ctx context.Context, spec string) forward.Result
	ValidateAndReload(ctx context.Context) forward.Result
	StopAllForwards(ctx context.Context) forward.Result
	GetMode() forward.Mode
	SetMode(ctx context.Context, mode forward.Mode) forward.Result

	// ApplyForwards starts every declared rule that is not running.
	ApplyForwards(ctx context.Context) forward.Result

	// Status summarizes the active backend.
	Status(ctx context.Context) forward.Summary

	// DeclaredForwards returns the rules declared for every tunnel.
	DeclaredForwards() ([]forward.Rule, error)

	// Reconcile compares declared and observed forwards, optionally repairing.
	Reconcile(ctx context.Context, opts ReconcileOptions) (ReconcileReport, forward.Result)

	// GetReconciler returns the reconciler for periodic monitoring.
	GetReconciler() ForwardReconciler
}

// ForwardReconciler keeps the running forwards in line with the declared ones.
type ForwardReconciler interface {
	// Reconcile runs one comparison pass.
	Reconcile(ctx context.Context, opts ReconcileOptions) (ReconcileReport, forward.Result)

	// StartMonitoring runs a pass every interval until stopped.
	StartMonitoring(ctx context.Context, opts ReconcileOptions) error

	// StopMonitoring stops the periodic passes and waits for the current one.
	StopMonitoring()

	// SetInterval sets the time between periodic passes.
	SetInterval(interval time.Duration)

	// LastReport returns the report of the most recent pass.
	LastReport() (ReconcileReport, time.Time, bool)
}
