package managers

import "fwdctl/internal/forward"

// ReconcileOptions selects the repairs of a reconcile pass.
type ReconcileOptions struct {
	// Apply starts missing rules and restarts drifted ones.
	Apply bool
	// Prune stops running forwards that no tunnel declares.
	Prune bool
}

// Drift is a running forward whose target differs from its declaration.
type Drift struct {
	Declared forward.Rule          `yaml:"declared" json:"declared"`
	Observed forward.RuntimeStatus `yaml:"observed" json:"observed"`
}

// ReconcileReport is the declared-versus-observed comparison of one pass.
type ReconcileReport struct {
	Mode     forward.Mode            `yaml:"mode" json:"mode"`
	InSync   []int                   `yaml:"inSync" json:"inSync"`
	Missing  []forward.Rule          `yaml:"missing" json:"missing"`
	Orphaned []forward.RuntimeStatus `yaml:"orphaned" json:"orphaned"`
	Drifted  []Drift                 `yaml:"drifted" json:"drifted"`
	Repairs  forward.BatchResult     `yaml:"repairs,omitempty" json:"repairs,omitempty"`
}

// Clean reports whether the declared and observed forwards agree.
func (r ReconcileReport) Clean() bool {
	return len(r.Missing) == 0 && len(r.Orphaned) == 0 && len(r.Drifted) == 0
}
