package forward

import (
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"

	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	"k8s.io/apimachinery/pkg/util/validation"
)

// Rule is one forwarding intent: LocalPort on this host relays to
// RemoteHost:RemotePort.
type Rule struct {
	LocalPort  int    `yaml:"localPort" json:"localPort"`
	RemoteHost string `yaml:"remoteHost" json:"remoteHost"`
	RemotePort int    `yaml:"remotePort" json:"remotePort"`
}

// Validate rejects rules that must never reach an external command.
func (r Rule) Validate() error {
	var errs []error
	for _, msg := range validation.IsValidPortNum(r.LocalPort) {
		errs = append(errs, fmt.Errorf("local port %d: %s", r.LocalPort, msg))
	}
	for _, msg := range validation.IsValidPortNum(r.RemotePort) {
		errs = append(errs, fmt.Errorf("remote port %d: %s", r.RemotePort, msg))
	}
	if err := ValidateHost(r.RemoteHost); err != nil {
		errs = append(errs, err)
	}
	return utilerrors.NewAggregate(errs)
}

// ValidateHost accepts IP literals and RFC 1123 host names.
func ValidateHost(host string) error {
	if host == "" {
		return fmt.Errorf("remote host must not be empty")
	}
	if net.ParseIP(strings.Trim(host, "[]")) != nil {
		return nil
	}
	if msgs := validation.IsDNS1123Subdomain(strings.ToLower(host)); len(msgs) > 0 {
		return fmt.Errorf("remote host %q: %s", host, strings.Join(msgs, "; "))
	}
	return nil
}

// Target renders the remote endpoint as host:port, bracketing IPv6 literals.
func (r Rule) Target() string {
	return net.JoinHostPort(strings.Trim(r.RemoteHost, "[]"), strconv.Itoa(r.RemotePort))
}

func (r Rule) String() string {
	return fmt.Sprintf("%d -> %s", r.LocalPort, r.Target())
}

// SameTarget reports whether both rules relay to the same endpoint.
func (r Rule) SameTarget(o Rule) bool {
	return r.RemotePort == o.RemotePort &&
		strings.EqualFold(strings.Trim(r.RemoteHost, "[]"), strings.Trim(o.RemoteHost, "[]"))
}

// SortRules orders rules by local port.
func SortRules(rules []Rule) {
	sort.Slice(rules, func(i, j int) bool { return rules[i].LocalPort < rules[j].LocalPort })
}

// RuntimeStatus is what a backend observed for one rule. It is derived from
// live system state on every query.
type RuntimeStatus struct {
	Rule           `yaml:",inline"`
	Backend        Mode   `yaml:"backend" json:"backend"`
	Running        bool   `yaml:"running" json:"running"`
	PID            string `yaml:"pid,omitempty" json:"pid,omitempty"`
	ActiveSessions *int   `yaml:"activeSessions,omitempty" json:"activeSessions,omitempty"`
}

// Summary aggregates the runtime statuses of one backend.
type Summary struct {
	Mode         Mode            `yaml:"mode" json:"mode"`
	Active       bool            `yaml:"active" json:"active"`
	ForwardCount int             `yaml:"forwardCount" json:"forwardCount"`
	Forwards     []RuntimeStatus `yaml:"forwards" json:"forwards"`
}

// Summarize builds a Summary where Active means at least one rule is running.
func Summarize(mode Mode, statuses []RuntimeStatus) Summary {
	s := Summary{Mode: mode, Forwards: statuses}
	for _, st := range statuses {
		if st.Running {
			s.ForwardCount++
		}
	}
	s.Active = s.ForwardCount > 0
	return s
}

// IntPtr is a small helper for optional counters.
func IntPtr(v int) *int {
	return &v
}
