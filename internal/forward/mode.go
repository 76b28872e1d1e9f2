package forward

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
)

// Mode is the single active forwarding mechanism on this host.
type Mode int

const (
	// Disabled means no backend-managed forward may be running.
	Disabled Mode = iota
	// ProxyBased realizes rules as frontend/backend stanzas of one haproxy daemon.
	ProxyBased
	// ProcessBased realizes each rule as its own socat process.
	ProcessBased
)

var _ pflag.Value = (*Mode)(nil)

// AllModes lists every mode in menu order.
var AllModes = []Mode{Disabled, ProxyBased, ProcessBased}

// String returns the persisted name of the mode.
func (m Mode) String() string {
	switch m {
	case Disabled:
		return "none"
	case ProxyBased:
		return "haproxy"
	case ProcessBased:
		return "socat"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// Describe returns a human-readable label.
func (m Mode) Describe() string {
	switch m {
	case Disabled:
		return "disabled"
	case ProxyBased:
		return "proxy-based (haproxy)"
	case ProcessBased:
		return "process-per-port (socat)"
	default:
		return m.String()
	}
}

// ParseMode accepts the persisted names and their long aliases.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none", "disabled", "off":
		return Disabled, nil
	case "haproxy", "proxy", "proxy-based":
		return ProxyBased, nil
	case "socat", "process", "process-based":
		return ProcessBased, nil
	default:
		return Disabled, fmt.Errorf("unknown forward mode %q (want none, haproxy or socat)", s)
	}
}

// Set implements pflag.Value.
func (m *Mode) Set(s string) error {
	parsed, err := ParseMode(s)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// Type implements pflag.Value.
func (m *Mode) Type() string {
	return "mode"
}

// MarshalText encodes the mode by name for YAML and JSON.
func (m Mode) MarshalText() ([]byte, error) {
	switch m {
	case Disabled, ProxyBased, ProcessBased:
		return []byte(m.String()), nil
	default:
		return nil, fmt.Errorf("cannot encode unknown forward mode %d", int(m))
	}
}

// UnmarshalText decodes a mode name.
func (m *Mode) UnmarshalText(text []byte) error {
	return m.Set(string(text))
}
