package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"fwdctl/internal/forward"
)

// FwdctlConfig is the top-level configuration structure for fwdctl.
type FwdctlConfig struct {
	ForwardMode forward.Mode       `yaml:"forwardMode"`
	Settings    Settings           `yaml:"settings,omitempty"`
	Tunnels     []TunnelDefinition `yaml:"tunnels,omitempty"`
}

// Settings tune how backends talk to the host.
type Settings struct {
	CommandTimeout   time.Duration   `yaml:"commandTimeout,omitempty"`   // Bound for every external command
	SettleTimeout    time.Duration   `yaml:"settleTimeout,omitempty"`    // How long a start or stop may take to become visible
	SettleInterval   time.Duration   `yaml:"settleInterval,omitempty"`   // Poll interval while settling
	ProcessScanner   string          `yaml:"processScanner,omitempty"`   // "ps" or "native"
	SocatBinary      string          `yaml:"socatBinary,omitempty"`      // e.g., "socat" or "/usr/bin/socat"
	HAProxy          HAProxySettings `yaml:"haproxy,omitempty"`          // Proxy backend paths and commands
	UpdateRepository string          `yaml:"updateRepository,omitempty"` // owner/name of the release repository for self-update
}

// HAProxySettings locate the haproxy binary, its files and its service commands.
type HAProxySettings struct {
	Binary          string        `yaml:"binary,omitempty"`
	ConfigPath      string        `yaml:"configPath,omitempty"` // Live configuration, owned by fwdctl
	StagedPath      string        `yaml:"stagedPath,omitempty"` // Staged configuration, validated before install
	PIDFile         string        `yaml:"pidFile,omitempty"`
	StatsSocket     string        `yaml:"statsSocket,omitempty"`
	ReloadCommand   string        `yaml:"reloadCommand,omitempty"`
	RestartCommand  string        `yaml:"restartCommand,omitempty"`
	StopCommand     string        `yaml:"stopCommand,omitempty"`
	IsActiveCommand string        `yaml:"isActiveCommand,omitempty"`
	SettleTimeout   time.Duration `yaml:"settleTimeout,omitempty"` // Reloads take longer than a socat launch
}

// TunnelDefinition is one tunnel whose far end receives the forwarded traffic.
type TunnelDefinition struct {
	Name              string         `yaml:"name"`
	RemoteForwardHost string         `yaml:"remoteForwardHost"` // Address of the peer inside the tunnel
	Forwards          []ForwardEntry `yaml:"forwards,omitempty"`
}

// ForwardEntry declares one forwarded port. In YAML it is either a port
// number (same port on both sides), a "local:remote" string, or a mapping
// with localPort and remotePort.
type ForwardEntry struct {
	LocalPort  int `yaml:"localPort"`
	RemotePort int `yaml:"remotePort"`
}

// Rule resolves the entry against the tunnel's remote host.
func (e ForwardEntry) Rule(host string) forward.Rule {
	remote := e.RemotePort
	if remote == 0 {
		remote = e.LocalPort
	}
	return forward.Rule{LocalPort: e.LocalPort, RemoteHost: host, RemotePort: remote}
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (e *ForwardEntry) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		local, remote, found := strings.Cut(strings.TrimSpace(value.Value), ":")
		l, err := strconv.Atoi(local)
		if err != nil {
			return fmt.Errorf("line %d: invalid forward %q", value.Line, value.Value)
		}
		r := l
		if found {
			if r, err = strconv.Atoi(remote); err != nil {
				return fmt.Errorf("line %d: invalid forward %q", value.Line, value.Value)
			}
		}
		e.LocalPort, e.RemotePort = l, r
		return nil
	case yaml.MappingNode:
		type plain ForwardEntry
		var p plain
		if err := value.Decode(&p); err != nil {
			return err
		}
		*e = ForwardEntry(p)
		if e.RemotePort == 0 {
			e.RemotePort = e.LocalPort
		}
		return nil
	default:
		return fmt.Errorf("line %d: forward must be a port, \"local:remote\" or a mapping", value.Line)
	}
}

// MarshalYAML writes the short form.
func (e ForwardEntry) MarshalYAML() (interface{}, error) {
	if e.RemotePort == 0 || e.RemotePort == e.LocalPort {
		return e.LocalPort, nil
	}
	return fmt.Sprintf("%d:%d", e.LocalPort, e.RemotePort), nil
}

// Tunnel returns the named tunnel.
func (c *FwdctlConfig) Tunnel(name string) (*TunnelDefinition, bool) {
	for i := range c.Tunnels {
		if c.Tunnels[i].Name == name {
			return &c.Tunnels[i], true
		}
	}
	return nil, false
}
