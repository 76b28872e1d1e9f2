package config

import (
	"time"

	"fwdctl/internal/backends"
	"fwdctl/internal/forward"
	"fwdctl/internal/procscan"
	"fwdctl/internal/settle"
	"fwdctl/internal/utils"
)

// GetDefaultConfig returns the built-in configuration. Forwarding starts
// disabled and no tunnels are declared.
func GetDefaultConfig() FwdctlConfig {
	h := backends.DefaultHAProxyConfig()
	return FwdctlConfig{
		ForwardMode: forward.Disabled,
		Settings: Settings{
			CommandTimeout: utils.DefaultCommandTimeout,
			SettleTimeout:  settle.DefaultTimeout,
			SettleInterval: settle.DefaultInterval,
			ProcessScanner: string(procscan.KindPS),
			SocatBinary:    procscan.DefaultTool,
			HAProxy: HAProxySettings{
				Binary:          h.Binary,
				ConfigPath:      h.ConfigPath,
				StagedPath:      h.StagedPath,
				PIDFile:         h.PIDFile,
				StatsSocket:     h.StatsSocket,
				ReloadCommand:   h.ReloadCommand,
				RestartCommand:  h.RestartCommand,
				StopCommand:     h.StopCommand,
				IsActiveCommand: h.IsActiveCommand,
				SettleTimeout:   h.Settle.Timeout,
			},
		},
		Tunnels: []TunnelDefinition{},
	}
}

// SocatConfig derives the process backend settings.
func (s Settings) SocatConfig() backends.SocatConfig {
	return backends.SocatConfig{
		Binary:         s.SocatBinary,
		CommandTimeout: s.CommandTimeout,
		Settle:         settle.Options{Timeout: s.SettleTimeout, Interval: s.SettleInterval},
	}
}

// HAProxyConfig derives the proxy backend settings.
func (s Settings) HAProxyConfig() backends.HAProxyConfig {
	settleTimeout := s.HAProxy.SettleTimeout
	if settleTimeout <= 0 {
		settleTimeout = 3 * time.Second
	}
	return backends.HAProxyConfig{
		Binary:          s.HAProxy.Binary,
		ConfigPath:      s.HAProxy.ConfigPath,
		StagedPath:      s.HAProxy.StagedPath,
		PIDFile:         s.HAProxy.PIDFile,
		StatsSocket:     s.HAProxy.StatsSocket,
		ReloadCommand:   s.HAProxy.ReloadCommand,
		RestartCommand:  s.HAProxy.RestartCommand,
		StopCommand:     s.HAProxy.StopCommand,
		IsActiveCommand: s.HAProxy.IsActiveCommand,
		CommandTimeout:  s.CommandTimeout,
		Settle:          settle.Options{Timeout: settleTimeout, Interval: 100 * time.Millisecond},
	}
}
