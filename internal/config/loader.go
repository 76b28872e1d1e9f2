package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	"k8s.io/apimachinery/pkg/util/sets"

	"fwdctl/internal/forward"
	"fwdctl/internal/procscan"
)

// For mocking in tests
var osGetenv = os.Getenv

const (
	// DefaultConfigPath is used when neither --config nor FWDCTL_CONFIG is set.
	DefaultConfigPath = "/etc/fwdctl/config.yaml"
	// ConfigPathEnv overrides DefaultConfigPath.
	ConfigPathEnv = "FWDCTL_CONFIG"
)

// ResolvePath picks the configuration file: an explicit path first, then
// FWDCTL_CONFIG, then DefaultConfigPath.
func ResolvePath(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if env := osGetenv(ConfigPathEnv); env != "" {
		return env
	}
	return DefaultConfigPath
}

// LoadConfig layers the configuration file at path over the defaults. A
// missing file yields the defaults.
func LoadConfig(path string) (FwdctlConfig, error) {
	config := GetDefaultConfig()

	fileConfig, found, err := loadConfigFromFile(path)
	if err != nil {
		return FwdctlConfig{}, fmt.Errorf("error loading config from %s: %w", path, err)
	}
	if found {
		config = mergeConfigs(config, fileConfig)
	}
	if err := config.Validate(); err != nil {
		return FwdctlConfig{}, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return config, nil
}

// loadConfigFromFile loads a FwdctlConfig from a YAML file without defaults.
func loadConfigFromFile(filePath string) (FwdctlConfig, bool, error) {
	var config FwdctlConfig
	data, err := os.ReadFile(filePath)
	if os.IsNotExist(err) {
		return FwdctlConfig{}, false, nil
	}
	if err != nil {
		return FwdctlConfig{}, false, err
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return FwdctlConfig{}, false, err
	}
	return config, true, nil
}

// mergeConfigs merges 'overlay' config into 'base' config.
func mergeConfigs(base, overlay FwdctlConfig) FwdctlConfig {
	merged := base
	merged.ForwardMode = overlay.ForwardMode

	s, o := &merged.Settings, overlay.Settings
	if o.CommandTimeout > 0 {
		s.CommandTimeout = o.CommandTimeout
	}
	if o.SettleTimeout > 0 {
		s.SettleTimeout = o.SettleTimeout
	}
	if o.SettleInterval > 0 {
		s.SettleInterval = o.SettleInterval
	}
	if o.ProcessScanner != "" {
		s.ProcessScanner = o.ProcessScanner
	}
	if o.SocatBinary != "" {
		s.SocatBinary = o.SocatBinary
	}
	if o.UpdateRepository != "" {
		s.UpdateRepository = o.UpdateRepository
	}
	mergeString(&s.HAProxy.Binary, o.HAProxy.Binary)
	mergeString(&s.HAProxy.ConfigPath, o.HAProxy.ConfigPath)
	mergeString(&s.HAProxy.StagedPath, o.HAProxy.StagedPath)
	mergeString(&s.HAProxy.PIDFile, o.HAProxy.PIDFile)
	mergeString(&s.HAProxy.StatsSocket, o.HAProxy.StatsSocket)
	mergeString(&s.HAProxy.ReloadCommand, o.HAProxy.ReloadCommand)
	mergeString(&s.HAProxy.RestartCommand, o.HAProxy.RestartCommand)
	mergeString(&s.HAProxy.StopCommand, o.HAProxy.StopCommand)
	mergeString(&s.HAProxy.IsActiveCommand, o.HAProxy.IsActiveCommand)
	if o.HAProxy.SettleTimeout > 0 {
		s.HAProxy.SettleTimeout = o.HAProxy.SettleTimeout
	}

	// Tunnels come from the file only
	merged.Tunnels = overlay.Tunnels
	if merged.Tunnels == nil {
		merged.Tunnels = []TunnelDefinition{}
	}
	return merged
}

func mergeString(dst *string, overlay string) {
	if overlay != "" {
		*dst = overlay
	}
}

// Validate checks tunnel definitions and settings.
func (c FwdctlConfig) Validate() error {
	var errs []error

	switch procscan.Kind(c.Settings.ProcessScanner) {
	case "", procscan.KindPS, procscan.KindNative:
	default:
		errs = append(errs, fmt.Errorf("settings.processScanner: unknown scanner %q", c.Settings.ProcessScanner))
	}
	if c.Settings.SettleInterval > c.Settings.SettleTimeout && c.Settings.SettleTimeout > 0 {
		errs = append(errs, fmt.Errorf("settings.settleInterval %s exceeds settleTimeout %s",
			c.Settings.SettleInterval, c.Settings.SettleTimeout))
	}

	names := sets.New[string]()
	owner := map[int]string{}
	for i, t := range c.Tunnels {
		if t.Name == "" {
			errs = append(errs, fmt.Errorf("tunnels[%d]: name is required", i))
		} else if names.Has(t.Name) {
			errs = append(errs, fmt.Errorf("tunnels[%d]: duplicate tunnel name %q", i, t.Name))
		}
		names.Insert(t.Name)

		if len(t.Forwards) > 0 {
			if err := forward.ValidateHost(t.RemoteForwardHost); err != nil {
				errs = append(errs, fmt.Errorf("tunnel %q: %w", t.Name, err))
			}
		}
		for _, f := range t.Forwards {
			r := f.Rule(t.RemoteForwardHost)
			if err := r.Validate(); err != nil && t.RemoteForwardHost != "" {
				errs = append(errs, fmt.Errorf("tunnel %q: forward %d: %w", t.Name, f.LocalPort, err))
				continue
			}
			if prev, ok := owner[f.LocalPort]; ok {
				errs = append(errs, fmt.Errorf("tunnel %q: port %d is already declared by tunnel %q", t.Name, f.LocalPort, prev))
				continue
			}
			owner[f.LocalPort] = t.Name
		}
	}
	return utilerrors.NewAggregate(errs)
}
