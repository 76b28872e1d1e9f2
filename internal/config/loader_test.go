package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"fwdctl/internal/forward"
)

// Helper function to create a temporary config file
func writeConfigFile(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestResolvePath(t *testing.T) {
	original := osGetenv
	defer func() { osGetenv = original }()

	env := map[string]string{}
	osGetenv = func(key string) string { return env[key] }

	assert.Equal(t, DefaultConfigPath, ResolvePath(""))

	env[ConfigPathEnv] = "/tmp/from-env.yaml"
	assert.Equal(t, "/tmp/from-env.yaml", ResolvePath(""))
	assert.Equal(t, "/tmp/explicit.yaml", ResolvePath("/tmp/explicit.yaml"))
}

func TestLoadConfig_MissingFileYieldsDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, GetDefaultConfig(), cfg)
	assert.Equal(t, forward.Disabled, cfg.ForwardMode)
	assert.Empty(t, cfg.Tunnels)
}

func TestLoadConfig_FileOverridesDefaults(t *testing.T) {
	path := writeConfigFile(t, t.TempDir(), `
forwardMode: socat
settings:
  commandTimeout: 3s
  processScanner: native
  haproxy:
    configPath: /srv/haproxy.cfg
tunnels:
  - name: edge
    remoteForwardHost: 10.30.30.2
    forwards:
      - 443
      - "8080:80"
      - localPort: 2222
        remotePort: 22
      - localPort: 9000
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	defaults := GetDefaultConfig()
	assert.Equal(t, forward.ProcessBased, cfg.ForwardMode)
	assert.Equal(t, 3*time.Second, cfg.Settings.CommandTimeout)
	assert.Equal(t, "native", cfg.Settings.ProcessScanner)
	assert.Equal(t, "/srv/haproxy.cfg", cfg.Settings.HAProxy.ConfigPath)
	// Untouched settings keep their defaults
	assert.Equal(t, defaults.Settings.SettleTimeout, cfg.Settings.SettleTimeout)
	assert.Equal(t, defaults.Settings.HAProxy.StagedPath, cfg.Settings.HAProxy.StagedPath)

	require.Len(t, cfg.Tunnels, 1)
	assert.Equal(t, []ForwardEntry{
		{LocalPort: 443, RemotePort: 443},
		{LocalPort: 8080, RemotePort: 80},
		{LocalPort: 2222, RemotePort: 22},
		{LocalPort: 9000, RemotePort: 9000},
	}, cfg.Tunnels[0].Forwards)
}

func TestLoadConfig_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "malformed yaml",
			content: "forwardMode: [socat",
			wantErr: "error loading config",
		},
		{
			name:    "unknown mode",
			content: "forwardMode: iptables\n",
			wantErr: "unknown forward mode",
		},
		{
			name:    "bad forward entry",
			content: "tunnels:\n  - name: a\n    remoteForwardHost: h\n    forwards: [\"x:1\"]\n",
			wantErr: "invalid forward",
		},
		{
			name:    "unknown scanner",
			content: "settings:\n  processScanner: procfs\n",
			wantErr: "unknown scanner",
		},
		{
			name:    "duplicate tunnel",
			content: "tunnels:\n  - name: a\n  - name: a\n",
			wantErr: "duplicate tunnel name",
		},
		{
			name:    "missing host",
			content: "tunnels:\n  - name: a\n    forwards: [443]\n",
			wantErr: "remote host must not be empty",
		},
		{
			name:    "port out of range",
			content: "tunnels:\n  - name: a\n    remoteForwardHost: h\n    forwards: [70000]\n",
			wantErr: "local port 70000",
		},
		{
			name: "port shared across tunnels",
			content: `tunnels:
  - name: a
    remoteForwardHost: 10.0.0.1
    forwards: [443]
  - name: b
    remoteForwardHost: 10.0.0.2
    forwards: ["443:8443"]
`,
			wantErr: `port 443 is already declared by tunnel "a"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfigFile(t, t.TempDir(), tt.content)
			_, err := LoadConfig(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestForwardEntry_MarshalShortForm(t *testing.T) {
	tunnel := TunnelDefinition{
		Name:              "edge",
		RemoteForwardHost: "10.30.30.2",
		Forwards: []ForwardEntry{
			{LocalPort: 443, RemotePort: 443},
			{LocalPort: 8080, RemotePort: 80},
		},
	}

	data, err := yaml.Marshal(&tunnel)
	require.NoError(t, err)
	assert.Contains(t, string(data), "- 443\n")
	assert.Contains(t, string(data), "8080:80")

	var back TunnelDefinition
	require.NoError(t, yaml.Unmarshal(data, &back))
	assert.Equal(t, tunnel, back)
}

func TestForwardEntry_Rule(t *testing.T) {
	r := ForwardEntry{LocalPort: 5432}.Rule("db.internal")
	assert.Equal(t, forward.Rule{LocalPort: 5432, RemoteHost: "db.internal", RemotePort: 5432}, r)
}

func TestSettings_BackendConfigs(t *testing.T) {
	s := GetDefaultConfig().Settings
	s.SocatBinary = "/opt/bin/socat"

	socat := s.SocatConfig()
	assert.Equal(t, "/opt/bin/socat", socat.Binary)
	assert.Equal(t, s.SettleTimeout, socat.Settle.Timeout)
	assert.Equal(t, s.SettleInterval, socat.Settle.Interval)

	s.HAProxy.SettleTimeout = 0
	h := s.HAProxyConfig()
	assert.Equal(t, "/etc/haproxy/haproxy.cfg", h.ConfigPath)
	assert.Equal(t, 3*time.Second, h.Settle.Timeout)
	assert.Equal(t, s.CommandTimeout, h.CommandTimeout)
}
