package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fwdctl/internal/forward"
)

const twoTunnels = `forwardMode: none
tunnels:
  - name: edge
    remoteForwardHost: 10.30.30.2
    forwards:
      - 443
  - name: lab
    remoteForwardHost: lab.internal
    forwards:
      - "2222:22"
`

func TestFileStore_Reads(t *testing.T) {
	store := NewFileStore(writeConfigFile(t, t.TempDir(), twoTunnels))

	assert.Equal(t, []string{"edge", "lab"}, store.TunnelNames())

	host, err := store.RemoteHost("lab")
	require.NoError(t, err)
	assert.Equal(t, "lab.internal", host)

	_, err = store.RemoteHost("nope")
	assert.ErrorContains(t, err, `tunnel "nope" is not configured`)

	rules, err := store.RulesForTunnel("lab")
	require.NoError(t, err)
	assert.Equal(t, []forward.Rule{{LocalPort: 2222, RemoteHost: "lab.internal", RemotePort: 22}}, rules)

	all, err := store.DeclaredRules()
	require.NoError(t, err)
	assert.Len(t, all, 2)

	used, err := store.UsedPorts("edge")
	require.NoError(t, err)
	assert.True(t, used.Has(2222))
	assert.False(t, used.Has(443))
}

func TestFileStore_SaveRulesPersistsSorted(t *testing.T) {
	path := writeConfigFile(t, t.TempDir(), twoTunnels)
	store := NewFileStore(path)

	err := store.SaveRules("edge", []forward.Rule{
		{LocalPort: 8080, RemoteHost: "10.30.30.2", RemotePort: 80},
		{LocalPort: 443, RemoteHost: "10.30.30.2", RemotePort: 443},
	})
	require.NoError(t, err)

	// A fresh store sees the change, as a second fwdctl process would
	reread := NewFileStore(path)
	rules, err := reread.RulesForTunnel("edge")
	require.NoError(t, err)
	assert.Equal(t, []forward.Rule{
		{LocalPort: 443, RemoteHost: "10.30.30.2", RemotePort: 443},
		{LocalPort: 8080, RemoteHost: "10.30.30.2", RemotePort: 80},
	}, rules)

	// Other tunnels are untouched
	lab, err := reread.RulesForTunnel("lab")
	require.NoError(t, err)
	assert.Len(t, lab, 1)

	// Defaults are not written back into the file
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "commandTimeout")
}

func TestFileStore_SaveRulesUnknownTunnel(t *testing.T) {
	path := writeConfigFile(t, t.TempDir(), twoTunnels)
	before, err := os.ReadFile(path)
	require.NoError(t, err)

	err = NewFileStore(path).SaveRules("ghost", nil)
	assert.ErrorContains(t, err, `tunnel "ghost" is not configured`)

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestFileStore_ModeSurvivesRestart(t *testing.T) {
	path := writeConfigFile(t, t.TempDir(), twoTunnels)

	mode, err := NewFileStore(path).LoadMode()
	require.NoError(t, err)
	assert.Equal(t, forward.Disabled, mode)

	require.NoError(t, NewFileStore(path).SaveMode(forward.ProxyBased))

	mode, err = NewFileStore(path).LoadMode()
	require.NoError(t, err)
	assert.Equal(t, forward.ProxyBased, mode)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Len(t, cfg.Tunnels, 2)
}

func TestFileStore_SaveModeCreatesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fresh.yaml")
	store := NewFileStore(path)

	require.NoError(t, store.SaveMode(forward.ProcessBased))

	mode, err := store.LoadMode()
	require.NoError(t, err)
	assert.Equal(t, forward.ProcessBased, mode)
	assert.Empty(t, store.TunnelNames())
}

func TestFileStore_SaveModeUnreadablePath(t *testing.T) {
	// The path is a directory, so the current content cannot be read
	err := NewFileStore(t.TempDir()).SaveMode(forward.ProcessBased)
	assert.ErrorContains(t, err, "error loading config")
}
