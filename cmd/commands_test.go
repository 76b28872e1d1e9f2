package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fwdctl/internal/config"
	"fwdctl/internal/forward"
)

const edgeConfig = `forwardMode: none
tunnels:
  - name: edge
    remoteForwardHost: 10.30.30.2
    forwards:
      - 443
      - "8080:80"
`

// runFwdctl executes the root command with args against a fresh flag state.
func runFwdctl(t *testing.T, args ...string) (string, error) {
	t.Helper()

	tunnelName, outputFormat, quiet, modeSetApply = "", "table", false, false
	reconcileApply, reconcilePrune, reconcileWatch = false, false, 0
	logLevel, logFormat = "warn", "text"

	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetErr(&buf)
	rootCmd.SetArgs(args)
	defer func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
	}()

	err := rootCmd.Execute()
	return buf.String(), err
}

func writeEdgeConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(edgeConfig), 0o600))
	return path
}

func TestModeSetPersists(t *testing.T) {
	path := writeEdgeConfig(t)

	out, err := runFwdctl(t, "--config", path, "mode", "set", "socat")
	require.NoError(t, err)
	assert.Contains(t, out, "forward mode changed from none to socat")

	mode, err := config.NewFileStore(path).LoadMode()
	require.NoError(t, err)
	assert.Equal(t, forward.ProcessBased, mode)

	out, err = runFwdctl(t, "--config", path, "-o", "json", "mode", "get")
	require.NoError(t, err)
	assert.JSONEq(t, `{"mode":"socat","description":"process-per-port (socat)"}`, out)
}

func TestModeSetRejectsUnknownMode(t *testing.T) {
	path := writeEdgeConfig(t)

	_, err := runFwdctl(t, "--config", path, "mode", "set", "iptables")
	assert.ErrorContains(t, err, "unknown forward mode")
}

func TestAddWhileDisabled(t *testing.T) {
	path := writeEdgeConfig(t)
	before, err := os.ReadFile(path)
	require.NoError(t, err)

	out, err := runFwdctl(t, "--config", path, "add", "9000")
	assert.ErrorIs(t, err, forward.ErrModeDisabled)
	assert.Contains(t, out, "✗")

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestRemoveWhileDisabledEditsConfig(t *testing.T) {
	path := writeEdgeConfig(t)

	out, err := runFwdctl(t, "--config", path, "remove", "443")
	require.NoError(t, err)
	assert.Contains(t, out, "removed port 443 from the configuration")

	rules, err := config.NewFileStore(path).RulesForTunnel("edge")
	require.NoError(t, err)
	assert.Equal(t, []forward.Rule{{LocalPort: 8080, RemoteHost: "10.30.30.2", RemotePort: 80}}, rules)
}

func TestDeclaredJSON(t *testing.T) {
	path := writeEdgeConfig(t)

	out, err := runFwdctl(t, "--config", path, "-o", "json", "declared")
	require.NoError(t, err)
	assert.JSONEq(t, `[
		{"localPort": 443, "remoteHost": "10.30.30.2", "remotePort": 443},
		{"localPort": 8080, "remoteHost": "10.30.30.2", "remotePort": 80}
	]`, out)
}

func TestObservationsWhileDisabled(t *testing.T) {
	path := writeEdgeConfig(t)

	out, err := runFwdctl(t, "--config", path, "-o", "json", "list")
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, out)

	out, err = runFwdctl(t, "--config", path, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "Forwarding is disabled")

	out, err = runFwdctl(t, "--config", path, "stop-all")
	require.NoError(t, err)
	assert.NotContains(t, out, "✗")
}

func TestInvalidGlobalFlags(t *testing.T) {
	path := writeEdgeConfig(t)

	_, err := runFwdctl(t, "--config", path, "-o", "xml", "list")
	assert.ErrorContains(t, err, "unsupported output format")

	_, err = runFwdctl(t, "--config", path, "--log-level", "loud", "list")
	assert.ErrorContains(t, err, "unknown log level")
}

func TestInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("forwardMode: iptables\n"), 0o600))

	_, err := runFwdctl(t, "--config", path, "list")
	assert.ErrorContains(t, err, "failed to initialize")
}

func TestVersionCommand(t *testing.T) {
	SetVersion("1.2.3")
	out, err := runFwdctl(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "fwdctl version 1.2.3\n", out)
}
