package procscan

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fwdctl/internal/forward"
	"fwdctl/internal/utils"
)

const psSample = `    1     0 /sbin/init splash
  812     1 /usr/sbin/sshd -D
 1201     1 socat TCP-LISTEN:443,fork,reuseaddr TCP:10.30.30.2:443
 1202     1 socat TCP-LISTEN:8080,fork,reuseaddr TCP:10.30.30.2:80
 1203     1 /usr/bin/socat TCP6-LISTEN:80,fork,reuseaddr TCP:[fd00::2]:8000
 1310  1201 socat TCP-LISTEN:443,fork,reuseaddr TCP:10.30.30.2:443
 1311  1201 socat TCP-LISTEN:443,fork,reuseaddr TCP:10.30.30.2:443
 1400   812 sh -c pkill -f 'socat.*TCP-LISTEN:443([^0-9]|$)'
 1401  1400 pkill -f socat.*TCP-LISTEN:443([^0-9]|$)
 1500     1 socat UNIX-LISTEN:/run/x.sock TCP:10.0.0.1:22
 garbage line
`

func TestParsePS_SkipsMalformed(t *testing.T) {
	procs := ParsePS(psSample)
	require.Len(t, procs, 10)
	assert.Equal(t, Process{PID: 1, PPID: 0, Args: "/sbin/init splash"}, procs[0])
}

func TestFold_ListenersAndSessions(t *testing.T) {
	statuses := Fold("socat", ParsePS(psSample))
	require.Len(t, statuses, 3)

	assert.Equal(t, forward.Rule{LocalPort: 80, RemoteHost: "fd00::2", RemotePort: 8000}, statuses[0].Rule)
	assert.Equal(t, 0, *statuses[0].ActiveSessions)

	assert.Equal(t, forward.Rule{LocalPort: 443, RemoteHost: "10.30.30.2", RemotePort: 443}, statuses[1].Rule)
	assert.Equal(t, "1201", statuses[1].PID)
	assert.Equal(t, 2, *statuses[1].ActiveSessions)
	assert.True(t, statuses[1].Running)
	assert.Equal(t, forward.ProcessBased, statuses[1].Backend)

	assert.Equal(t, forward.Rule{LocalPort: 8080, RemoteHost: "10.30.30.2", RemotePort: 80}, statuses[2].Rule)
}

func TestParseArgs(t *testing.T) {
	_, ok := ParseArgs("socat", "pkill -f socat.*TCP-LISTEN:443")
	assert.False(t, ok, "pkill is not a forwarder")

	_, ok = ParseArgs("socat", "socat STDIO TCP:1.2.3.4:80")
	assert.False(t, ok, "no listen address")

	r, ok := ParseArgs("socat", "socat TCP4-LISTEN:9000,fork TCP4:backend.internal:9001")
	require.True(t, ok)
	assert.Equal(t, forward.Rule{LocalPort: 9000, RemoteHost: "backend.internal", RemotePort: 9001}, r)
}

func TestPSScanner_IsForwardedExactPort(t *testing.T) {
	runner := (&utils.FakeRunner{}).On("ps -eo", utils.Succeed(
		" 10 1 socat TCP-LISTEN:80,fork,reuseaddr TCP:10.0.0.2:80\n"))
	s := NewPSScanner(runner, "")
	ctx := context.Background()

	for port, want := range map[int]bool{80: true, 8: false, 800: false} {
		got, err := s.IsForwarded(ctx, port)
		require.NoError(t, err)
		assert.Equal(t, want, got, "port %d", port)
	}
}

func TestPSScanner_PsFailureIsAnError(t *testing.T) {
	runner := (&utils.FakeRunner{}).On("ps -eo", utils.Failed("ps: not found"))
	s := NewPSScanner(runner, "socat")
	ctx := context.Background()

	list, err := s.List(ctx)
	assert.ErrorContains(t, err, "ps: not found")
	assert.Empty(t, list)

	forwarded, err := s.IsForwarded(ctx, 443)
	assert.Error(t, err)
	assert.False(t, forwarded)
}

func TestPSScanner_EmptyTableIsNotAnError(t *testing.T) {
	runner := (&utils.FakeRunner{}).On("ps -eo", utils.Succeed("    1     0 /sbin/init\n"))
	list, err := NewPSScanner(runner, "socat").List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestNew(t *testing.T) {
	runner := &utils.FakeRunner{}

	s, err := New("", runner, "")
	require.NoError(t, err)
	assert.IsType(t, &PSScanner{}, s)

	s, err = New(KindNative, runner, "")
	require.NoError(t, err)
	assert.IsType(t, &NativeScanner{}, s)

	_, err = New("proc", runner, "")
	assert.Error(t, err)
}
