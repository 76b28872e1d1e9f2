package backends

import (
	"context"
	"regexp"
	"sort"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fwdctl/internal/forward"
	"fwdctl/internal/procscan"
	"fwdctl/internal/settle"
	"fwdctl/internal/utils"
)

var fastSettle = settle.Options{Timeout: 30 * time.Millisecond, Interval: 5 * time.Millisecond}

// fakeHost simulates the process table seen by the socat backend.
type fakeHost struct {
	mu        sync.Mutex
	listeners map[int]forward.Rule
	// stubborn ports survive pkill
	stubborn map[int]bool
	// launches that never show up
	dropLaunch bool
}

func newFakeHost() *fakeHost {
	return &fakeHost{listeners: map[int]forward.Rule{}, stubborn: map[int]bool{}}
}

var (
	launchRe = regexp.MustCompile(`TCP-LISTEN:(\d+),fork,reuseaddr TCP:(\S+) `)
	killRe   = regexp.MustCompile(`-LISTEN:(\d+)\(`)
)

func (h *fakeHost) List(context.Context) ([]forward.RuntimeStatus, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []forward.RuntimeStatus
	for _, r := range h.listeners {
		out = append(out, forward.RuntimeStatus{Rule: r, Backend: forward.ProcessBased, Running: true})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LocalPort < out[j].LocalPort })
	return out, nil
}

func (h *fakeHost) IsForwarded(ctx context.Context, port int) (bool, error) {
	return h.has(port), nil
}

func (h *fakeHost) has(port int) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.listeners[port]
	return ok
}

func (h *fakeHost) runner() *utils.FakeRunner {
	r := &utils.FakeRunner{}
	r.On("command -v", utils.Succeed("/usr/bin/socat\n"))
	r.OnFunc("nohup", func(cmd string) utils.Outcome {
		m := launchRe.FindStringSubmatch(cmd)
		if m == nil {
			return utils.Failed("bad launch")
		}
		h.mu.Lock()
		defer h.mu.Unlock()
		if !h.dropLaunch {
			p, _ := strconv.Atoi(m[1])
			h.listeners[p] = forward.Rule{LocalPort: p, RemoteHost: "remote", RemotePort: p}
		}
		return utils.Succeed("")
	})
	r.OnFunc("pkill", func(cmd string) utils.Outcome {
		h.mu.Lock()
		defer h.mu.Unlock()
		if m := killRe.FindStringSubmatch(cmd); m != nil {
			p, _ := strconv.Atoi(m[1])
			if _, ok := h.listeners[p]; !ok {
				return utils.Outcome{}
			}
			if !h.stubborn[p] {
				delete(h.listeners, p)
			}
			return utils.Succeed("")
		}
		for p := range h.listeners {
			if !h.stubborn[p] {
				delete(h.listeners, p)
			}
		}
		return utils.Succeed("")
	})
	return r
}

func newTestSocat(h *fakeHost, r utils.Runner) *SocatBackend {
	return NewSocatBackend(r, h, SocatConfig{Settle: fastSettle})
}

func rule(local int, host string, remote int) forward.Rule {
	return forward.Rule{LocalPort: local, RemoteHost: host, RemotePort: remote}
}

func TestSocat_StartIsIdempotent(t *testing.T) {
	h := newFakeHost()
	r := h.runner()
	b := newTestSocat(h, r)
	ctx := context.Background()

	res := b.Start(ctx, rule(443, "10.30.30.2", 443))
	require.True(t, res.Success, res.Message)
	assert.True(t, r.Ran("nohup socat TCP-LISTEN:443,fork,reuseaddr TCP:10.30.30.2:443 >/dev/null 2>&1 &"))

	res = b.Start(ctx, rule(443, "10.30.30.2", 443))
	assert.True(t, res.Is(forward.AlreadyForwarded))
	assert.Equal(t, 1, r.Count("nohup"))
	assert.Len(t, b.List(ctx), 1)
}

func TestSocat_StartBracketsIPv6Target(t *testing.T) {
	h := newFakeHost()
	r := h.runner()
	b := newTestSocat(h, r)

	res := b.Start(context.Background(), rule(8443, "fd00::2", 443))
	require.True(t, res.Success, res.Message)
	assert.True(t, r.Ran("TCP:[fd00::2]:443"))
}

func TestSocat_StartRejectsInvalidRuleBeforeAnyCommand(t *testing.T) {
	h := newFakeHost()
	r := h.runner()
	b := newTestSocat(h, r)

	res := b.Start(context.Background(), rule(443, "10.0.0.1 && reboot", 443))
	assert.True(t, res.Is(forward.InvalidRule))
	assert.Empty(t, r.Commands)
}

func TestSocat_ToolNotInstalled(t *testing.T) {
	h := newFakeHost()
	r := h.runner()
	r.On("command -v", utils.Failed(""))
	b := newTestSocat(h, r)

	res := b.Start(context.Background(), rule(443, "10.0.0.2", 443))
	assert.True(t, res.Is(forward.ToolNotInstalled))
	assert.False(t, r.Ran("nohup"))
}

func TestSocat_StartVerificationFailed(t *testing.T) {
	h := newFakeHost()
	h.dropLaunch = true
	b := newTestSocat(h, h.runner())

	res := b.Start(context.Background(), rule(443, "10.0.0.2", 443))
	assert.True(t, res.Is(forward.StartVerificationFailed))
}

func TestSocat_LaunchTimeout(t *testing.T) {
	h := newFakeHost()
	r := h.runner()
	r.On("nohup", utils.TimedOutOutcome())
	b := newTestSocat(h, r)

	res := b.Start(context.Background(), rule(443, "10.0.0.2", 443))
	assert.True(t, res.Is(forward.CommandTimeout))
}

func TestSocat_StopIsIdempotent(t *testing.T) {
	h := newFakeHost()
	r := h.runner()
	b := newTestSocat(h, r)
	ctx := context.Background()

	require.True(t, b.Start(ctx, rule(443, "10.0.0.2", 443)).Success)
	res := b.Stop(ctx, 443)
	require.True(t, res.Success, res.Message)
	assert.False(t, h.has(443))

	res = b.Stop(ctx, 443)
	assert.True(t, res.Success)
	assert.Contains(t, res.Message, "nothing to stop")
	assert.Equal(t, 1, r.Count("pkill"))
}

func TestSocat_StopPatternIsPortExact(t *testing.T) {
	h := newFakeHost()
	r := h.runner()
	b := newTestSocat(h, r)
	ctx := context.Background()

	require.True(t, b.Start(ctx, rule(80, "10.0.0.2", 80)).Success)
	require.True(t, b.Start(ctx, rule(8, "10.0.0.2", 8)).Success)

	require.True(t, b.Stop(ctx, 8).Success)
	assert.True(t, r.Ran(`pkill -f '[s]ocat.*TCP[46]?-LISTEN:8([^0-9]|$)'`))
	assert.True(t, h.has(80))
	assert.False(t, h.has(8))

	// 8 is gone; stopping it again must not touch 80.
	require.True(t, b.Stop(ctx, 8).Success)
	assert.True(t, h.has(80))
}

func TestSocat_StopVerificationFailed(t *testing.T) {
	h := newFakeHost()
	b := newTestSocat(h, h.runner())
	ctx := context.Background()

	require.True(t, b.Start(ctx, rule(443, "10.0.0.2", 443)).Success)
	h.stubborn[443] = true
	assert.True(t, b.Stop(ctx, 443).Is(forward.StopVerificationFailed))
}

func TestSocat_StopAllReportsRemaining(t *testing.T) {
	h := newFakeHost()
	b := newTestSocat(h, h.runner())
	ctx := context.Background()

	for _, p := range []int{443, 8080, 9000} {
		require.True(t, b.Start(ctx, rule(p, "10.0.0.2", p)).Success)
	}
	h.stubborn[9000] = true

	res := b.StopAll(ctx)
	assert.True(t, res.Is(forward.StopVerificationFailed))
	assert.Contains(t, res.Message, "1 socat forwards still running")

	h.stubborn[9000] = false
	res = b.StopAll(ctx)
	assert.True(t, res.Success, res.Message)
	assert.False(t, b.Status(ctx).Active)
}

func TestSocat_Status(t *testing.T) {
	h := newFakeHost()
	b := newTestSocat(h, h.runner())
	ctx := context.Background()

	require.True(t, b.Start(ctx, rule(443, "10.0.0.2", 443)).Success)
	s := b.Status(ctx)
	assert.Equal(t, forward.ProcessBased, s.Mode)
	assert.True(t, s.Active)
	assert.Equal(t, 1, s.ForwardCount)
}

// psTable serves ps output from a process list and applies pkill patterns to
// it, so the patterns are checked against what the scanner parses.
type psTable struct {
	mu    sync.Mutex
	procs map[int]string
	// psErr makes every ps call fail once set
	psErr string
}

var pkillRe = regexp.MustCompile(`^pkill -f '(.*)'$`)

func (p *psTable) runner() *utils.FakeRunner {
	r := &utils.FakeRunner{}
	r.On("command -v", utils.Succeed("/usr/bin/socat\n"))
	r.OnFunc("ps -eo", func(string) utils.Outcome {
		p.mu.Lock()
		defer p.mu.Unlock()
		if p.psErr != "" {
			return utils.Failed(p.psErr)
		}
		pids := make([]int, 0, len(p.procs))
		for pid := range p.procs {
			pids = append(pids, pid)
		}
		sort.Ints(pids)
		var out string
		for _, pid := range pids {
			out += strconv.Itoa(pid) + " 1 " + p.procs[pid] + "\n"
		}
		return utils.Succeed(out)
	})
	r.OnFunc("pkill", func(cmd string) utils.Outcome {
		m := pkillRe.FindStringSubmatch(cmd)
		if m == nil {
			return utils.Failed("unexpected pkill: " + cmd)
		}
		re := regexp.MustCompile(m[1])
		p.mu.Lock()
		defer p.mu.Unlock()
		killed := false
		for pid, args := range p.procs {
			if re.MatchString(args) {
				delete(p.procs, pid)
				killed = true
			}
		}
		if !killed {
			return utils.Outcome{}
		}
		return utils.Succeed("")
	})
	return r
}

func newPSSocat(r utils.Runner) *SocatBackend {
	return NewSocatBackend(r, procscan.NewPSScanner(r, ""), SocatConfig{Settle: fastSettle})
}

func TestSocat_StopMatchesFamilyListeners(t *testing.T) {
	table := &psTable{procs: map[int]string{
		1201: "socat TCP4-LISTEN:80,fork,reuseaddr TCP4:10.0.0.2:80",
		1202: "socat TCP6-LISTEN:8,fork,reuseaddr TCP6:[fd00::2]:8",
		1203: "socat TCP-LISTEN:443,fork,reuseaddr TCP:10.0.0.2:443",
	}}
	b := newPSSocat(table.runner())
	ctx := context.Background()

	res := b.Stop(ctx, 80)
	require.True(t, res.Success, res.Message)
	assert.Len(t, b.List(ctx), 2)

	res = b.StopAll(ctx)
	require.True(t, res.Success, res.Message)
	assert.Empty(t, table.procs)
}

func TestSocat_StopAllUnobservableFails(t *testing.T) {
	table := &psTable{procs: map[int]string{
		1201: "socat TCP-LISTEN:443,fork,reuseaddr TCP:10.0.0.2:443",
	}}
	r := table.runner()
	r.On("pkill", utils.Failed("pkill: killing pid 1201 failed: Operation not permitted"))
	table.psErr = "ps: cannot read /proc"
	b := newPSSocat(r)

	res := b.StopAll(context.Background())
	assert.True(t, res.Is(forward.StopVerificationFailed))
	assert.Contains(t, res.Message, "cannot verify")
	assert.Contains(t, res.Message, "ps: cannot read /proc")
}

func TestSocat_StopUnobservableAfterKillFails(t *testing.T) {
	table := &psTable{procs: map[int]string{
		1201: "socat TCP-LISTEN:443,fork,reuseaddr TCP:10.0.0.2:443",
	}}
	r := table.runner()
	r.OnFunc("pkill", func(string) utils.Outcome {
		table.mu.Lock()
		defer table.mu.Unlock()
		table.psErr = "ps: cannot read /proc"
		return utils.Failed("pkill: killing pid 1201 failed: Operation not permitted")
	})
	b := newPSSocat(r)

	res := b.Stop(context.Background(), 443)
	assert.True(t, res.Is(forward.StopVerificationFailed))
	assert.Contains(t, res.Message, "cannot verify")
}

func TestSocat_StartUnobservableDoesNotLaunch(t *testing.T) {
	table := &psTable{procs: map[int]string{}, psErr: "ps: cannot read /proc"}
	r := table.runner()
	b := newPSSocat(r)

	res := b.Start(context.Background(), rule(443, "10.0.0.2", 443))
	assert.True(t, res.Is(forward.CommandFailed))
	assert.False(t, r.Ran("nohup"))
	assert.Empty(t, b.List(context.Background()))
}
