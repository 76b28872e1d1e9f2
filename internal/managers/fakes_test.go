package managers

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/stretchr/testify/mock"
	"k8s.io/apimachinery/pkg/util/sets"

	"fwdctl/internal/backends"
	"fwdctl/internal/forward"
)

// memoryStore is an in-memory ConfigStore.
type memoryStore struct {
	mu      sync.Mutex
	mode    forward.Mode
	order   []string
	hosts   map[string]string
	rules   map[string][]forward.Rule
	saveErr error
}

func newMemoryStore(mode forward.Mode) *memoryStore {
	return &memoryStore{mode: mode, hosts: map[string]string{}, rules: map[string][]forward.Rule{}}
}

func (s *memoryStore) addTunnel(name, host string, rules ...forward.Rule) *memoryStore {
	s.order = append(s.order, name)
	s.hosts[name] = host
	s.rules[name] = rules
	return s
}

func (s *memoryStore) TunnelNames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.order...)
}

func (s *memoryStore) RemoteHost(tunnel string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.hosts[tunnel]
	if !ok {
		return "", fmt.Errorf("tunnel %q not found", tunnel)
	}
	return h, nil
}

func (s *memoryStore) RulesForTunnel(tunnel string) ([]forward.Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]forward.Rule(nil), s.rules[tunnel]...), nil
}

func (s *memoryStore) DeclaredRules() ([]forward.Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var all []forward.Rule
	for _, n := range s.order {
		all = append(all, s.rules[n]...)
	}
	return all, nil
}

func (s *memoryStore) SaveRules(tunnel string, rules []forward.Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.rules[tunnel] = append([]forward.Rule(nil), rules...)
	return nil
}

func (s *memoryStore) UsedPorts(exceptTunnel string) (sets.Set[int], error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	used := sets.New[int]()
	for n, rules := range s.rules {
		if n == exceptTunnel {
			continue
		}
		for _, r := range rules {
			used.Insert(r.LocalPort)
		}
	}
	return used, nil
}

func (s *memoryStore) LoadMode() (forward.Mode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode, nil
}

func (s *memoryStore) SaveMode(mode forward.Mode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.mode = mode
	return nil
}

func (s *memoryStore) ports(tunnel string) []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ports []int
	for _, r := range s.rules[tunnel] {
		ports = append(ports, r.LocalPort)
	}
	sort.Ints(ports)
	return ports
}

// mockModeStore records persistence calls.
type mockModeStore struct {
	mock.Mock
}

func (m *mockModeStore) LoadMode() (forward.Mode, error) {
	args := m.Called()
	return args.Get(0).(forward.Mode), args.Error(1)
}

func (m *mockModeStore) SaveMode(mode forward.Mode) error {
	args := m.Called(mode)
	return args.Error(0)
}

// fakeBackend keeps its forwards in memory.
type fakeBackend struct {
	mu         sync.Mutex
	mode       forward.Mode
	running    map[int]forward.Rule
	stopAllErr bool
	failStart  map[int]forward.Kind
	calls      []string
}

func newFakeBackend(mode forward.Mode) *fakeBackend {
	return &fakeBackend{mode: mode, running: map[int]forward.Rule{}, failStart: map[int]forward.Kind{}}
}

func (b *fakeBackend) record(call string) {
	b.calls = append(b.calls, call)
}

func (b *fakeBackend) Mode() forward.Mode { return b.mode }

func (b *fakeBackend) Start(_ context.Context, r forward.Rule) forward.Result {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.record(fmt.Sprintf("start %d", r.LocalPort))
	if k, ok := b.failStart[r.LocalPort]; ok {
		return forward.Fail(k, "start %d failed", r.LocalPort)
	}
	if _, ok := b.running[r.LocalPort]; ok {
		return forward.Fail(forward.AlreadyForwarded, "port %d is already forwarded", r.LocalPort)
	}
	b.running[r.LocalPort] = r
	return forward.OK("started %d", r.LocalPort)
}

func (b *fakeBackend) Stop(_ context.Context, port int) forward.Result {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.record(fmt.Sprintf("stop %d", port))
	delete(b.running, port)
	return forward.OK("stopped %d", port)
}

func (b *fakeBackend) StopAll(context.Context) forward.Result {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.record("stopall")
	if b.stopAllErr {
		return forward.Fail(forward.StopVerificationFailed, "1 still running")
	}
	b.running = map[int]forward.Rule{}
	return forward.OK("stopped all")
}

func (b *fakeBackend) List(context.Context) []forward.RuntimeStatus {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []forward.RuntimeStatus
	for _, r := range b.running {
		out = append(out, forward.RuntimeStatus{Rule: r, Backend: b.mode, Running: true})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LocalPort < out[j].LocalPort })
	return out
}

func (b *fakeBackend) Status(ctx context.Context) forward.Summary {
	return forward.Summarize(b.mode, b.List(ctx))
}

func (b *fakeBackend) runningPorts() []int {
	b.mu.Lock()
	defer b.mu.Unlock()
	var ports []int
	for p := range b.running {
		ports = append(ports, p)
	}
	sort.Ints(ports)
	return ports
}

func (b *fakeBackend) called(call string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, c := range b.calls {
		if c == call {
			n++
		}
	}
	return n
}

// fakeDeclarative stages rules and applies them on reload.
type fakeDeclarative struct {
	*fakeBackend
	staged    map[int]forward.Rule
	reloadErr bool
	reloads   int
}

var _ backends.DeclarativeBackend = (*fakeDeclarative)(nil)

func newFakeDeclarative() *fakeDeclarative {
	return &fakeDeclarative{fakeBackend: newFakeBackend(forward.ProxyBased), staged: map[int]forward.Rule{}}
}

func (d *fakeDeclarative) AddRules(_ context.Context, rules []forward.Rule) forward.BatchResult {
	d.mu.Lock()
	defer d.mu.Unlock()
	var batch forward.BatchResult
	for _, r := range rules {
		if _, ok := d.staged[r.LocalPort]; ok {
			batch.Add(r.LocalPort, forward.Fail(forward.AlreadyForwarded, "staged"))
			continue
		}
		d.staged[r.LocalPort] = r
		batch.Add(r.LocalPort, forward.OK("staged"))
	}
	return batch
}

func (d *fakeDeclarative) RemoveRules(_ context.Context, ports []int) forward.BatchResult {
	d.mu.Lock()
	defer d.mu.Unlock()
	var batch forward.BatchResult
	for _, p := range ports {
		if _, ok := d.staged[p]; !ok {
			batch.Add(p, forward.Fail(forward.NotForwarded, "absent"))
			continue
		}
		delete(d.staged, p)
		batch.Add(p, forward.OK("unstaged"))
	}
	return batch
}

func (d *fakeDeclarative) ValidateAndReload(context.Context) forward.Result {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.reloads++
	if d.reloadErr {
		return forward.Fail(forward.ConfigValidationFailed, "[ALERT] bad config")
	}
	d.running = map[int]forward.Rule{}
	for p, r := range d.staged {
		d.running[p] = r
	}
	return forward.OK("reloaded")
}

func (d *fakeDeclarative) StagedRules() ([]forward.Rule, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []forward.Rule
	for _, r := range d.staged {
		out = append(out, r)
	}
	forward.SortRules(out)
	return out, nil
}

var errDiskFull = errors.New("no space left on device")
