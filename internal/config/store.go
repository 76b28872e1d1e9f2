package config

import (
	"bytes"
	"fmt"
	"sync"

	"gopkg.in/yaml.v3"
	"k8s.io/apimachinery/pkg/util/sets"

	"fwdctl/internal/forward"
	"fwdctl/internal/utils"
	"fwdctl/pkg/logging"
)

// FileStore persists the forward mode and declared forwards in the YAML
// configuration file. Every read goes back to the file so concurrent fwdctl
// invocations see each other's changes; writes replace the file atomically.
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore returns a store backed by the file at path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the backing file.
func (s *FileStore) Path() string {
	return s.path
}

// Load returns the merged configuration.
func (s *FileStore) Load() (FwdctlConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return LoadConfig(s.path)
}

// update applies fn to the file's own content, leaving unset defaults out of
// the written file.
func (s *FileStore) update(fn func(cfg *FwdctlConfig) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg, _, err := loadConfigFromFile(s.path)
	if err != nil {
		return fmt.Errorf("error loading config from %s: %w", s.path, err)
	}
	if err := fn(&cfg); err != nil {
		return err
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := utils.WriteFileAtomic(s.path, buf.Bytes(), 0o600); err != nil {
		return err
	}
	logging.Debug("Config", "wrote %s", s.path)
	return nil
}

// TunnelNames lists the configured tunnels in file order.
func (s *FileStore) TunnelNames() []string {
	cfg, err := s.Load()
	if err != nil {
		logging.Warn("Config", "%v", err)
		return nil
	}
	names := make([]string, 0, len(cfg.Tunnels))
	for _, t := range cfg.Tunnels {
		names = append(names, t.Name)
	}
	return names
}

// RemoteHost returns the forward target host of a tunnel.
func (s *FileStore) RemoteHost(tunnel string) (string, error) {
	cfg, err := s.Load()
	if err != nil {
		return "", err
	}
	t, ok := cfg.Tunnel(tunnel)
	if !ok {
		return "", fmt.Errorf("tunnel %q is not configured", tunnel)
	}
	if t.RemoteForwardHost == "" {
		return "", fmt.Errorf("tunnel %q has no remoteForwardHost", tunnel)
	}
	return t.RemoteForwardHost, nil
}

// RulesForTunnel returns the declared rules of one tunnel.
func (s *FileStore) RulesForTunnel(tunnel string) ([]forward.Rule, error) {
	cfg, err := s.Load()
	if err != nil {
		return nil, err
	}
	t, ok := cfg.Tunnel(tunnel)
	if !ok {
		return nil, fmt.Errorf("tunnel %q is not configured", tunnel)
	}
	return tunnelRules(t), nil
}

// DeclaredRules returns the declared rules of every tunnel.
func (s *FileStore) DeclaredRules() ([]forward.Rule, error) {
	cfg, err := s.Load()
	if err != nil {
		return nil, err
	}
	var rules []forward.Rule
	for i := range cfg.Tunnels {
		rules = append(rules, tunnelRules(&cfg.Tunnels[i])...)
	}
	return rules, nil
}

// SaveRules replaces the declared forwards of one tunnel. The remote host of
// each rule is implied by the tunnel and not stored.
func (s *FileStore) SaveRules(tunnel string, rules []forward.Rule) error {
	return s.update(func(cfg *FwdctlConfig) error {
		t, ok := cfg.Tunnel(tunnel)
		if !ok {
			return fmt.Errorf("tunnel %q is not configured", tunnel)
		}
		sorted := append([]forward.Rule(nil), rules...)
		forward.SortRules(sorted)
		t.Forwards = make([]ForwardEntry, 0, len(sorted))
		for _, r := range sorted {
			t.Forwards = append(t.Forwards, ForwardEntry{LocalPort: r.LocalPort, RemotePort: r.RemotePort})
		}
		return nil
	})
}

// UsedPorts returns the local ports declared by every tunnel except exceptTunnel.
func (s *FileStore) UsedPorts(exceptTunnel string) (sets.Set[int], error) {
	cfg, err := s.Load()
	if err != nil {
		return nil, err
	}
	used := sets.New[int]()
	for _, t := range cfg.Tunnels {
		if t.Name == exceptTunnel {
			continue
		}
		for _, f := range t.Forwards {
			used.Insert(f.LocalPort)
		}
	}
	return used, nil
}

// LoadMode returns the persisted forward mode.
func (s *FileStore) LoadMode() (forward.Mode, error) {
	cfg, err := s.Load()
	if err != nil {
		return forward.Disabled, err
	}
	return cfg.ForwardMode, nil
}

// SaveMode persists the forward mode.
func (s *FileStore) SaveMode(mode forward.Mode) error {
	return s.update(func(cfg *FwdctlConfig) error {
		cfg.ForwardMode = mode
		return nil
	})
}

func tunnelRules(t *TunnelDefinition) []forward.Rule {
	rules := make([]forward.Rule, 0, len(t.Forwards))
	for _, f := range t.Forwards {
		rules = append(rules, f.Rule(t.RemoteForwardHost))
	}
	return rules
}
