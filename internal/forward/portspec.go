package forward

import (
	"fmt"
	"strconv"
	"strings"
)

// PortMapping pairs a local listen port with the remote port it relays to.
type PortMapping struct {
	Local  int
	Remote int
}

// maxRangeSize bounds "A-B" expansion so a typo cannot declare thousands of
// listeners.
const maxRangeSize = 1024

// ParsePortSpec parses a comma separated list of items, each one of
// "P" (remote port P), "P:R" (remote port R) or "A-B" (each port to itself).
// Duplicated local ports are collapsed when they agree and rejected when they
// map to different remote ports.
func ParsePortSpec(spec string) ([]PortMapping, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, fmt.Errorf("port spec is empty")
	}

	var out []PortMapping
	seen := make(map[int]int)
	add := func(m PortMapping) error {
		if prev, ok := seen[m.Local]; ok {
			if prev != m.Remote {
				return fmt.Errorf("port %d mapped to both %d and %d", m.Local, prev, m.Remote)
			}
			return nil
		}
		seen[m.Local] = m.Remote
		out = append(out, m)
		return nil
	}

	for _, item := range strings.FieldsFunc(spec, func(r rune) bool { return r == ',' || r == ' ' }) {
		switch {
		case strings.Contains(item, ":"):
			parts := strings.SplitN(item, ":", 2)
			local, err := parsePort(parts[0])
			if err != nil {
				return nil, err
			}
			remote, err := parsePort(parts[1])
			if err != nil {
				return nil, err
			}
			if err := add(PortMapping{Local: local, Remote: remote}); err != nil {
				return nil, err
			}
		case strings.Contains(item, "-"):
			parts := strings.SplitN(item, "-", 2)
			start, err := parsePort(parts[0])
			if err != nil {
				return nil, err
			}
			end, err := parsePort(parts[1])
			if err != nil {
				return nil, err
			}
			if start > end {
				return nil, fmt.Errorf("invalid port range %d-%d", start, end)
			}
			if end-start+1 > maxRangeSize {
				return nil, fmt.Errorf("port range %d-%d exceeds %d ports", start, end, maxRangeSize)
			}
			for p := start; p <= end; p++ {
				if err := add(PortMapping{Local: p, Remote: p}); err != nil {
					return nil, err
				}
			}
		default:
			p, err := parsePort(item)
			if err != nil {
				return nil, err
			}
			if err := add(PortMapping{Local: p, Remote: p}); err != nil {
				return nil, err
			}
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no valid ports found in %q", spec)
	}
	return out, nil
}

// LocalPorts returns only the local side of a parsed spec.
func LocalPorts(spec string) ([]int, error) {
	mappings, err := ParsePortSpec(spec)
	if err != nil {
		return nil, err
	}
	ports := make([]int, 0, len(mappings))
	for _, m := range mappings {
		ports = append(ports, m.Local)
	}
	return ports, nil
}

func parsePort(s string) (int, error) {
	s = strings.TrimSpace(s)
	p, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid port %q", s)
	}
	if p < 1 || p > 65535 {
		return 0, fmt.Errorf("port %d out of range 1-65535", p)
	}
	return p, nil
}
