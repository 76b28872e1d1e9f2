package backends

import (
	"bufio"
	"bytes"
	"fmt"
	"net"
	"os"
	"regexp"
	"strconv"
	"strings"

	"k8s.io/apimachinery/pkg/util/sets"

	"fwdctl/internal/forward"
)

// ArtifactHeader identifies a configuration file rendered by fwdctl.
const ArtifactHeader = "# Managed by fwdctl. Manual edits are overwritten."

// ArtifactSettings are the global values rendered into the haproxy artifact.
type ArtifactSettings struct {
	PIDFile     string
	StatsSocket string
}

var (
	frontendRe = regexp.MustCompile(`^frontend\s+fwd_(\d+)\s*$`)
	backendRe  = regexp.MustCompile(`^backend\s+fwd_(\d+)_backend\s*$`)
	serverRe   = regexp.MustCompile(`^server\s+\S+\s+(\S+)`)
	sectionRe  = regexp.MustCompile(`^(global|defaults|frontend|backend|listen|resolvers|peers|userlist)\b`)
)

// RenderArtifact renders a complete haproxy configuration for rules. The
// output is a pure function of its inputs: rules are emitted in local-port
// order so the same rule set always yields the same bytes.
func RenderArtifact(rules []forward.Rule, s ArtifactSettings) []byte {
	sorted := append([]forward.Rule(nil), rules...)
	forward.SortRules(sorted)

	var b bytes.Buffer
	b.WriteString(ArtifactHeader + "\n")
	b.WriteString("global\n")
	b.WriteString("    log /dev/log local0\n")
	b.WriteString("    maxconn 4096\n")
	if s.PIDFile != "" {
		fmt.Fprintf(&b, "    pidfile %s\n", s.PIDFile)
	}
	if s.StatsSocket != "" {
		fmt.Fprintf(&b, "    stats socket %s mode 660 level admin\n", s.StatsSocket)
	}
	b.WriteString("\n")
	b.WriteString("defaults\n")
	b.WriteString("    mode tcp\n")
	b.WriteString("    log global\n")
	b.WriteString("    option tcplog\n")
	b.WriteString("    timeout connect 5s\n")
	b.WriteString("    timeout client 1h\n")
	b.WriteString("    timeout server 1h\n")

	for _, r := range sorted {
		fmt.Fprintf(&b, "\nfrontend fwd_%d\n", r.LocalPort)
		fmt.Fprintf(&b, "    bind *:%d\n", r.LocalPort)
		fmt.Fprintf(&b, "    default_backend fwd_%d_backend\n", r.LocalPort)
		fmt.Fprintf(&b, "\nbackend fwd_%d_backend\n", r.LocalPort)
		fmt.Fprintf(&b, "    server fwd_%d_target %s check\n", r.LocalPort, r.Target())
	}
	return b.Bytes()
}

// ParseArtifact extracts the rules of a rendered artifact. A rule needs both
// its frontend and its backend stanza; unpaired stanzas are ignored.
func ParseArtifact(data []byte) ([]forward.Rule, error) {
	frontends := sets.New[int]()
	targets := make(map[int]string)

	section := ""
	sectionPort := 0
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if sectionRe.MatchString(line) {
			section, sectionPort = "", 0
			if m := frontendRe.FindStringSubmatch(line); m != nil {
				section = "frontend"
				sectionPort, _ = strconv.Atoi(m[1])
				frontends.Insert(sectionPort)
			} else if m := backendRe.FindStringSubmatch(line); m != nil {
				section = "backend"
				sectionPort, _ = strconv.Atoi(m[1])
			}
			continue
		}
		if section == "backend" {
			if m := serverRe.FindStringSubmatch(line); m != nil {
				targets[sectionPort] = m[1]
			}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read haproxy configuration: %w", err)
	}

	var rules []forward.Rule
	for _, port := range sets.List(frontends) {
		addr, ok := targets[port]
		if !ok {
			continue
		}
		host, portStr, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, fmt.Errorf("backend fwd_%d_backend: invalid server address %q: %w", port, addr, err)
		}
		rp, err := strconv.Atoi(portStr)
		if err != nil {
			return nil, fmt.Errorf("backend fwd_%d_backend: invalid server port %q", port, portStr)
		}
		rules = append(rules, forward.Rule{LocalPort: port, RemoteHost: host, RemotePort: rp})
	}
	return rules, nil
}

// readArtifactRules parses the artifact at path. A missing file holds no rules.
func readArtifactRules(path string) ([]forward.Rule, bool, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read %s: %w", path, err)
	}
	rules, err := ParseArtifact(data)
	if err != nil {
		return nil, true, fmt.Errorf("%s: %w", path, err)
	}
	return rules, true, nil
}
