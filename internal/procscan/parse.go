package procscan

import (
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"fwdctl/internal/forward"
)

var (
	listenRe = regexp.MustCompile(`\bTCP[46]?-LISTEN:(\d+)`)
	remoteRe = regexp.MustCompile(`\bTCP[46]?:(\[[^\]]+\]|[^:,\s]+):(\d+)`)
)

// Process is one row of the process table.
type Process struct {
	PID  int
	PPID int
	Args string
}

// Forwarder is a parsed listener process.
type Forwarder struct {
	Process
	forward.Rule
}

// ParseArgs extracts the forwarding rule from a tool command line. ok is
// false when the command is not the tool or carries no listen address.
func ParseArgs(tool, args string) (rule forward.Rule, ok bool) {
	fields := strings.Fields(args)
	if len(fields) == 0 || filepath.Base(fields[0]) != tool {
		return forward.Rule{}, false
	}
	m := listenRe.FindStringSubmatch(args)
	if m == nil {
		return forward.Rule{}, false
	}
	port, err := strconv.Atoi(m[1])
	if err != nil || port < 1 || port > 65535 {
		return forward.Rule{}, false
	}
	rule.LocalPort = port

	if r := remoteRe.FindStringSubmatch(args); r != nil {
		if rp, err := strconv.Atoi(r[2]); err == nil {
			rule.RemoteHost = strings.Trim(r[1], "[]")
			rule.RemotePort = rp
		}
	}
	return rule, true
}

// ParsePS parses output of `ps -eo pid=,ppid=,args=`. Lines that do not
// parse are skipped.
func ParsePS(output string) []Process {
	var procs []Process
	for _, line := range strings.Split(output, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 3 {
			continue
		}
		pid, err := strconv.Atoi(fields[0])
		if err != nil {
			continue
		}
		ppid, err := strconv.Atoi(fields[1])
		if err != nil {
			continue
		}
		procs = append(procs, Process{PID: pid, PPID: ppid, Args: strings.Join(fields[2:], " ")})
	}
	return procs
}

// Fold turns a process table into runtime statuses. Tool processes whose
// parent is itself a listener are connection children and only increase the
// parent's session count.
func Fold(tool string, procs []Process) []forward.RuntimeStatus {
	parsed := make(map[int]Forwarder)
	for _, p := range procs {
		if rule, ok := ParseArgs(tool, p.Args); ok {
			parsed[p.PID] = Forwarder{Process: p, Rule: rule}
		}
	}

	sessions := make(map[int]int)
	var listeners []Forwarder
	for _, f := range parsed {
		if parent, ok := parsed[f.PPID]; ok && parent.LocalPort == f.LocalPort {
			sessions[f.PPID]++
			continue
		}
		listeners = append(listeners, f)
	}

	sort.Slice(listeners, func(i, j int) bool {
		if listeners[i].LocalPort != listeners[j].LocalPort {
			return listeners[i].LocalPort < listeners[j].LocalPort
		}
		return listeners[i].PID < listeners[j].PID
	})

	out := make([]forward.RuntimeStatus, 0, len(listeners))
	for _, l := range listeners {
		out = append(out, forward.RuntimeStatus{
			Rule:           l.Rule,
			Backend:        forward.ProcessBased,
			Running:        true,
			PID:            strconv.Itoa(l.PID),
			ActiveSessions: forward.IntPtr(sessions[l.PID]),
		})
	}
	return out
}

func containsPort(statuses []forward.RuntimeStatus, port int) bool {
	for _, s := range statuses {
		if s.LocalPort == port {
			return true
		}
	}
	return false
}
