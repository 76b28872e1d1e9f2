package procscan

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v4/process"

	"fwdctl/internal/forward"
	"fwdctl/internal/utils"
	"fwdctl/pkg/logging"
)

// DefaultTool is the executable name of the process-per-port forwarder.
const DefaultTool = "socat"

// Scanner reports the forwarders currently present in the process table.
// Both methods are side-effect free and read live state on every call. An
// error means the table could not be read, never that it is empty.
type Scanner interface {
	List(ctx context.Context) ([]forward.RuntimeStatus, error)
	IsForwarded(ctx context.Context, port int) (bool, error)
}

// Kind selects a Scanner implementation.
type Kind string

const (
	KindPS     Kind = "ps"
	KindNative Kind = "native"
)

// New returns the scanner of the given kind. An empty kind selects ps.
func New(kind Kind, runner utils.Runner, tool string) (Scanner, error) {
	switch Kind(strings.ToLower(string(kind))) {
	case "", KindPS:
		return NewPSScanner(runner, tool), nil
	case KindNative:
		return NewNativeScanner(tool), nil
	default:
		return nil, fmt.Errorf("unknown process scanner %q (want ps or native)", kind)
	}
}

// PSScanner reads the process table by running ps.
type PSScanner struct {
	runner  utils.Runner
	tool    string
	timeout time.Duration
}

// NewPSScanner returns a PSScanner using runner.
func NewPSScanner(runner utils.Runner, tool string) *PSScanner {
	if tool == "" {
		tool = DefaultTool
	}
	return &PSScanner{runner: runner, tool: tool}
}

func (s *PSScanner) List(ctx context.Context) ([]forward.RuntimeStatus, error) {
	out := s.runner.Run(ctx, "ps -eo pid=,ppid=,args=", s.timeout)
	if !out.Succeeded {
		logging.Debug("ProcScan", "ps failed: %s", out.Combined())
		return nil, fmt.Errorf("ps failed: %s", strings.TrimSpace(out.Combined()))
	}
	return Fold(s.tool, ParsePS(out.Stdout)), nil
}

func (s *PSScanner) IsForwarded(ctx context.Context, port int) (bool, error) {
	statuses, err := s.List(ctx)
	if err != nil {
		return false, err
	}
	return containsPort(statuses, port), nil
}

// NativeScanner reads the process table through gopsutil.
type NativeScanner struct {
	tool string
}

// NewNativeScanner returns a NativeScanner.
func NewNativeScanner(tool string) *NativeScanner {
	if tool == "" {
		tool = DefaultTool
	}
	return &NativeScanner{tool: tool}
}

func (s *NativeScanner) List(ctx context.Context) ([]forward.RuntimeStatus, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing processes failed: %w", err)
	}

	var table []Process
	for _, p := range procs {
		// Processes can exit between listing and inspection.
		cmdline, err := p.CmdlineWithContext(ctx)
		if err != nil || !strings.Contains(cmdline, s.tool) {
			continue
		}
		ppid, err := p.PpidWithContext(ctx)
		if err != nil {
			continue
		}
		table = append(table, Process{PID: int(p.Pid), PPID: int(ppid), Args: cmdline})
	}
	return Fold(s.tool, table), nil
}

func (s *NativeScanner) IsForwarded(ctx context.Context, port int) (bool, error) {
	statuses, err := s.List(ctx)
	if err != nil {
		return false, err
	}
	return containsPort(statuses, port), nil
}
