package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"gopkg.in/yaml.v3"

	"fwdctl/internal/color"
	"fwdctl/internal/forward"
	"fwdctl/internal/managers"
)

// OutputFormat represents the output format for CLI commands
type OutputFormat string

const (
	OutputFormatTable OutputFormat = "table"
	OutputFormatJSON  OutputFormat = "json"
	OutputFormatYAML  OutputFormat = "yaml"
)

// ParseOutputFormat validates the --output flag.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch f := OutputFormat(strings.ToLower(s)); f {
	case OutputFormatTable, OutputFormatJSON, OutputFormatYAML:
		return f, nil
	case "":
		return OutputFormatTable, nil
	default:
		return "", fmt.Errorf("unsupported output format: %s (want table, json or yaml)", s)
	}
}

// PrinterOptions contains options for rendering command output
type PrinterOptions struct {
	Format OutputFormat
	Quiet  bool
}

// Printer renders forward results and observations for a terminal or for
// machines.
type Printer struct {
	out     io.Writer
	options PrinterOptions
}

// NewPrinter creates a printer writing to out, or stdout when out is nil.
func NewPrinter(out io.Writer, options PrinterOptions) *Printer {
	if out == nil {
		out = os.Stdout
	}
	if options.Format == "" {
		options.Format = OutputFormatTable
	}
	return &Printer{out: out, options: options}
}

// structured writes v as JSON or YAML. It reports false for table output.
func (p *Printer) structured(v interface{}) (bool, error) {
	switch p.options.Format {
	case OutputFormatJSON:
		enc := json.NewEncoder(p.out)
		enc.SetIndent("", "  ")
		return true, enc.Encode(v)
	case OutputFormatYAML:
		enc := yaml.NewEncoder(p.out)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return true, fmt.Errorf("failed to convert to YAML: %w", err)
		}
		return true, enc.Close()
	case OutputFormatTable:
		return false, nil
	default:
		return true, fmt.Errorf("unsupported output format: %s", p.options.Format)
	}
}

// Result prints the outcome of an operation and returns its error form, so
// commands exit non-zero on failure.
func (p *Printer) Result(r forward.Result) error {
	if done, err := p.structured(r); done {
		if err != nil {
			return err
		}
		return r.Err()
	}

	if r.Success {
		if !p.options.Quiet {
			for _, line := range strings.Split(r.Message, "\n") {
				fmt.Fprintln(p.out, resultLine(line, true))
			}
		}
		return nil
	}
	for _, line := range strings.Split(r.Message, "\n") {
		fmt.Fprintln(p.out, resultLine(line, false))
	}
	return r.Err()
}

// resultLine marks one line of a result message. Batch lines carry their
// own outcome.
func resultLine(line string, success bool) string {
	switch {
	case strings.Contains(line, ": ok: "):
		return color.Success("✓ " + line)
	case strings.Contains(line, ": failed: "):
		return color.Error("✗ " + line)
	case strings.HasSuffix(line, " failed") && strings.Contains(line, " succeeded, "):
		return color.Muted(line)
	case success:
		return color.Success("✓ " + line)
	default:
		return color.Error("✗ " + line)
	}
}

// Mode prints the active forward mode.
func (p *Printer) Mode(mode forward.Mode) error {
	if done, err := p.structured(map[string]string{"mode": mode.String(), "description": mode.Describe()}); done {
		return err
	}
	fmt.Fprintf(p.out, "%s %s\n", text.FgHiBlue.Sprint("Forward mode:"), mode.Describe())
	return nil
}

// Forwards prints the runtime status of each forward.
func (p *Printer) Forwards(statuses []forward.RuntimeStatus) error {
	if statuses == nil {
		statuses = []forward.RuntimeStatus{}
	}
	if done, err := p.structured(statuses); done {
		return err
	}
	if len(statuses) == 0 {
		fmt.Fprintln(p.out, text.FgYellow.Sprint("No forwards found"))
		return nil
	}
	p.forwardTable(statuses)
	return nil
}

func (p *Printer) forwardTable(statuses []forward.RuntimeStatus) {
	t := table.NewWriter()
	t.SetOutputMirror(p.out)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{
		text.FgHiCyan.Sprint("PORT"),
		text.FgHiCyan.Sprint("REMOTE TARGET"),
		text.FgHiCyan.Sprint("STATUS"),
		text.FgHiCyan.Sprint("SESSIONS"),
		text.FgHiCyan.Sprint("PID"),
	})
	for _, st := range statuses {
		t.AppendRow(table.Row{
			st.LocalPort,
			st.Target(),
			formatRunning(st.Running),
			formatSessions(st.ActiveSessions),
			formatOptional(st.PID),
		})
	}
	t.Render()
}

// Summary prints the status of the active backend.
func (p *Printer) Summary(s forward.Summary) error {
	if s.Forwards == nil {
		s.Forwards = []forward.RuntimeStatus{}
	}
	if done, err := p.structured(s); done {
		return err
	}
	fmt.Fprintf(p.out, "%s %s\n", text.FgHiBlue.Sprint("Forward mode:"), s.Mode.Describe())
	if s.Mode == forward.Disabled {
		fmt.Fprintln(p.out, color.Muted("Forwarding is disabled"))
		return nil
	}
	state := color.Warning("inactive")
	if s.Active {
		state = color.Success("active")
	}
	fmt.Fprintf(p.out, "%s %s, %d running\n", text.FgHiBlue.Sprint("Backend:"), state, s.ForwardCount)
	if len(s.Forwards) > 0 {
		p.forwardTable(s.Forwards)
	}
	return nil
}

// Rules prints declared rules.
func (p *Printer) Rules(rules []forward.Rule) error {
	if rules == nil {
		rules = []forward.Rule{}
	}
	if done, err := p.structured(rules); done {
		return err
	}
	if len(rules) == 0 {
		fmt.Fprintln(p.out, text.FgYellow.Sprint("No forwards declared"))
		return nil
	}
	t := table.NewWriter()
	t.SetOutputMirror(p.out)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{text.FgHiCyan.Sprint("PORT"), text.FgHiCyan.Sprint("REMOTE TARGET")})
	for _, r := range rules {
		t.AppendRow(table.Row{r.LocalPort, r.Target()})
	}
	t.Render()
	return nil
}

// Report prints a reconcile pass and returns the error form of its result.
func (p *Printer) Report(report managers.ReconcileReport, r forward.Result) error {
	if done, err := p.structured(struct {
		Report managers.ReconcileReport `json:"report" yaml:"report"`
		Result forward.Result           `json:"result" yaml:"result"`
	}{report, r}); done {
		if err != nil {
			return err
		}
		return r.Err()
	}

	if report.Clean() && len(report.Repairs.Items) == 0 {
		fmt.Fprintln(p.out, color.Success("✓ "+r.Message))
		return r.Err()
	}

	t := table.NewWriter()
	t.SetOutputMirror(p.out)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{
		text.FgHiCyan.Sprint("PORT"),
		text.FgHiCyan.Sprint("STATE"),
		text.FgHiCyan.Sprint("DECLARED"),
		text.FgHiCyan.Sprint("OBSERVED"),
	})
	for _, m := range report.Missing {
		t.AppendRow(table.Row{m.LocalPort, color.Warning("missing"), m.Target(), color.Muted("-")})
	}
	for _, d := range report.Drifted {
		t.AppendRow(table.Row{d.Declared.LocalPort, color.Warning("drifted"), d.Declared.Target(), d.Observed.Target()})
	}
	for _, o := range report.Orphaned {
		t.AppendRow(table.Row{o.LocalPort, color.Error("orphaned"), color.Muted("-"), o.Target()})
	}
	if t.Length() > 0 {
		t.Render()
	}
	return p.Result(r)
}

func formatRunning(running bool) string {
	if running {
		return color.Success("running")
	}
	return color.Warning("stopped")
}

func formatSessions(n *int) string {
	if n == nil {
		return color.Muted("-")
	}
	return strconv.Itoa(*n)
}

func formatOptional(s string) string {
	if s == "" {
		return color.Muted("-")
	}
	return s
}
