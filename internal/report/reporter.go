package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	pkgstrings "robottelo/pkg/strings"
)

// Reporter receives run progress. Implementations must be safe for
// concurrent use; workers report items as they finish.
type Reporter interface {
	ReportStart(info RunInfo)
	ReportItemResult(result ItemResult)
	ReportSuiteResult(suite SuiteResult)
}

// consoleReporter prints progress and a summary table.
type consoleReporter struct {
	mu         sync.Mutex
	out        io.Writer
	verbose    bool
	reportPath string
}

// NewConsoleReporter creates a reporter writing to out. When reportPath is
// set the suite is also saved as JSON there.
func NewConsoleReporter(out io.Writer, verbose bool, reportPath string) Reporter {
	if out == nil {
		out = os.Stdout
	}
	return &consoleReporter{out: out, verbose: verbose, reportPath: reportPath}
}

func (r *consoleReporter) ReportStart(info RunInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()

	fmt.Fprintf(r.out, "🧪 Starting robottelo session: %d items, %d workers\n", info.Items, info.Workers)
	if r.verbose {
		fmt.Fprintf(r.out, "   • Subset: %s\n", stringOrDefault(info.Subset, "all"))
		fmt.Fprintf(r.out, "   • Markers: %s\n", stringOrDefault(info.Markers, "none"))
		fmt.Fprintf(r.out, "   • Backend: %s\n", stringOrDefault(info.Backend, "rest"))
		fmt.Fprintf(r.out, "   • Fail fast: %t\n", info.FailFast)
	}
}

func (r *consoleReporter) ReportItemResult(result ItemResult) {
	if result.Outcome == Deselected && !r.verbose {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	fmt.Fprintf(r.out, "%s %s %s (%v)\n", Symbol(result.Outcome), result.Outcome, result.ID, result.Duration.Round(time.Millisecond))
	switch {
	case result.Error != "":
		fmt.Fprintf(r.out, "   %s\n", indent(result.Error, "   "))
	case result.Skip != nil:
		fmt.Fprintf(r.out, "   %s\n", result.Skip.Reason)
	case result.Reason != "" && r.verbose:
		fmt.Fprintf(r.out, "   %s\n", result.Reason)
	}
	for _, te := range result.TeardownErrors {
		fmt.Fprintf(r.out, "   ⚠️  teardown: %s\n", te)
	}
	if r.verbose {
		for _, line := range result.Logs {
			fmt.Fprintf(r.out, "   | %s\n", line)
		}
	}
}

func (r *consoleReporter) ReportSuiteResult(suite SuiteResult) {
	r.mu.Lock()
	defer r.mu.Unlock()

	fmt.Fprintf(r.out, "\n🏁 Session complete in %v\n", suite.Duration.Round(time.Millisecond))
	WriteSummary(r.out, suite)

	for _, te := range suite.TeardownErrors {
		fmt.Fprintf(r.out, "⚠️  teardown: %s\n", te)
	}
	switch {
	case suite.Interrupted:
		fmt.Fprintf(r.out, "\n🛑 Session interrupted\n")
	case suite.Success():
		fmt.Fprintf(r.out, "\n🎉 All tests passed!\n")
	default:
		fmt.Fprintf(r.out, "\n💔 Some tests failed\n")
	}

	if r.reportPath != "" {
		path, err := SaveJSON(r.reportPath, suite)
		if err != nil {
			fmt.Fprintf(r.out, "⚠️  Failed to save report: %v\n", err)
		} else {
			fmt.Fprintf(r.out, "📄 Report saved to: %s\n", path)
		}
	}
}

// WriteSummary renders the per-outcome counts as a table.
func WriteSummary(out io.Writer, suite SuiteResult) {
	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{text.FgHiCyan.Sprint("OUTCOME"), text.FgHiCyan.Sprint("COUNT")})
	for _, o := range Outcomes {
		n := suite.Count(o)
		if n == 0 && o != Passed {
			continue
		}
		t.AppendRow(table.Row{colorFor(o).Sprint(string(o)), n})
	}
	t.AppendFooter(table.Row{"TOTAL", suite.Total})
	t.Render()
}

// WriteItems renders one row per item.
func WriteItems(out io.Writer, items []ItemResult) {
	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"ITEM", "OUTCOME", "DURATION", "DETAIL"})
	for _, it := range items {
		detail := it.Error
		if detail == "" && it.Skip != nil {
			detail = it.Skip.Reason
		}
		if detail == "" {
			detail = it.Reason
		}
		t.AppendRow(table.Row{it.ID, colorFor(it.Outcome).Sprint(string(it.Outcome)), it.Duration.Round(time.Millisecond), pkgstrings.FirstLine(detail, pkgstrings.DefaultCellMaxLen)})
	}
	t.Render()
}

// SaveJSON writes the suite to path. A path without a .json extension is a
// directory that receives a timestamped file. The written path is returned.
func SaveJSON(path string, suite SuiteResult) (string, error) {
	if !strings.EqualFold(filepath.Ext(path), ".json") {
		if err := os.MkdirAll(path, 0755); err != nil {
			return "", fmt.Errorf("failed to create report directory: %w", err)
		}
		path = filepath.Join(path, fmt.Sprintf("robottelo-report-%s.json", time.Now().Format("20060102-150405")))
	} else if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return "", fmt.Errorf("failed to create report directory: %w", err)
		}
	}

	data, err := json.MarshalIndent(suite, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal report to JSON: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write report file: %w", err)
	}
	return path, nil
}

// Symbol returns the console symbol for an outcome.
func Symbol(o Outcome) string {
	switch o {
	case Passed:
		return "✅"
	case Failed:
		return "❌"
	case Skipped:
		return "⏭️"
	case Error:
		return "💥"
	case Deselected:
		return "➖"
	default:
		return "❓"
	}
}

func colorFor(o Outcome) text.Colors {
	switch o {
	case Passed:
		return text.Colors{text.FgGreen}
	case Failed, Error:
		return text.Colors{text.FgRed}
	case Skipped:
		return text.Colors{text.FgYellow}
	}
	return text.Colors{text.FgHiBlack}
}

func stringOrDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func indent(s, prefix string) string {
	return strings.ReplaceAll(strings.TrimRight(s, "\n"), "\n", "\n"+prefix)
}

const quietErrorMaxLen = 200

// NewQuietReporter creates a reporter that prints only the summary.
func NewQuietReporter(out io.Writer) Reporter {
	if out == nil {
		out = os.Stdout
	}
	return &quietReporter{out: out}
}

type quietReporter struct {
	mu  sync.Mutex
	out io.Writer
}

func (r *quietReporter) ReportStart(RunInfo) {}

func (r *quietReporter) ReportItemResult(result ItemResult) {
	if result.Outcome != Failed && result.Outcome != Error {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintf(r.out, "%s %s: %s\n", Symbol(result.Outcome), result.ID, pkgstrings.FirstLine(result.Error, quietErrorMaxLen))
}

func (r *quietReporter) ReportSuiteResult(suite SuiteResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintf(r.out, "%d passed, %d failed, %d errors, %d skipped, %d deselected in %v\n",
		suite.Passed, suite.Failed, suite.Errors, suite.Skipped, suite.Deselected, suite.Duration.Round(time.Millisecond))
}

// NewJSONReporter creates a reporter that writes only the final suite as
// JSON.
func NewJSONReporter(out io.Writer) Reporter {
	if out == nil {
		out = os.Stdout
	}
	return &jsonReporter{out: out}
}

type jsonReporter struct {
	out io.Writer
}

func (r *jsonReporter) ReportStart(RunInfo)         {}
func (r *jsonReporter) ReportItemResult(ItemResult) {}

func (r *jsonReporter) ReportSuiteResult(suite SuiteResult) {
	enc := json.NewEncoder(r.out)
	enc.SetIndent("", "  ")
	_ = enc.Encode(suite)
}

// Collector records everything it is given. Tests and embedding callers use
// it to inspect a run.
type Collector struct {
	mu    sync.Mutex
	Info  RunInfo
	Items []ItemResult
	Suite *SuiteResult
}

func (c *Collector) ReportStart(info RunInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Info = info
}

func (c *Collector) ReportItemResult(result ItemResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Items = append(c.Items, result)
}

func (c *Collector) ReportSuiteResult(suite SuiteResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Suite = &suite
}

// Multi fans out to several reporters.
func Multi(reporters ...Reporter) Reporter {
	return multiReporter(reporters)
}

type multiReporter []Reporter

func (m multiReporter) ReportStart(info RunInfo) {
	for _, r := range m {
		r.ReportStart(info)
	}
}

func (m multiReporter) ReportItemResult(result ItemResult) {
	for _, r := range m {
		r.ReportItemResult(result)
	}
}

func (m multiReporter) ReportSuiteResult(suite SuiteResult) {
	for _, r := range m {
		r.ReportSuiteResult(suite)
	}
}
