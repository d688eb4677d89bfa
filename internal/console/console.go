// Package console prints resolved results and timeout messages for humans.
package console

import (
	"fmt"
	"io"
	"os"

	"bridle/internal/monitor"
	"bridle/pkg/eventlog"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"golang.org/x/term"
)

const (
	// NoResults is printed instead of the summary when a run produced no results
	NoResults = "No test results collected."

	SummaryTitle = "Test Results Summary"
)

var outcomeColors = map[eventlog.Outcome]text.Colors{
	eventlog.OutcomePassed:  {text.FgGreen},
	eventlog.OutcomeFailed:  {text.FgRed, text.Bold},
	eventlog.OutcomeSkipped: {text.FgYellow},
	eventlog.OutcomeError:   {text.FgRed, text.Bold},
	eventlog.OutcomeXFailed: {text.FgYellow},
	eventlog.OutcomeXPassed: {text.FgYellow, text.Bold},
}

// UseColor reports whether f is a terminal and NO_COLOR is unset
func UseColor(f *os.File) bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	return term.IsTerminal(int(f.Fd()))
}

// PrintResults writes the failure details followed by the summary table
func PrintResults(w io.Writer, results []eventlog.Finished, color bool) {
	if len(results) == 0 {
		fmt.Fprintln(w, paint(color, text.Colors{text.FgYellow}, NoResults))
		return
	}

	for _, r := range results {
		if !r.Outcome.IsFailure() || r.FailureDetail == "" {
			continue
		}
		printFailure(w, r, color)
		fmt.Fprintln(w)
	}

	printSummary(w, results, color)
}

func printFailure(w io.Writer, r eventlog.Finished, color bool) {
	// Headings go on their own line; a table title is wrapped to the width of the table.
	fmt.Fprintln(w, paint(color, text.Colors{text.FgRed, text.Bold}, r.NodeID))

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.AppendRow(table.Row{r.FailureDetail})
	t.Render()
}

func printSummary(w io.Writer, results []eventlog.Finished, color bool) {
	counts := make(map[eventlog.Outcome]int)
	var total float64
	for _, r := range results {
		counts[r.Outcome]++
		total += r.Duration
	}

	fmt.Fprintln(w, paint(color, text.Colors{text.Bold}, SummaryTitle))

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"Outcome", "Count"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 2, Align: text.AlignRight},
	})

	for _, outcome := range eventlog.Outcomes {
		n := counts[outcome]
		if n == 0 {
			continue
		}
		c := outcomeColors[outcome]
		t.AppendRow(table.Row{
			paint(color, c, string(outcome)),
			paint(color, c, fmt.Sprint(n)),
		})
	}

	t.AppendSeparator()
	t.AppendRow(table.Row{"Total", len(results)})
	t.AppendRow(table.Row{"Duration", fmt.Sprintf("%.2fs", total)})
	t.Render()
}

// PrintTimeout writes the user-facing message of a fired timeout. A nil report prints nothing.
func PrintTimeout(w io.Writer, r *monitor.TimeoutReport, color bool) {
	if r == nil {
		return
	}
	fmt.Fprintln(w, paint(color, text.Colors{text.FgRed, text.Bold}, r.Message()))
}

func paint(color bool, c text.Colors, s string) string {
	if !color || len(c) == 0 {
		return s
	}
	return c.Sprint(s)
}
