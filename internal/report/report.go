// Package report writes an HTML page describing a finished run.
package report

import (
	"fmt"
	"html"
	"os"
	"strings"
	"time"

	"bridle/internal/monitor"
	"bridle/internal/process"
	"bridle/pkg/eventlog"
)

// Summary is everything the report shows about one run
type Summary struct {
	Command  []string
	ExitCode int
	Started  time.Time
	Elapsed  time.Duration
	Timeout  *monitor.TimeoutReport
	Usage    process.Usage
	Results  []eventlog.Finished
}

const page = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>%s</title>
<style>
body { font-family: sans-serif; margin: 2em; }
table { border-collapse: collapse; }
th, td { border: 1px solid #ccc; padding: 0.3em 0.6em; text-align: left; }
pre { background: #f6f6f6; padding: 0.6em; overflow-x: auto; }
</style>
</head>
<body>
%s
</body>
</html>
`

// Write renders s and stores it at path
func Write(path string, s Summary) error {
	body := RenderToHTML(Markdown(s))
	doc := fmt.Sprintf(page, html.EscapeString("Test report: "+strings.Join(s.Command, " ")), body)
	if err := os.WriteFile(path, []byte(doc), 0644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}

// Markdown renders s as a markdown document
func Markdown(s Summary) string {
	var b strings.Builder

	b.WriteString("# Test report\n\n")
	if len(s.Command) > 0 {
		fmt.Fprintf(&b, "- Command: %s\n", inlineCode(strings.Join(s.Command, " ")))
	}
	if !s.Started.IsZero() {
		fmt.Fprintf(&b, "- Started: %s\n", s.Started.UTC().Format(time.RFC3339))
	}
	fmt.Fprintf(&b, "- Elapsed: %.2fs\n", s.Elapsed.Seconds())
	fmt.Fprintf(&b, "- Exit code: %d\n", s.ExitCode)
	if s.Timeout != nil {
		fmt.Fprintf(&b, "- Timeout: %s\n", escape(s.Timeout.Message()))
	}
	if s.Usage.Samples > 0 {
		fmt.Fprintf(&b, "- Peak memory: %.1f MB in %d processes\n", float64(s.Usage.PeakRSS)/1024/1024, s.Usage.PeakProcesses)
		fmt.Fprintf(&b, "- CPU time: %.2fs\n", s.Usage.CPUSeconds)
	}
	b.WriteString("\n")

	if len(s.Results) == 0 {
		b.WriteString("No test results collected.\n")
		return b.String()
	}

	counts := make(map[eventlog.Outcome]int)
	for _, r := range s.Results {
		counts[r.Outcome]++
	}

	b.WriteString("## Summary\n\n")
	b.WriteString("| Outcome | Count |\n|---|---:|\n")
	for _, outcome := range eventlog.Outcomes {
		if n := counts[outcome]; n > 0 {
			fmt.Fprintf(&b, "| %s | %d |\n", outcome, n)
		}
	}
	fmt.Fprintf(&b, "| Total | %d |\n\n", len(s.Results))

	b.WriteString("## Results\n\n")
	b.WriteString("| Test | Outcome | Phase | Duration |\n|---|---|---|---:|\n")
	for _, r := range s.Results {
		fmt.Fprintf(&b, "| %s | %s | %s | %.3fs |\n", escape(r.NodeID), r.Outcome, escape(r.When), r.Duration)
	}
	b.WriteString("\n")

	var failures []eventlog.Finished
	for _, r := range s.Results {
		if r.Outcome.IsFailure() && r.FailureDetail != "" {
			failures = append(failures, r)
		}
	}
	if len(failures) > 0 {
		b.WriteString("## Failures\n\n")
		for _, r := range failures {
			fmt.Fprintf(&b, "### %s\n\n", escape(r.NodeID))
			b.WriteString(fenced(r.FailureDetail))
			for _, sec := range r.Sections {
				fmt.Fprintf(&b, "**%s**\n\n", escape(sec.Title))
				b.WriteString(fenced(sec.Body))
			}
		}
	}

	return b.String()
}

const specialChars = "\\`*_{}[]()#+-.!|<>~&"

// escape makes s render as literal text
func escape(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r == '\n' {
			b.WriteByte(' ')
			continue
		}
		if strings.ContainsRune(specialChars, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

func inlineCode(s string) string {
	fence := strings.Repeat("`", longestRun(s, '`')+1)
	return fence + " " + s + " " + fence
}

// fenced wraps s in a code fence longer than any backtick run inside it
func fenced(s string) string {
	fence := strings.Repeat("`", max(3, longestRun(s, '`')+1))
	return fence + "\n" + strings.TrimRight(s, "\n") + "\n" + fence + "\n\n"
}

func longestRun(s string, c rune) int {
	longest, cur := 0, 0
	for _, r := range s {
		if r == c {
			cur++
			longest = max(longest, cur)
		} else {
			cur = 0
		}
	}
	return longest
}
