package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"bridle/internal/harness"
	"bridle/pkg/eventlog"

	"github.com/spf13/cobra"
)

type eventFlags struct {
	log      string
	file     string
	line     int
	domain   string
	outcome  string
	when     string
	duration time.Duration
	detail   string
	xfail    string
}

// location returns nil unless --file was given. A zero --line means unknown.
func (f eventFlags) location() *eventlog.Location {
	if f.file == "" {
		return nil
	}
	loc := &eventlog.Location{File: f.file, Domain: f.domain}
	if f.line > 0 {
		line := f.line
		loc.Line = &line
	}
	return loc
}

func (f eventFlags) logPath() (string, error) {
	if f.log != "" {
		return f.log, nil
	}
	if path := os.Getenv(harness.EnvResultsFile); path != "" {
		return path, nil
	}
	return "", errors.New("no results file: use --log or run under \"bridle run\"")
}

func newEventCmd() *cobra.Command {
	var f eventFlags

	eventCmd := &cobra.Command{
		Use:   "event",
		Short: "Append an event to the results file",
		Long: `Append a test event to the results file.

This is for test commands that are not instrumented in Go, for example shell scripts:

  bridle event started test_login
  ./test_login.sh && outcome=passed || outcome=failed
  bridle event finished test_login --outcome $outcome

The results file defaults to $` + harness.EnvResultsFile + `.`,
	}

	startedCmd := &cobra.Command{
		Use:           "started id",
		Short:         "Record that a test started",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := f.logPath()
			if err != nil {
				return err
			}
			return eventlog.Append(path, eventlog.Started{
				NodeID:   args[0],
				Start:    eventlog.Timestamp(time.Now()),
				Location: f.location(),
			})
		},
	}

	finishedCmd := &cobra.Command{
		Use:           "finished id",
		Short:         "Record the result of a test",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			outcome := eventlog.Outcome(f.outcome)
			if !outcome.Valid() {
				return fmt.Errorf("invalid outcome %q, expected one of %v", f.outcome, eventlog.Outcomes)
			}
			if f.when == "" {
				return errors.New("--when must not be empty")
			}
			if f.duration < 0 {
				return fmt.Errorf("duration must not be negative: %s", f.duration)
			}
			path, err := f.logPath()
			if err != nil {
				return err
			}

			stop := time.Now()
			return eventlog.Append(path, eventlog.Finished{
				NodeID:          args[0],
				Outcome:         outcome,
				When:            f.when,
				Duration:        f.duration.Seconds(),
				Start:           eventlog.Timestamp(stop.Add(-f.duration)),
				Stop:            eventlog.Timestamp(stop),
				Location:        f.location(),
				FailureDetail:   f.detail,
				ExpectedFailure: f.xfail,
			})
		},
	}

	for _, c := range []*cobra.Command{startedCmd, finishedCmd} {
		c.Flags().StringVarP(&f.log, "log", "l", "", "Results file (default: $"+harness.EnvResultsFile+")")
		c.Flags().StringVar(&f.file, "file", "", "Source file of the test")
		c.Flags().IntVar(&f.line, "line", 0, "Line of the test in --file")
		c.Flags().StringVar(&f.domain, "domain", "", "Display name of the test")
	}
	finishedCmd.Flags().StringVarP(&f.outcome, "outcome", "o", string(eventlog.OutcomePassed), "One of passed, failed, skipped, error, xfailed, xpassed")
	finishedCmd.Flags().StringVar(&f.when, "when", "call", "Phase the result belongs to: setup, call or teardown")
	finishedCmd.Flags().DurationVarP(&f.duration, "duration", "d", 0, "How long the test ran")
	finishedCmd.Flags().StringVar(&f.detail, "detail", "", "Failure detail")
	finishedCmd.Flags().StringVar(&f.xfail, "xfail-reason", "", "Reason the failure was expected")

	eventCmd.AddCommand(startedCmd, finishedCmd)
	return eventCmd
}
