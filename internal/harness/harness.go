// Package harness runs one supervised test command from start to finish: it creates the
// event log, starts the child, monitors it, presents the resolved results and hands the raw
// events to the upload backends.
package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"bridle/internal/backend"
	"bridle/internal/config"
	"bridle/internal/console"
	"bridle/internal/metrics"
	"bridle/internal/monitor"
	"bridle/internal/process"
	"bridle/internal/report"
	"bridle/pkg/eventlog"
)

// EnvResultsFile tells the child where to append its events
const EnvResultsFile = "BRIDLE_RESULTS_FILE"

// Options are the streams and hooks of a run that do not come from the config file
type Options struct {
	Stdin  io.Reader
	Stdout io.Writer // child output
	Stderr io.Writer // child errors, timeout message and summary
	Color  bool

	// LogDir is where the event log is created; empty means the system temp dir
	LogDir string

	// Backends overrides the backends named in the config
	Backends []backend.Backend
}

// Result describes a finished run
type Result struct {
	ExitCode      int
	Timeout       *monitor.TimeoutReport
	Interrupted   bool
	Events        []eventlog.Event
	Results       []eventlog.Finished
	FailedUploads []string
	Usage         process.Usage

	// LogPath is only set when the log was kept
	LogPath string
}

// Run executes args under supervision. The returned error is only set when the run itself
// could not be carried out, e.g. the command could not be started or the log could not be
// written; test failures and timeouts are reported through Result.
func Run(ctx context.Context, cfg config.Config, args []string, opts Options) (*Result, error) {
	if len(args) == 0 {
		return nil, errors.New("no command given")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if opts.Stdout == nil {
		opts.Stdout = io.Discard
	}
	if opts.Stderr == nil {
		opts.Stderr = io.Discard
	}

	backends := opts.Backends
	if backends == nil {
		var err error
		backends, err = backend.NewAll(cfg.Backends, backend.Options{
			BuildkiteURL: cfg.Buildkite.APIURL,
			MslciURL:     cfg.Mslci.APIURL,
		})
		if err != nil {
			return nil, err
		}
	}

	logPath, err := createLog(opts.LogDir)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cfg.KeepLog {
			slog.Info("Keeping event log", "path", logPath)
			return
		}
		if err := os.Remove(logPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			slog.Warn("Failed to remove event log", "path", logPath, "error", err)
		}
	}()

	started := time.Now()
	child, err := process.Start(args, process.Options{
		Dir:    cfg.Dir,
		Env:    append(os.Environ(), EnvResultsFile+"="+logPath),
		Stdin:  opts.Stdin,
		Stdout: opts.Stdout,
		Stderr: opts.Stderr,
		PTY:    cfg.PTY,
	})
	if err != nil {
		return nil, err
	}

	res := &Result{}
	if cfg.KeepLog {
		res.LogPath = logPath
	}

	sampler := process.StartSampler(child.Pid(), cfg.PollInterval)
	code, timeout, err := monitor.Run(ctx, child, logPath, monitor.Options{
		TestTimeout:  cfg.TestTimeout,
		TotalTimeout: cfg.TotalTimeout,
		PollInterval: cfg.PollInterval,
		KillGrace:    cfg.KillGrace,
	})
	res.Usage = sampler.Stop()
	res.ExitCode = code
	res.Timeout = timeout
	switch {
	case err == nil:
	case ctx.Err() != nil && errors.Is(err, ctx.Err()):
		slog.Warn("Run interrupted", "error", err)
		res.Interrupted = true
	default:
		return res, err
	}
	elapsed := time.Since(started)

	console.PrintTimeout(opts.Stderr, timeout, opts.Color)

	res.Events, err = eventlog.ReadAll(logPath)
	if err != nil {
		return res, err
	}
	res.Results = eventlog.Resolve(res.Events)
	console.PrintResults(opts.Stderr, res.Results, opts.Color)

	if cfg.ReportHTML != "" {
		err := report.Write(cfg.ReportHTML, report.Summary{
			Command:  args,
			ExitCode: code,
			Started:  started,
			Elapsed:  elapsed,
			Timeout:  timeout,
			Usage:    res.Usage,
			Results:  res.Results,
		})
		if err != nil {
			slog.Warn("Failed to write HTML report", "path", cfg.ReportHTML, "error", err)
		}
	}

	if len(res.Events) > 0 && !res.Interrupted {
		res.FailedUploads = backend.UploadAll(ctx, backends, res.Events)
	}

	if cfg.MetricsFile != "" {
		rec := metrics.NewRecorder()
		rec.RecordResults(res.Results)
		rec.RecordRun(started, elapsed, code)
		rec.RecordTimeout(timeout)
		rec.RecordUsage(res.Usage)
		rec.RecordUploadFailures(res.FailedUploads)
		if err := rec.WriteTextfile(cfg.MetricsFile); err != nil {
			slog.Warn("Failed to write metrics", "path", cfg.MetricsFile, "error", err)
		}
	}

	return res, nil
}

func createLog(dir string) (string, error) {
	f, err := os.CreateTemp(dir, "bridle_*.jsonl")
	if err != nil {
		return "", fmt.Errorf("failed to create event log: %w", err)
	}
	path := f.Name()
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("failed to create event log: %w", err)
	}
	slog.Debug("Created event log", "path", path)
	return path, nil
}
