package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"bridle/internal/backend"
	"bridle/internal/config"
	"bridle/internal/console"
	"bridle/internal/harness"
	"bridle/internal/logger"

	"github.com/spf13/cobra"
)

// interruptedExitCode is used when the run was cancelled by a signal
const interruptedExitCode = 130

type runFlags struct {
	configFile   string
	backends     []string
	testTimeout  time.Duration
	totalTimeout time.Duration
	pollInterval time.Duration
	killGrace    time.Duration
	pty          bool
	dir          string
	reportHTML   string
	metricsFile  string
	keepLog      bool
	buildkiteURL string
	mslciURL     string
}

func newRunCmd(stdout, stderr io.Writer) *cobra.Command {
	var f runFlags

	runCmd := &cobra.Command{
		Use:   "run [flags] [--] cmd [args...]",
		Short: "Run a test command under supervision",
		Long: `Run a test command under supervision.

The path of the results file is passed to the command in $` + harness.EnvResultsFile + `. The command
appends one JSON event per line to it (see "bridle event"). Tests that started but never
finished are reported as failed. When --test-timeout or --total-timeout is exceeded the whole
process tree is killed.

The exit status is the exit status of the command, or 128+signal if it was killed.`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, f)
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("log-level") && cfg.LogLevel != "" {
				logger.Init(cfg.LogLevel, stderr)
			}

			res, err := harness.Run(cmd.Context(), cfg, args, harness.Options{
				Stdin:  os.Stdin,
				Stdout: stdout,
				Stderr: stderr,
				Color:  useColor(stderr),
			})
			if err != nil {
				return err
			}

			if res.LogPath != "" {
				fmt.Fprintf(stderr, "Event log kept at %s\n", res.LogPath)
			}
			if res.Interrupted {
				return exitCodeError{code: interruptedExitCode}
			}
			if res.ExitCode != 0 {
				return exitCodeError{code: res.ExitCode}
			}
			return nil
		},
	}

	flags := runCmd.Flags()
	// Everything after the command name belongs to the command.
	flags.SetInterspersed(false)
	flags.StringVarP(&f.configFile, "config", "c", "", "YAML config file")
	flags.StringSliceVarP(&f.backends, "backend", "b", []string{config.DefaultBackend}, fmt.Sprintf("Upload backend(s), comma-separated %v", backend.Names()))
	flags.DurationVar(&f.testTimeout, "test-timeout", 0, "Kill the command if a single test runs longer than this (0 disables)")
	flags.DurationVar(&f.totalTimeout, "total-timeout", 0, "Kill the command if the whole run takes longer than this (0 disables)")
	flags.DurationVar(&f.pollInterval, "poll-interval", config.DefaultPollInterval, "How often the command and its results file are checked")
	flags.DurationVar(&f.killGrace, "kill-grace", config.DefaultKillGrace, "How long to wait for the exit status after a kill")
	flags.BoolVar(&f.pty, "pty", false, "Run the command on a pseudo-terminal")
	flags.StringVarP(&f.dir, "dir", "C", "", "Working directory of the command")
	flags.StringVar(&f.reportHTML, "report-html", "", "Write an HTML report to this file")
	flags.StringVar(&f.metricsFile, "metrics-file", "", "Write Prometheus metrics to this file")
	flags.BoolVar(&f.keepLog, "keep-log", false, "Keep the results file after the run")
	flags.StringVar(&f.buildkiteURL, "buildkite-url", "", "Buildkite Test Analytics upload URL")
	flags.StringVar(&f.mslciURL, "mslci-url", "", "MSLCI upload URL")

	return runCmd
}

// loadConfig applies the config file and then every flag given on the command line
func loadConfig(cmd *cobra.Command, f runFlags) (config.Config, error) {
	cfg := config.Default()
	if f.configFile != "" {
		var err error
		cfg, err = config.Load(f.configFile)
		if err != nil {
			return config.Config{}, err
		}
		slog.Debug("Loaded config", "path", f.configFile)
	}

	changed := cmd.Flags().Changed
	if changed("backend") {
		cfg.Backends = f.backends
	}
	if changed("test-timeout") {
		cfg.TestTimeout = f.testTimeout
	}
	if changed("total-timeout") {
		cfg.TotalTimeout = f.totalTimeout
	}
	if changed("poll-interval") {
		cfg.PollInterval = f.pollInterval
	}
	if changed("kill-grace") {
		cfg.KillGrace = f.killGrace
	}
	if changed("pty") {
		cfg.PTY = f.pty
	}
	if changed("dir") {
		cfg.Dir = f.dir
	}
	if changed("report-html") {
		cfg.ReportHTML = f.reportHTML
	}
	if changed("metrics-file") {
		cfg.MetricsFile = f.metricsFile
	}
	if changed("keep-log") {
		cfg.KeepLog = f.keepLog
	}
	if changed("buildkite-url") {
		cfg.Buildkite.APIURL = f.buildkiteURL
	}
	if changed("mslci-url") {
		cfg.Mslci.APIURL = f.mslciURL
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func useColor(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && console.UseColor(f)
}
