package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"bridle/internal/logger"

	"github.com/spf13/cobra"
)

// exitCodeError makes the process exit with code. The message has already been shown.
type exitCodeError struct {
	code int
}

func (e exitCodeError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	var logLevel string

	rootCmd := &cobra.Command{
		Use:   "bridle",
		Short: "Bridle - supervised test runs",
		Long: `Bridle runs a test command as a child process, follows the events it appends to a
results file, kills it when a test or the whole run exceeds its time limit and reports a
complete set of results, even for tests that never finished.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logger.Init(logLevel, stderr)
		},
	}
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn or error (default: $"+logger.EnvLevel+" or warn)")

	rootCmd.AddCommand(newRunCmd(stdout, stderr))
	rootCmd.AddCommand(newResolveCmd(stdout, stderr))
	rootCmd.AddCommand(newEventCmd())
	return rootCmd
}

// execute runs the command line and returns the process exit status
func execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	rootCmd := newRootCmd(stdout, stderr)
	rootCmd.SetArgs(args)

	err := rootCmd.ExecuteContext(ctx)
	if err == nil {
		return 0
	}
	var exitErr exitCodeError
	if errors.As(err, &exitErr) {
		return exitStatus(exitErr.code)
	}
	fmt.Fprintln(stderr, "Error:", err)
	return 2
}

// exitStatus maps a child exit code to a process exit status. Children killed by a signal
// report the negated signal number, which becomes 128+signal as in a shell.
func exitStatus(code int) int {
	if code < 0 {
		return 128 - code
	}
	return code
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := execute(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}
