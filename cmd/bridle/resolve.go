package main

import (
	"fmt"
	"io"

	"bridle/internal/backend"
	"bridle/internal/console"
	"bridle/pkg/eventlog"

	"github.com/spf13/cobra"
)

func newResolveCmd(stdout, stderr io.Writer) *cobra.Command {
	var backends []string

	resolveCmd := &cobra.Command{
		Use:   "resolve results.jsonl",
		Short: "Print the results of an existing results file",
		Long: `Read a results file, for example one kept with "bridle run --keep-log", and print its
results. Tests that started but never finished are reported as failed.

With --backend the raw events are uploaded as after a run. Exits with status 1 if any test
failed.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			events, err := eventlog.ReadAll(args[0])
			if err != nil {
				return err
			}
			results := eventlog.Resolve(events)
			console.PrintResults(stdout, results, useColor(stdout))

			if len(backends) > 0 && len(events) > 0 {
				bs, err := backend.NewAll(backends, backend.Options{})
				if err != nil {
					return err
				}
				if failed := backend.UploadAll(cmd.Context(), bs, events); len(failed) > 0 {
					fmt.Fprintf(stderr, "Upload failed for: %v\n", failed)
				}
			}

			for _, r := range results {
				if r.Outcome.IsFailure() {
					return exitCodeError{code: 1}
				}
			}
			return nil
		},
	}

	resolveCmd.Flags().StringSliceVarP(&backends, "backend", "b", nil, fmt.Sprintf("Upload the events to these backend(s) %v", backend.Names()))
	return resolveCmd
}
