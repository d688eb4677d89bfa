package backend

import (
	"context"
	"log/slog"

	"bridle/pkg/eventlog"
)

// Stub logs what it would upload
type Stub struct{}

func (*Stub) Name() string { return "stub" }

func (*Stub) Upload(_ context.Context, events []eventlog.Event) error {
	started, finished := eventlog.Counts(events)
	slog.Info("StubBackend: would upload events", "events", len(events), "started", started, "finished", finished)
	return nil
}
