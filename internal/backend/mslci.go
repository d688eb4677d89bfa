package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"bridle/pkg/eventlog"
)

const mslciBatchSize = 5000

// Mslci uploads resolved results to an MSLCI server
type Mslci struct {
	url    string
	client *http.Client
	getenv func(string) string
}

func NewMslci(opts Options) *Mslci {
	opts = opts.withDefaults()
	return &Mslci{url: opts.MslciURL, client: opts.HTTPClient, getenv: opts.Getenv}
}

func (*Mslci) Name() string { return "mslci" }

// mslciRunEnv is the run environment in the field names the server expects
type mslciRunEnv struct {
	Key       string  `json:"key"`
	Branch    *string `json:"branch"`
	CommitSHA *string `json:"commit_sha"`
	JobID     *string `json:"job_id"`
	URL       *string `json:"url"`
	CI        *string `json:"ci"`
}

type mslciEvent struct {
	NodeID   string             `json:"nodeid"`
	Outcome  eventlog.Outcome   `json:"outcome"`
	When     string             `json:"when"`
	Duration float64            `json:"duration"`
	Start    float64            `json:"start"`
	Stop     float64            `json:"stop"`
	Location *string            `json:"location"`
	Longrepr *string            `json:"longrepr"`
	Sections []eventlog.Section `json:"sections"`
	WasXFail *string            `json:"wasxfail"`
}

type mslciPayload struct {
	RunEnv mslciRunEnv  `json:"run_env"`
	Events []mslciEvent `json:"events"`
}

func (m *Mslci) Upload(ctx context.Context, events []eventlog.Event) error {
	url := m.getenv("MSLCI_API_URL")
	if url == "" {
		url = m.url
	}
	if url == "" {
		slog.Warn("MSLCI_API_URL not set; skipping MSLCI upload")
		return nil
	}

	resolved := eventlog.Resolve(events)
	if len(resolved) == 0 {
		return nil
	}

	runEnv := toMslciRunEnv(DetectRunEnv(m.getenv))
	data := make([]mslciEvent, 0, len(resolved))
	for _, f := range resolved {
		data = append(data, convertMslci(f))
	}

	headers := map[string]string{}
	if token := m.getenv("MSLCI_API_TOKEN"); token != "" {
		headers["Authorization"] = tokenHeader(token)
	}

	var errs []error
	for i, batch := range batches(data, mslciBatchSize) {
		if err := postJSON(ctx, m.client, url, headers, mslciPayload{RunEnv: runEnv, Events: batch}); err != nil {
			errs = append(errs, fmt.Errorf("batch %d: %w", i+1, err))
		}
	}
	return errors.Join(errs...)
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func toMslciRunEnv(env RunEnv) mslciRunEnv {
	return mslciRunEnv{
		Key:       env.Key,
		Branch:    optional(env.Branch),
		CommitSHA: optional(env.Commit),
		JobID:     optional(env.JobID),
		URL:       optional(env.URL),
		CI:        optional(env.CI),
	}
}

func convertMslci(f eventlog.Finished) mslciEvent {
	ev := mslciEvent{
		NodeID:   f.NodeID,
		Outcome:  f.Outcome,
		When:     f.When,
		Duration: f.Duration,
		Start:    f.Start,
		Stop:     f.Stop,
		Longrepr: optional(f.FailureDetail),
		Sections: f.Sections,
		WasXFail: optional(f.ExpectedFailure),
	}
	if f.Location != nil {
		loc := f.Location.String()
		ev.Location = &loc
	}
	return ev
}
