package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"bridle/pkg/eventlog"

	"github.com/google/uuid"
)

const (
	DefaultBuildkiteURL = "https://analytics-api.buildkite.com/v1/uploads"
	buildkiteBatchSize  = 100
)

var buildkiteResults = map[eventlog.Outcome]string{
	eventlog.OutcomePassed:  "passed",
	eventlog.OutcomeFailed:  "failed",
	eventlog.OutcomeError:   "failed",
	eventlog.OutcomeSkipped: "skipped",
	eventlog.OutcomeXFailed: "skipped",
	eventlog.OutcomeXPassed: "passed",
}

// Buildkite uploads results to Buildkite Test Analytics
type Buildkite struct {
	url    string
	client *http.Client
	getenv func(string) string
}

func NewBuildkite(opts Options) *Buildkite {
	opts = opts.withDefaults()
	return &Buildkite{url: opts.BuildkiteURL, client: opts.HTTPClient, getenv: opts.Getenv}
}

func (*Buildkite) Name() string { return "buildkite" }

type buildkiteHistory struct {
	StartAt  float64 `json:"start_at"`
	EndAt    float64 `json:"end_at"`
	Duration float64 `json:"duration"`
}

type buildkiteExpanded struct {
	Expanded string `json:"expanded"`
}

type buildkiteTest struct {
	ID              string              `json:"id"`
	Scope           string              `json:"scope"`
	Name            string              `json:"name"`
	Identifier      string              `json:"identifier"`
	Location        *string             `json:"location"`
	FileName        string              `json:"file_name"`
	Result          string              `json:"result"`
	History         buildkiteHistory    `json:"history"`
	FailureReason   *string             `json:"failure_reason,omitempty"`
	FailureExpanded []buildkiteExpanded `json:"failure_expanded,omitempty"`
}

type buildkitePayload struct {
	Format string          `json:"format"`
	RunEnv RunEnv          `json:"run_env"`
	Data   []buildkiteTest `json:"data"`
}

func (b *Buildkite) Upload(ctx context.Context, events []eventlog.Event) error {
	token := b.getenv("BUILDKITE_ANALYTICS_TOKEN")
	if token == "" {
		slog.Warn("BUILDKITE_ANALYTICS_TOKEN not set; skipping Buildkite upload")
		return nil
	}

	resolved := eventlog.Resolve(events)
	if len(resolved) == 0 {
		return nil
	}

	url := b.getenv("BUILDKITE_ANALYTICS_API_URL")
	if url == "" {
		url = b.url
	}
	if url == "" {
		url = DefaultBuildkiteURL
	}

	data := make([]buildkiteTest, 0, len(resolved))
	for _, f := range resolved {
		data = append(data, convertBuildkite(f))
	}

	runEnv := DetectRunEnv(b.getenv)
	headers := map[string]string{"Authorization": tokenHeader(token)}

	var errs []error
	for i, batch := range batches(data, buildkiteBatchSize) {
		payload := buildkitePayload{Format: "json", RunEnv: runEnv, Data: batch}
		if err := postJSON(ctx, b.client, url, headers, payload); err != nil {
			errs = append(errs, fmt.Errorf("batch %d: %w", i+1, err))
		}
	}
	return errors.Join(errs...)
}

func convertBuildkite(f eventlog.Finished) buildkiteTest {
	fileName, scope, name := SplitNodeID(f.NodeID)
	result := buildkiteResults[f.Outcome]

	test := buildkiteTest{
		ID:         uuid.NewString(),
		Scope:      scope,
		Name:       name,
		Identifier: f.NodeID,
		FileName:   fileName,
		Result:     result,
		History: buildkiteHistory{
			StartAt:  f.Start,
			EndAt:    f.Stop,
			Duration: f.Duration,
		},
	}
	if f.Location != nil {
		loc := f.Location.String()
		test.Location = &loc
	}
	if result == "failed" {
		reason := f.FailureDetail
		test.FailureReason = &reason
		if reason != "" {
			test.FailureExpanded = []buildkiteExpanded{{Expanded: reason}}
		}
	}
	return test
}

// SplitNodeID splits "file::scope::name" into its parts. A node id without a scope uses the
// file as scope.
func SplitNodeID(nodeID string) (fileName, scope, name string) {
	parts := strings.Split(nodeID, "::")
	fileName = parts[0]
	switch len(parts) {
	case 3:
		return fileName, parts[1], parts[2]
	case 2:
		return fileName, fileName, parts[1]
	default:
		return fileName, fileName, nodeID
	}
}
