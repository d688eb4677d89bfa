package backend

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"bridle/pkg/eventlog"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

const fixedStart = 1735689600.0

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

// recorder is an HTTP server that keeps every request body
type recorder struct {
	mu      sync.Mutex
	status  int
	bodies  [][]byte
	headers []http.Header
}

func newRecorder(t *testing.T, status int) (*recorder, *httptest.Server) {
	rec := &recorder{status: status}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		rec.mu.Lock()
		rec.bodies = append(rec.bodies, body)
		rec.headers = append(rec.headers, r.Header.Clone())
		rec.mu.Unlock()
		w.WriteHeader(rec.status)
	}))
	t.Cleanup(srv.Close)
	return rec, srv
}

func (r *recorder) requests() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.bodies)
}

func sampleEvents() []eventlog.Event {
	return []eventlog.Event{
		eventlog.Started{NodeID: "tests/test_a.py::test_ok", Start: fixedStart},
		eventlog.Finished{
			NodeID: "tests/test_a.py::test_ok", Outcome: eventlog.OutcomePassed, When: "call",
			Duration: 0.005, Start: fixedStart, Stop: fixedStart + 0.005,
			Location: eventlog.NewLocation("tests/test_a.py", 3, "test_ok"),
		},
		eventlog.Started{NodeID: "tests/test_a.py::TestX::test_crash", Start: fixedStart},
	}
}

func TestNew(t *testing.T) {
	for _, name := range []string{"stub", "buildkite", "mslci", " stub "} {
		b, err := New(name, Options{})
		require.NoError(t, err)
		require.NotNil(t, b)
	}

	_, err := New("s3", Options{})
	require.ErrorIs(t, err, ErrUnknownBackend)
	require.Contains(t, err.Error(), "buildkite, mslci, stub")
}

func TestNewAll(t *testing.T) {
	backends, err := NewAll([]string{"stub,buildkite", "mslci", ""}, Options{})
	require.NoError(t, err)
	require.Len(t, backends, 3)
	require.Equal(t, "stub", backends[0].Name())
	require.Equal(t, "buildkite", backends[1].Name())
	require.Equal(t, "mslci", backends[2].Name())

	_, err = NewAll([]string{"stub,nope"}, Options{})
	require.ErrorIs(t, err, ErrUnknownBackend)
}

type failingBackend struct{ calls int }

func (f *failingBackend) Name() string { return "failing" }

func (f *failingBackend) Upload(context.Context, []eventlog.Event) error {
	f.calls++
	return errors.New("network unreachable")
}

type countingBackend struct{ events int }

func (c *countingBackend) Name() string { return "counting" }

func (c *countingBackend) Upload(_ context.Context, events []eventlog.Event) error {
	c.events = len(events)
	return nil
}

func TestUploadAll_FailureDoesNotStopOthers(t *testing.T) {
	failing := &failingBackend{}
	counting := &countingBackend{}

	failed := UploadAll(context.Background(), []Backend{failing, &Stub{}, counting}, sampleEvents())

	require.Equal(t, []string{"failing"}, failed)
	require.Equal(t, 1, failing.calls)
	require.Equal(t, 3, counting.events)
}

func TestSplitNodeID(t *testing.T) {
	cases := []struct {
		nodeID, file, scope, name string
	}{
		{"tests/test_a.py::test_ok", "tests/test_a.py", "tests/test_a.py", "test_ok"},
		{"tests/test_a.py::TestClass::test_m", "tests/test_a.py", "TestClass", "test_m"},
		{"tests/test_a.py::test_p[1-2]", "tests/test_a.py", "tests/test_a.py", "test_p[1-2]"},
		{"standalone", "standalone", "standalone", "standalone"},
	}
	for _, c := range cases {
		file, scope, name := SplitNodeID(c.nodeID)
		require.Equal(t, c.file, file, c.nodeID)
		require.Equal(t, c.scope, scope, c.nodeID)
		require.Equal(t, c.name, name, c.nodeID)
	}
}

func TestDetectRunEnv(t *testing.T) {
	env := DetectRunEnv(envMap(map[string]string{
		"BUILDKITE_BUILD_ID":     "b-1",
		"BUILDKITE_BUILD_NUMBER": "42",
		"BUILDKITE_JOB_ID":       "j-1",
		"BUILDKITE_BRANCH":       "main",
		"BUILDKITE_COMMIT":       "abc",
		"BUILDKITE_MESSAGE":      "fix",
		"BUILDKITE_BUILD_URL":    "https://bk/1",
	}))
	require.Equal(t, RunEnv{CI: "buildkite", Key: "b-1", Number: "42", JobID: "j-1", Branch: "main", Commit: "abc", Message: "fix", URL: "https://bk/1"}, env)

	env = DetectRunEnv(envMap(map[string]string{
		"GITHUB_ACTION":     "run",
		"GITHUB_RUN_ID":     "99",
		"GITHUB_RUN_NUMBER": "7",
		"GITHUB_REF":        "refs/heads/main",
		"GITHUB_SHA":        "def",
		"GITHUB_SERVER_URL": "https://github.com",
		"GITHUB_REPOSITORY": "o/r",
	}))
	require.Equal(t, "github_actions", env.CI)
	require.Equal(t, "99-1", env.Key)
	require.Equal(t, "https://github.com/o/r/actions/runs/99", env.URL)

	env = DetectRunEnv(envMap(map[string]string{
		"CIRCLE_BUILD_NUM":   "5",
		"CIRCLE_WORKFLOW_ID": "wf",
		"CIRCLE_SHA1":        "123",
	}))
	require.Equal(t, "circleci", env.CI)
	require.Equal(t, "wf", env.Key)
	require.Equal(t, "123", env.Commit)

	env = DetectRunEnv(envMap(map[string]string{"CI_BUILD_ID": "g-1"}))
	require.Equal(t, RunEnv{CI: "generic", Key: "g-1"}, env)
}

func TestBuildkite_MissingTokenSkips(t *testing.T) {
	rec, srv := newRecorder(t, http.StatusAccepted)
	b := NewBuildkite(Options{BuildkiteURL: srv.URL, Getenv: envMap(nil)})

	require.NoError(t, b.Upload(context.Background(), sampleEvents()))
	require.Zero(t, rec.requests())
}

func TestBuildkite_EmptyEventsNoUpload(t *testing.T) {
	rec, srv := newRecorder(t, http.StatusAccepted)
	b := NewBuildkite(Options{BuildkiteURL: srv.URL, Getenv: envMap(map[string]string{"BUILDKITE_ANALYTICS_TOKEN": "tok"})})

	require.NoError(t, b.Upload(context.Background(), nil))
	require.Zero(t, rec.requests())
}

func TestBuildkite_Payload(t *testing.T) {
	rec, srv := newRecorder(t, http.StatusAccepted)
	b := NewBuildkite(Options{Getenv: envMap(map[string]string{
		"BUILDKITE_ANALYTICS_TOKEN":   "tok",
		"BUILDKITE_ANALYTICS_API_URL": srv.URL,
		"CI_BUILD_ID":                 "g-1",
	})})

	require.NoError(t, b.Upload(context.Background(), sampleEvents()))
	require.Equal(t, 1, rec.requests())
	require.Equal(t, `Token token="tok"`, rec.headers[0].Get("Authorization"))
	require.Equal(t, "application/json", rec.headers[0].Get("Content-Type"))

	var payload struct {
		Format string           `json:"format"`
		RunEnv map[string]any   `json:"run_env"`
		Data   []map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.bodies[0], &payload))
	require.Equal(t, "json", payload.Format)
	require.Equal(t, "generic", payload.RunEnv["CI"])
	require.Len(t, payload.Data, 2)

	ok := payload.Data[0]
	require.Equal(t, "passed", ok["result"])
	require.Equal(t, "tests/test_a.py", ok["scope"])
	require.Equal(t, "test_ok", ok["name"])
	require.Equal(t, "tests/test_a.py:3", ok["location"])
	require.NotContains(t, ok, "failure_reason")
	_, err := uuid.Parse(ok["id"].(string))
	require.NoError(t, err)
	history := ok["history"].(map[string]any)
	require.Equal(t, fixedStart, history["start_at"])

	crash := payload.Data[1]
	require.Equal(t, "failed", crash["result"])
	require.Equal(t, "TestX", crash["scope"])
	require.Equal(t, "test_crash", crash["name"])
	require.Nil(t, crash["location"])
	require.Equal(t, eventlog.CrashDetail, crash["failure_reason"])
	require.Len(t, crash["failure_expanded"], 1)
}

func TestBuildkite_OutcomeMapping(t *testing.T) {
	expected := map[eventlog.Outcome]string{
		eventlog.OutcomePassed:  "passed",
		eventlog.OutcomeFailed:  "failed",
		eventlog.OutcomeError:   "failed",
		eventlog.OutcomeSkipped: "skipped",
		eventlog.OutcomeXFailed: "skipped",
		eventlog.OutcomeXPassed: "passed",
	}
	for _, outcome := range eventlog.Outcomes {
		test := convertBuildkite(eventlog.Finished{NodeID: "t.py::a", Outcome: outcome, When: "call"})
		require.Equal(t, expected[outcome], test.Result, string(outcome))
	}

	failed := convertBuildkite(eventlog.Finished{NodeID: "t.py::a", Outcome: eventlog.OutcomeFailed, When: "call"})
	require.NotNil(t, failed.FailureReason)
	require.Empty(t, *failed.FailureReason)
	require.Empty(t, failed.FailureExpanded)
}

func TestBuildkite_Batching(t *testing.T) {
	rec, srv := newRecorder(t, http.StatusAccepted)
	b := NewBuildkite(Options{BuildkiteURL: srv.URL, Getenv: envMap(map[string]string{"BUILDKITE_ANALYTICS_TOKEN": "tok"})})

	var events []eventlog.Event
	for i := 0; i < 250; i++ {
		events = append(events, eventlog.Finished{NodeID: uuid.NewString(), Outcome: eventlog.OutcomePassed, When: "call"})
	}
	require.NoError(t, b.Upload(context.Background(), events))
	require.Equal(t, 3, rec.requests())
}

func TestBuildkite_HTTPErrorIsReturned(t *testing.T) {
	rec, srv := newRecorder(t, http.StatusInternalServerError)
	b := NewBuildkite(Options{BuildkiteURL: srv.URL, Getenv: envMap(map[string]string{"BUILDKITE_ANALYTICS_TOKEN": "tok"})})

	err := b.Upload(context.Background(), sampleEvents())
	require.Error(t, err)
	require.Contains(t, err.Error(), "500")
	require.Equal(t, 1, rec.requests())

	// UploadAll swallows it.
	failed := UploadAll(context.Background(), []Backend{b}, sampleEvents())
	require.Equal(t, []string{"buildkite"}, failed)
}

func TestBuildkite_Unreachable(t *testing.T) {
	_, srv := newRecorder(t, http.StatusAccepted)
	url := srv.URL
	srv.Close()

	b := NewBuildkite(Options{BuildkiteURL: url, Getenv: envMap(map[string]string{"BUILDKITE_ANALYTICS_TOKEN": "tok"})})
	require.Error(t, b.Upload(context.Background(), sampleEvents()))
}

func TestMslci_MissingURLSkips(t *testing.T) {
	m := NewMslci(Options{Getenv: envMap(nil)})
	require.NoError(t, m.Upload(context.Background(), sampleEvents()))
}

func TestMslci_Payload(t *testing.T) {
	rec, srv := newRecorder(t, http.StatusOK)
	m := NewMslci(Options{MslciURL: srv.URL, Getenv: envMap(map[string]string{
		"BUILDKITE_BUILD_ID": "b-1",
		"BUILDKITE_COMMIT":   "abc",
	})})

	require.NoError(t, m.Upload(context.Background(), sampleEvents()))
	require.Equal(t, 1, rec.requests())
	require.Empty(t, rec.headers[0].Get("Authorization"))

	var payload struct {
		RunEnv map[string]any   `json:"run_env"`
		Events []map[string]any `json:"events"`
	}
	require.NoError(t, json.Unmarshal(rec.bodies[0], &payload))
	require.Equal(t, "b-1", payload.RunEnv["key"])
	require.Equal(t, "abc", payload.RunEnv["commit_sha"])
	require.Equal(t, "buildkite", payload.RunEnv["ci"])
	require.NotContains(t, payload.RunEnv, "number")
	require.NotContains(t, payload.RunEnv, "message")

	require.Len(t, payload.Events, 2)
	require.Equal(t, "tests/test_a.py:3", payload.Events[0]["location"])
	require.NotContains(t, payload.Events[0], "type")
	require.Equal(t, "failed", payload.Events[1]["outcome"])
	require.Equal(t, eventlog.CrashDetail, payload.Events[1]["longrepr"])
}

func TestMslci_AuthHeader(t *testing.T) {
	rec, srv := newRecorder(t, http.StatusOK)
	m := NewMslci(Options{Getenv: envMap(map[string]string{
		"MSLCI_API_URL":   srv.URL,
		"MSLCI_API_TOKEN": "secret",
	})})

	require.NoError(t, m.Upload(context.Background(), sampleEvents()))
	require.Equal(t, `Token token="secret"`, rec.headers[0].Get("Authorization"))
}

func TestMslci_Batching(t *testing.T) {
	rec, srv := newRecorder(t, http.StatusOK)
	m := NewMslci(Options{MslciURL: srv.URL, Getenv: envMap(nil)})

	events := make([]eventlog.Event, 0, 5001)
	for i := 0; i < 5001; i++ {
		events = append(events, eventlog.Finished{NodeID: uuid.NewString(), Outcome: eventlog.OutcomeSkipped, When: "setup"})
	}
	require.NoError(t, m.Upload(context.Background(), events))
	require.Equal(t, 2, rec.requests())
}

func TestMslci_HTTPError(t *testing.T) {
	_, srv := newRecorder(t, http.StatusBadGateway)
	m := NewMslci(Options{MslciURL: srv.URL, Getenv: envMap(nil)})

	require.Error(t, m.Upload(context.Background(), sampleEvents()))
}
