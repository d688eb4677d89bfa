package console

import (
	"bytes"
	"os"
	"strings"
	"testing"
	"time"

	"bridle/internal/monitor"
	"bridle/pkg/eventlog"

	"github.com/stretchr/testify/require"
)

func TestPrintResults_Empty(t *testing.T) {
	var buf bytes.Buffer
	PrintResults(&buf, nil, false)
	require.Equal(t, NoResults+"\n", buf.String())
}

func TestPrintResults_Summary(t *testing.T) {
	results := []eventlog.Finished{
		{NodeID: "t.py::a", Outcome: eventlog.OutcomePassed, Duration: 0.1},
		{NodeID: "t.py::b", Outcome: eventlog.OutcomePassed, Duration: 0.15},
		{NodeID: "t.py::c", Outcome: eventlog.OutcomeSkipped, Duration: 0.05},
	}

	var buf bytes.Buffer
	PrintResults(&buf, results, false)
	out := buf.String()

	require.True(t, strings.HasPrefix(out, SummaryTitle+"\n"), out)
	require.Contains(t, out, "passed")
	require.Contains(t, out, "skipped")
	require.NotContains(t, out, "failed")
	require.NotContains(t, out, "xpassed")
	require.Contains(t, out, "Total")
	require.Contains(t, out, "Duration")
	require.Contains(t, out, "0.30s")
	require.NotContains(t, out, "\x1b[")

	// passed comes before skipped
	require.Less(t, strings.Index(out, "passed"), strings.Index(out, "skipped"))
}

func TestPrintResults_FailureDetailsFirst(t *testing.T) {
	results := []eventlog.Finished{
		{NodeID: "t.py::ok", Outcome: eventlog.OutcomePassed},
		{NodeID: "t.py::boom", Outcome: eventlog.OutcomeFailed, FailureDetail: "AssertionError: 1 != 2"},
		{NodeID: "t.py::quiet", Outcome: eventlog.OutcomeError},
		{NodeID: "t.py::xf", Outcome: eventlog.OutcomeXFailed, FailureDetail: "expected"},
	}

	var buf bytes.Buffer
	PrintResults(&buf, results, false)
	out := buf.String()

	require.Contains(t, out, "t.py::boom")
	require.Contains(t, out, "AssertionError: 1 != 2")
	require.Less(t, strings.Index(out, "AssertionError"), strings.Index(out, "Test Results Summary"))
	// no panel without a detail, and none for non-failures
	require.NotContains(t, out, "t.py::quiet")
	require.NotContains(t, out, "expected")
}

func TestPrintResults_LongNodeIDIsNotWrapped(t *testing.T) {
	id := "tests/test_network.py::TestClient::test_reconnect"
	results := []eventlog.Finished{{NodeID: id, Outcome: eventlog.OutcomeFailed, FailureDetail: "boom"}}

	var buf bytes.Buffer
	PrintResults(&buf, results, false)
	out := buf.String()

	require.True(t, strings.HasPrefix(out, id+"\n"), out)
	require.Contains(t, out, "boom")
	require.Contains(t, out, SummaryTitle+"\n")
	require.Less(t, strings.Index(out, "boom"), strings.Index(out, SummaryTitle))
}

func TestPrintResults_Color(t *testing.T) {
	results := []eventlog.Finished{{NodeID: "t.py::a", Outcome: eventlog.OutcomeFailed, FailureDetail: "boom"}}

	var buf bytes.Buffer
	PrintResults(&buf, results, true)
	require.Contains(t, buf.String(), "\x1b[")
}

func TestPrintTimeout(t *testing.T) {
	var buf bytes.Buffer
	PrintTimeout(&buf, nil, false)
	require.Empty(t, buf.String())

	PrintTimeout(&buf, &monitor.TimeoutReport{
		Kind:   monitor.TimeoutPerTest,
		NodeID: "t.py::hang",
		Limit:  5 * time.Second,
	}, false)
	require.Equal(t, "Killed: test \"t.py::hang\" exceeded per-test timeout of 5.0s\n", buf.String())

	buf.Reset()
	PrintTimeout(&buf, &monitor.TimeoutReport{Kind: monitor.TimeoutTotal, Limit: 3 * time.Second}, false)
	require.Equal(t, "Killed: total run exceeded timeout of 3.0s\n", buf.String())
}

func TestUseColor_NoColor(t *testing.T) {
	t.Setenv("NO_COLOR", "1")
	f, err := os.CreateTemp(t.TempDir(), "out")
	require.NoError(t, err)
	defer f.Close()
	require.False(t, UseColor(f))
}
