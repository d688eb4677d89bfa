package monitor

import (
	"fmt"
	"time"
)

// TimeoutKind tells which limit killed the child
type TimeoutKind string

const (
	TimeoutPerTest TimeoutKind = "test"
	TimeoutTotal   TimeoutKind = "total"
)

// TimeoutReport describes the limit that fired
type TimeoutReport struct {
	Kind    TimeoutKind
	NodeID  string // set for TimeoutPerTest only
	Limit   time.Duration
	Elapsed time.Duration
}

// Message is the line shown to the user after the kill
func (r *TimeoutReport) Message() string {
	if r.Kind == TimeoutPerTest {
		return fmt.Sprintf("Killed: test %q exceeded per-test timeout of %.1fs", r.NodeID, r.Limit.Seconds())
	}
	return fmt.Sprintf("Killed: total run exceeded timeout of %.1fs", r.Limit.Seconds())
}

// detail is the failure text recorded for a test that was still running at the kill. Both
// kinds report how long that test itself ran, not the run.
func (r *TimeoutReport) detail(ran time.Duration) string {
	if r.Kind == TimeoutPerTest {
		return PerTestTimeoutDetail(r.Limit, ran)
	}
	return TotalTimeoutDetail(r.Limit, ran)
}

func PerTestTimeoutDetail(limit, elapsed time.Duration) string {
	return fmt.Sprintf("Killed: exceeded per-test timeout of %.1fs (ran %.1fs)", limit.Seconds(), elapsed.Seconds())
}

func TotalTimeoutDetail(limit, elapsed time.Duration) string {
	return fmt.Sprintf("Killed: total run exceeded timeout of %.1fs (elapsed %.1fs)", limit.Seconds(), elapsed.Seconds())
}

// UnreadableLogDetail is recorded for tests still running when the event log stopped being
// readable
const UnreadableLogDetail = "Killed: event log could not be read"

// InterruptedDetail is recorded for tests still running when the run was cancelled
const InterruptedDetail = "Killed: run interrupted before a result was received"
