// Package monitor supervises a running test process. It tails the event log the process
// writes, enforces per-test and total wall-clock limits, and kills the process when one is
// exceeded.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"bridle/pkg/eventlog"
)

const (
	DefaultPollInterval = 500 * time.Millisecond
	DefaultKillGrace    = 5 * time.Second

	// KilledExitCode is returned when the exit status cannot be collected after a kill
	KilledExitCode = -9

	// MaxTailFailures is how many ticks in a row the event log may fail to read before the
	// run is aborted. A log that does not exist yet is not a failure.
	MaxTailFailures = 10
)

// Process is the part of a child process the monitor needs
type Process interface {
	// Poll reports the exit code without blocking. exited is false while the process runs.
	Poll() (code int, exited bool)

	// Kill terminates the process forcibly
	Kill() error

	// Wait blocks until the process exits or timeout elapses
	Wait(timeout time.Duration) (int, error)
}

// Options configures a monitor run. Zero limits are disabled.
type Options struct {
	TestTimeout  time.Duration
	TotalTimeout time.Duration
	PollInterval time.Duration
	KillGrace    time.Duration
	Clock        Clock
}

func (o Options) withDefaults() Options {
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.KillGrace <= 0 {
		o.KillGrace = DefaultKillGrace
	}
	if o.Clock == nil {
		o.Clock = WallClock{}
	}
	return o
}

type activeUnit struct {
	started eventlog.Started
	since   time.Time
}

// activeUnits keeps the tests between Started and Finished in the order they started
type activeUnits struct {
	order []string
	units map[string]activeUnit
}

func newActiveUnits() *activeUnits {
	return &activeUnits{units: make(map[string]activeUnit)}
}

// add records a start. A repeated id keeps its position and takes the new start.
func (a *activeUnits) add(s eventlog.Started, now time.Time) {
	if _, ok := a.units[s.NodeID]; !ok {
		a.order = append(a.order, s.NodeID)
	}
	a.units[s.NodeID] = activeUnit{started: s, since: now}
}

func (a *activeUnits) remove(id string) {
	if _, ok := a.units[id]; !ok {
		return
	}
	delete(a.units, id)
	for i, v := range a.order {
		if v == id {
			a.order = append(a.order[:i], a.order[i+1:]...)
			break
		}
	}
}

func (a *activeUnits) len() int {
	return len(a.order)
}

func (a *activeUnits) each(fn func(id string, unit activeUnit) bool) {
	for _, id := range a.order {
		if !fn(id, a.units[id]) {
			return
		}
	}
}

// Monitor watches one child process and its event log
type Monitor struct {
	proc         Process
	path         string
	opts         Options
	offset       int64
	active       *activeUnits
	tailFailures int
}

// New returns a Monitor for proc, which writes its events to path
func New(proc Process, path string, opts Options) *Monitor {
	return &Monitor{
		proc:   proc,
		path:   path,
		opts:   opts.withDefaults(),
		active: newActiveUnits(),
	}
}

// Run supervises the child until it exits or a limit is exceeded, and returns the exit code.
// The report is nil when the child exited by itself. When a limit fires the child is killed,
// a failed Finished event is appended to the log for every test that was still running, and
// the report names the limit.
//
// If ctx is cancelled the child is killed the same way, the report is nil and ctx.Err() is
// returned. Any other error means the event log could not be read or the synthesized events
// could not be written.
func (m *Monitor) Run(ctx context.Context) (int, *TimeoutReport, error) {
	clock := m.opts.Clock
	runStart := clock.Now()

	for {
		if code, exited := m.proc.Poll(); exited {
			slog.Debug("Child process exited", "exit_code", code, "still_active", m.active.len())
			return code, nil, nil
		}

		if err := ctx.Err(); err != nil {
			_ = m.tail(clock.Now())
			code, recErr := m.killAndRecord(func(time.Duration) string { return InterruptedDetail })
			if recErr != nil {
				return code, nil, recErr
			}
			return code, nil, err
		}

		now := clock.Now()
		if err := m.tail(now); err != nil {
			m.tailFailures++
			if m.tailFailures == 1 {
				slog.Warn("Failed to read event log", "path", m.path, "error", err)
			}
			if m.tailFailures >= MaxTailFailures {
				slog.Error("Event log unreadable, killing child process", "path", m.path, "ticks", m.tailFailures)
				code, recErr := m.killAndRecord(func(time.Duration) string { return UnreadableLogDetail })
				return code, nil, errors.Join(err, recErr)
			}
		} else {
			m.tailFailures = 0
		}

		if report := m.checkTimeouts(now, runStart); report != nil {
			slog.Error("Timeout exceeded, killing child process",
				"kind", report.Kind, "nodeid", report.NodeID,
				"limit", report.Limit, "elapsed", report.Elapsed)
			code, err := m.killAndRecord(report.detail)
			return code, report, err
		}

		clock.Sleep(ctx, m.opts.PollInterval)
	}
}

// tail applies the events appended since the last tick. A missing log yields no events and
// no error.
func (m *Monitor) tail(now time.Time) error {
	events, offset, err := eventlog.Tail(m.path, m.offset)
	if err != nil {
		return err
	}
	m.offset = offset

	for _, ev := range events {
		switch e := ev.(type) {
		case eventlog.Started:
			m.active.add(e, now)
		case eventlog.Finished:
			m.active.remove(e.NodeID)
		}
	}
	return nil
}

// checkTimeouts checks the per-test limit before the total limit, so a hanging test is
// reported as such even when both limits are reached on the same tick.
func (m *Monitor) checkTimeouts(now, runStart time.Time) *TimeoutReport {
	var report *TimeoutReport

	if limit := m.opts.TestTimeout; limit > 0 {
		m.active.each(func(id string, unit activeUnit) bool {
			elapsed := now.Sub(unit.since)
			if elapsed < limit {
				return true
			}
			report = &TimeoutReport{Kind: TimeoutPerTest, NodeID: id, Limit: limit, Elapsed: elapsed}
			return false
		})
		if report != nil {
			return report
		}
	}

	if limit := m.opts.TotalTimeout; limit > 0 {
		if elapsed := now.Sub(runStart); elapsed >= limit {
			return &TimeoutReport{Kind: TimeoutTotal, Limit: limit, Elapsed: elapsed}
		}
	}

	return nil
}

// killAndRecord kills the child, collects its exit code within the grace period and appends
// a failed result for every test still active.
func (m *Monitor) killAndRecord(detail func(ran time.Duration) string) (int, error) {
	if err := m.proc.Kill(); err != nil {
		slog.Warn("Failed to kill child process", "error", err)
	}

	code, err := m.proc.Wait(m.opts.KillGrace)
	if err != nil {
		slog.Warn("Child process did not report an exit status after kill", "grace", m.opts.KillGrace, "error", err)
		code = KilledExitCode
	}

	if m.active.len() == 0 {
		return code, nil
	}

	w, err := eventlog.OpenWriter(m.path)
	if err != nil {
		return code, fmt.Errorf("failed to record killed tests: %w", err)
	}
	defer func() { _ = w.Close() }()

	now := m.opts.Clock.Now()
	var appendErr error
	m.active.each(func(id string, unit activeUnit) bool {
		ran := now.Sub(unit.since)
		finished := eventlog.Finished{
			NodeID:        id,
			Outcome:       eventlog.OutcomeFailed,
			When:          "call",
			Duration:      ran.Seconds(),
			Start:         unit.started.Start,
			Stop:          unit.started.Start + ran.Seconds(),
			Location:      unit.started.Location,
			FailureDetail: detail(ran),
		}
		if err := w.Append(finished); err != nil {
			appendErr = fmt.Errorf("failed to record killed test %s: %w", id, err)
			return false
		}
		slog.Info("Recorded killed test as failed", "nodeid", id, "ran", ran)
		return true
	})
	return code, appendErr
}

// Run is a shorthand for New(proc, path, opts).Run(ctx)
func Run(ctx context.Context, proc Process, path string, opts Options) (int, *TimeoutReport, error) {
	return New(proc, path, opts).Run(ctx)
}
