package eventlog

import (
	"encoding/json"
	"fmt"
	"time"
)

// Kind is the discriminator written in the "type" field of every record
type Kind string

const (
	KindStarted  Kind = "test_started"
	KindFinished Kind = "test_finished"
)

// Outcome is the terminal classification of a test
type Outcome string

const (
	OutcomePassed  Outcome = "passed"
	OutcomeFailed  Outcome = "failed"
	OutcomeSkipped Outcome = "skipped"
	OutcomeError   Outcome = "error"
	OutcomeXFailed Outcome = "xfailed" // expected failure
	OutcomeXPassed Outcome = "xpassed" // unexpected pass
)

// Outcomes lists every outcome in display order
var Outcomes = []Outcome{
	OutcomePassed,
	OutcomeFailed,
	OutcomeSkipped,
	OutcomeError,
	OutcomeXFailed,
	OutcomeXPassed,
}

// Valid reports whether o is one of the known outcomes
func (o Outcome) Valid() bool {
	for _, known := range Outcomes {
		if o == known {
			return true
		}
	}
	return false
}

// IsFailure reports whether o should fail the run
func (o Outcome) IsFailure() bool {
	return o == OutcomeFailed || o == OutcomeError
}

// Event is either a Started or a Finished record
type Event interface {
	Kind() Kind
	UnitID() string
}

// Location points at the source of a test. Line is nil when unknown.
type Location struct {
	File   string
	Line   *int
	Domain string
}

// NewLocation returns a Location with a known line number
func NewLocation(file string, line int, domain string) *Location {
	return &Location{File: file, Line: &line, Domain: domain}
}

// String returns "file:line", or just "file" when the line is unknown
func (l Location) String() string {
	if l.Line == nil {
		return l.File
	}
	return fmt.Sprintf("%s:%d", l.File, *l.Line)
}

// MarshalJSON encodes the location as [file, line, domain]
func (l Location) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{l.File, l.Line, l.Domain})
}

// UnmarshalJSON decodes [file, line, domain] where line may be null
func (l *Location) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("location: %w", err)
	}
	if len(raw) != 3 {
		return fmt.Errorf("location: expected 3 elements, got %d", len(raw))
	}
	var loc Location
	if err := json.Unmarshal(raw[0], &loc.File); err != nil {
		return fmt.Errorf("location file: %w", err)
	}
	if err := json.Unmarshal(raw[1], &loc.Line); err != nil {
		return fmt.Errorf("location line: %w", err)
	}
	if err := json.Unmarshal(raw[2], &loc.Domain); err != nil {
		return fmt.Errorf("location domain: %w", err)
	}
	*l = loc
	return nil
}

// Section is one block of captured output, such as "Captured stdout call"
type Section struct {
	Title string
	Body  string
}

// MarshalJSON encodes the section as [title, body]
func (s Section) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]string{s.Title, s.Body})
}

// UnmarshalJSON decodes [title, body]
func (s *Section) UnmarshalJSON(data []byte) error {
	var pair [2]string
	if err := json.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("section: %w", err)
	}
	s.Title, s.Body = pair[0], pair[1]
	return nil
}

// Started is written by the child right before a test runs
type Started struct {
	NodeID   string    `json:"nodeid"`
	Start    float64   `json:"start"`
	Location *Location `json:"location,omitempty"`
}

func (Started) Kind() Kind { return KindStarted }

func (s Started) UnitID() string { return s.NodeID }

// Finished is written once a test has a result. The harness also synthesizes Finished records
// for tests that never reported one.
type Finished struct {
	NodeID          string    `json:"nodeid"`
	Outcome         Outcome   `json:"outcome"`
	When            string    `json:"when"`
	Duration        float64   `json:"duration"`
	Start           float64   `json:"start"`
	Stop            float64   `json:"stop"`
	Location        *Location `json:"location,omitempty"`
	FailureDetail   string    `json:"longrepr,omitempty"`
	Sections        []Section `json:"sections,omitempty"`
	ExpectedFailure string    `json:"wasxfail,omitempty"`
}

func (Finished) Kind() Kind { return KindFinished }

func (f Finished) UnitID() string { return f.NodeID }

// Timestamp converts t into the epoch seconds used by the start and stop fields
func Timestamp(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

// Time converts epoch seconds back into a time.Time
func Time(ts float64) time.Time {
	return time.Unix(0, int64(ts*float64(time.Second))).UTC()
}
