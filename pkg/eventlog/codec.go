package eventlog

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrUnknownEventType is returned by Decode for a record whose "type" is not recognised
	ErrUnknownEventType = errors.New("unknown event type")

	// ErrMalformedEvent is returned by Decode for a record that is not valid JSON or lacks
	// required fields
	ErrMalformedEvent = errors.New("malformed event")
)

type startedRecord struct {
	Type Kind `json:"type"`
	Started
}

type finishedRecord struct {
	Type Kind `json:"type"`
	Finished
}

// Encode returns the single-line JSON form of e, without the trailing newline
func Encode(e Event) ([]byte, error) {
	switch ev := e.(type) {
	case Started:
		return json.Marshal(startedRecord{Type: KindStarted, Started: ev})
	case *Started:
		return json.Marshal(startedRecord{Type: KindStarted, Started: *ev})
	case Finished:
		return json.Marshal(finishedRecord{Type: KindFinished, Finished: ev})
	case *Finished:
		return json.Marshal(finishedRecord{Type: KindFinished, Finished: *ev})
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownEventType, e)
	}
}

// Decode parses one line produced by Encode. The returned Event is a Started or a Finished
// value. The "type" field is inspected first; the concrete record is only decoded once the
// kind is known.
func Decode(line []byte) (Event, error) {
	line = bytes.TrimSpace(line)

	var probe struct {
		Type Kind `json:"type"`
	}
	if err := json.Unmarshal(line, &probe); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	switch probe.Type {
	case KindStarted:
		var rec startedRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
		}
		if rec.NodeID == "" {
			return nil, fmt.Errorf("%w: missing nodeid", ErrMalformedEvent)
		}
		return rec.Started, nil

	case KindFinished:
		var rec finishedRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
		}
		if rec.NodeID == "" {
			return nil, fmt.Errorf("%w: missing nodeid", ErrMalformedEvent)
		}
		if !rec.Outcome.Valid() {
			return nil, fmt.Errorf("%w: invalid outcome %q", ErrMalformedEvent, rec.Outcome)
		}
		if rec.When == "" {
			return nil, fmt.Errorf("%w: missing when", ErrMalformedEvent)
		}
		return rec.Finished, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEventType, probe.Type)
	}
}
