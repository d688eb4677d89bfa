package eventlog

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
)

// ReadAll reads every decodable event from path. A missing file yields an empty slice. Lines
// that fail to decode, such as a record truncated by a kill, are skipped with a warning.
func ReadAll(path string) ([]Event, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []Event{}, nil
		}
		return nil, fmt.Errorf("failed to read event log: %w", err)
	}

	events := []Event{}
	for i, line := range bytes.Split(data, []byte{'\n'}) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		event, err := Decode(line)
		if err != nil {
			slog.Warn("Skipping malformed event log line", "path", path, "line", i+1, "error", err)
			continue
		}
		events = append(events, event)
	}
	return events, nil
}

// Tail reads the events appended to path since offset. Only newline-terminated lines are
// consumed: the returned offset stops after the last complete line so that a record still
// being written is read again, whole, on the next call. A missing file, or one shorter than
// offset, yields no events and the unchanged offset. Lines that fail to decode are dropped.
func Tail(path string, offset int64) ([]Event, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, offset, nil
		}
		return nil, offset, fmt.Errorf("failed to open event log: %w", err)
	}
	defer func() { _ = f.Close() }()

	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return nil, offset, fmt.Errorf("failed to seek event log: %w", err)
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, offset, fmt.Errorf("failed to read event log: %w", err)
	}

	end := bytes.LastIndexByte(data, '\n')
	if end < 0 {
		return nil, offset, nil
	}

	var events []Event
	for _, line := range bytes.Split(data[:end], []byte{'\n'}) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		event, err := Decode(line)
		if err != nil {
			slog.Debug("Dropping undecodable event log line", "path", path, "error", err)
			continue
		}
		events = append(events, event)
	}
	return events, offset + int64(end) + 1, nil
}
