package eventlog

import (
	"fmt"
	"os"
	"sync"
)

// Writer appends events to a log file. Each Append is one write call on a file opened with
// O_APPEND|O_SYNC, so the record is visible to readers before Append returns.
type Writer struct {
	mu   sync.Mutex
	file *os.File
}

// OpenWriter opens path for appending, creating it if needed
func OpenWriter(path string) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND|os.O_CREATE|os.O_SYNC, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open event log: %w", err)
	}
	return &Writer{file: f}, nil
}

// Append writes e followed by a newline
func (w *Writer) Append(e Event) error {
	data, err := Encode(e)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.file.Write(data); err != nil {
		return fmt.Errorf("failed to append %s event: %w", e.Kind(), err)
	}
	return nil
}

// Close closes the underlying file
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Close()
}

// Append opens path, appends the events and closes it again. It does not depend on the
// process that created the log still being alive.
func Append(path string, events ...Event) error {
	w, err := OpenWriter(path)
	if err != nil {
		return err
	}
	for _, e := range events {
		if err := w.Append(e); err != nil {
			_ = w.Close()
			return err
		}
	}
	return w.Close()
}
