// Package backend uploads the events of a finished run to result stores. Upload failures are
// logged and never change the outcome of the run.
package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"bridle/pkg/eventlog"
)

// ErrUnknownBackend is returned by New for a name that is not registered
var ErrUnknownBackend = errors.New("unknown backend")

// Backend receives the raw events of a run
type Backend interface {
	Name() string
	Upload(ctx context.Context, events []eventlog.Event) error
}

// Options are shared by all backends. Empty URLs fall back to the environment and then to the
// backend's default.
type Options struct {
	BuildkiteURL string
	MslciURL     string
	HTTPClient   *http.Client
	Getenv       func(string) string
}

type factory func(Options) Backend

var registry = map[string]factory{
	"stub":      func(Options) Backend { return &Stub{} },
	"buildkite": func(o Options) Backend { return NewBuildkite(o) },
	"mslci":     func(o Options) Backend { return NewMslci(o) },
}

// Names returns the registered backend names, sorted
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// New returns the backend registered as name
func New(name string, opts Options) (Backend, error) {
	f, ok := registry[strings.TrimSpace(name)]
	if !ok {
		return nil, fmt.Errorf("%w %q, available backends: %s", ErrUnknownBackend, name, strings.Join(Names(), ", "))
	}
	return f(opts.withDefaults()), nil
}

// NewAll returns the backends for names. Each name may itself be a comma-separated list.
func NewAll(names []string, opts Options) ([]Backend, error) {
	var backends []Backend
	for _, entry := range names {
		for _, name := range strings.Split(entry, ",") {
			if strings.TrimSpace(name) == "" {
				continue
			}
			b, err := New(name, opts)
			if err != nil {
				return nil, err
			}
			backends = append(backends, b)
		}
	}
	return backends, nil
}

// UploadAll hands events to every backend. A failing backend is logged and does not stop the
// others. It returns the names of the backends that failed.
func UploadAll(ctx context.Context, backends []Backend, events []eventlog.Event) []string {
	var failed []string
	for _, b := range backends {
		if err := b.Upload(ctx, events); err != nil {
			slog.Warn("Upload failed", "backend", b.Name(), "error", err)
			failed = append(failed, b.Name())
			continue
		}
		slog.Debug("Upload finished", "backend", b.Name(), "events", len(events))
	}
	return failed
}

func (o Options) withDefaults() Options {
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if o.Getenv == nil {
		o.Getenv = getenv
	}
	return o
}

// batches splits items into slices of at most size elements
func batches[T any](items []T, size int) [][]T {
	var out [][]T
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		out = append(out, items[start:end])
	}
	return out
}
