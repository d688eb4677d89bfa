// Package config holds the harness settings. Values come from Default, then an optional YAML
// file, then command line flags.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultPollInterval = 500 * time.Millisecond
	DefaultKillGrace    = 5 * time.Second
	DefaultBackend      = "stub"
)

type Config struct {
	// Backends receive the raw events after the run, in order
	Backends []string `yaml:"backends"`

	// TestTimeout and TotalTimeout are disabled when zero
	TestTimeout  time.Duration `yaml:"test_timeout"`
	TotalTimeout time.Duration `yaml:"total_timeout"`

	PollInterval time.Duration `yaml:"poll_interval"`
	KillGrace    time.Duration `yaml:"kill_grace"`

	// PTY runs the child on a pseudo-terminal
	PTY bool `yaml:"pty"`

	// Dir is the working directory of the child
	Dir string `yaml:"dir"`

	ReportHTML  string `yaml:"report_html"`
	MetricsFile string `yaml:"metrics_file"`
	LogLevel    string `yaml:"log_level"`

	// KeepLog keeps the event log after the run instead of removing it
	KeepLog bool `yaml:"keep_log"`

	Buildkite BuildkiteConfig `yaml:"buildkite"`
	Mslci     MslciConfig     `yaml:"mslci"`
}

type BuildkiteConfig struct {
	APIURL string `yaml:"api_url"`
}

type MslciConfig struct {
	APIURL string `yaml:"api_url"`
}

func Default() Config {
	return Config{
		Backends:     []string{DefaultBackend},
		PollInterval: DefaultPollInterval,
		KillGrace:    DefaultKillGrace,
	}
}

// Load reads the YAML file at path on top of Default
func Load(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to open config file: %w", err)
	}
	defer func() { _ = f.Close() }()

	cfg, err := Parse(f)
	if err != nil {
		return Config{}, fmt.Errorf("failed to load config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML on top of Default. Unknown keys are rejected.
func Parse(r io.Reader) (Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return Config{}, err
	}
	cfg := Default()
	if len(bytes.TrimSpace(data)) == 0 {
		return cfg, nil
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings the monitor cannot work with
func (c Config) Validate() error {
	var errs []error
	if c.TestTimeout < 0 {
		errs = append(errs, fmt.Errorf("test_timeout must not be negative: %s", c.TestTimeout))
	}
	if c.TotalTimeout < 0 {
		errs = append(errs, fmt.Errorf("total_timeout must not be negative: %s", c.TotalTimeout))
	}
	if c.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("poll_interval must be positive: %s", c.PollInterval))
	}
	if c.KillGrace <= 0 {
		errs = append(errs, fmt.Errorf("kill_grace must be positive: %s", c.KillGrace))
	}
	return errors.Join(errs...)
}
