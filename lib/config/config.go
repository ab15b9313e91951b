// Copyright 2026 The Netcfgd Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for netcfgd.
//
// Configuration comes from a single YAML file passed with --config.
// There are no fallbacks or automatic discovery; every file value can
// be overridden by the corresponding command-line flag. This keeps the
// effective configuration deterministic and auditable.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the netcfgd service configuration.
type Config struct {
	// User is the unprivileged account the service drops to after
	// startup.
	User string `yaml:"user"`

	// Group is the unprivileged group the service drops to.
	Group string `yaml:"group"`

	// IdleExit is how long the service may sit with zero open sessions
	// before shutting itself down. Zero disables idle shutdown.
	IdleExit Duration `yaml:"idle_exit"`

	// PollInterval is how often the idle monitor re-evaluates the idle
	// condition. Fixed regardless of the threshold's magnitude so that
	// late activity correctly resets the clock.
	PollInterval Duration `yaml:"poll_interval"`

	// LogFile is where log output goes. Empty means stderr; the
	// special value "stdout:" means standard output.
	LogFile string `yaml:"log_file"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`

	// Colour enables coloured log output when the destination is a
	// terminal.
	Colour bool `yaml:"colour"`

	// SignalBroadcast broadcasts status signals to all bus listeners
	// instead of sending them to the attached log collector.
	SignalBroadcast bool `yaml:"signal_broadcast"`

	// ResolvConf is the resolver file the service rewrites for
	// ResolverAdd changes.
	ResolvConf string `yaml:"resolv_conf"`

	// StateDir holds the change journal. Must be writable by the
	// unprivileged account.
	StateDir string `yaml:"state_dir"`
}

// Default returns the built-in configuration: the openvpn service
// account, a five minute idle threshold polled every thirty seconds,
// info-level logging to stderr.
func Default() Config {
	return Config{
		User:         "openvpn",
		Group:        "openvpn",
		IdleExit:     Duration(5 * time.Minute),
		PollInterval: Duration(30 * time.Second),
		LogLevel:     "info",
		ResolvConf:   "/etc/resolv.conf",
		StateDir:     "/var/lib/netcfgd",
	}
}

// Load reads a YAML config file over the defaults. Unknown keys are
// rejected so typos surface at startup instead of silently using a
// default.
func Load(path string) (Config, error) {
	config := Default()

	file, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("opening config file: %w", err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true)
	if err := decoder.Decode(&config); err != nil {
		return Config{}, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if err := config.Validate(); err != nil {
		return Config{}, fmt.Errorf("config file %s: %w", path, err)
	}
	return config, nil
}

// Validate checks invariants that flags or file values could violate.
func (c Config) Validate() error {
	if c.User == "" {
		return fmt.Errorf("user must not be empty")
	}
	if c.Group == "" {
		return fmt.Errorf("group must not be empty")
	}
	if c.IdleExit < 0 {
		return fmt.Errorf("idle_exit must not be negative (got %v)", time.Duration(c.IdleExit))
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive (got %v)", time.Duration(c.PollInterval))
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be one of debug, info, warn, error (got %q)", c.LogLevel)
	}
	return nil
}

// Duration is a time.Duration that unmarshals from YAML strings like
// "5m" or "90s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parsing duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}
