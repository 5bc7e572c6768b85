// SPDX-FileCopyrightText: © 2026 The hushwire authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package config implements the hushwire configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/hushwire/hushwire/core/log"
)

const defaultStateFile = "hushwire.db"

// Logging is the logging configuration.
type Logging struct {
	// Disable disables logging entirely.
	Disable bool

	// File specifies the log file, if omitted stdout will be used.
	File string

	// Level specifies the log level.
	Level string
}

func (l *Logging) validate() error {
	lvls := map[string]bool{"ERROR": true, "WARNING": true, "NOTICE": true, "INFO": true, "DEBUG": true}
	if !lvls[l.Level] {
		return fmt.Errorf("config: Logging: Level '%v' is invalid", l.Level)
	}
	return nil
}

var defaultLogging = Logging{
	Disable: false,
	File:    "",
	Level:   "NOTICE",
}

// Protocols selects which envelope schemes are synced.
type Protocols struct {
	// Direct enables the single-layer direct envelope scheme.
	Direct bool

	// Sealed enables the two-layer sealed envelope scheme.
	Sealed bool
}

// Config is the top level hushwire configuration.
type Config struct {
	// DataDir is the directory holding the durable message cache.
	DataDir string

	// StateFile is the cache database filename within DataDir.
	StateFile string

	// Relays lists the relay websocket URLs.
	Relays []string

	Protocols *Protocols
	Logging   *Logging

	// MetricsAddress, when set, exposes prometheus metrics on the given
	// listen address.
	MetricsAddress string
}

// StatePath returns the full path of the cache database.
func (c *Config) StatePath() string {
	return filepath.Join(c.DataDir, c.StateFile)
}

// InitLogBackend initializes the configured logging backend.
func (c *Config) InitLogBackend() (*log.Backend, error) {
	f := c.Logging.File
	if !c.Logging.Disable && f != "" && !filepath.IsAbs(f) {
		f = filepath.Join(c.DataDir, f)
	}
	return log.New(f, c.Logging.Level, c.Logging.Disable)
}

// FixupAndValidate applies defaults and validates the configuration.
func (c *Config) FixupAndValidate() error {
	if c.DataDir == "" {
		return errors.New("config: DataDir is not set")
	}
	if !filepath.IsAbs(c.DataDir) {
		return fmt.Errorf("config: DataDir '%v' is not an absolute path", c.DataDir)
	}
	if c.StateFile == "" {
		c.StateFile = defaultStateFile
	}
	if len(c.Relays) == 0 {
		return errors.New("config: no Relays configured")
	}
	if c.Protocols == nil {
		c.Protocols = &Protocols{Direct: true, Sealed: true}
	}
	if c.Logging == nil {
		c.Logging = &defaultLogging
	}
	return c.Logging.validate()
}

// Load parses and validates the provided buffer b as a config file body
// and returns the Config.
func Load(b []byte) (*Config, error) {
	cfg := new(Config)
	if err := toml.Unmarshal(b, cfg); err != nil {
		return nil, err
	}
	if err := cfg.FixupAndValidate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile loads, parses and validates the provided file and returns the
// Config.
func LoadFile(f string) (*Config, error) {
	b, err := os.ReadFile(f)
	if err != nil {
		return nil, err
	}
	return Load(b)
}
