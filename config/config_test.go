// SPDX-FileCopyrightText: © 2026 The hushwire authors
// SPDX-License-Identifier: AGPL-3.0-only

package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	require := require.New(t)

	const cfgStr = `
DataDir = "/var/lib/hushwire"
Relays = [ "wss://relay.example.com" ]
`
	cfg, err := Load([]byte(cfgStr))
	require.NoError(err)

	require.Equal("hushwire.db", cfg.StateFile)
	require.Equal(filepath.Join("/var/lib/hushwire", "hushwire.db"), cfg.StatePath())
	require.True(cfg.Protocols.Direct)
	require.True(cfg.Protocols.Sealed)
	require.Equal("NOTICE", cfg.Logging.Level)
	require.False(cfg.Logging.Disable)
	require.Empty(cfg.MetricsAddress)
}

func TestLoadFull(t *testing.T) {
	require := require.New(t)

	const cfgStr = `
DataDir = "/var/lib/hushwire"
StateFile = "cache.db"
Relays = [ "wss://a.example.com", "wss://b.example.com" ]
MetricsAddress = "127.0.0.1:6543"

[Protocols]
  Direct = false
  Sealed = true

[Logging]
  Level = "DEBUG"
  File = "hushwire.log"
`
	cfg, err := Load([]byte(cfgStr))
	require.NoError(err)

	require.Equal("cache.db", cfg.StateFile)
	require.Len(cfg.Relays, 2)
	require.False(cfg.Protocols.Direct)
	require.True(cfg.Protocols.Sealed)
	require.Equal("DEBUG", cfg.Logging.Level)
	require.Equal("127.0.0.1:6543", cfg.MetricsAddress)
}

func TestLoadMissingDataDir(t *testing.T) {
	require := require.New(t)

	_, err := Load([]byte(`Relays = [ "wss://relay.example.com" ]`))
	require.Error(err)
}

func TestLoadRelativeDataDir(t *testing.T) {
	require := require.New(t)

	const cfgStr = `
DataDir = "relative/path"
Relays = [ "wss://relay.example.com" ]
`
	_, err := Load([]byte(cfgStr))
	require.Error(err)
}

func TestLoadNoRelays(t *testing.T) {
	require := require.New(t)

	_, err := Load([]byte(`DataDir = "/var/lib/hushwire"`))
	require.Error(err)
}

func TestLoadBadLogLevel(t *testing.T) {
	require := require.New(t)

	const cfgStr = `
DataDir = "/var/lib/hushwire"
Relays = [ "wss://relay.example.com" ]

[Logging]
  Level = "LOUD"
`
	_, err := Load([]byte(cfgStr))
	require.Error(err)
}

func TestLoadMalformed(t *testing.T) {
	require := require.New(t)

	_, err := Load([]byte(`DataDir = [ "not", "a", "string" ]`))
	require.Error(err)
}
