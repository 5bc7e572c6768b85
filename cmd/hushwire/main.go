// SPDX-FileCopyrightText: © 2026 The hushwire authors
// SPDX-License-Identifier: AGPL-3.0-only

// hushwire daemon: syncs encrypted direct messages from the configured
// relays into the local cache.
package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hushwire/hushwire/chat"
	"github.com/hushwire/hushwire/config"
	"github.com/hushwire/hushwire/envelope"
	"github.com/hushwire/hushwire/internal/instrument"
	"github.com/hushwire/hushwire/relay"
	"github.com/hushwire/hushwire/signer"
	"github.com/hushwire/hushwire/store"
)

const identityFile = "identity.hex"

type cmdConfig struct {
	configFile string
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := new(cmdConfig)

	cmd := &cobra.Command{
		Use:   "hushwire",
		Short: "Encrypted direct message sync daemon",
	}
	cmd.PersistentFlags().StringVarP(&cfg.configFile, "config", "c", "", "path to the configuration file (TOML format)")
	cmd.MarkPersistentFlagRequired("config")

	cmd.AddCommand(newRunCommand(cfg))
	cmd.AddCommand(newResetCommand(cfg))
	return cmd
}

func newRunCommand(cfg *cmdConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the sync daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cfg.configFile)
		},
	}
}

func newResetCommand(cfg *cmdConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Delete the persisted message cache, forcing a full re-scan",
		RunE: func(cmd *cobra.Command, args []string) error {
			return reset(cfg.configFile)
		},
	}
}

// ensureIdentity loads the identity key from dir, generating one on first
// use.
func ensureIdentity(dir string) (*signer.SoftSigner, error) {
	path := filepath.Join(dir, identityFile)
	raw, err := os.ReadFile(path)
	if err == nil {
		key, err := hex.DecodeString(strings.TrimSpace(string(raw)))
		if err != nil {
			return nil, fmt.Errorf("malformed identity file %s: %v", path, err)
		}
		return signer.SoftSignerFromKey(key)
	}
	if !os.IsNotExist(err) {
		return nil, err
	}

	s, err := signer.NewSoftSigner()
	if err != nil {
		return nil, err
	}
	return s, os.WriteFile(path, []byte(s.ExportKey()), 0600)
}

func run(configFile string) error {
	cfg, err := config.LoadFile(configFile)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return err
	}
	logBackend, err := cfg.InitLogBackend()
	if err != nil {
		return err
	}
	log := logBackend.GetLogger("hushwire")

	if cfg.MetricsAddress != "" {
		instrument.Init(cfg.MetricsAddress)
	}

	sgn, err := ensureIdentity(cfg.DataDir)
	if err != nil {
		return err
	}
	log.Noticef("Identity: %s", sgn.Pubkey())

	storage, err := store.OpenBolt(cfg.StatePath())
	if err != nil {
		return err
	}
	defer storage.Close()

	sources := make([]relay.Source, 0, len(cfg.Relays))
	clients := make([]*relay.Client, 0, len(cfg.Relays))
	for _, url := range cfg.Relays {
		rc, err := relay.Dial(context.Background(), url, logBackend.GetLogger("relay"))
		if err != nil {
			log.Errorf("Failed to dial %s: %v", url, err)
			continue
		}
		sources = append(sources, rc)
		clients = append(clients, rc)
	}
	if len(sources) == 0 {
		return fmt.Errorf("no relays reachable")
	}
	pool := relay.NewPool(logBackend.GetLogger("pool"), sources...)

	c, err := chat.New(logBackend, pool, sgn, storage, map[envelope.Protocol]bool{
		envelope.Direct: cfg.Protocols.Direct,
		envelope.Sealed: cfg.Protocols.Sealed,
	})
	if err != nil {
		return err
	}
	c.Start()

	go func() {
		for ev := range c.EventSink {
			switch ev := ev.(type) {
			case *chat.SyncProgressEvent:
				log.Noticef("%s sync %s: %d scanned, %d decrypted", ev.Protocol, ev.State, ev.Scanned, ev.Decrypted)
			case *chat.MessageReceivedEvent:
				log.Noticef("Message from %s", ev.Peer)
			case *chat.StorageErrorEvent:
				log.Warningf("Storage failure (will retry): %v", ev.Err)
			case *chat.SyncErrorEvent:
				log.Errorf("%s pipeline error: %v", ev.Protocol, ev.Err)
			}
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Notice("Shutdown requested.")
	c.Shutdown()
	for _, rc := range clients {
		rc.Shutdown()
	}
	return nil
}

func reset(configFile string) error {
	cfg, err := config.LoadFile(configFile)
	if err != nil {
		return err
	}
	sgn, err := ensureIdentity(cfg.DataDir)
	if err != nil {
		return err
	}
	storage, err := store.OpenBolt(cfg.StatePath())
	if err != nil {
		return err
	}
	defer storage.Close()
	if err := storage.Reset(sgn.Pubkey()); err != nil {
		return err
	}
	fmt.Printf("Cache cleared for %s\n", sgn.Pubkey())
	return nil
}
