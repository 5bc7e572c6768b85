// SPDX-FileCopyrightText: © 2026 The hushwire authors
// SPDX-License-Identifier: AGPL-3.0-only

package store

import (
	"math"
	"time"

	"gopkg.in/op/go-logging.v1"

	"github.com/hushwire/hushwire/core/worker"
)

// DebounceInterval is the quiet period the StateWriter waits for before
// flushing, coalescing the thousands of per-message mutations a historical
// scan produces into a handful of writes.
const DebounceInterval = 15 * time.Second

// Persister is the durable sink the StateWriter flushes to.
type Persister interface {
	Save(user string, snapshot *MessageStore) error
}

// StateWriter owns all writes of one user's MessageStore. Mutating code
// calls Dirty after each change; the worker flushes a snapshot once the
// debounce window elapses, retries failed writes on the next window, and
// performs a final forced flush on Halt.
type StateWriter struct {
	worker.Worker

	log *logging.Logger

	store    Persister
	user     string
	snapshot func() *MessageStore

	interval time.Duration
	dirtyCh  chan struct{}
	flushCh  chan chan error
}

// NewStateWriter creates a StateWriter flushing snapshot() to store under
// the user key. Call Start to launch the worker.
func NewStateWriter(log *logging.Logger, store Persister, user string, snapshot func() *MessageStore) *StateWriter {
	return &StateWriter{
		log:      log,
		store:    store,
		user:     user,
		snapshot: snapshot,
		interval: DebounceInterval,
		dirtyCh:  make(chan struct{}, 1),
		flushCh:  make(chan chan error),
	}
}

// Start starts the StateWriter's worker goroutine.
func (w *StateWriter) Start() {
	w.Go(w.worker)
}

// Dirty notifies the writer that state changed. It never blocks.
func (w *StateWriter) Dirty() {
	select {
	case w.dirtyCh <- struct{}{}:
	default:
	}
}

// Flush forces an immediate write and blocks until it completes.
func (w *StateWriter) Flush() error {
	respCh := make(chan error, 1)
	select {
	case w.flushCh <- respCh:
	case <-w.HaltCh():
		return w.writeOnce()
	}
	select {
	case err := <-respCh:
		return err
	case <-w.HaltCh():
		return nil
	}
}

func (w *StateWriter) writeOnce() error {
	err := w.store.Save(w.user, w.snapshot())
	if err != nil {
		w.log.Errorf("Failed to write state: %v", err)
	}
	return err
}

func (w *StateWriter) worker() {
	const idle = time.Duration(math.MaxInt64)

	timer := time.NewTimer(idle)
	defer timer.Stop()

	pending := false
	rearm := func(d time.Duration) {
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(d)
	}

	for {
		select {
		case <-w.HaltCh():
			w.log.Debug("Terminating gracefully.")
			if pending {
				_ = w.writeOnce()
			}
			return
		case <-w.dirtyCh:
			pending = true
			rearm(w.interval)
		case <-timer.C:
			if !pending {
				rearm(idle)
				continue
			}
			if err := w.writeOnce(); err != nil {
				// Keep the dirty state and try again next window.
				rearm(w.interval)
				continue
			}
			pending = false
			rearm(idle)
		case respCh := <-w.flushCh:
			err := w.writeOnce()
			if err == nil {
				pending = false
				rearm(idle)
			}
			respCh <- err
		}
	}
}
