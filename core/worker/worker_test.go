// SPDX-FileCopyrightText: © 2026 The hushwire authors
// SPDX-License-Identifier: AGPL-3.0-only

package worker

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWorkerHalt(t *testing.T) {
	require := require.New(t)

	var w Worker
	var ran int32
	for i := 0; i < 3; i++ {
		w.Go(func() {
			atomic.AddInt32(&ran, 1)
			<-w.HaltCh()
		})
	}

	done := make(chan struct{})
	go func() {
		w.Halt()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Halt did not complete")
	}
	require.Equal(int32(3), atomic.LoadInt32(&ran))
}

func TestWorkerHaltChBeforeGo(t *testing.T) {
	var w Worker
	select {
	case <-w.HaltCh():
		t.Fatal("halt channel closed prematurely")
	default:
	}
}
