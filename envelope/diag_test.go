// SPDX-FileCopyrightText: © 2026 The hushwire authors
// SPDX-License-Identifier: AGPL-3.0-only

package envelope

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gopkg.in/op/go-logging.v1"
)

func TestDiagLimiterSuppression(t *testing.T) {
	require := require.New(t)

	d := NewDiagLimiter(logging.MustGetLogger("diag-test"))
	d.interval = time.Hour

	err := errors.New("boom")
	d.Report(Direct, "ev1", err)
	d.Report(Direct, "ev2", err)
	d.Report(Direct, "ev3", err)

	d.Lock()
	c := d.classes["other"]
	require.NotNil(c)
	require.Equal(2, c.suppressed)
	d.Unlock()
}

func TestDiagLimiterPerClass(t *testing.T) {
	require := require.New(t)

	d := NewDiagLimiter(logging.MustGetLogger("diag-test"))
	d.interval = time.Hour

	// Different failure classes rate limit independently.
	d.Report(Direct, "ev1", ErrDecryptionFailed)
	d.Report(Direct, "ev2", ErrInvalidRecipient)
	d.Report(Sealed, "ev3", ErrDecryptionFailed)

	d.Lock()
	require.Equal(1, d.classes["decryption_failed"].suppressed)
	require.Equal(0, d.classes["invalid_recipient"].suppressed)
	d.Unlock()
}

func TestDiagLimiterReemits(t *testing.T) {
	require := require.New(t)

	d := NewDiagLimiter(logging.MustGetLogger("diag-test"))
	d.interval = 0

	d.Report(Direct, "ev1", ErrDecryptionFailed)
	d.Report(Direct, "ev2", ErrDecryptionFailed)

	d.Lock()
	require.Equal(0, d.classes["decryption_failed"].suppressed)
	d.Unlock()
}
