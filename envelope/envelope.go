// SPDX-FileCopyrightText: © 2026 The hushwire authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package envelope implements the two decryption envelope schemes used for
// encrypted direct messages: the single-layer direct envelope and the
// two-layer sealed envelope. Both are exposed behind the Resolver interface
// so the sync pipelines never branch on the scheme.
package envelope

import (
	"errors"
	"fmt"

	"github.com/hushwire/hushwire/event"
)

// Protocol identifies which envelope scheme produced a message.
type Protocol uint8

const (
	// Direct is the single-layer scheme addressed to exactly one recipient.
	Direct Protocol = iota

	// Sealed is the two-layer scheme hiding sender metadata from relays.
	Sealed
)

// String returns the protocol name.
func (p Protocol) String() string {
	switch p {
	case Direct:
		return "direct"
	case Sealed:
		return "sealed"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(p))
	}
}

// Protocols lists all envelope protocols.
var Protocols = []Protocol{Direct, Sealed}

var (
	// ErrDecryptionFailed is returned when a ciphertext does not decrypt
	// under the available key material.
	ErrDecryptionFailed = errors.New("envelope: decryption failed")

	// ErrInvalidRecipient is returned when an event carries a missing or
	// malformed recipient tag, or one naming neither party.
	ErrInvalidRecipient = errors.New("envelope: invalid recipient")
)

// InvalidSealFormatError is returned when the intermediate seal recovered
// from a wrapper has an unexpected kind.
type InvalidSealFormatError struct {
	Expected int
	Actual   int
}

func (e *InvalidSealFormatError) Error() string {
	return fmt.Sprintf("envelope: invalid seal kind: expected %d, got %d", e.Expected, e.Actual)
}

// InvalidMessageFormatError is returned when the innermost message has an
// unexpected kind.
type InvalidMessageFormatError struct {
	Expected int
	Actual   int
}

func (e *InvalidMessageFormatError) Error() string {
	return fmt.Sprintf("envelope: invalid message kind: expected %d, got %d", e.Expected, e.Actual)
}

// DecryptedMessage is a successfully decrypted direct message. It inherits
// the identity of the underlying signed event: the outer envelope for the
// direct scheme, the innermost rumor for the sealed scheme.
type DecryptedMessage struct {
	ID        string     `cbor:"id"`
	Pubkey    string     `cbor:"pubkey"`
	CreatedAt int64      `cbor:"created_at"`
	Kind      int        `cbor:"kind"`
	Tags      [][]string `cbor:"tags"`
	Content   string     `cbor:"content"`
	Sig       string     `cbor:"sig"`
	Protocol  Protocol   `cbor:"protocol"`
}

// Outbound reports whether the message was authored by self.
func (m *DecryptedMessage) Outbound(self string) bool {
	return m.Pubkey == self
}

// Counterparty returns the pubkey of the other party of the conversation
// the message belongs to, from self's point of view.
func (m *DecryptedMessage) Counterparty(self string) (string, error) {
	if m.Pubkey != self {
		return m.Pubkey, nil
	}
	for _, t := range m.Tags {
		if len(t) >= 2 && t[0] == "p" && event.IsValidPubkey(t[1]) {
			return t[1], nil
		}
	}
	return "", ErrInvalidRecipient
}

// Resolver decrypts raw events of one envelope scheme into messages. A
// Resolver is side-effect free and safe to call concurrently.
type Resolver interface {
	// Protocol returns the scheme this resolver handles.
	Protocol() Protocol

	// Kind returns the raw event kind this resolver consumes.
	Kind() int

	// Resolve decrypts and validates ev, producing the logical message.
	Resolve(ev *event.RawEvent) (*DecryptedMessage, error)
}

// FailureClass buckets a resolver error for diagnostics and metrics.
func FailureClass(err error) string {
	var sealErr *InvalidSealFormatError
	var msgErr *InvalidMessageFormatError
	switch {
	case errors.Is(err, ErrDecryptionFailed):
		return "decryption_failed"
	case errors.Is(err, ErrInvalidRecipient):
		return "invalid_recipient"
	case errors.As(err, &sealErr):
		return "invalid_seal_format"
	case errors.As(err, &msgErr):
		return "invalid_message_format"
	default:
		return "other"
	}
}
