// SPDX-FileCopyrightText: © 2026 The hushwire authors
// SPDX-License-Identifier: AGPL-3.0-only

package chat

import (
	"github.com/hushwire/hushwire/envelope"
)

// SyncState is the per-protocol pipeline state.
type SyncState uint8

const (
	// StateIdle means the protocol is disabled or not yet started.
	StateIdle SyncState = iota

	// StateScanning means the historical batched scan is in progress.
	StateScanning

	// StateCaughtUp means history is exhausted and the live subscription
	// is about to open.
	StateCaughtUp

	// StateLive means the live subscription is delivering events.
	StateLive
)

// String returns the state name.
func (s SyncState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateScanning:
		return "scanning"
	case StateCaughtUp:
		return "caught-up"
	case StateLive:
		return "live"
	default:
		return "invalid"
	}
}

// MessageReceivedEvent is emitted when a live message is decrypted and
// added to a conversation.
type MessageReceivedEvent struct {
	// Peer is the counterparty pubkey of the conversation.
	Peer string

	// Message is the decrypted message.
	Message *envelope.DecryptedMessage
}

// MessageSentEvent is emitted after SendMessage has published an envelope.
type MessageSentEvent struct {
	Peer string

	// MessageID is the id of the logical message applied to the cache.
	MessageID string

	Protocol envelope.Protocol
}

// MessageNotSentEvent is emitted when publishing an envelope failed. The
// local copy of the message is retained.
type MessageNotSentEvent struct {
	Peer      string
	MessageID string
	Protocol  envelope.Protocol
	Err       error
}

// SyncProgressEvent reports pipeline progress: one event per scan batch
// plus one on every state transition.
type SyncProgressEvent struct {
	Protocol envelope.Protocol
	State    SyncState

	// Scanned is the cumulative number of raw events fetched during the
	// historical scan; Decrypted the cumulative messages recovered.
	Scanned   int
	Decrypted int
}

// SyncErrorEvent reports a pipeline failure that halted one protocol's
// pipeline. The other protocol is unaffected.
type SyncErrorEvent struct {
	Protocol envelope.Protocol
	Err      error
}

// StorageErrorEvent reports a persistence failure. The in-memory session
// remains fully functional; the write is retried on the next debounce
// cycle.
type StorageErrorEvent struct {
	Err error
}
