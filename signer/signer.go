// SPDX-FileCopyrightText: © 2026 The hushwire authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package signer defines the decryption capability consumed by the envelope
// resolvers, along with a software key implementation of it.
package signer

import "errors"

// ErrNoDecryption is returned when no key material is available to service
// a decryption request.
var ErrNoDecryption = errors.New("signer: no decryption capability available")

// Signer is the opaque key capability used to open and create encrypted
// envelopes. All methods are safe for concurrent use.
type Signer interface {
	// Pubkey returns the hex encoded public key of the identity.
	Pubkey() string

	// EncryptDirect encrypts plaintext for peer under the single-layer
	// direct scheme.
	EncryptDirect(peer string, plaintext []byte) (string, error)

	// DecryptDirect decrypts a direct envelope ciphertext from peer.
	DecryptDirect(peer string, ciphertext string) ([]byte, error)

	// EncryptSealed encrypts one sealed-scheme layer for peer using the
	// identity key as the sender.
	EncryptSealed(peer string, plaintext []byte) (string, error)

	// DecryptSealed decrypts one sealed-scheme layer authored by peer.
	// It is invoked twice per sealed message, once per layer.
	DecryptSealed(peer string, ciphertext string) ([]byte, error)

	// WrapSealed encrypts one sealed-scheme layer for peer under a fresh
	// ephemeral sender key, returning the ephemeral public key alongside
	// the ciphertext.
	WrapSealed(peer string, plaintext []byte) (ephemeralPubkey string, ciphertext string, err error)
}
