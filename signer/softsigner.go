// SPDX-FileCopyrightText: © 2026 The hushwire authors
// SPDX-License-Identifier: AGPL-3.0-only

package signer

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

const keySize = 32

// Conversation key derivation labels, one per envelope scheme so that a
// direct ciphertext can never be opened as a sealed layer or vice versa.
const (
	directLabel = "hushwire-direct-v1"
	sealedLabel = "hushwire-sealed-v1"
)

var (
	errMalformedCiphertext = errors.New("signer: malformed ciphertext")
	errMalformedPeer       = errors.New("signer: malformed peer pubkey")
)

// SoftSigner is an in-memory Signer backed by a curve25519 identity key.
type SoftSigner struct {
	priv   [keySize]byte
	pubkey string
}

var _ Signer = (*SoftSigner)(nil)

// NewSoftSigner creates a SoftSigner with a freshly generated identity key.
func NewSoftSigner() (*SoftSigner, error) {
	var priv [keySize]byte
	if _, err := rand.Read(priv[:]); err != nil {
		return nil, err
	}
	return SoftSignerFromKey(priv[:])
}

// SoftSignerFromKey creates a SoftSigner from a raw 32 byte private key.
func SoftSignerFromKey(raw []byte) (*SoftSigner, error) {
	if len(raw) != keySize {
		return nil, errors.New("signer: invalid private key length")
	}
	s := new(SoftSigner)
	copy(s.priv[:], raw)
	pub, err := curve25519.X25519(s.priv[:], curve25519.Basepoint)
	if err != nil {
		return nil, err
	}
	s.pubkey = hex.EncodeToString(pub)
	return s, nil
}

// Pubkey returns the hex encoded identity public key.
func (s *SoftSigner) Pubkey() string {
	return s.pubkey
}

// ExportKey returns the hex encoded private key for persisting.
func (s *SoftSigner) ExportKey() string {
	return hex.EncodeToString(s.priv[:])
}

func conversationKey(priv []byte, peer string, label string) ([]byte, error) {
	peerPub, err := hex.DecodeString(peer)
	if err != nil || len(peerPub) != keySize {
		return nil, errMalformedPeer
	}
	shared, err := curve25519.X25519(priv, peerPub)
	if err != nil {
		return nil, err
	}
	key := make([]byte, keySize)
	kdf := hkdf.New(sha256.New, shared, nil, []byte(label))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, err
	}
	return key, nil
}

func seal(key, plaintext []byte) (string, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	ct := aead.Seal(nonce, nonce, plaintext, nil)
	return base64.StdEncoding.EncodeToString(ct), nil
}

func open(key []byte, ciphertext string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return nil, errMalformedCiphertext
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	if len(raw) < aead.NonceSize() {
		return nil, errMalformedCiphertext
	}
	return aead.Open(nil, raw[:aead.NonceSize()], raw[aead.NonceSize():], nil)
}

// EncryptDirect encrypts plaintext for peer under the direct scheme.
func (s *SoftSigner) EncryptDirect(peer string, plaintext []byte) (string, error) {
	key, err := conversationKey(s.priv[:], peer, directLabel)
	if err != nil {
		return "", err
	}
	return seal(key, plaintext)
}

// DecryptDirect decrypts a direct envelope ciphertext from peer.
func (s *SoftSigner) DecryptDirect(peer string, ciphertext string) ([]byte, error) {
	key, err := conversationKey(s.priv[:], peer, directLabel)
	if err != nil {
		return nil, err
	}
	return open(key, ciphertext)
}

// EncryptSealed encrypts one sealed layer for peer with the identity key.
func (s *SoftSigner) EncryptSealed(peer string, plaintext []byte) (string, error) {
	key, err := conversationKey(s.priv[:], peer, sealedLabel)
	if err != nil {
		return "", err
	}
	return seal(key, plaintext)
}

// DecryptSealed decrypts one sealed layer authored by peer.
func (s *SoftSigner) DecryptSealed(peer string, ciphertext string) ([]byte, error) {
	key, err := conversationKey(s.priv[:], peer, sealedLabel)
	if err != nil {
		return nil, err
	}
	return open(key, ciphertext)
}

// WrapSealed encrypts one sealed layer for peer under a fresh ephemeral
// sender key so that the outer wrapper does not name the real sender.
func (s *SoftSigner) WrapSealed(peer string, plaintext []byte) (string, string, error) {
	var eph [keySize]byte
	if _, err := rand.Read(eph[:]); err != nil {
		return "", "", err
	}
	pub, err := curve25519.X25519(eph[:], curve25519.Basepoint)
	if err != nil {
		return "", "", err
	}
	key, err := conversationKey(eph[:], peer, sealedLabel)
	if err != nil {
		return "", "", err
	}
	ct, err := seal(key, plaintext)
	if err != nil {
		return "", "", err
	}
	return hex.EncodeToString(pub), ct, nil
}
