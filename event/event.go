// SPDX-FileCopyrightText: © 2026 The hushwire authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package event defines the signed relay event wire model and the query
// filter shape shared by the relay transport and the decryption envelopes.
package event

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
)

// Event kinds understood by the engine.
const (
	// KindDirect is the single-layer encrypted direct message kind.
	KindDirect = 4

	// KindSeal is the signed intermediate layer carried inside a wrapper.
	KindSeal = 13

	// KindChat is the innermost plaintext chat message kind (the rumor).
	KindChat = 14

	// KindWrap is the outer wrapper kind of the two-layer sealed scheme.
	KindWrap = 1059
)

// PubkeyLen is the length of a hex encoded pubkey.
const PubkeyLen = 64

var errNoRecipient = errors.New("event: no recipient tag")

// RawEvent is a signed event as delivered by a relay. RawEvents are
// immutable; their identity is the ID field.
type RawEvent struct {
	ID        string     `json:"id" cbor:"id"`
	Pubkey    string     `json:"pubkey" cbor:"pubkey"`
	CreatedAt int64      `json:"created_at" cbor:"created_at"`
	Kind      int        `json:"kind" cbor:"kind"`
	Tags      [][]string `json:"tags" cbor:"tags"`
	Content   string     `json:"content" cbor:"content"`
	Sig       string     `json:"sig" cbor:"sig"`
}

// TagValue returns the second element of the first tag whose first element
// equals name, or "" if no such tag exists.
func (e *RawEvent) TagValue(name string) string {
	for _, t := range e.Tags {
		if len(t) >= 2 && t[0] == name {
			return t[1]
		}
	}
	return ""
}

// Recipient returns the pubkey named by the event's single "p" tag. It
// returns an error if the event carries zero or multiple "p" tags, or if
// the named pubkey is malformed.
func (e *RawEvent) Recipient() (string, error) {
	recipient := ""
	for _, t := range e.Tags {
		if len(t) >= 2 && t[0] == "p" {
			if recipient != "" {
				return "", errors.New("event: multiple recipient tags")
			}
			recipient = t[1]
		}
	}
	if recipient == "" {
		return "", errNoRecipient
	}
	if !IsValidPubkey(recipient) {
		return "", errors.New("event: malformed recipient pubkey")
	}
	return recipient, nil
}

// ComputeID derives the event id: the hash of the canonical serialization
// of the signable fields.
func ComputeID(e *RawEvent) string {
	tags := e.Tags
	if tags == nil {
		tags = [][]string{}
	}
	canonical, _ := json.Marshal([]interface{}{
		0, e.Pubkey, e.CreatedAt, e.Kind, tags, e.Content,
	})
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:])
}

// IsValidPubkey reports whether s is a well formed hex encoded pubkey.
func IsValidPubkey(s string) bool {
	if len(s) != PubkeyLen {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}

// Filter selects events by kind, author, recipient tag and time range, with
// the field names used on the relay wire.
type Filter struct {
	Kinds   []int    `json:"kinds,omitempty"`
	Authors []string `json:"authors,omitempty"`
	P       []string `json:"#p,omitempty"`
	Since   *int64   `json:"since,omitempty"`
	Until   *int64   `json:"until,omitempty"`
	Limit   int      `json:"limit,omitempty"`
}
