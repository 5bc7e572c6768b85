// SPDX-FileCopyrightText: © 2026 The hushwire authors
// SPDX-License-Identifier: AGPL-3.0-only

package envelope

import (
	"fmt"

	"github.com/hushwire/hushwire/event"
	"github.com/hushwire/hushwire/signer"
)

// DirectResolver decrypts single-layer direct envelopes. The event must
// carry exactly one recipient tag naming either self (inbound) or, for
// events authored by self, the counterparty (outbound).
type DirectResolver struct {
	signer signer.Signer
	self   string
}

var _ Resolver = (*DirectResolver)(nil)

// NewDirectResolver creates a DirectResolver bound to s.
func NewDirectResolver(s signer.Signer) *DirectResolver {
	return &DirectResolver{
		signer: s,
		self:   s.Pubkey(),
	}
}

// Protocol returns Direct.
func (r *DirectResolver) Protocol() Protocol { return Direct }

// Kind returns the direct envelope event kind.
func (r *DirectResolver) Kind() int { return event.KindDirect }

// Resolve decrypts ev into the message it carries.
func (r *DirectResolver) Resolve(ev *event.RawEvent) (*DecryptedMessage, error) {
	if ev.Kind != event.KindDirect {
		return nil, &InvalidMessageFormatError{Expected: event.KindDirect, Actual: ev.Kind}
	}
	recipient, err := ev.Recipient()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRecipient, err)
	}

	// The decryption peer is the other party: the author for inbound
	// envelopes, the recipient for our own.
	peer := ev.Pubkey
	if ev.Pubkey == r.self {
		peer = recipient
	} else if recipient != r.self {
		return nil, ErrInvalidRecipient
	}

	plaintext, err := r.signer.DecryptDirect(peer, ev.Content)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecryptionFailed, err)
	}
	return &DecryptedMessage{
		ID:        ev.ID,
		Pubkey:    ev.Pubkey,
		CreatedAt: ev.CreatedAt,
		Kind:      ev.Kind,
		Tags:      ev.Tags,
		Content:   string(plaintext),
		Sig:       ev.Sig,
		Protocol:  Direct,
	}, nil
}
