// SPDX-FileCopyrightText: © 2026 The hushwire authors
// SPDX-License-Identifier: AGPL-3.0-only

package envelope

import (
	"encoding/json"
	"fmt"

	"github.com/hushwire/hushwire/event"
	"github.com/hushwire/hushwire/signer"
)

// SealedResolver unwraps the two-layer sealed envelope: the outer wrapper
// decrypts to a signed seal, and the seal decrypts to the rumor, the
// logical message. The wrapper and seal are transport artifacts; only the
// rumor is ever persisted or displayed.
type SealedResolver struct {
	signer signer.Signer
	self   string
}

var _ Resolver = (*SealedResolver)(nil)

// NewSealedResolver creates a SealedResolver bound to s.
func NewSealedResolver(s signer.Signer) *SealedResolver {
	return &SealedResolver{
		signer: s,
		self:   s.Pubkey(),
	}
}

// Protocol returns Sealed.
func (r *SealedResolver) Protocol() Protocol { return Sealed }

// Kind returns the outer wrapper event kind.
func (r *SealedResolver) Kind() int { return event.KindWrap }

// Resolve runs the Wrapper -> Seal -> Rumor pipeline over ev.
func (r *SealedResolver) Resolve(ev *event.RawEvent) (*DecryptedMessage, error) {
	seal, err := r.openLayer(ev.Pubkey, ev.Content)
	if err != nil {
		return nil, err
	}
	if seal.Kind != event.KindSeal {
		return nil, &InvalidSealFormatError{Expected: event.KindSeal, Actual: seal.Kind}
	}

	rumor, err := r.openLayer(seal.Pubkey, seal.Content)
	if err != nil {
		return nil, err
	}
	if rumor.Kind != event.KindChat {
		return nil, &InvalidMessageFormatError{Expected: event.KindChat, Actual: rumor.Kind}
	}
	if _, err := rumor.Recipient(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRecipient, err)
	}

	return &DecryptedMessage{
		ID:        rumor.ID,
		Pubkey:    rumor.Pubkey,
		CreatedAt: rumor.CreatedAt,
		Kind:      rumor.Kind,
		Tags:      rumor.Tags,
		Content:   rumor.Content,
		Sig:       rumor.Sig,
		Protocol:  Sealed,
	}, nil
}

// openLayer decrypts one layer authored by peer and parses the nested
// event it contains.
func (r *SealedResolver) openLayer(peer, ciphertext string) (*event.RawEvent, error) {
	plaintext, err := r.signer.DecryptSealed(peer, ciphertext)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecryptionFailed, err)
	}
	nested := new(event.RawEvent)
	if err := json.Unmarshal(plaintext, nested); err != nil {
		return nil, fmt.Errorf("%w: nested event: %v", ErrDecryptionFailed, err)
	}
	return nested, nil
}
