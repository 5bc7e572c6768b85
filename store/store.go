// SPDX-FileCopyrightText: © 2026 The hushwire authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package store holds the per-user message cache: the participants map,
// the per-protocol sync watermarks, the conversation projection derived
// from them, and the durable bolt-backed persistence with its debounced
// state writer.
package store

import (
	"sort"
	"sync"

	"github.com/hushwire/hushwire/envelope"
)

// Participant is one counterparty the user has exchanged messages with.
type Participant struct {
	Pubkey       string                       `cbor:"pubkey"`
	Messages     []*envelope.DecryptedMessage `cbor:"messages"`
	LastActivity int64                        `cbor:"last_activity"`
	HasDirect    bool                         `cbor:"has_direct"`
	HasSealed    bool                         `cbor:"has_sealed"`
	LastRead     int64                        `cbor:"last_read"`
}

// MessageStore is the full per-user cache state. Exactly one instance
// exists per logged-in identity.
type MessageStore struct {
	Participants map[string]*Participant     `cbor:"participants"`
	LastSync     map[envelope.Protocol]int64 `cbor:"last_sync"`
}

// NewMessageStore creates an empty MessageStore.
func NewMessageStore() *MessageStore {
	return &MessageStore{
		Participants: make(map[string]*Participant),
		LastSync:     make(map[envelope.Protocol]int64),
	}
}

// Conversation is the read-only projection of one participant, recomputed
// on demand and never persisted.
type Conversation struct {
	// ID is the counterparty pubkey.
	ID string

	LastMessage     *envelope.DecryptedMessage
	LastMessageTime int64
	UnreadCount     int

	// IsKnown is true iff the user has sent at least one message to the
	// participant. IsRequest is true iff the counterparty has written and
	// the user never has: an unsolicited incoming conversation.
	IsKnown   bool
	IsRequest bool

	LastMessageFromUser bool
}

// Aggregator merges decrypted messages from both protocol pipelines into
// the MessageStore. All mutation of the store goes through it; every
// method is safe for concurrent use.
type Aggregator struct {
	sync.Mutex

	state *MessageStore

	// seen indexes message IDs per participant so Apply stays cheap on
	// long conversations.
	seen map[string]map[string]struct{}

	// onDirty, when set, is invoked after every mutation, outside of no
	// particular ordering guarantee with concurrent readers.
	onDirty func()
}

// NewAggregator wraps state. onDirty may be nil.
func NewAggregator(state *MessageStore, onDirty func()) *Aggregator {
	a := &Aggregator{
		state:   state,
		seen:    make(map[string]map[string]struct{}),
		onDirty: onDirty,
	}
	a.reindex()
	return a
}

func (a *Aggregator) reindex() {
	a.seen = make(map[string]map[string]struct{})
	for pk, p := range a.state.Participants {
		ids := make(map[string]struct{}, len(p.Messages))
		for _, m := range p.Messages {
			ids[m.ID] = struct{}{}
		}
		a.seen[pk] = ids
	}
}

func (a *Aggregator) dirty() {
	if a.onDirty != nil {
		a.onDirty()
	}
}

// Apply inserts msg into counterparty's ordered message list. It is
// idempotent: a message whose ID is already present is a no-op. Apply
// reports whether the message was inserted.
func (a *Aggregator) Apply(msg *envelope.DecryptedMessage, counterparty string) bool {
	a.Lock()
	defer a.Unlock()

	p, ok := a.state.Participants[counterparty]
	if !ok {
		p = &Participant{Pubkey: counterparty}
		a.state.Participants[counterparty] = p
		a.seen[counterparty] = make(map[string]struct{})
	}
	if _, dup := a.seen[counterparty][msg.ID]; dup {
		return false
	}
	a.seen[counterparty][msg.ID] = struct{}{}

	// Insert in sorted position by created_at, ties broken by id.
	i := sort.Search(len(p.Messages), func(i int) bool {
		m := p.Messages[i]
		if m.CreatedAt != msg.CreatedAt {
			return m.CreatedAt > msg.CreatedAt
		}
		return m.ID > msg.ID
	})
	p.Messages = append(p.Messages, nil)
	copy(p.Messages[i+1:], p.Messages[i:])
	p.Messages[i] = msg

	if msg.CreatedAt > p.LastActivity {
		p.LastActivity = msg.CreatedAt
	}
	switch msg.Protocol {
	case envelope.Direct:
		p.HasDirect = true
	case envelope.Sealed:
		p.HasSealed = true
	}
	a.dirty()
	return true
}

// Messages returns a copy of peer's ordered message list.
func (a *Aggregator) Messages(peer string) []*envelope.DecryptedMessage {
	a.Lock()
	defer a.Unlock()
	p, ok := a.state.Participants[peer]
	if !ok {
		return nil
	}
	out := make([]*envelope.DecryptedMessage, len(p.Messages))
	copy(out, p.Messages)
	return out
}

func deriveConversation(p *Participant, self string) *Conversation {
	c := &Conversation{ID: p.Pubkey}
	sent := false
	received := false
	for _, m := range p.Messages {
		if m.Pubkey == self {
			sent = true
		} else {
			received = true
			if m.CreatedAt > p.LastRead {
				c.UnreadCount++
			}
		}
	}
	if n := len(p.Messages); n > 0 {
		c.LastMessage = p.Messages[n-1]
		c.LastMessageTime = c.LastMessage.CreatedAt
		c.LastMessageFromUser = c.LastMessage.Pubkey == self
	}
	c.IsKnown = sent
	c.IsRequest = received && !sent
	return c
}

// Conversations derives the projection for all participants, sorted by
// last activity, most recent first.
func (a *Aggregator) Conversations(self string) []*Conversation {
	a.Lock()
	defer a.Unlock()
	out := make([]*Conversation, 0, len(a.state.Participants))
	for _, p := range a.state.Participants {
		out = append(out, deriveConversation(p, self))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].LastMessageTime != out[j].LastMessageTime {
			return out[i].LastMessageTime > out[j].LastMessageTime
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// MarkRead advances peer's read watermark to its latest activity.
func (a *Aggregator) MarkRead(peer string) {
	a.Lock()
	defer a.Unlock()
	p, ok := a.state.Participants[peer]
	if !ok {
		return
	}
	if p.LastActivity > p.LastRead {
		p.LastRead = p.LastActivity
		a.dirty()
	}
}

// Watermark returns the last-sync cursor for proto, 0 if never synced.
func (a *Aggregator) Watermark(proto envelope.Protocol) int64 {
	a.Lock()
	defer a.Unlock()
	return a.state.LastSync[proto]
}

// AdvanceWatermark moves proto's cursor forward to ts. The cursor never
// moves backwards; the call reports whether it advanced.
func (a *Aggregator) AdvanceWatermark(proto envelope.Protocol, ts int64) bool {
	a.Lock()
	defer a.Unlock()
	if ts <= a.state.LastSync[proto] {
		return false
	}
	a.state.LastSync[proto] = ts
	a.dirty()
	return true
}

// Snapshot returns a consistent copy of the state, suitable for writing
// out while mutation continues. Messages are shared, not copied; they are
// immutable once applied.
func (a *Aggregator) Snapshot() *MessageStore {
	a.Lock()
	defer a.Unlock()
	snap := NewMessageStore()
	for pk, p := range a.state.Participants {
		msgs := make([]*envelope.DecryptedMessage, len(p.Messages))
		copy(msgs, p.Messages)
		snap.Participants[pk] = &Participant{
			Pubkey:       p.Pubkey,
			Messages:     msgs,
			LastActivity: p.LastActivity,
			HasDirect:    p.HasDirect,
			HasSealed:    p.HasSealed,
			LastRead:     p.LastRead,
		}
	}
	for proto, ts := range a.state.LastSync {
		snap.LastSync[proto] = ts
	}
	return snap
}

// Reset discards all in-memory state, including the sync watermarks.
func (a *Aggregator) Reset() {
	a.Lock()
	defer a.Unlock()
	a.state.Participants = make(map[string]*Participant)
	a.state.LastSync = make(map[envelope.Protocol]int64)
	a.seen = make(map[string]map[string]struct{})
	a.dirty()
}
