// SPDX-FileCopyrightText: © 2026 The hushwire authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package chat is the composition root of the encrypted direct message
// engine: it owns the message cache, the per-protocol sync pipelines, the
// debounced state writer and the public API consumed by an application.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"time"

	"gopkg.in/eapache/channels.v1"
	"gopkg.in/op/go-logging.v1"

	"github.com/hushwire/hushwire/core/log"
	"github.com/hushwire/hushwire/core/worker"
	"github.com/hushwire/hushwire/envelope"
	"github.com/hushwire/hushwire/event"
	"github.com/hushwire/hushwire/internal/instrument"
	"github.com/hushwire/hushwire/relay"
	"github.com/hushwire/hushwire/signer"
	"github.com/hushwire/hushwire/store"
)

var (
	errHalted          = errors.New("chat: halted")
	errUnknownProtocol = errors.New("chat: unknown protocol")
)

const publishTimeout = 30 * time.Second

// wrapJitterMax bounds the random backdating applied to outgoing wrapper
// timestamps, hiding send-time metadata from relays.
const wrapJitterMax = 2 * time.Hour

// Storage is the durable per-user store consumed by the Client.
type Storage interface {
	Load(user string) (*store.MessageStore, error)
	Save(user string, snapshot *store.MessageStore) error
	Reset(user string) error
}

// Client is the encrypted direct message engine. Construct it with New,
// start it with Start, and consume EventSink for progress and message
// events. All exported methods are safe for concurrent use.
type Client struct {
	worker.Worker

	eventCh   channels.Channel
	EventSink chan interface{}
	opCh      chan interface{}

	agg     *store.Aggregator
	writer  *store.StateWriter
	storage Storage
	source  relay.Source
	signer  signer.Signer
	self    string

	resolvers map[envelope.Protocol]envelope.Resolver
	pipelines map[envelope.Protocol]*pipeline
	enabled   map[envelope.Protocol]bool

	diag       *envelope.DiagLimiter
	log        *logging.Logger
	logBackend *log.Backend
}

// New constructs a Client for the signer's identity. enabled selects the
// protocols to sync at startup. The persisted cache is loaded eagerly; a
// read failure degrades to an empty store and a full re-scan.
func New(logBackend *log.Backend, source relay.Source, sgn signer.Signer, storage Storage, enabled map[envelope.Protocol]bool) (*Client, error) {
	c := &Client{
		eventCh:    channels.NewInfiniteChannel(),
		EventSink:  make(chan interface{}),
		opCh:       make(chan interface{}, 8),
		storage:    storage,
		source:     source,
		signer:     sgn,
		self:       sgn.Pubkey(),
		pipelines:  make(map[envelope.Protocol]*pipeline),
		enabled:    make(map[envelope.Protocol]bool),
		log:        logBackend.GetLogger("chat"),
		logBackend: logBackend,
	}
	c.diag = envelope.NewDiagLimiter(c.log)
	c.resolvers = map[envelope.Protocol]envelope.Resolver{
		envelope.Direct: envelope.NewDirectResolver(sgn),
		envelope.Sealed: envelope.NewSealedResolver(sgn),
	}
	for proto, on := range enabled {
		c.enabled[proto] = on
	}

	state, err := storage.Load(c.self)
	switch {
	case err == nil:
	case errors.Is(err, store.ErrNotFound):
		state = store.NewMessageStore()
	default:
		c.log.Errorf("Failed to load persisted state, starting empty: %v", err)
		state = store.NewMessageStore()
	}

	c.writer = store.NewStateWriter(logBackend.GetLogger("statewriter"), &instrumentedStorage{storage, c}, c.self, func() *store.MessageStore {
		return c.agg.Snapshot()
	})
	c.agg = store.NewAggregator(state, c.writer.Dirty)
	return c, nil
}

// instrumentedStorage counts flushes and surfaces write failures to the
// event sink as non-blocking notifications.
type instrumentedStorage struct {
	Storage
	c *Client
}

func (s *instrumentedStorage) Save(user string, snapshot *store.MessageStore) error {
	err := s.Storage.Save(user, snapshot)
	if err != nil {
		instrument.StateFlush("failure")
		s.c.emit(&StorageErrorEvent{Err: err})
		return err
	}
	instrument.StateFlush("success")
	return nil
}

// Start launches the client worker, the state writer and the pipelines of
// all enabled protocols.
func (c *Client) Start() {
	c.writer.Start()
	c.Go(c.eventSinkWorker)
	// The pipelines map is owned by the op worker once it runs; the
	// initial pipelines are created before it starts.
	for proto, on := range c.enabled {
		if on {
			c.startPipeline(proto)
		}
	}
	c.Go(c.worker)
}

// Shutdown stops the workers and pipelines and flushes pending state.
func (c *Client) Shutdown() {
	c.log.Info("Shutting down now.")
	// Halting the op worker first leaves the pipelines map quiescent.
	c.Halt()
	for _, p := range c.pipelines {
		p.Halt()
	}
	close(c.EventSink)
	c.writer.Halt()
}

func (c *Client) emit(ev interface{}) {
	c.eventCh.In() <- ev
}

func (c *Client) eventSinkWorker() {
	defer c.log.Debug("Event sink worker terminating gracefully.")
	for {
		var ev interface{}
		select {
		case <-c.HaltCh():
			return
		case ev = <-c.eventCh.Out():
		}
		select {
		case c.EventSink <- ev:
		case <-c.HaltCh():
			return
		}
	}
}

// GetConversations derives the conversation list, most recent first.
func (c *Client) GetConversations() []*store.Conversation {
	return c.agg.Conversations(c.self)
}

// GetMessages returns the ordered message list for peer.
func (c *Client) GetMessages(peer string) []*envelope.DecryptedMessage {
	return c.agg.Messages(peer)
}

// MarkRead clears peer's unread count.
func (c *Client) MarkRead(peer string) {
	c.agg.MarkRead(peer)
}

// SyncState returns the pipeline state for proto.
func (c *Client) SyncState(proto envelope.Protocol) SyncState {
	op := &opGetSyncState{proto: proto, responseChan: make(chan SyncState, 1)}
	select {
	case <-c.HaltCh():
		return StateIdle
	case c.opCh <- op:
	}
	select {
	case <-c.HaltCh():
		return StateIdle
	case s := <-op.responseChan:
		return s
	}
}

// SetProtocolEnabled enables or disables syncing of proto. Disabling
// cancels the pipeline mid-scan but retains already decrypted messages;
// re-enabling resumes from the persisted watermark.
func (c *Client) SetProtocolEnabled(proto envelope.Protocol, on bool) error {
	op := &opSetProtocol{proto: proto, on: on, responseChan: make(chan error, 1)}
	select {
	case <-c.HaltCh():
		return errHalted
	case c.opCh <- op:
	}
	select {
	case <-c.HaltCh():
		return errHalted
	case err := <-op.responseChan:
		return err
	}
}

// SendMessage encrypts plaintext for peer under proto, applies the local
// copy to the cache immediately and publishes the envelope. It returns
// the id of the logical message.
func (c *Client) SendMessage(peer string, plaintext []byte, proto envelope.Protocol) (string, error) {
	op := &opSendMessage{
		peer:         peer,
		plaintext:    plaintext,
		proto:        proto,
		responseChan: make(chan sendResult, 1),
	}
	select {
	case <-c.HaltCh():
		return "", errHalted
	case c.opCh <- op:
	}
	select {
	case <-c.HaltCh():
		return "", errHalted
	case r := <-op.responseChan:
		return r.id, r.err
	}
}

// ResetCacheAndData clears the persisted record and all in-memory state,
// forcing a full historical re-scan of the enabled protocols.
func (c *Client) ResetCacheAndData() error {
	op := &opReset{responseChan: make(chan error, 1)}
	select {
	case <-c.HaltCh():
		return errHalted
	case c.opCh <- op:
	}
	select {
	case <-c.HaltCh():
		return errHalted
	case err := <-op.responseChan:
		return err
	}
}

func (c *Client) startPipeline(proto envelope.Protocol) {
	if p, ok := c.pipelines[proto]; ok && p.State() != StateIdle {
		return
	}
	p := newPipeline(c, c.resolvers[proto])
	c.pipelines[proto] = p
	p.Go(p.run)
}

func (c *Client) stopPipeline(proto envelope.Protocol) {
	p, ok := c.pipelines[proto]
	if !ok {
		return
	}
	delete(c.pipelines, proto)
	// Halting blocks on in-flight queries; do not stall the op worker.
	go func() {
		p.Halt()
		p.transition(StateIdle)
	}()
}

func (c *Client) doSetProtocol(proto envelope.Protocol, on bool) error {
	if _, ok := c.resolvers[proto]; !ok {
		return errUnknownProtocol
	}
	if c.enabled[proto] == on {
		return nil
	}
	c.enabled[proto] = on
	if on {
		c.startPipeline(proto)
	} else {
		c.stopPipeline(proto)
	}
	return nil
}

func (c *Client) doReset() error {
	// The halt must complete before the aggregator is cleared, or an
	// in-flight batch from the old pipeline would repopulate the store
	// behind the reset. Halting cancels any query in flight, so the
	// wait is short.
	for proto, p := range c.pipelines {
		delete(c.pipelines, proto)
		p.Halt()
		p.transition(StateIdle)
	}
	c.agg.Reset()
	if err := c.storage.Reset(c.self); err != nil {
		return err
	}
	for proto, on := range c.enabled {
		if on {
			c.startPipeline(proto)
		}
	}
	return nil
}

func (c *Client) doSendMessage(peer string, plaintext []byte, proto envelope.Protocol) (string, error) {
	if !event.IsValidPubkey(peer) {
		return "", envelope.ErrInvalidRecipient
	}

	var outer *event.RawEvent
	var msg *envelope.DecryptedMessage
	var err error
	switch proto {
	case envelope.Direct:
		outer, msg, err = c.composeDirect(peer, plaintext)
	case envelope.Sealed:
		outer, msg, err = c.composeSealed(peer, plaintext)
	default:
		return "", errUnknownProtocol
	}
	if err != nil {
		return "", err
	}

	c.agg.Apply(msg, peer)

	// Publish off the op worker; the outcome arrives via the event sink.
	c.Go(func() {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()
		if err := c.source.Publish(ctx, outer); err != nil {
			// The local copy stays; the message simply never reached a
			// relay.
			c.log.Errorf("Failed to publish message %s: %v", msg.ID, err)
			c.emit(&MessageNotSentEvent{Peer: peer, MessageID: msg.ID, Protocol: proto, Err: err})
			return
		}
		c.emit(&MessageSentEvent{Peer: peer, MessageID: msg.ID, Protocol: proto})
	})
	return msg.ID, nil
}

func (c *Client) composeDirect(peer string, plaintext []byte) (*event.RawEvent, *envelope.DecryptedMessage, error) {
	ciphertext, err := c.signer.EncryptDirect(peer, plaintext)
	if err != nil {
		return nil, nil, err
	}
	ev := &event.RawEvent{
		Pubkey:    c.self,
		CreatedAt: time.Now().Unix(),
		Kind:      event.KindDirect,
		Tags:      [][]string{{"p", peer}},
		Content:   ciphertext,
	}
	ev.ID = event.ComputeID(ev)
	msg := &envelope.DecryptedMessage{
		ID:        ev.ID,
		Pubkey:    ev.Pubkey,
		CreatedAt: ev.CreatedAt,
		Kind:      ev.Kind,
		Tags:      ev.Tags,
		Content:   string(plaintext),
		Protocol:  envelope.Direct,
	}
	return ev, msg, nil
}

func (c *Client) composeSealed(peer string, plaintext []byte) (*event.RawEvent, *envelope.DecryptedMessage, error) {
	now := time.Now().Unix()

	rumor := &event.RawEvent{
		Pubkey:    c.self,
		CreatedAt: now,
		Kind:      event.KindChat,
		Tags:      [][]string{{"p", peer}},
		Content:   string(plaintext),
	}
	rumor.ID = event.ComputeID(rumor)
	rumorJSON, err := json.Marshal(rumor)
	if err != nil {
		return nil, nil, err
	}

	sealCiphertext, err := c.signer.EncryptSealed(peer, rumorJSON)
	if err != nil {
		return nil, nil, err
	}
	seal := &event.RawEvent{
		Pubkey:    c.self,
		CreatedAt: now,
		Kind:      event.KindSeal,
		Tags:      [][]string{},
		Content:   sealCiphertext,
	}
	seal.ID = event.ComputeID(seal)
	sealJSON, err := json.Marshal(seal)
	if err != nil {
		return nil, nil, err
	}

	ephemeral, wrapCiphertext, err := c.signer.WrapSealed(peer, sealJSON)
	if err != nil {
		return nil, nil, err
	}
	wrap := &event.RawEvent{
		Pubkey:    ephemeral,
		CreatedAt: now - rand.Int63n(int64(wrapJitterMax/time.Second)),
		Kind:      event.KindWrap,
		Tags:      [][]string{{"p", peer}},
		Content:   wrapCiphertext,
	}
	wrap.ID = event.ComputeID(wrap)

	msg := &envelope.DecryptedMessage{
		ID:        rumor.ID,
		Pubkey:    rumor.Pubkey,
		CreatedAt: rumor.CreatedAt,
		Kind:      rumor.Kind,
		Tags:      rumor.Tags,
		Content:   string(plaintext),
		Protocol:  envelope.Sealed,
	}
	return wrap, msg, nil
}

// FlushState forces an immediate write of the cache, bypassing the
// debounce window.
func (c *Client) FlushState() error {
	return c.writer.Flush()
}
