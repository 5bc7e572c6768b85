// SPDX-FileCopyrightText: © 2026 The hushwire authors
// SPDX-License-Identifier: AGPL-3.0-only

package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"gopkg.in/op/go-logging.v1"

	"github.com/hushwire/hushwire/core/worker"
	"github.com/hushwire/hushwire/envelope"
	"github.com/hushwire/hushwire/event"
	"github.com/hushwire/hushwire/internal/instrument"
	"github.com/hushwire/hushwire/relay"
	"github.com/hushwire/hushwire/signer"
)

const (
	// ScanBatchSize is the number of events requested per historical
	// scan batch.
	ScanBatchSize = 1000

	// ScanTotalCeiling bounds the worst-case historical scan for very
	// active accounts.
	ScanTotalCeiling = 20000

	// LiveOverlap is the backward overlap applied to the live
	// subscription's since cursor, tolerating out-of-order relay
	// delivery and clock skew.
	LiveOverlap = 60 * time.Second

	// DirectQueryTimeout bounds direct-scheme queries. Single-layer
	// decryption is cheap and the payloads small.
	DirectQueryTimeout = 15 * time.Second

	// SealedQueryTimeout bounds sealed-scheme queries, which carry the
	// extra envelope layer and typically heavier payloads.
	SealedQueryTimeout = 45 * time.Second

	// decryptParallelism bounds concurrent resolver calls per batch.
	decryptParallelism = 4
)

// pipeline drives one protocol's Idle -> Scanning -> CaughtUp -> Live
// state machine. A pipeline runs once; disabling a protocol halts its
// pipeline and re-enabling constructs a fresh one, resuming from the
// persisted watermark.
type pipeline struct {
	worker.Worker

	c        *Client
	resolver envelope.Resolver
	log      *logging.Logger
	timeout  time.Duration
	overlap  time.Duration

	// Overridable in tests.
	batchSize int
	ceiling   int

	stateMu sync.Mutex
	state   SyncState

	scanned   int
	decrypted int
}

func newPipeline(c *Client, resolver envelope.Resolver) *pipeline {
	timeout := DirectQueryTimeout
	overlap := LiveOverlap
	if resolver.Protocol() == envelope.Sealed {
		timeout = SealedQueryTimeout
		// Wrappers are backdated by up to the send jitter, so the
		// resume window must reach that far behind the watermark or
		// wrappers received while we were offline would be skipped.
		overlap = wrapJitterMax + LiveOverlap
	}
	return &pipeline{
		c:         c,
		resolver:  resolver,
		log:       c.logBackend.GetLogger(fmt.Sprintf("sync/%s", resolver.Protocol())),
		timeout:   timeout,
		overlap:   overlap,
		batchSize: ScanBatchSize,
		ceiling:   ScanTotalCeiling,
		state:     StateIdle,
	}
}

func (p *pipeline) proto() envelope.Protocol { return p.resolver.Protocol() }

// State returns the pipeline's current state.
func (p *pipeline) State() SyncState {
	p.stateMu.Lock()
	defer p.stateMu.Unlock()
	return p.state
}

func (p *pipeline) transition(s SyncState) {
	p.stateMu.Lock()
	p.state = s
	p.stateMu.Unlock()
	p.progress(s)
}

func (p *pipeline) progress(s SyncState) {
	p.c.emit(&SyncProgressEvent{
		Protocol:  p.proto(),
		State:     s,
		Scanned:   p.scanned,
		Decrypted: p.decrypted,
	})
}

// filters builds the scan/live filter set for this protocol. The direct
// scheme needs both directions explicitly; sealed wrappers are only ever
// addressed to us, the sender's copy being a separate wrapper.
func (p *pipeline) filters(since, until *int64, limit int) []*event.Filter {
	kind := p.resolver.Kind()
	self := p.c.self
	recipient := &event.Filter{
		Kinds: []int{kind},
		P:     []string{self},
		Since: since,
		Until: until,
		Limit: limit,
	}
	if p.proto() == envelope.Sealed {
		return []*event.Filter{recipient}
	}
	author := &event.Filter{
		Kinds:   []int{kind},
		Authors: []string{self},
		Since:   since,
		Until:   until,
		Limit:   limit,
	}
	return []*event.Filter{recipient, author}
}

func (p *pipeline) run() {
	if err := p.scan(); err != nil {
		if errors.Is(err, errHalted) {
			return
		}
		p.log.Errorf("Pipeline halted: %v", err)
		p.transition(StateIdle)
		p.c.emit(&SyncErrorEvent{Protocol: p.proto(), Err: err})
		return
	}
	p.transition(StateCaughtUp)

	if err := p.live(); err != nil {
		if errors.Is(err, errHalted) {
			return
		}
		p.log.Errorf("Live subscription failed: %v", err)
		p.transition(StateIdle)
		p.c.emit(&SyncErrorEvent{Protocol: p.proto(), Err: err})
	}
}

// queryBatch issues one bounded query, retrying once on timeout. The
// query is cancelled if the pipeline halts while it is in flight.
func (p *pipeline) queryBatch(filters []*event.Filter) ([]*event.RawEvent, error) {
	for attempt := 0; attempt < 2; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		done := make(chan struct{})
		go func() {
			select {
			case <-p.HaltCh():
				cancel()
			case <-done:
			}
		}()
		evs, err := p.c.source.Query(ctx, filters)
		close(done)
		cancel()
		// A batch that raced the halt must not be processed; the caller
		// may already be tearing the store down.
		select {
		case <-p.HaltCh():
			return nil, errHalted
		default:
		}
		if err == nil {
			return evs, nil
		}
		if !errors.Is(err, relay.ErrQueryTimeout) {
			return nil, err
		}
		p.log.Warningf("Query timeout (attempt %d)", attempt+1)
	}
	return nil, relay.ErrQueryTimeout
}

// scan performs the batched historical scan, moving the until cursor
// backward in time until history is exhausted or the ceiling is reached.
func (p *pipeline) scan() error {
	p.transition(StateScanning)

	var since *int64
	if wm := p.c.agg.Watermark(p.proto()); wm > 0 {
		s := wm - int64(p.overlap/time.Second)
		if s < 0 {
			s = 0
		}
		since = &s
	}

	var until *int64
	for p.scanned < p.ceiling {
		select {
		case <-p.HaltCh():
			return errHalted
		default:
		}

		batch, err := p.queryBatch(p.filters(since, until, p.batchSize))
		if err != nil {
			if errors.Is(err, relay.ErrQueryTimeout) {
				// Abandon the batch rather than stall the pipeline; the
				// watermark is left behind it so a later session can
				// fill the gap.
				p.log.Errorf("Batch abandoned after retry: %v", err)
				break
			}
			return err
		}
		instrument.BatchScanned(p.proto().String())

		n, err := p.processBatch(batch, false)
		p.scanned += len(batch)
		p.decrypted += n
		if err != nil {
			return err
		}
		p.progress(StateScanning)

		if len(batch) < p.batchSize {
			break
		}
		oldest := batch[0].CreatedAt
		for _, ev := range batch {
			if ev.CreatedAt < oldest {
				oldest = ev.CreatedAt
			}
		}
		next := oldest - 1
		until = &next
	}
	return nil
}

// processBatch resolves a batch in parallel and applies the successes.
// It returns the number of newly inserted messages. A non-nil error
// means the pipeline's decryption capability is gone and the pipeline
// must stop.
func (p *pipeline) processBatch(batch []*event.RawEvent, emitPerMessage bool) (int, error) {
	proto := p.proto()

	var mu sync.Mutex
	inserted := 0
	var newest int64

	g := new(errgroup.Group)
	g.SetLimit(decryptParallelism)
	for _, ev := range batch {
		ev := ev
		g.Go(func() error {
			instrument.EventProcessed(proto.String())
			msg, err := p.resolver.Resolve(ev)
			if err != nil {
				if errors.Is(err, signer.ErrNoDecryption) {
					return err
				}
				p.c.diag.Report(proto, ev.ID, err)
				instrument.DecryptionFailure(proto.String(), envelope.FailureClass(err))
				return nil
			}
			instrument.MessageDecrypted(proto.String())
			peer, err := msg.Counterparty(p.c.self)
			if err != nil {
				p.c.diag.Report(proto, ev.ID, err)
				return nil
			}

			fresh := p.c.agg.Apply(msg, peer)

			mu.Lock()
			if fresh {
				inserted++
			}
			// The watermark tracks the transport event's timestamp, not
			// the rumor's, because relay filters apply to the former.
			if ev.CreatedAt > newest {
				newest = ev.CreatedAt
			}
			mu.Unlock()

			if fresh && emitPerMessage {
				p.c.emit(&MessageReceivedEvent{Peer: peer, Message: msg})
			}
			return nil
		})
	}
	// Only the missing-capability error propagates out of a batch.
	err := g.Wait()

	if newest > 0 {
		p.c.agg.AdvanceWatermark(proto, newest)
	}
	return inserted, err
}

// live opens the live subscription with a backward overlap window and
// blocks until the pipeline is halted.
func (p *pipeline) live() error {
	since := p.c.agg.Watermark(p.proto()) - int64(p.overlap/time.Second)
	if since < 0 {
		since = 0
	}

	cancel, err := p.c.source.Subscribe(context.Background(), p.filters(&since, nil, 0), func(ev *event.RawEvent) {
		if _, err := p.processBatch([]*event.RawEvent{ev}, true); err != nil {
			p.log.Errorf("Decryption capability unavailable: %v", err)
			p.c.emit(&SyncErrorEvent{Protocol: p.proto(), Err: err})
			p.transition(StateIdle)
			go p.Halt()
		}
	})
	if err != nil {
		return err
	}
	defer cancel()

	p.transition(StateLive)
	<-p.HaltCh()
	return errHalted
}
