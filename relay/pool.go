// SPDX-FileCopyrightText: © 2026 The hushwire authors
// SPDX-License-Identifier: AGPL-3.0-only

package relay

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/errgroup"
	"gopkg.in/op/go-logging.v1"

	"github.com/hushwire/hushwire/event"
)

// Pool fans one Source contract out across several relays: queries merge
// and deduplicate results by event id, subscriptions are opened on every
// relay, and publishes succeed if any relay accepts.
type Pool struct {
	log     *logging.Logger
	sources []Source
}

var _ Source = (*Pool)(nil)

// NewPool creates a Pool over sources.
func NewPool(log *logging.Logger, sources ...Source) *Pool {
	return &Pool{log: log, sources: sources}
}

// Query queries every relay and merges the results, keeping the first
// occurrence of each event id. A relay error is only fatal if no relay
// answered.
func (p *Pool) Query(ctx context.Context, filters []*event.Filter) ([]*event.RawEvent, error) {
	var mu sync.Mutex
	var merged []*event.RawEvent
	seen := make(map[string]struct{})
	answered := 0

	g, gctx := errgroup.WithContext(ctx)
	for _, src := range p.sources {
		src := src
		g.Go(func() error {
			evs, err := src.Query(gctx, filters)
			if err != nil {
				p.log.Debugf("Pool query leg failed: %v", err)
				return nil
			}
			mu.Lock()
			answered++
			for _, ev := range evs {
				if _, dup := seen[ev.ID]; dup {
					continue
				}
				seen[ev.ID] = struct{}{}
				merged = append(merged, ev)
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	if answered == 0 {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, ErrQueryTimeout
		}
		return nil, errors.New("relay: all pool queries failed")
	}
	return merged, nil
}

// Subscribe opens the subscription on every relay. Duplicate deliveries
// across relays are deduplicated by event id.
func (p *Pool) Subscribe(ctx context.Context, filters []*event.Filter, fn func(*event.RawEvent)) (func(), error) {
	var mu sync.Mutex
	seen := make(map[string]struct{})
	dedup := func(ev *event.RawEvent) {
		mu.Lock()
		if _, dup := seen[ev.ID]; dup {
			mu.Unlock()
			return
		}
		seen[ev.ID] = struct{}{}
		mu.Unlock()
		fn(ev)
	}

	cancels := make([]func(), 0, len(p.sources))
	for _, src := range p.sources {
		cancel, err := src.Subscribe(ctx, filters, dedup)
		if err != nil {
			p.log.Warningf("Pool subscribe leg failed: %v", err)
			continue
		}
		cancels = append(cancels, cancel)
	}
	if len(cancels) == 0 {
		return nil, errors.New("relay: all pool subscriptions failed")
	}
	return func() {
		for _, cancel := range cancels {
			cancel()
		}
	}, nil
}

// Publish submits ev to every relay; it succeeds if any relay accepts.
func (p *Pool) Publish(ctx context.Context, ev *event.RawEvent) error {
	var lastErr error
	accepted := false
	for _, src := range p.sources {
		if err := src.Publish(ctx, ev); err != nil {
			lastErr = err
			continue
		}
		accepted = true
	}
	if accepted {
		return nil
	}
	if lastErr == nil {
		lastErr = errors.New("relay: empty pool")
	}
	return lastErr
}
