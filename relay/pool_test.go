// SPDX-FileCopyrightText: © 2026 The hushwire authors
// SPDX-License-Identifier: AGPL-3.0-only

package relay

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/op/go-logging.v1"

	"github.com/hushwire/hushwire/event"
)

type stubSource struct {
	events     []*event.RawEvent
	queryErr   error
	publishErr error

	published []*event.RawEvent
	subFn     func(*event.RawEvent)
}

func (s *stubSource) Query(ctx context.Context, filters []*event.Filter) ([]*event.RawEvent, error) {
	if s.queryErr != nil {
		return nil, s.queryErr
	}
	return s.events, nil
}

func (s *stubSource) Subscribe(ctx context.Context, filters []*event.Filter, fn func(*event.RawEvent)) (func(), error) {
	if s.queryErr != nil {
		return nil, s.queryErr
	}
	s.subFn = fn
	return func() {}, nil
}

func (s *stubSource) Publish(ctx context.Context, ev *event.RawEvent) error {
	if s.publishErr != nil {
		return s.publishErr
	}
	s.published = append(s.published, ev)
	return nil
}

func newTestPool(sources ...Source) *Pool {
	return NewPool(logging.MustGetLogger("pool-test"), sources...)
}

func TestPoolQueryMerge(t *testing.T) {
	require := require.New(t)

	a := &stubSource{events: []*event.RawEvent{{ID: "e1"}, {ID: "e2"}}}
	b := &stubSource{events: []*event.RawEvent{{ID: "e2"}, {ID: "e3"}}}
	p := newTestPool(a, b)

	evs, err := p.Query(context.Background(), nil)
	require.NoError(err)
	require.Len(evs, 3)

	seen := make(map[string]bool)
	for _, ev := range evs {
		seen[ev.ID] = true
	}
	require.True(seen["e1"] && seen["e2"] && seen["e3"])
}

func TestPoolQueryPartialFailure(t *testing.T) {
	require := require.New(t)

	a := &stubSource{queryErr: errors.New("down")}
	b := &stubSource{events: []*event.RawEvent{{ID: "e1"}}}
	p := newTestPool(a, b)

	evs, err := p.Query(context.Background(), nil)
	require.NoError(err)
	require.Len(evs, 1)
}

func TestPoolQueryTotalFailure(t *testing.T) {
	require := require.New(t)

	a := &stubSource{queryErr: errors.New("down")}
	b := &stubSource{queryErr: errors.New("down too")}
	p := newTestPool(a, b)

	_, err := p.Query(context.Background(), nil)
	require.Error(err)
}

func TestPoolSubscribeDedup(t *testing.T) {
	require := require.New(t)

	a := new(stubSource)
	b := new(stubSource)
	p := newTestPool(a, b)

	var got []string
	cancel, err := p.Subscribe(context.Background(), nil, func(ev *event.RawEvent) {
		got = append(got, ev.ID)
	})
	require.NoError(err)
	defer cancel()

	// The same event arriving from both relays is delivered once.
	a.subFn(&event.RawEvent{ID: "e1"})
	b.subFn(&event.RawEvent{ID: "e1"})
	b.subFn(&event.RawEvent{ID: "e2"})
	require.Equal([]string{"e1", "e2"}, got)
}

func TestPoolSubscribePartialFailure(t *testing.T) {
	require := require.New(t)

	a := &stubSource{queryErr: errors.New("down")}
	b := new(stubSource)
	p := newTestPool(a, b)

	cancel, err := p.Subscribe(context.Background(), nil, func(*event.RawEvent) {})
	require.NoError(err)
	cancel()

	p = newTestPool(a)
	_, err = p.Subscribe(context.Background(), nil, func(*event.RawEvent) {})
	require.Error(err)
}

func TestPoolPublish(t *testing.T) {
	require := require.New(t)

	a := &stubSource{publishErr: errors.New("rejected")}
	b := new(stubSource)
	p := newTestPool(a, b)

	ev := &event.RawEvent{ID: "e1"}
	require.NoError(p.Publish(context.Background(), ev))
	require.Len(b.published, 1)

	p = newTestPool(a)
	require.Error(p.Publish(context.Background(), ev))

	p = newTestPool()
	require.Error(p.Publish(context.Background(), ev))
}
