// SPDX-FileCopyrightText: © 2026 The hushwire authors
// SPDX-License-Identifier: AGPL-3.0-only

package relay

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gopkg.in/op/go-logging.v1"

	"github.com/hushwire/hushwire/event"
)

var testPeer = strings.Repeat("ab", 32)

func newTestRelayClient() *Client {
	return &Client{
		log:       logging.MustGetLogger("relay-test"),
		url:       "ws://test.invalid",
		subs:      make(map[string]*subscription),
		okWaiters: make(map[string]chan error),
	}
}

func frame(parts ...interface{}) []byte {
	raw, err := json.Marshal(parts)
	if err != nil {
		panic(err)
	}
	return raw
}

func TestDispatchQueryEvents(t *testing.T) {
	require := require.New(t)
	c := newTestRelayClient()

	sub := &subscription{
		id:      "q1",
		eventCh: make(chan *event.RawEvent, 16),
		eoseCh:  make(chan struct{}),
	}
	c.subs[sub.id] = sub

	ev := &event.RawEvent{ID: "e1", Pubkey: testPeer, Kind: event.KindDirect, Content: "ct"}
	c.dispatch(frame("EVENT", "q1", ev))
	c.dispatch(frame("EOSE", "q1"))

	select {
	case got := <-sub.eventCh:
		require.Equal("e1", got.ID)
		require.Equal(event.KindDirect, got.Kind)
	default:
		t.Fatal("no event dispatched")
	}
	select {
	case <-sub.eoseCh:
	default:
		t.Fatal("eose not signalled")
	}
}

func TestDispatchLiveCallback(t *testing.T) {
	require := require.New(t)
	c := newTestRelayClient()

	var got []*event.RawEvent
	c.subs["live1"] = &subscription{
		id: "live1",
		fn: func(ev *event.RawEvent) { got = append(got, ev) },
	}

	c.dispatch(frame("EVENT", "live1", &event.RawEvent{ID: "e1"}))
	c.dispatch(frame("EVENT", "live1", &event.RawEvent{ID: "e2"}))
	require.Len(got, 2)
	require.Equal("e2", got[1].ID)
}

func TestDispatchUnknownSubscription(t *testing.T) {
	c := newTestRelayClient()

	// Events for closed or unknown subscriptions are discarded quietly.
	c.dispatch(frame("EVENT", "nope", &event.RawEvent{ID: "e1"}))
	c.dispatch(frame("EOSE", "nope"))
}

func TestDispatchOK(t *testing.T) {
	require := require.New(t)
	c := newTestRelayClient()

	okCh := make(chan error, 1)
	c.okWaiters["e1"] = okCh
	c.dispatch(frame("OK", "e1", true, ""))
	require.NoError(<-okCh)

	rejectCh := make(chan error, 1)
	c.okWaiters["e2"] = rejectCh
	c.dispatch(frame("OK", "e2", false, "blocked: spam"))
	err := <-rejectCh
	require.Error(err)
	require.Contains(err.Error(), "blocked: spam")
}

func TestDispatchClosed(t *testing.T) {
	require := require.New(t)
	c := newTestRelayClient()

	sub := &subscription{
		id:      "q1",
		eventCh: make(chan *event.RawEvent, 1),
		eoseCh:  make(chan struct{}),
	}
	c.subs[sub.id] = sub

	c.dispatch(frame("CLOSED", "q1", "rate limited"))
	select {
	case <-sub.eoseCh:
	default:
		t.Fatal("closed subscription not unblocked")
	}
	c.subsMu.Lock()
	_, ok := c.subs["q1"]
	c.subsMu.Unlock()
	require.False(ok)
}

func TestDispatchFullBatchBeyondBuffer(t *testing.T) {
	require := require.New(t)
	c := newTestRelayClient()

	const total = 1000
	sub := &subscription{
		id:      "q1",
		eventCh: make(chan *event.RawEvent, 128),
		eoseCh:  make(chan struct{}),
	}
	c.subs[sub.id] = sub

	// The dispatcher runs ahead of the collector, as it does when a
	// relay streams a full batch down one connection. Every event must
	// survive the buffer filling up.
	go func() {
		for i := 0; i < total; i++ {
			c.dispatch(frame("EVENT", "q1", &event.RawEvent{ID: fmt.Sprintf("e%d", i)}))
		}
		c.dispatch(frame("EOSE", "q1"))
	}()

	time.Sleep(50 * time.Millisecond)
	got := 0
	deadline := time.After(5 * time.Second)
	for {
		select {
		case <-sub.eventCh:
			got++
		case <-sub.eoseCh:
			for {
				select {
				case <-sub.eventCh:
					got++
				default:
					require.Equal(total, got)
					return
				}
			}
		case <-deadline:
			t.Fatalf("timed out with %d of %d events", got, total)
		}
	}
}

func TestCloseSubReleasesDispatcher(t *testing.T) {
	require := require.New(t)
	c := newTestRelayClient()

	sub := &subscription{
		id:      "q1",
		eventCh: make(chan *event.RawEvent, 1),
		eoseCh:  make(chan struct{}),
	}
	c.subs[sub.id] = sub

	blocked := make(chan struct{})
	go func() {
		c.dispatch(frame("EVENT", "q1", &event.RawEvent{ID: "e1"}))
		c.dispatch(frame("EVENT", "q1", &event.RawEvent{ID: "e2"}))
		close(blocked)
	}()

	// The second dispatch is stuck on the full channel until the query
	// is abandoned.
	time.Sleep(20 * time.Millisecond)
	c.closeSub("q1")
	select {
	case <-blocked:
	case <-time.After(2 * time.Second):
		t.Fatal("dispatcher still blocked after close")
	}
	c.subsMu.Lock()
	_, ok := c.subs["q1"]
	c.subsMu.Unlock()
	require.False(ok)
}

func TestDispatchMalformed(t *testing.T) {
	c := newTestRelayClient()

	// None of these may panic or disturb state.
	c.dispatch([]byte("not json"))
	c.dispatch([]byte("{}"))
	c.dispatch([]byte(`["EVENT"]`))
	c.dispatch([]byte(`["EVENT","sub"]`))
	c.dispatch([]byte(`["EVENT","sub","not an object"]`))
	c.dispatch([]byte(`["OK","e1"]`))
	c.dispatch([]byte(`[1,2,3]`))
	c.dispatch(frame("NOTICE", "slow down"))
}

func TestReqFrame(t *testing.T) {
	require := require.New(t)

	since := int64(100)
	raw, err := json.Marshal(reqFrame("sub1", []*event.Filter{
		{Kinds: []int{event.KindWrap}, P: []string{testPeer}, Since: &since},
		{Kinds: []int{event.KindDirect}, Authors: []string{testPeer}},
	}))
	require.NoError(err)

	var parts []json.RawMessage
	require.NoError(json.Unmarshal(raw, &parts))
	require.Len(parts, 4)

	var typ, id string
	require.NoError(json.Unmarshal(parts[0], &typ))
	require.NoError(json.Unmarshal(parts[1], &id))
	require.Equal("REQ", typ)
	require.Equal("sub1", id)

	var f map[string]interface{}
	require.NoError(json.Unmarshal(parts[2], &f))
	require.Contains(f, "#p")
	kinds, ok := f["kinds"].([]interface{})
	require.True(ok)
	require.Equal(float64(event.KindWrap), kinds[0])
}
