// SPDX-FileCopyrightText: © 2026 The hushwire authors
// SPDX-License-Identifier: AGPL-3.0-only

package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/op/go-logging.v1"
	"nhooyr.io/websocket"

	"github.com/hushwire/hushwire/core/worker"
	"github.com/hushwire/hushwire/event"
)

const (
	dialTimeout      = 10 * time.Second
	writeTimeout     = 10 * time.Second
	reconnectInitial = 1 * time.Second
	reconnectMax     = 60 * time.Second
)

type subscription struct {
	id      string
	filters []*event.Filter

	// live subscriptions deliver through fn and survive reconnects;
	// one-shot queries collect through eventCh until EOSE.
	fn       func(*event.RawEvent)
	eventCh  chan *event.RawEvent
	eoseCh   chan struct{}
	eoseOnce sync.Once
}

// signalEOSE marks a one-shot subscription finished. Safe to call from
// the dispatcher and from cancellation concurrently.
func (s *subscription) signalEOSE() {
	if s.eoseCh == nil {
		return
	}
	s.eoseOnce.Do(func() { close(s.eoseCh) })
}

// Client is a single relay connection. Its read worker dispatches inbound
// frames to subscriptions and reconnects with capped backoff, re-issuing
// live subscriptions after each reconnect.
type Client struct {
	worker.Worker

	log *logging.Logger
	url string

	connMu sync.Mutex
	conn   *websocket.Conn

	subsMu sync.Mutex
	subs   map[string]*subscription

	okMu      sync.Mutex
	okWaiters map[string]chan error
}

var _ Source = (*Client)(nil)

// Dial connects to the relay at url and starts the read worker.
func Dial(ctx context.Context, url string, log *logging.Logger) (*Client, error) {
	c := &Client{
		log:       log,
		url:       url,
		subs:      make(map[string]*subscription),
		okWaiters: make(map[string]chan error),
	}
	conn, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}
	c.conn = conn
	c.Go(c.readWorker)
	return c, nil
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	conn, _, err := websocket.Dial(dialCtx, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("relay: dial %s: %w", c.url, err)
	}
	conn.SetReadLimit(1 << 22)
	return conn, nil
}

// Shutdown closes the connection and stops the worker.
func (c *Client) Shutdown() {
	c.Halt()
	c.connMu.Lock()
	if c.conn != nil {
		_ = c.conn.Close(websocket.StatusNormalClosure, "")
		c.conn = nil
	}
	c.connMu.Unlock()
}

func (c *Client) write(ctx context.Context, frame interface{}) error {
	raw, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	c.connMu.Lock()
	conn := c.conn
	c.connMu.Unlock()
	if conn == nil {
		return ErrClosed
	}
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(wctx, websocket.MessageText, raw)
}

// Query issues a one-shot subscription, collecting stored events until the
// relay signals end-of-stored-events. Context expiry maps to
// ErrQueryTimeout.
func (c *Client) Query(ctx context.Context, filters []*event.Filter) ([]*event.RawEvent, error) {
	sub := &subscription{
		id:      uuid.New().String(),
		filters: filters,
		eventCh: make(chan *event.RawEvent, 128),
		eoseCh:  make(chan struct{}),
	}
	c.subsMu.Lock()
	c.subs[sub.id] = sub
	c.subsMu.Unlock()
	defer c.closeSub(sub.id)

	if err := c.write(ctx, reqFrame(sub.id, filters)); err != nil {
		return nil, err
	}

	var out []*event.RawEvent
	for {
		select {
		case ev := <-sub.eventCh:
			out = append(out, ev)
		case <-sub.eoseCh:
			// Drain anything dispatched before the EOSE was observed.
			for {
				select {
				case ev := <-sub.eventCh:
					out = append(out, ev)
				default:
					return out, nil
				}
			}
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, ErrQueryTimeout
			}
			return nil, ctx.Err()
		case <-c.HaltCh():
			return nil, ErrClosed
		}
	}
}

// Subscribe opens a live subscription delivering each matching event to fn.
func (c *Client) Subscribe(ctx context.Context, filters []*event.Filter, fn func(*event.RawEvent)) (func(), error) {
	sub := &subscription{
		id:      uuid.New().String(),
		filters: filters,
		fn:      fn,
	}
	c.subsMu.Lock()
	c.subs[sub.id] = sub
	c.subsMu.Unlock()

	if err := c.write(ctx, reqFrame(sub.id, filters)); err != nil {
		c.closeSub(sub.id)
		return nil, err
	}

	var once sync.Once
	cancel := func() {
		once.Do(func() { c.closeSub(sub.id) })
	}
	return cancel, nil
}

// Publish submits ev and waits for the relay's acceptance reply.
func (c *Client) Publish(ctx context.Context, ev *event.RawEvent) error {
	okCh := make(chan error, 1)
	c.okMu.Lock()
	c.okWaiters[ev.ID] = okCh
	c.okMu.Unlock()
	defer func() {
		c.okMu.Lock()
		delete(c.okWaiters, ev.ID)
		c.okMu.Unlock()
	}()

	if err := c.write(ctx, []interface{}{"EVENT", ev}); err != nil {
		return err
	}
	select {
	case err := <-okCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-c.HaltCh():
		return ErrClosed
	}
}

func (c *Client) closeSub(id string) {
	c.subsMu.Lock()
	sub := c.subs[id]
	delete(c.subs, id)
	c.subsMu.Unlock()
	if sub == nil {
		return
	}
	// Release a dispatcher blocked on this query's channel.
	sub.signalEOSE()
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	_ = c.write(ctx, []interface{}{"CLOSE", id})
}

func reqFrame(id string, filters []*event.Filter) []interface{} {
	frame := []interface{}{"REQ", id}
	for _, f := range filters {
		frame = append(frame, f)
	}
	return frame
}

func (c *Client) readWorker() {
	backoff := reconnectInitial
	for {
		select {
		case <-c.HaltCh():
			return
		default:
		}

		c.connMu.Lock()
		conn := c.conn
		c.connMu.Unlock()
		if conn == nil {
			return
		}

		err := c.readLoop(conn)
		if err == nil {
			return
		}
		select {
		case <-c.HaltCh():
			return
		default:
		}
		c.log.Warningf("Connection to %s lost: %v; reconnecting in %s", c.url, err, backoff)

		select {
		case <-c.HaltCh():
			return
		case <-time.After(backoff):
		}
		if backoff *= 2; backoff > reconnectMax {
			backoff = reconnectMax
		}

		newConn, err := c.dial(context.Background())
		if err != nil {
			c.log.Errorf("Redial failed: %v", err)
			c.connMu.Lock()
			c.conn = nil
			c.connMu.Unlock()
			continue
		}
		c.connMu.Lock()
		c.conn = newConn
		c.connMu.Unlock()
		backoff = reconnectInitial
		c.resubscribe()
	}
}

// resubscribe re-issues REQ frames for live subscriptions after a
// reconnect. One-shot queries are left to time out on their own.
func (c *Client) resubscribe() {
	c.subsMu.Lock()
	live := make([]*subscription, 0, len(c.subs))
	for _, sub := range c.subs {
		if sub.fn != nil {
			live = append(live, sub)
		}
	}
	c.subsMu.Unlock()
	for _, sub := range live {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		if err := c.write(ctx, reqFrame(sub.id, sub.filters)); err != nil {
			c.log.Errorf("Failed to restore subscription %s: %v", sub.id, err)
		}
		cancel()
	}
}

func (c *Client) readLoop(conn *websocket.Conn) error {
	for {
		_, raw, err := conn.Read(context.Background())
		if err != nil {
			return err
		}
		c.dispatch(raw)
	}
}

func (c *Client) dispatch(raw []byte) {
	var frame []json.RawMessage
	if err := json.Unmarshal(raw, &frame); err != nil || len(frame) < 2 {
		c.log.Debugf("Discarding malformed frame from %s", c.url)
		return
	}
	var typ string
	if err := json.Unmarshal(frame[0], &typ); err != nil {
		return
	}

	switch typ {
	case "EVENT":
		if len(frame) < 3 {
			return
		}
		var subID string
		if err := json.Unmarshal(frame[1], &subID); err != nil {
			return
		}
		ev := new(event.RawEvent)
		if err := json.Unmarshal(frame[2], ev); err != nil {
			c.log.Debugf("Discarding malformed event on %s", subID)
			return
		}
		c.subsMu.Lock()
		sub := c.subs[subID]
		c.subsMu.Unlock()
		if sub == nil {
			return
		}
		if sub.fn != nil {
			sub.fn(ev)
			return
		}
		// Stored batches can exceed the channel buffer; dropping here
		// would truncate the query result, so block until the collector
		// drains or the query is over.
		select {
		case sub.eventCh <- ev:
		case <-sub.eoseCh:
		case <-c.HaltCh():
		}
	case "EOSE":
		var subID string
		if err := json.Unmarshal(frame[1], &subID); err != nil {
			return
		}
		c.subsMu.Lock()
		sub := c.subs[subID]
		c.subsMu.Unlock()
		if sub != nil {
			sub.signalEOSE()
		}
	case "OK":
		if len(frame) < 3 {
			return
		}
		var evID string
		var accepted bool
		if err := json.Unmarshal(frame[1], &evID); err != nil {
			return
		}
		if err := json.Unmarshal(frame[2], &accepted); err != nil {
			return
		}
		reason := ""
		if len(frame) >= 4 {
			_ = json.Unmarshal(frame[3], &reason)
		}
		c.okMu.Lock()
		ch := c.okWaiters[evID]
		c.okMu.Unlock()
		if ch == nil {
			return
		}
		if accepted {
			ch <- nil
		} else {
			ch <- fmt.Errorf("relay: event rejected: %s", reason)
		}
	case "NOTICE":
		var msg string
		_ = json.Unmarshal(frame[1], &msg)
		c.log.Noticef("Relay %s: %s", c.url, msg)
	case "CLOSED":
		var subID string
		if err := json.Unmarshal(frame[1], &subID); err != nil {
			return
		}
		c.subsMu.Lock()
		sub := c.subs[subID]
		delete(c.subs, subID)
		c.subsMu.Unlock()
		if sub != nil {
			sub.signalEOSE()
		}
	}
}
