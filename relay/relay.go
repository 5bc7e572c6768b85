// SPDX-FileCopyrightText: © 2026 The hushwire authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package relay provides the event source: a websocket client speaking the
// relay wire protocol, and a pool fanning queries and subscriptions out
// across multiple relays.
package relay

import (
	"context"
	"errors"

	"github.com/hushwire/hushwire/event"
)

var (
	// ErrQueryTimeout is returned when a bounded query does not complete
	// within its deadline. Treated as transient by callers.
	ErrQueryTimeout = errors.New("relay: query timeout")

	// ErrClosed is returned when the connection has been shut down.
	ErrClosed = errors.New("relay: connection closed")
)

// Source supplies signed events matching a filter. It is the only
// interface the sync pipelines know about; Client and Pool implement it.
type Source interface {
	// Query returns all stored events matching filters, bounded by ctx.
	Query(ctx context.Context, filters []*event.Filter) ([]*event.RawEvent, error)

	// Subscribe invokes fn for each live event matching filters until the
	// returned cancel function is called or ctx is done.
	Subscribe(ctx context.Context, filters []*event.Filter, fn func(*event.RawEvent)) (func(), error)

	// Publish submits a signed event for storage and broadcast.
	Publish(ctx context.Context, ev *event.RawEvent) error
}
