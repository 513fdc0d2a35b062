// Copyright (C) 2025 Benedict Bihl (hello@benedictbihl.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package stream bridges token producers to HTTP response streams.
//
// # Description
//
// The generation side of a chat request runs in its own goroutine and emits
// tokens through an LLM callback. The HTTP side owns the response writer.
// This package connects the two: a Bridge carries tokens across the
// goroutine boundary through a bounded channel, and an SSEWriter turns them
// into server-sent event frames.
//
// # Back-Pressure
//
// The channel capacity is one token. A producer that outruns the consumer
// blocks inside Write until the consumer drains the previous token, so a
// slow client throttles generation instead of growing an unbounded buffer.
package stream

import (
	"context"
	"sync"
)

// Event is one item delivered to the consumer side of a Bridge.
//
// Exactly one terminal event is delivered per bridge: either Done is true
// (producer finished) or Err is non-nil (producer aborted). Token events
// always precede the terminal event.
type Event struct {
	Token string
	Done  bool
	Err   error
}

// Bridge is a bounded, single-use conduit from one token producer to one
// consumer.
//
// # Description
//
// The producer calls Write for each token, then exactly one of Finish or
// Abort. Both terminal calls are idempotent; whichever lands first wins and
// later calls are no-ops. Tokens written after the terminal call are
// silently dropped.
//
// # Thread Safety
//
// Write, Finish, Abort and Close are safe to call from different
// goroutines. Tokens from a single producer goroutine are delivered in
// write order.
type Bridge struct {
	events chan Event
	done   chan struct{} // closed when a terminal call landed
	closed chan struct{} // closed when the consumer stopped reading

	termOnce  sync.Once
	closeOnce sync.Once
}

// NewBridge creates a bridge with a single-token buffer.
func NewBridge() *Bridge {
	return &Bridge{
		events: make(chan Event, 1),
		done:   make(chan struct{}),
		closed: make(chan struct{}),
	}
}

// Events returns the consumer side. Read until an event with Done set or a
// non-nil Err arrives, then stop.
func (b *Bridge) Events() <-chan Event {
	return b.events
}

// Write delivers one token to the consumer, blocking while the buffer is
// full. Returns nil when the token was dropped because the bridge already
// terminated or the consumer went away; returns the context error when ctx
// is cancelled while blocked.
func (b *Bridge) Write(ctx context.Context, token string) error {
	select {
	case <-b.done:
		return nil
	case <-b.closed:
		return nil
	default:
	}

	select {
	case b.events <- Event{Token: token}:
		return nil
	case <-b.done:
		return nil
	case <-b.closed:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Finish marks the stream complete. The terminal event is queued behind any
// buffered tokens so the consumer sees every written token first.
func (b *Bridge) Finish() {
	b.terminate(Event{Done: true})
}

// Abort marks the stream failed with the given error. Like Finish it is
// idempotent and loses to an earlier terminal call.
func (b *Bridge) Abort(err error) {
	b.terminate(Event{Done: true, Err: err})
}

func (b *Bridge) terminate(terminal Event) {
	b.termOnce.Do(func() {
		close(b.done)
		// The send must not outlive an abandoned consumer, hence the
		// select against closed.
		go func() {
			select {
			case b.events <- terminal:
			case <-b.closed:
			}
		}()
	})
}

// Close releases the producer side when the consumer stops reading early,
// for example on client disconnect. Blocked writers return immediately.
func (b *Bridge) Close() {
	b.closeOnce.Do(func() {
		close(b.closed)
	})
}
