// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package gasmeter

import (
	"sync"
)

// RecvStatus is the outcome of a non-blocking receive.
type RecvStatus int

const (
	// RecvOK means a value was dequeued.
	RecvOK RecvStatus = iota

	// RecvEmpty means nothing is queued right now but producers remain.
	RecvEmpty

	// RecvDisconnected means every sender is closed and the queue is drained.
	// No value will ever arrive again.
	RecvDisconnected
)

func (s RecvStatus) String() string {
	switch s {
	case RecvOK:
		return "ok"
	case RecvEmpty:
		return "empty"
	case RecvDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// compactThreshold is the minimum consumed prefix before TryRecv compacts.
const compactThreshold = 64

// channel is an unbounded multi-producer, single-consumer FIFO of gas values.
// Go channels are bounded, so the queue is a slice behind a mutex and the
// consumer learns about new values through a one-slot notification channel.
type channel struct {
	mu         sync.Mutex
	queue      []Gas
	head       int
	senders    int
	recvClosed bool

	// ready holds at most one pending wake-up for the consumer.
	ready chan struct{}
}

// Sender is a producer handle. Any number of goroutines may share one Sender
// or hold their own clones; Send needs no external locking.
type Sender struct {
	ch *channel

	// closed is guarded by ch.mu.
	closed bool
}

// Receiver is the single consumer end of the channel.
type Receiver struct {
	ch *channel
}

// NewChannel creates an unbounded gas channel and returns its two ends.
func NewChannel() (*Sender, *Receiver) {
	ch := &channel{
		senders: 1,
		ready:   make(chan struct{}, 1),
	}
	return &Sender{ch: ch}, &Receiver{ch: ch}
}

func (c *channel) notify() {
	select {
	case c.ready <- struct{}{}:
	default:
	}
}

// Send enqueues gas without blocking. Once the receiver is gone, or after this
// handle was closed, the value is silently dropped; producers never get a
// delivery confirmation.
func (s *Sender) Send(gas Gas) {
	c := s.ch
	c.mu.Lock()
	if s.closed || c.recvClosed {
		c.mu.Unlock()
		return
	}
	c.queue = append(c.queue, gas)
	c.mu.Unlock()

	c.notify()
}

// Clone returns another producer handle on the same channel. The channel is
// disconnected only after every handle has been closed. Cloning a closed
// handle yields a closed handle.
func (s *Sender) Clone() *Sender {
	c := s.ch
	c.mu.Lock()
	defer c.mu.Unlock()
	if s.closed {
		return &Sender{ch: c, closed: true}
	}
	c.senders++
	return &Sender{ch: c}
}

// Close drops this producer handle. Closing a handle twice is a no-op.
func (s *Sender) Close() {
	c := s.ch
	c.mu.Lock()
	if s.closed {
		c.mu.Unlock()
		return
	}
	s.closed = true
	c.senders--
	last := c.senders == 0
	c.mu.Unlock()

	if last {
		c.notify()
	}
}

// Connected reports whether the receiving end still exists.
func (s *Sender) Connected() bool {
	c := s.ch
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.recvClosed
}

// TryRecv dequeues one value without blocking. Values queued before the last
// sender closed are still delivered before RecvDisconnected is reported.
func (r *Receiver) TryRecv() (Gas, RecvStatus) {
	c := r.ch
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.head < len(c.queue) {
		gas := c.queue[c.head]
		c.head++
		switch {
		case c.head == len(c.queue):
			// Drained: reuse the backing array from the start.
			c.queue = c.queue[:0]
			c.head = 0
		case c.head >= compactThreshold && c.head*2 >= len(c.queue):
			// Consumed prefix dominates: slide the pending values down so
			// the array stays proportional to what is queued.
			n := copy(c.queue, c.queue[c.head:])
			clear(c.queue[n:])
			c.queue = c.queue[:n]
			c.head = 0
		}
		return gas, RecvOK
	}
	if c.senders == 0 {
		return 0, RecvDisconnected
	}
	return 0, RecvEmpty
}

// Len returns the number of values currently queued.
func (r *Receiver) Len() int {
	c := r.ch
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue) - c.head
}

// Ready fires after a Send or after the last sender closes. It is an edge
// hint, not a count: always drain with TryRecv until RecvEmpty.
func (r *Receiver) Ready() <-chan struct{} {
	return r.ch.ready
}

// Close drops the receiving end and discards anything still queued.
func (r *Receiver) Close() {
	c := r.ch
	c.mu.Lock()
	c.recvClosed = true
	c.queue = nil
	c.head = 0
	c.mu.Unlock()
}
