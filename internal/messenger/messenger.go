// Package messenger provides the typed handoff primitive connecting pipeline
// stages. A Messenger carries a single "current" payload between exactly one
// producer and one consumer with latest-value-wins semantics: a producer that
// outruns its consumer overwrites intermediate payloads instead of queuing
// them. This is deliberate — the pipeline recomputes control state fresh each
// frame, so a slow consumer should skip stale frames rather than build an
// unbounded backlog. Do not replace this with a FIFO queue.
package messenger

import (
	"sync"
	"time"
)

// Messenger is a single-producer/single-consumer latest-wins channel. Send
// never blocks; Receive blocks until a payload newer than the last one read
// is available. Payloads are double-buffered so the consumer never observes
// a torn write: Send writes into the slot the consumer is not reading and
// flips the published index under the lock.
type Messenger[T any] struct {
	mu      sync.Mutex
	slots   [2]T
	current int    // index of the most recently published slot
	seq     uint64 // total payloads published
	read    uint64 // seq value at the consumer's last Receive

	notify chan struct{} // capacity 1, pulsed on publish
	done   chan struct{}
	once   sync.Once
}

// New creates an open Messenger.
func New[T any]() *Messenger[T] {
	return &Messenger[T]{
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Send publishes a payload, overwriting any payload the consumer has not yet
// read. Send never blocks on the consumer. Sending on a closed Messenger is
// a no-op.
func (m *Messenger[T]) Send(payload T) {
	select {
	case <-m.done:
		return
	default:
	}

	m.mu.Lock()
	spare := 1 - m.current
	m.slots[spare] = payload
	m.current = spare
	m.seq++
	m.mu.Unlock()

	select {
	case m.notify <- struct{}{}:
	default:
	}
}

// Receive blocks until a payload newer than the last one read has been
// published, then returns it. ok is false once the Messenger has been closed
// and no unread payload remains.
func (m *Messenger[T]) Receive() (payload T, ok bool) {
	for {
		if payload, ok = m.take(); ok {
			return payload, true
		}
		select {
		case <-m.notify:
		case <-m.done:
			// A publish may have raced the close; drain it.
			if payload, ok = m.take(); ok {
				return payload, true
			}
			var zero T
			return zero, false
		}
	}
}

// ReceiveTimeout behaves like Receive but gives up after d, returning
// ok=false if no new payload arrived in time or the Messenger closed.
func (m *Messenger[T]) ReceiveTimeout(d time.Duration) (payload T, ok bool) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	for {
		if payload, ok = m.take(); ok {
			return payload, true
		}
		select {
		case <-m.notify:
		case <-m.done:
			if payload, ok = m.take(); ok {
				return payload, true
			}
			var zero T
			return zero, false
		case <-timer.C:
			var zero T
			return zero, false
		}
	}
}

// take returns the current payload if it has not been read yet.
func (m *Messenger[T]) take() (T, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.seq == m.read {
		var zero T
		return zero, false
	}
	m.read = m.seq
	return m.slots[m.current], true
}

// Close unblocks a pending or future Receive. The consumer may still read
// one final payload published before the close. Close is idempotent.
func (m *Messenger[T]) Close() {
	m.once.Do(func() { close(m.done) })
}

// Closed reports whether Close has been called.
func (m *Messenger[T]) Closed() bool {
	select {
	case <-m.done:
		return true
	default:
		return false
	}
}
