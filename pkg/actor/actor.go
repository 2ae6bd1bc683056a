// Package actor provides a minimal cooperative, single-mailbox actor: each
// instance owns its state and processes messages one at a time on a private
// goroutine, generalizing the goroutine+channel shape used for background
// loops elsewhere in this codebase (see pkg/debt and pkg/watcher). A panic
// inside a message handler is recovered and the actor's state is reset
// rather than the process crashing — spec.md §4.4's "an actor panic must
// restart the watcher with state reset" — because usage history here is a
// best-effort cache, not a ledger of record.
package actor

import "log"

// Mailbox runs submitted functions one at a time, in submission order, on a
// single goroutine, until Stop is called.
type Mailbox struct {
	jobs  chan func()
	done  chan struct{}
	reset func()
}

// New starts a Mailbox. onPanic is invoked (and then the message dropped,
// never re-delivered) whenever a submitted function panics; callers use it
// to reset actor state the way a supervisor restart would.
func New(name string, onPanic func()) *Mailbox {
	m := &Mailbox{
		jobs:  make(chan func(), 16),
		done:  make(chan struct{}),
		reset: onPanic,
	}
	go m.run(name)
	return m
}

func (m *Mailbox) run(name string) {
	defer close(m.done)
	for job := range m.jobs {
		m.dispatch(name, job)
	}
}

func (m *Mailbox) dispatch(name string, job func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("actor %s: panic recovered, resetting state: %v", name, r)
			if m.reset != nil {
				m.reset()
			}
		}
	}()
	job()
}

// Send enqueues job for execution on the mailbox's goroutine. Fire-and-
// forget, at-most-once delivery, matching spec.md §5's cross-actor call
// contract.
func (m *Mailbox) Send(job func()) {
	m.jobs <- job
}

// Ask enqueues job and blocks the caller until it has run, returning
// whatever job produced. Used by synchronous call sites (e.g. a Watch
// message's caller waiting for its error result) that still want the
// target's state mutations serialized through the mailbox.
func Ask[T any](m *Mailbox, job func() T) T {
	result := make(chan T, 1)
	m.Send(func() {
		var zero T
		defer func() {
			if r := recover(); r != nil {
				// Unblock the caller with the zero value, then re-panic so
				// the mailbox's own recover still runs the actor's reset.
				result <- zero
				panic(r)
			}
		}()
		result <- job()
	})
	return <-result
}

// Stop closes the mailbox. No further Send/Ask calls may be made.
func (m *Mailbox) Stop() {
	close(m.jobs)
	<-m.done
}
