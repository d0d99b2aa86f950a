// Package tracker hosts the position-tracking actors. Each token pair is
// owned by exactly one PairActor: a single goroutine draining a mailbox
// of closures, so the pair's ledger and peak index never need locks.
package tracker

import (
	"context"
	"sync"

	"github.com/kyle-pena-nlp/bagzbot/internal/domain"
)

// mailbox serializes work onto one goroutine. Every mutation of actor
// state runs as a closure on that goroutine; callers block until their
// closure has run, which makes call-and-response methods ordinary
// synchronous code.
type mailbox struct {
	mu     sync.RWMutex
	closed bool
	ch     chan func()
	done   chan struct{}
}

func newMailbox(buffer int) *mailbox {
	return &mailbox{
		ch:   make(chan func(), buffer),
		done: make(chan struct{}),
	}
}

// run drains the mailbox until close is called. Run exactly once.
func (m *mailbox) run() {
	for fn := range m.ch {
		fn()
	}
	close(m.done)
}

// close stops the mailbox after draining queued work. Sends arriving
// after close fail with ErrContextDone instead of panicking; settlement
// callbacks may outlive the actor during shutdown.
func (m *mailbox) close() {
	m.mu.Lock()
	m.closed = true
	close(m.ch)
	m.mu.Unlock()
	<-m.done
}

// do runs fn on the actor goroutine and waits for it to finish.
func (m *mailbox) do(ctx context.Context, fn func()) error {
	ran := make(chan struct{})
	wrapped := func() {
		defer close(ran)
		fn()
	}
	if err := m.send(ctx, wrapped); err != nil {
		return err
	}

	select {
	case <-ran:
		return nil
	case <-ctx.Done():
		return domain.ErrContextDone
	}
}

// post enqueues fn without waiting for it to run.
func (m *mailbox) post(ctx context.Context, fn func()) error {
	return m.send(ctx, fn)
}

func (m *mailbox) send(ctx context.Context, fn func()) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return domain.ErrContextDone
	}

	select {
	case m.ch <- fn:
		return nil
	case <-ctx.Done():
		return domain.ErrContextDone
	}
}
