package actor

import (
	"context"
	"sync"

	"go.trai.ch/kiln/internal/core/domain"
)

type reply struct {
	value any
	err   error
}

type envelope struct {
	msg any
	// ctx is the asker's context; nil for Tell.
	ctx     context.Context
	reply   chan reply
	crashes int
}

func (e *envelope) resolve(value any, err error) {
	if e.reply != nil {
		e.reply <- reply{value: value, err: err}
	}
}

func (e *envelope) expired() bool {
	return e.ctx != nil && e.ctx.Err() != nil
}

// mailbox is an unbounded or bounded FIFO queue with head insertion for
// redelivery after a crash.
type mailbox struct {
	mu       sync.Mutex
	items    []*envelope
	capacity int
	closed   bool
	signal   chan struct{}
}

func newMailbox(capacity int) *mailbox {
	return &mailbox{capacity: capacity, signal: make(chan struct{}, 1)}
}

func (m *mailbox) push(e *envelope) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return domain.ErrActorStopped
	}
	if m.capacity > 0 && len(m.items) >= m.capacity {
		m.mu.Unlock()
		return domain.ErrMailboxFull
	}
	m.items = append(m.items, e)
	m.mu.Unlock()
	m.wake()
	return nil
}

// pushFront requeues a message ahead of everything else, ignoring capacity.
func (m *mailbox) pushFront(e *envelope) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false
	}
	m.items = append([]*envelope{e}, m.items...)
	return true
}

// pop blocks until a message is available. It reports false once the
// mailbox is closed or ctx ends.
func (m *mailbox) pop(ctx context.Context) (*envelope, bool) {
	for {
		m.mu.Lock()
		if len(m.items) > 0 {
			e := m.items[0]
			m.items[0] = nil
			m.items = m.items[1:]
			m.mu.Unlock()
			return e, true
		}
		closed := m.closed
		m.mu.Unlock()
		if closed {
			return nil, false
		}

		select {
		case <-m.signal:
		case <-ctx.Done():
			return nil, false
		}
	}
}

// close rejects further messages and returns the ones still queued.
func (m *mailbox) close() []*envelope {
	m.mu.Lock()
	m.closed = true
	rest := m.items
	m.items = nil
	m.mu.Unlock()
	m.wake()
	return rest
}

func (m *mailbox) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

func (m *mailbox) wake() {
	select {
	case m.signal <- struct{}{}:
	default:
	}
}
