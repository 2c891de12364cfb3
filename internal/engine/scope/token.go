package scope

import (
	"sync"
	"sync/atomic"

	"go.trai.ch/kiln/internal/core/domain"
)

// Token is a cancellation flag shared by a scope and its tasks. Cancelling
// a token cancels every token derived from it through Child; a child's
// cancellation never reaches its parent.
type Token struct {
	cancelled atomic.Bool
	gen       atomic.Uint64

	mu       sync.Mutex
	cause    error
	children []*Token
}

// NewToken returns a live token.
func NewToken() *Token {
	return &Token{}
}

// Cancel marks the token and its descendants cancelled. The first cause wins.
// Every call bumps the generation, even on an already cancelled token.
func (t *Token) Cancel(cause error) {
	t.gen.Add(1)

	t.mu.Lock()
	if t.cancelled.Load() {
		t.mu.Unlock()
		return
	}
	if cause == nil {
		cause = domain.ErrCancelled
	}
	t.cause = cause
	t.cancelled.Store(true)
	children := t.children
	t.children = nil
	t.mu.Unlock()

	for _, c := range children {
		c.Cancel(cause)
	}
}

// Cancelled reports whether the token was cancelled.
func (t *Token) Cancelled() bool {
	return t.cancelled.Load()
}

// Generation counts Cancel calls on this token.
func (t *Token) Generation() uint64 {
	return t.gen.Load()
}

// Err returns nil while the token is live, otherwise the cancellation cause.
func (t *Token) Err() error {
	if !t.cancelled.Load() {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cause
}

// Child derives a token that is cancelled together with t. A child of a
// cancelled token starts cancelled.
func (t *Token) Child() *Token {
	c := NewToken()

	t.mu.Lock()
	if t.cancelled.Load() {
		cause := t.cause
		t.mu.Unlock()
		c.Cancel(cause)
		return c
	}
	t.children = append(t.children, c)
	t.mu.Unlock()
	return c
}
