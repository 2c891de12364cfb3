package actor

import (
	"context"
	"errors"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"

	"go.trai.ch/kiln/internal/core/domain"
)

// Pool spreads requests over identical actors round robin. A member that
// stopped on its own, for example by exceeding its restart limit, is
// replaced by a fresh actor and the request is sent to the replacement.
type Pool struct {
	sup  *Supervisor
	next atomic.Uint64

	mu   sync.RWMutex
	refs []*Ref
}

// NewPool spawns n actors from props under sup. Each member is named
// props.Name-i.
func NewPool(sup *Supervisor, props Props, n int) *Pool {
	n = max(n, 1)
	p := &Pool{sup: sup, refs: make([]*Ref, 0, n)}
	for i := range n {
		member := props
		member.Name = props.Name + "-" + strconv.Itoa(i)
		p.refs = append(p.refs, sup.Spawn(member))
	}
	return p
}

// Ask sends msg to the next member and waits for the reply.
func (p *Pool) Ask(ctx context.Context, msg any) (any, error) {
	i, ref := p.pick()
	for attempt := 0; ; attempt++ {
		v, err := ref.Ask(ctx, msg)
		if !lost(err) || attempt == len(p.refs) {
			return v, err
		}
		next, ok := p.replace(i, ref)
		if !ok {
			return v, err
		}
		ref = next
	}
}

// Tell sends msg to the next member.
func (p *Pool) Tell(msg any) error {
	i, ref := p.pick()
	err := ref.Tell(msg)
	if !lost(err) {
		return err
	}
	next, ok := p.replace(i, ref)
	if !ok {
		return err
	}
	return next.Tell(msg)
}

// Members returns the pool's current actors.
func (p *Pool) Members() []*Ref {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return slices.Clone(p.refs)
}

func (p *Pool) pick() (int, *Ref) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	i := int((p.next.Add(1) - 1) % uint64(len(p.refs)))
	return i, p.refs[i]
}

// replace swaps the stopped member old at slot i for a fresh actor. It
// returns the slot's current member when another caller got there first,
// and false once the supervisor is stopping.
func (p *Pool) replace(i int, old *Ref) (*Ref, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if cur := p.refs[i]; cur != old {
		return cur, true
	}
	ref, ok := p.sup.Replace(old)
	if !ok {
		return nil, false
	}
	p.refs[i] = ref
	return ref, true
}

// lost reports whether err means the member went away before handling the
// message, as opposed to the message itself failing.
func lost(err error) bool {
	if err == nil {
		return false
	}
	var perr *PoisonError
	if errors.As(err, &perr) {
		return false
	}
	return errors.Is(err, domain.ErrActorStopped) || errors.Is(err, domain.ErrRestartLimit)
}
