package pipeline

import (
	"context"
	"sync/atomic"

	"go.trai.ch/kiln/internal/engine/scope"
	"golang.org/x/sync/semaphore"
)

// Buffer is a bounded queue between two stages. Senders hold one of
// Capacity slots from the moment they are admitted until the item is
// received, so no more than Capacity items are ever buffered.
type Buffer struct {
	ch    chan Item
	slots *semaphore.Weighted

	count atomic.Int64
	high  atomic.Int64
}

// NewBuffer creates a buffer with the given capacity.
func NewBuffer(capacity int) *Buffer {
	capacity = max(capacity, 1)
	return &Buffer{
		ch:    make(chan Item, capacity),
		slots: semaphore.NewWeighted(int64(capacity)),
	}
}

// Send blocks while the buffer is full. It fails without taking a slot
// when ctx ends first.
func (b *Buffer) Send(ctx context.Context, item Item) error {
	if err := b.slots.Acquire(ctx, 1); err != nil {
		return scope.Checkpoint(ctx)
	}
	n := b.count.Add(1)
	for {
		high := b.high.Load()
		if n <= high || b.high.CompareAndSwap(high, n) {
			break
		}
	}
	b.ch <- item
	return nil
}

// Recv blocks while the buffer is empty. It reports false once the buffer
// is closed and drained, or when ctx ends.
func (b *Buffer) Recv(ctx context.Context) (Item, bool) {
	select {
	case item, ok := <-b.ch:
		if !ok {
			return Item{}, false
		}
		b.count.Add(-1)
		b.slots.Release(1)
		return item, true
	case <-ctx.Done():
		return Item{}, false
	}
}

// Close marks the end of input. Only the sending side may close.
func (b *Buffer) Close() {
	close(b.ch)
}

// Len returns the number of buffered items.
func (b *Buffer) Len() int {
	return int(b.count.Load())
}

// HighWater returns the largest number of items that were buffered at once.
func (b *Buffer) HighWater() int {
	return int(b.high.Load())
}
