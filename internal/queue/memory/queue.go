// Package memory provides a bounded in-process work queue.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrFull is returned by TryEnqueue when the queue has no free slot.
var ErrFull = errors.New("queue full")

// ErrClosed is returned once the queue has been closed.
var ErrClosed = errors.New("queue closed")

// Queue is a bounded FIFO with context-aware operations.
type Queue[T any] struct {
	ch     chan T
	mu     sync.RWMutex
	closed bool
}

// NewQueue constructs a queue holding up to capacity items.
func NewQueue[T any](capacity int) *Queue[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue[T]{ch: make(chan T, capacity)}
}

// Enqueue blocks until item is queued or ctx ends.
func (q *Queue[T]) Enqueue(ctx context.Context, item T) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrClosed
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case q.ch <- item:
		return nil
	}
}

// TryEnqueue queues item only if a slot is free.
func (q *Queue[T]) TryEnqueue(item T) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrClosed
	}
	select {
	case q.ch <- item:
		return nil
	default:
		return ErrFull
	}
}

// Dequeue pops the next item, respecting ctx. Items queued before Close are
// still delivered.
func (q *Queue[T]) Dequeue(ctx context.Context) (T, error) {
	var zero T
	select {
	case <-ctx.Done():
		return zero, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case item, ok := <-q.ch:
		if !ok {
			return zero, ErrClosed
		}
		return item, nil
	}
}

// Drain removes and returns every item currently queued without blocking.
func (q *Queue[T]) Drain() []T {
	var out []T
	for {
		select {
		case item, ok := <-q.ch:
			if !ok {
				return out
			}
			out = append(out, item)
		default:
			return out
		}
	}
}

// Len reports the number of queued items.
func (q *Queue[T]) Len() int {
	return len(q.ch)
}

// Close stops accepting items. It is safe to call more than once.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	close(q.ch)
	q.closed = true
}
