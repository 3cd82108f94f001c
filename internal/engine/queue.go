package engine

import (
	"sync"

	"github.com/roach88/rover/internal/model"
)

// itemQueue is a thread-safe unbounded FIFO between an Ingestor's puller and
// its dispatcher.
//
// The queue never blocks the puller, so a slow handler only grows the queue
// and the stream read loop keeps draining the source.
//
// A buffered signal channel of size 1 enables context-aware waiting in the
// dispatcher loop.
type itemQueue struct {
	mu     sync.Mutex
	items  []*model.Item
	closed bool
	signal chan struct{}
}

func newItemQueue() *itemQueue {
	return &itemQueue{
		items:  make([]*model.Item, 0, 64),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds an item to the back of the queue.
// Returns false if the queue is closed.
func (q *itemQueue) Enqueue(item *model.Item) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	q.items = append(q.items, item)

	// Non-blocking: the buffer of 1 coalesces multiple signals.
	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// TryDequeue removes the front item without blocking.
// Returns (nil, false) if the queue is empty.
func (q *itemQueue) TryDequeue() (*model.Item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return nil, false
	}

	item := q.items[0]
	// Nil out the slot so the backing array does not pin dispatched items.
	q.items[0] = nil
	if len(q.items) == 1 {
		q.items = q.items[:0]
	} else {
		q.items = q.items[1:]
	}
	return item, true
}

// Wait returns a channel that signals when items may be available.
//
//	select {
//	case <-ctx.Done():
//	    return ctx.Err()
//	case <-q.Wait():
//	    // TryDequeue again
//	}
func (q *itemQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the current queue length.
func (q *itemQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close stops further enqueues and wakes any waiter.
func (q *itemQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}
