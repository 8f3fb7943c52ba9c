// Package queue buffers accepted events between the HTTP handler and the
// workers that persist them.
package queue

import (
	"context"
	"sync"

	"github.com/okian/vault/internal/domain/model"
	"github.com/okian/vault/pkg/metrics"
)

const defaultQueueCapacity = 100000

// Item is one accepted event together with the store partition it goes to.
type Item struct {
	AccountID string
	Event     model.EncryptedEvent
}

// Queue provides non-blocking enqueue and channel-based dequeue semantics.
type Queue interface {
	// Enqueue adds an item. It returns false when the queue is full or
	// closed; the caller is expected to push back on the client.
	Enqueue(ctx context.Context, it Item) bool
	// Dequeue returns the channel consumers range over. It is closed by
	// Close once the buffered items have been received.
	Dequeue(ctx context.Context) <-chan Item
	Len(ctx context.Context) int
	Close() error
	IsClosed() bool
}

// InMemoryQueue implements Queue using a buffered channel.
type InMemoryQueue struct {
	items    chan Item
	capacity int

	mu     sync.RWMutex
	closed bool
}

var _ Queue = (*InMemoryQueue)(nil)

// NewInMemoryQueue creates a queue holding up to the configured capacity.
func NewInMemoryQueue(opts ...Option) *InMemoryQueue {
	q := &InMemoryQueue{capacity: defaultQueueCapacity}
	for _, opt := range opts {
		opt(q)
	}
	q.items = make(chan Item, q.capacity)

	metrics.UpdateQueueCapacity(q.capacity)
	metrics.UpdateQueueSize(0)
	return q
}

// Enqueue implements Queue.
func (q *InMemoryQueue) Enqueue(ctx context.Context, it Item) bool { //nolint:gocritic // hugeParam: items travel by value over the channel
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed || ctx.Err() != nil {
		metrics.RecordQueueEnqueueError()
		return false
	}
	select {
	case q.items <- it:
		metrics.UpdateQueueSize(len(q.items))
		return true
	default:
		metrics.RecordQueueEnqueueError()
		return false
	}
}

// Dequeue implements Queue. All consumers share one channel.
func (q *InMemoryQueue) Dequeue(context.Context) <-chan Item {
	return q.items
}

// Len implements Queue.
func (q *InMemoryQueue) Len(context.Context) int {
	n := len(q.items)
	metrics.UpdateQueueSize(n)
	return n
}

// Close stops accepting items. Items already buffered stay readable.
func (q *InMemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	close(q.items)
	q.closed = true
	return nil
}

// IsClosed implements Queue.
func (q *InMemoryQueue) IsClosed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}
