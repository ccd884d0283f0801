package queue

import (
	"context"
	"sync"
)

// MemoryQueue is an in-process Queue for single-node deployments and tests.
type MemoryQueue struct {
	ch     chan string
	mu     sync.Mutex
	closed bool
}

// NewMemoryQueue creates a MemoryQueue with the given buffer size.
func NewMemoryQueue(buffer int) *MemoryQueue {
	if buffer <= 0 {
		buffer = 64
	}
	return &MemoryQueue{ch: make(chan string, buffer)}
}

// Publish delivers the id unless the buffer is full; a full buffer means
// workers are already saturated and polling will find the job.
func (q *MemoryQueue) Publish(ctx context.Context, documentID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	select {
	case q.ch <- documentID:
	default:
	}
	return nil
}

// Notify returns the delivery channel.
func (q *MemoryQueue) Notify() <-chan string {
	return q.ch
}

// Close closes the delivery channel.
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	close(q.ch)
	return nil
}

var _ Queue = (*MemoryQueue)(nil)
