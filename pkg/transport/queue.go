package transport

import (
	"context"
	"sync"

	"github.com/eapache/queue"
)

// unboundedQueue is a single-consumer FIFO that never blocks the producer.
//
// closed means the producer is gone: pop drains what is left and then
// reports ErrClosed. dropped means the consumer is gone: push fails and
// anything still queued is discarded.
type unboundedQueue[T any] struct {
	mu      sync.Mutex
	items   *queue.Queue
	closed  bool
	dropped bool

	ready    chan struct{}
	done     chan struct{}
	doneOnce sync.Once
}

func newUnboundedQueue[T any]() *unboundedQueue[T] {
	return &unboundedQueue[T]{
		items: queue.New(),
		ready: make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
}

func (q *unboundedQueue[T]) push(v T) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed || q.dropped {
		return ErrClosed
	}
	q.items.Add(v)

	select {
	case q.ready <- struct{}{}:
	default:
	}
	return nil
}

func (q *unboundedQueue[T]) pop(ctx context.Context) (T, error) {
	var zero T
	for {
		q.mu.Lock()
		switch {
		case q.dropped:
			q.mu.Unlock()
			return zero, ErrClosed
		case q.items.Length() > 0:
			v := q.items.Remove().(T)
			q.mu.Unlock()
			return v, nil
		case q.closed:
			q.mu.Unlock()
			return zero, ErrClosed
		}
		q.mu.Unlock()

		select {
		case <-q.ready:
		case <-q.done:
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}
}

func (q *unboundedQueue[T]) closeProducer() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.doneOnce.Do(func() { close(q.done) })
}

func (q *unboundedQueue[T]) drop() {
	q.mu.Lock()
	q.dropped = true
	for q.items.Length() > 0 {
		q.items.Remove()
	}
	q.mu.Unlock()
	q.doneOnce.Do(func() { close(q.done) })
}

func (q *unboundedQueue[T]) size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Length()
}
