package mem

import (
	"container/list"
	"context"
	"errors"
	"io"
	"sync"
)

var (
	// ErrClosed is returned when sending on a queue whose writer already
	// closed it, or receiving from a queue whose reader already released it.
	ErrClosed = errors.New("mem: use of closed queue")
	// ErrReset is returned when sending on a queue whose reader went away.
	ErrReset = errors.New("mem: queue reset by reader")
)

// queue is one direction of a substream: a FIFO of messages with a window
// that bounds how many messages may be in flight. The writer must wait for a
// window update once the window is exhausted, so a slow reader applies
// backpressure to the writer. There is exactly one writer and one reader.
type queue[T any] struct {
	mu        sync.Mutex
	items     *list.List
	window    uint32
	closed    bool // no more items will be written
	cancelled bool // reader went away

	// signalled (without blocking) whenever items are added or the queue is
	// closed, and whenever the window opens up or the queue is cancelled
	readable chan struct{}
	writable chan struct{}
}

func newQueue[T any](initialWindowSize uint32) *queue[T] {
	if initialWindowSize == 0 {
		initialWindowSize = 1
	}
	return &queue[T]{
		items:    list.New(),
		window:   initialWindowSize,
		readable: make(chan struct{}, 1),
		writable: make(chan struct{}, 1),
	}
}

func notify(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

func (q *queue[T]) send(ctx context.Context, item T) error {
	for {
		q.mu.Lock()
		switch {
		case q.cancelled:
			q.mu.Unlock()
			return ErrReset
		case q.closed:
			q.mu.Unlock()
			return ErrClosed
		case q.window > 0:
			q.window--
			q.items.PushBack(item)
			q.mu.Unlock()
			notify(q.readable)
			return nil
		}
		q.mu.Unlock()

		// must wait for window update before we can send more
		select {
		case <-q.writable:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (q *queue[T]) recv(ctx context.Context) (T, error) {
	var zero T
	for {
		q.mu.Lock()
		if q.cancelled {
			q.mu.Unlock()
			return zero, ErrClosed
		}
		if element := q.items.Front(); element != nil {
			item := q.items.Remove(element).(T)
			q.window++
			q.mu.Unlock()
			notify(q.writable)
			return item, nil
		}
		if q.closed {
			q.mu.Unlock()
			return zero, io.EOF
		}
		q.mu.Unlock()

		select {
		case <-q.readable:
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}
}

// close is called by the writer. Items already queued can still be read.
func (q *queue[T]) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	notify(q.readable)
}

// cancel is called by the reader. Queued items are discarded and the writer
// is told to stop.
func (q *queue[T]) cancel() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.cancelled {
		return
	}
	q.cancelled = true
	q.items.Init() // clear list to free memory
	notify(q.writable)
	notify(q.readable)
}
