package syncer

import (
	"context"
	"sync"
)

// job is one unit of backend I/O.
type job func(ctx context.Context)

// writer runs jobs one at a time in enqueue order. The queue is unbounded so
// enqueue never blocks the dispatching caller.
type writer struct {
	mu     sync.Mutex
	queue  []job
	closed bool

	signal chan struct{}
	done   chan struct{}
}

func newWriter() *writer {
	return &writer{
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// start runs the loop until close is called and the queue is drained.
func (w *writer) start(ctx context.Context) {
	go w.run(ctx)
}

// enqueue appends j. It returns false once the writer is closed.
func (w *writer) enqueue(j job) bool {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return false
	}
	w.queue = append(w.queue, j)
	w.mu.Unlock()

	w.wake()
	return true
}

// close stops accepting jobs. Already queued jobs still run.
func (w *writer) close() {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
	w.wake()
}

func (w *writer) wake() {
	select {
	case w.signal <- struct{}{}:
	default:
	}
}

func (w *writer) run(ctx context.Context) {
	defer close(w.done)

	for {
		w.mu.Lock()
		if len(w.queue) == 0 {
			closed := w.closed
			w.mu.Unlock()
			if closed {
				return
			}
			<-w.signal
			continue
		}
		j := w.queue[0]
		w.queue[0] = nil
		w.queue = w.queue[1:]
		w.mu.Unlock()

		j(ctx)
	}
}

// pending returns the number of queued jobs.
func (w *writer) pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.queue)
}
