// ABOUTME: Single-consumer closure loop bridging worker goroutines to the
// ABOUTME: frontend's delivery context, preserving submission order.

package dispatch

import (
	"context"
	"log/slog"
	"sync"
)

// queueSize bounds how many submissions can be outstanding before Submit
// starts dropping. Matches the subscriber buffer used elsewhere.
const queueSize = 64

// Loop runs submitted closures on a single consumer goroutine. Workers hand
// completed turns to the frontend through it without waiting: submission is
// fire-and-forget, and because there is exactly one consumer draining a FIFO
// channel, closures run in submission order.
type Loop struct {
	queue  chan func()
	logger *slog.Logger

	stopOnce sync.Once
	done     chan struct{}
}

// NewLoop creates a loop. Pass nil logger for default.
func NewLoop(logger *slog.Logger) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{
		queue:  make(chan func(), queueSize),
		logger: logger.With("component", "dispatch"),
		done:   make(chan struct{}),
	}
}

// Run drains the queue until ctx is cancelled or Close is called. Blocks;
// callers run it in a dedicated goroutine.
func (l *Loop) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-l.done:
			return
		case fn, ok := <-l.queue:
			if !ok {
				return
			}
			l.invoke(fn)
		}
	}
}

// invoke runs one closure, containing panics so a failing delivery cannot
// kill the loop.
func (l *Loop) invoke(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("dispatched closure panicked", "panic", r)
		}
	}()
	fn()
}

// Submit enqueues a closure without waiting for it to run. If the queue is
// full the closure is dropped and the drop is logged; a stalled frontend must
// not block agent workers.
func (l *Loop) Submit(fn func()) {
	select {
	case l.queue <- fn:
	default:
		l.logger.Warn("dispatch queue full, dropping submission")
	}
}

// Close stops the loop. Closures already queued but not yet run are
// discarded. Safe to call more than once.
func (l *Loop) Close() {
	l.stopOnce.Do(func() { close(l.done) })
}
