// Package workerpool feeds queued items to a fixed set of goroutines so slow
// work never blocks the caller that produced it.
package workerpool

import (
	"context"
	"errors"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/toastd/toastd/internal/logging"
)

var log = logging.L("workerpool")

var (
	ErrFull   = errors.New("workerpool: queue full")
	ErrClosed = errors.New("workerpool: shut down")
)

// Handler processes one item. ctx is cancelled when a shutdown deadline
// passes with work still running.
type Handler[T any] func(ctx context.Context, item T)

type Pool[T any] struct {
	name    string
	handle  Handler[T]
	queue   chan T
	workers sync.WaitGroup
	pending atomic.Int64

	mu     sync.RWMutex
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
}

// New starts workers goroutines reading from a queue of queueSize items.
func New[T any](name string, workers, queueSize int, handle Handler[T]) *Pool[T] {
	workers = max(workers, 1)
	queueSize = max(queueSize, 1)

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool[T]{
		name:   name,
		handle: handle,
		queue:  make(chan T, queueSize),
		ctx:    ctx,
		cancel: cancel,
	}
	p.workers.Add(workers)
	for range workers {
		go p.loop()
	}
	log.Debug("pool started", "pool", name, "workers", workers, "queueSize", queueSize)
	return p
}

// Submit queues item without blocking.
func (p *Pool[T]) Submit(item T) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}
	p.pending.Add(1)
	select {
	case p.queue <- item:
		return nil
	default:
		p.pending.Add(-1)
		return ErrFull
	}
}

// Pending counts queued and running items.
func (p *Pool[T]) Pending() int {
	return int(p.pending.Load())
}

// Shutdown refuses new items and lets workers finish the queue. If ctx ends
// first the handler context is cancelled; Shutdown still waits for workers to
// return. Calling it again is a no-op.
func (p *Pool[T]) Shutdown(ctx context.Context) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.workers.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		log.Warn("pool shutdown deadline passed, cancelling work", "pool", p.name, "pending", p.Pending())
		p.cancel()
		<-done
	}
	p.cancel()
}

func (p *Pool[T]) loop() {
	defer p.workers.Done()
	for item := range p.queue {
		p.run(item)
	}
}

func (p *Pool[T]) run(item T) {
	defer p.pending.Add(-1)
	defer func() {
		if r := recover(); r != nil {
			log.Error("handler panicked", "pool", p.name, "panic", r, "stack", string(debug.Stack()))
		}
	}()
	p.handle(p.ctx, item)
}
