package httpclient

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Executor runs tasks. The client uses one Executor to run request
// exchanges in the background and another to deliver results to callbacks.
//
// Execute must either accept the task, in which case the task runs exactly
// once, or return an error without ever running it.
type Executor interface {
	Execute(task func()) error
}

// ExecutorFunc adapts a function into an Executor.
type ExecutorFunc func(task func()) error

// Execute calls f(task).
func (f ExecutorFunc) Execute(task func()) error {
	return f(task)
}

// DirectExecutor runs each task inline on the calling goroutine.
//
// Used as the callback executor, callbacks run on the goroutine that
// performed the exchange.
func DirectExecutor() Executor {
	return ExecutorFunc(func(task func()) error {
		task()
		return nil
	})
}

// GoroutineExecutor runs each task on a new goroutine. It is the default
// for both background work and callback delivery.
func GoroutineExecutor() Executor {
	return ExecutorFunc(func(task func()) error {
		go task()
		return nil
	})
}

// BoundedExecutor runs tasks on their own goroutines with at most limit
// tasks running at once. Tasks beyond the limit wait for a slot unless
// the executor is fail-fast.
//
//	exec := httpclient.NewBoundedExecutor(8)
//	client := httpclient.New(httpclient.WithBackgroundExecutor(exec))
type BoundedExecutor struct {
	sem      *semaphore.Weighted
	failFast bool

	// mu orders the closed check and wg.Add in Execute against Close.
	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewBoundedExecutor creates a BoundedExecutor. A limit below 1 is treated as 1.
func NewBoundedExecutor(limit int64) *BoundedExecutor {
	if limit < 1 {
		limit = 1
	}
	return &BoundedExecutor{sem: semaphore.NewWeighted(limit)}
}

// FailFast makes Execute return ErrExecutorRejected instead of queueing
// when all slots are taken.
func (e *BoundedExecutor) FailFast() *BoundedExecutor {
	e.failFast = true
	return e
}

// Execute implements Executor.
func (e *BoundedExecutor) Execute(task func()) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrExecutorClosed
	}

	if e.failFast {
		if !e.sem.TryAcquire(1) {
			return ErrExecutorRejected
		}
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			defer e.sem.Release(1)
			task()
		}()
		return nil
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		// Acquire only fails on context cancellation.
		_ = e.sem.Acquire(context.Background(), 1)
		defer e.sem.Release(1)
		task()
	}()
	return nil
}

// Close stops accepting tasks and waits for accepted tasks to finish.
func (e *BoundedExecutor) Close() {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	e.wg.Wait()
}

// SerialExecutor runs tasks one at a time, in submission order, on a single
// goroutine. It plays the role of a UI main loop for callback delivery.
//
//	loop := httpclient.NewSerialExecutor()
//	defer loop.Close()
//	client := httpclient.New(httpclient.WithCallbackExecutor(loop))
type SerialExecutor struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []func()
	closed bool
	done   chan struct{}
}

// NewSerialExecutor starts a SerialExecutor.
func NewSerialExecutor() *SerialExecutor {
	e := &SerialExecutor{done: make(chan struct{})}
	e.cond = sync.NewCond(&e.mu)
	go e.loop()
	return e
}

// Execute implements Executor. It never blocks.
func (e *SerialExecutor) Execute(task func()) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrExecutorClosed
	}
	e.queue = append(e.queue, task)
	e.cond.Signal()
	return nil
}

// Close stops accepting tasks, runs the ones already queued and returns
// when the loop has exited.
func (e *SerialExecutor) Close() {
	e.mu.Lock()
	e.closed = true
	e.cond.Broadcast()
	e.mu.Unlock()

	<-e.done
}

func (e *SerialExecutor) loop() {
	defer close(e.done)

	for {
		e.mu.Lock()
		for len(e.queue) == 0 && !e.closed {
			e.cond.Wait()
		}
		if len(e.queue) == 0 {
			e.mu.Unlock()
			return
		}
		task := e.queue[0]
		e.queue[0] = nil
		e.queue = e.queue[1:]
		e.mu.Unlock()

		task()
	}
}
