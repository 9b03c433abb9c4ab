package thermabridge

import (
	"context"
	"errors"
)

// ErrExecutorFull is returned by Post when the backlog of queued tasks is full.
var ErrExecutorFull = errors.New("thermabridge: executor backlog full")

// Executor runs closures on the goroutine that owns an interpreter. The owner
// calls Run; the worker hands it work with Invoke (waits for the result) or Post
// (does not wait).
//
// An interpreter bound to a UI loop or another single-threaded runtime is driven
// through an Executor so that it is only ever touched from one goroutine.
type Executor struct {
	tasks chan func()
}

// NewExecutor returns an Executor that queues up to backlog posted tasks before
// Post starts refusing them.
func NewExecutor(backlog int) *Executor {
	return &Executor{tasks: make(chan func(), backlog)}
}

// Run executes queued tasks on the calling goroutine until ctx is done.
func (e *Executor) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case task := <-e.tasks:
			task()
		}
	}
}

// Invoke runs fn on the owning goroutine and returns its error. A panic in fn is
// returned as an error. If ctx ends first Invoke returns ctx.Err(); fn may still
// run later.
func (e *Executor) Invoke(ctx context.Context, fn func() error) error {
	done := make(chan error, 1)
	task := func() { done <- callSafely(fn) }
	select {
	case e.tasks <- task:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Post queues fn without waiting for it. Errors and panics are handed to report.
// Post never blocks: when the backlog is full, or nobody runs the executor and
// it has no backlog, fn is dropped and ErrExecutorFull is returned.
func (e *Executor) Post(fn func() error, report func(error)) error {
	task := func() {
		if err := callSafely(fn); err != nil && report != nil {
			report(err)
		}
	}
	select {
	case e.tasks <- task:
		return nil
	default:
		return ErrExecutorFull
	}
}
