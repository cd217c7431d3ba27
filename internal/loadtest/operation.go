package loadtest

import (
	"context"
	"sync"
)

// Operation is the unit under load. Evaluate is the timed call; Setup and
// Teardown run around every iteration and are not timed.
type Operation interface {
	Setup(ctx context.Context) error
	Evaluate(ctx context.Context) error
	Teardown(ctx context.Context) error
}

// AsyncOperation reports its own completion. EvaluateAsync starts the work
// and returns; the work later calls exactly one of done.Success or done.Fail.
type AsyncOperation interface {
	Operation
	EvaluateAsync(ctx context.Context, done Completion) error
}

// Completion is handed to asynchronous work to report its outcome. Only the
// first call has any effect.
type Completion interface {
	Success()
	Fail(err error)
}

// NoopCompletion discards the outcome. It is handed out during warm-up.
type NoopCompletion struct{}

func (NoopCompletion) Success()   {}
func (NoopCompletion) Fail(error) {}

// Func adapts a plain function into an Operation with no setup or teardown.
type Func func(ctx context.Context) error

func (f Func) Setup(context.Context) error        { return nil }
func (f Func) Evaluate(ctx context.Context) error { return f(ctx) }
func (f Func) Teardown(context.Context) error     { return nil }

// Hooks builds an Operation from optional functions. Nil hooks are no-ops.
type Hooks struct {
	SetupFunc    func(ctx context.Context) error
	EvaluateFunc func(ctx context.Context) error
	TeardownFunc func(ctx context.Context) error
}

func (h Hooks) Setup(ctx context.Context) error    { return call(ctx, h.SetupFunc) }
func (h Hooks) Evaluate(ctx context.Context) error { return call(ctx, h.EvaluateFunc) }
func (h Hooks) Teardown(ctx context.Context) error { return call(ctx, h.TeardownFunc) }

func call(ctx context.Context, fn func(context.Context) error) error {
	if fn == nil {
		return nil
	}
	return fn(ctx)
}

// AsyncFunc adapts a function that completes through a Completion. Used
// synchronously it blocks until the completion is reported.
type AsyncFunc func(ctx context.Context, done Completion) error

func (f AsyncFunc) Setup(context.Context) error    { return nil }
func (f AsyncFunc) Teardown(context.Context) error { return nil }

func (f AsyncFunc) EvaluateAsync(ctx context.Context, done Completion) error {
	return f(ctx, done)
}

func (f AsyncFunc) Evaluate(ctx context.Context) error {
	c := &blockingCompletion{done: make(chan struct{})}
	if err := f(ctx, c); err != nil {
		return err
	}
	select {
	case <-c.done:
		return c.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

type blockingCompletion struct {
	once sync.Once
	done chan struct{}
	err  error
}

func (c *blockingCompletion) Success() {
	c.once.Do(func() { close(c.done) })
}

func (c *blockingCompletion) Fail(err error) {
	c.once.Do(func() {
		c.err = err
		close(c.done)
	})
}
