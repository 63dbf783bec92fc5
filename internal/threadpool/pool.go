// Package threadpool provides bounded worker pools for remote transfers.
package threadpool

import (
	"context"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Pool bounds the number of concurrently running transfer tasks.
type Pool struct {
	name string
	size int64
	sem  *semaphore.Weighted

	active    atomic.Int64
	scheduled atomic.Uint64
}

// New creates a pool with size worker slots. Sizes below one are clamped to one.
func New(name string, size int) *Pool {
	if size <= 0 {
		size = 1
	}
	return &Pool{
		name: name,
		size: int64(size),
		sem:  semaphore.NewWeighted(int64(size)),
	}
}

// Name returns the pool name used in logs and metrics.
func (p *Pool) Name() string {
	return p.name
}

// Size returns the number of worker slots.
func (p *Pool) Size() int {
	return int(p.size)
}

// Active returns the number of tasks currently holding a slot.
func (p *Pool) Active() int {
	return int(p.active.Load())
}

// Scheduled returns the total number of tasks handed to the pool.
func (p *Pool) Scheduled() uint64 {
	return p.scheduled.Load()
}

// Acquire blocks until a slot is free.
func (p *Pool) Acquire(ctx context.Context) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("threadpool %s: %w", p.name, err)
	}
	p.active.Add(1)
	return nil
}

// Release returns a slot taken by Acquire.
func (p *Pool) Release() {
	p.active.Add(-1)
	p.sem.Release(1)
}

// Task is the handle of a scheduled function.
type Task struct {
	done chan struct{}
	err  error
}

// Wait blocks until the task finished and returns its error.
func (t *Task) Wait() error {
	<-t.done
	return t.err
}

// Done is closed once the task finished.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Schedule runs fn on a new goroutine once a slot is free. It never blocks the caller.
func (p *Pool) Schedule(ctx context.Context, fn func(ctx context.Context) error) *Task {
	p.scheduled.Add(1)
	t := &Task{done: make(chan struct{})}

	go func() {
		defer close(t.done)

		if err := p.Acquire(ctx); err != nil {
			t.err = err
			return
		}
		defer p.Release()

		t.err = fn(ctx)
	}()

	return t
}

// Group fans work out over the pool and collects the first error.
type Group struct {
	pool *Pool
	g    *errgroup.Group
	ctx  context.Context
}

// Group returns a fan-out group bound to the pool. The returned context is
// canceled as soon as one member fails.
func (p *Pool) Group(ctx context.Context) (*Group, context.Context) {
	g, gctx := errgroup.WithContext(ctx)
	return &Group{pool: p, g: g, ctx: gctx}, gctx
}

// Go waits for a slot on the calling goroutine and then runs fn concurrently.
// It returns an error without running fn when no slot could be acquired,
// which happens once another member failed.
func (g *Group) Go(fn func(ctx context.Context) error) error {
	if err := g.pool.Acquire(g.ctx); err != nil {
		return err
	}
	g.pool.scheduled.Add(1)

	g.g.Go(func() error {
		defer g.pool.Release()
		return fn(g.ctx)
	})
	return nil
}

// Wait blocks until every started member returned and reports the first error.
func (g *Group) Wait() error {
	return g.g.Wait()
}
