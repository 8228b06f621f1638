package password

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Pool bounds how many hash computations run at once. A zero or negative
// size leaves it unbounded.
type Pool struct {
	sem *semaphore.Weighted
}

// NewPool returns a Pool admitting at most size concurrent jobs.
func NewPool(size int) *Pool {
	if size <= 0 {
		return &Pool{}
	}
	return &Pool{sem: semaphore.NewWeighted(int64(size))}
}

// Do runs fn once a slot is free. It returns ctx.Err() without running fn
// when ctx ends first.
func (p *Pool) Do(ctx context.Context, fn func() error) error {
	if p == nil || p.sem == nil {
		return fn()
	}
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer p.sem.Release(1)
	return fn()
}
