package pipeline

import (
	"context"
	"runtime"

	"golang.org/x/sync/semaphore"
)

// ThreadBudget hands out encoder threads. Each job receives an allotment at
// dispatch and holds it until its encode finishes, so the threads in use
// across all workers never exceed the total.
type ThreadBudget struct {
	sem   *semaphore.Weighted
	total int
	share int
}

// NewThreadBudget splits total threads across workers. total <= 0 means one
// per CPU.
func NewThreadBudget(total, workers int) *ThreadBudget {
	if total <= 0 {
		total = runtime.NumCPU()
	}
	if workers <= 0 || workers > total {
		workers = total
	}
	return &ThreadBudget{
		sem:   semaphore.NewWeighted(int64(total)),
		total: total,
		share: total / workers,
	}
}

// Total returns the size of the budget.
func (b *ThreadBudget) Total() int { return b.total }

// Share returns the allotment a job gets while all workers are busy.
func (b *ThreadBudget) Share() int { return b.share }

// Allot sizes the allotment for the next job. When fewer jobs remain than
// the budget can keep busy, each gets a larger slice; remaining <= 0 means
// unknown and yields the plain share.
func (b *ThreadBudget) Allot(remaining int) int {
	n := b.share
	if remaining > 0 {
		if wide := b.total / remaining; wide > n {
			n = wide
		}
	}
	if n > b.total {
		n = b.total
	}
	if n < 1 {
		n = 1
	}
	return n
}

// Acquire blocks until n threads are free or ctx is done.
func (b *ThreadBudget) Acquire(ctx context.Context, n int) (release func(), err error) {
	if err := b.sem.Acquire(ctx, int64(n)); err != nil {
		return nil, err
	}
	return func() { b.sem.Release(int64(n)) }, nil
}
