package archive

import (
	"context"
	"runtime"

	"golang.org/x/sync/semaphore"
)

// Pool bounds the number of concurrently blocking archive operations
// (decompression and chunk reads).  It is shared across all readers of a
// process.  A pool below two slots can deadlock indexing: the line producer
// holds one slot for the duration of its streaming pass.
type Pool struct {
	sem  *semaphore.Weighted
	size int64
}

func NewPool(n int) *Pool {
	if n < 2 {
		n = 2
	}
	return &Pool{sem: semaphore.NewWeighted(int64(n)), size: int64(n)}
}

func defaultPoolSize() int {
	n := runtime.NumCPU()
	if n > 8 {
		n = 8
	}
	return n
}

func (p *Pool) Size() int { return int(p.size) }

func (p *Pool) Acquire(ctx context.Context) error { return p.sem.Acquire(ctx, 1) }

func (p *Pool) Release() { p.sem.Release(1) }
