package executor

import (
	"context"
	"runtime"
	"sync"
)

// ComputePool is the worker pool for CPU bound work - hashing and
// compression must not starve the I/O runners, so they run on their
// own threads behind a bounded queue.
type ComputePool struct {
	queue chan func()
	wg    sync.WaitGroup

	once sync.Once
}

func NewComputePool(workers int) *ComputePool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	self := &ComputePool{
		queue: make(chan func(), workers*2),
	}

	for i := 0; i < workers; i++ {
		self.wg.Add(1)
		go func() {
			defer self.wg.Done()
			for job := range self.queue {
				job()
			}
		}()
	}

	return self
}

// Submit enqueues a job and returns a channel closed on completion.
// Blocks when the queue is full - backpressure on the I/O side.
func (self *ComputePool) Submit(
	ctx context.Context, job func()) (<-chan struct{}, error) {

	done := make(chan struct{})
	wrapped := func() {
		defer close(done)
		job()
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case self.queue <- wrapped:
		return done, nil
	}
}

// Close drains the queue and stops the workers.
func (self *ComputePool) Close() {
	self.once.Do(func() {
		close(self.queue)
	})
	self.wg.Wait()
}
