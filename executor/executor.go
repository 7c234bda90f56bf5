// The executor runs planned tasks with bounded parallelism. Tasks
// never raise errors - every task resolves to exactly one
// CollectionResult, recorded in a concurrency safe sink.
package executor

import (
	"context"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"www.velocidex.com/golang/triage/planner"
	"www.velocidex.com/golang/triage/scrub"
)

type Status string

const (
	StatusOk               Status = "ok"
	StatusSkippedFilter    Status = "skipped-filter"
	StatusLockedPartial    Status = "locked-partial"
	StatusFailedPermission Status = "failed-permission"
	StatusFailedIo         Status = "failed-io"
	StatusFailedNotFound   Status = "failed-not-found"
	StatusFailedSizeLimit  Status = "failed-size-limit"
	StatusCancelled        Status = "cancelled"
)

func (self Status) IsFailure() bool {
	switch self {
	case StatusOk, StatusSkippedFilter:
		return false
	}
	return true
}

// CollectionResult is the per task outcome record.
type CollectionResult struct {
	TaskId       int           `json:"task_id"`
	ArtifactName string        `json:"artifact_name"`
	Status       Status        `json:"status"`
	SourcePath   string        `json:"source_path,omitempty"`
	Destination  string        `json:"destination,omitempty"`
	BytesRead    int64         `json:"bytes_read"`
	Duration     time.Duration `json:"duration_ns"`
	Sha256       string        `json:"sha256,omitempty"`
	Error        string        `json:"error,omitempty"`
	Required     bool          `json:"required"`
}

// ResultSink accumulates results; readers wait until the collection
// finishes.
type ResultSink struct {
	mu      sync.Mutex
	results []*CollectionResult

	scrubber scrub.Scrubber
}

func NewResultSink(scrubber scrub.Scrubber) *ResultSink {
	if scrubber == nil {
		scrubber = scrub.DefaultScrubber{}
	}
	return &ResultSink{scrubber: scrubber}
}

func (self *ResultSink) Add(result *CollectionResult) {
	// Error strings may embed paths or connection strings - scrub
	// them before they can reach the summary.
	result.Error = self.scrubber.Scrub(result.Error)

	self.mu.Lock()
	defer self.mu.Unlock()
	self.results = append(self.results, result)
}

func (self *ResultSink) Results() []*CollectionResult {
	self.mu.Lock()
	defer self.mu.Unlock()

	result := make([]*CollectionResult, len(self.results))
	copy(result, self.results)
	return result
}

// Runner executes one task, returning its result. Runners must
// observe ctx at every chunk boundary.
type Runner func(ctx context.Context, task planner.Task) *CollectionResult

type Executor struct {
	Parallelism int
}

func (self *Executor) parallelism() int64 {
	limit := self.Parallelism
	cores := runtime.NumCPU()
	if limit <= 0 || limit > cores {
		limit = cores
	}
	return int64(limit)
}

// Run executes all tasks. Memory tasks are held back until every
// other task - in particular the volatile snapshot - has resolved;
// that is the only ordering edge in the graph.
func (self *Executor) Run(ctx context.Context,
	tasks []planner.Task, runner Runner, sink *ResultSink) {

	var normal, memory []planner.Task
	for _, task := range tasks {
		if task.Mode == planner.ModeMemoryProcess ||
			task.Mode == planner.ModeMemoryRegion {
			memory = append(memory, task)
			continue
		}
		normal = append(normal, task)
	}

	self.runPhase(ctx, normal, runner, sink)
	self.runPhase(ctx, memory, runner, sink)
}

func (self *Executor) runPhase(ctx context.Context,
	tasks []planner.Task, runner Runner, sink *ResultSink) {

	sem := semaphore.NewWeighted(self.parallelism())
	wg := &sync.WaitGroup{}

	for _, task := range tasks {
		err := sem.Acquire(ctx, 1)
		if err != nil {
			// Cancelled while waiting for a slot.
			sink.Add(&CollectionResult{
				TaskId:       task.Id,
				ArtifactName: task.ArtifactName,
				SourcePath:   task.SourcePath,
				Destination:  task.Destination,
				Required:     task.Required,
				Status:       StatusCancelled,
				Error:        ctx.Err().Error(),
			})
			continue
		}

		wg.Add(1)
		go func(task planner.Task) {
			defer wg.Done()
			defer sem.Release(1)

			start := time.Now()
			result := runner(ctx, task)
			result.Duration = time.Since(start)
			sink.Add(result)
		}(task)
	}

	wg.Wait()
}
