package orchestration

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/substratehq/substrate/contracts"
)

// TaskExecutorFunc performs the actual agent invocation for one task.
// Production wiring routes the task to an adapter and dispatches it;
// tests inject stubs.
type TaskExecutorFunc func(ctx context.Context, task *contracts.Task) (*contracts.TaskResult, error)

// parallelExecutor implements contracts.ParallelExecutor: a weighted
// semaphore bounds in-flight executions to the run policy's
// MaxParallelism, and per-task deadlines come from the task override or
// the policy default.
//
// The executor is pure with respect to run state: it never mutates
// task.State or task.Outputs. That is the orchestrator's and the
// scheduler's job.
type parallelExecutor struct {
	mu       sync.Mutex
	sem      *semaphore.Weighted
	executor TaskExecutorFunc
	running  map[contracts.TaskID]bool
}

// NewParallelExecutor creates a ParallelExecutor with the given bound.
// maxParallelism <= 0 defaults to 1; a nil executor runs a stub that
// echoes the task ID.
func NewParallelExecutor(maxParallelism int, executor TaskExecutorFunc) contracts.ParallelExecutor {
	if maxParallelism <= 0 {
		maxParallelism = 1
	}
	if executor == nil {
		executor = defaultExecutor
	}
	return &parallelExecutor{
		sem:      semaphore.NewWeighted(int64(maxParallelism)),
		executor: executor,
		running:  make(map[contracts.TaskID]bool),
	}
}

// NewParallelExecutorFromPolicy creates a ParallelExecutor bounded by
// policy.MaxParallelism.
func NewParallelExecutorFromPolicy(policy contracts.RunPolicy, executor TaskExecutorFunc) contracts.ParallelExecutor {
	return NewParallelExecutor(policy.MaxParallelism, executor)
}

// defaultExecutor is the stub used when no executor is injected.
func defaultExecutor(ctx context.Context, task *contracts.Task) (*contracts.TaskResult, error) {
	return &contracts.TaskResult{
		Output: fmt.Sprintf("executed: %s", task.ID),
		Usage: contracts.Usage{
			Tokens: 100,
			Cost:   contracts.Cost{Amount: 0.001, Currency: "USD"},
		},
	}, nil
}

// Execute runs a task, blocking until a concurrency slot frees up. The
// deadline is the task's TimeoutMs when set, else the run policy's.
//
// Returns error if:
// - ctx or run is nil (ErrInvalidInput)
// - task not found (ErrTaskNotFound)
// - task already being executed here (ErrTaskNotReady)
// - the deadline passes (ErrTaskTimeout)
// - the executor fails (ErrTaskFailed)
func (p *parallelExecutor) Execute(ctx context.Context, run *contracts.Run, taskID contracts.TaskID) (*contracts.TaskResult, error) {
	if ctx == nil || run == nil {
		return nil, contracts.ErrInvalidInput
	}

	task, err := p.validateAndTrack(run, taskID)
	if err != nil {
		return nil, err
	}
	defer p.untrack(taskID)

	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("task %s: admission cancelled: %w", taskID, contracts.ErrTaskCancelled)
	}
	defer p.sem.Release(1)

	execCtx := ctx
	timeoutMs := run.Policy.TimeoutMs
	if task.TimeoutMs > 0 {
		timeoutMs = task.TimeoutMs
	}
	if timeoutMs > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, time.Duration(timeoutMs)*time.Millisecond)
		defer cancel()
	}

	resultCh := make(chan *contracts.TaskResult, 1)
	errCh := make(chan error, 1)
	go func() {
		result, err := p.executor(execCtx, task)
		if err != nil {
			errCh <- err
			return
		}
		resultCh <- result
	}()

	select {
	case result := <-resultCh:
		return result, nil
	case err := <-errCh:
		// Wrap the executor's error rather than flattening it: callers
		// classify on sentinels it may carry (a budget-terminated
		// worker arrives here wrapping ErrBudgetExceeded).
		return nil, fmt.Errorf("task %s failed: %w: %w", taskID, contracts.ErrTaskFailed, err)
	case <-execCtx.Done():
		if execCtx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("task %s timed out: %w", taskID, contracts.ErrTaskTimeout)
		}
		return nil, fmt.Errorf("task %s cancelled: %w", taskID, contracts.ErrTaskCancelled)
	}
}

// validateAndTrack checks the run/task and marks the task as in-flight
// within this executor. TaskRunning is not rejected because the
// orchestrator sets it before calling Execute; the running map is what
// prevents duplicate execution here.
func (p *parallelExecutor) validateAndTrack(run *contracts.Run, taskID contracts.TaskID) (*contracts.Task, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if run.State != contracts.RunRunning {
		return nil, fmt.Errorf("run %s is not running: %w", run.ID, contracts.ErrTaskNotReady)
	}
	if run.Tasks == nil {
		return nil, contracts.ErrTaskNotFound
	}
	task, exists := run.Tasks[taskID]
	if !exists {
		return nil, fmt.Errorf("task %s not found: %w", taskID, contracts.ErrTaskNotFound)
	}
	if task.State.Terminal() {
		return nil, fmt.Errorf("task %s is in terminal state %s: %w",
			taskID, task.State, contracts.ErrTaskNotReady)
	}
	if p.running[taskID] {
		return nil, fmt.Errorf("task %s is already being executed: %w", taskID, contracts.ErrTaskNotReady)
	}
	p.running[taskID] = true
	return task, nil
}

func (p *parallelExecutor) untrack(taskID contracts.TaskID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.running, taskID)
}
