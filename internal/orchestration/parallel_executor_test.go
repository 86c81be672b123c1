package orchestration

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/substratehq/substrate/contracts"
)

func executorRun(taskIDs ...contracts.TaskID) *contracts.Run {
	run := &contracts.Run{
		ID:    "run-1",
		State: contracts.RunRunning,
		Tasks: map[contracts.TaskID]*contracts.Task{},
	}
	for _, id := range taskIDs {
		run.Tasks[id] = &contracts.Task{ID: id, State: contracts.TaskPending}
	}
	return run
}

func TestParallelExecutor_Executes(t *testing.T) {
	p := NewParallelExecutor(2, func(ctx context.Context, task *contracts.Task) (*contracts.TaskResult, error) {
		return &contracts.TaskResult{Output: "done:" + string(task.ID), Usage: contracts.Usage{Tokens: 5}}, nil
	})
	run := executorRun("a")

	res, err := p.Execute(context.Background(), run, "a")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Output != "done:a" {
		t.Fatalf("Output = %q", res.Output)
	}
	// The executor never mutates task state.
	if run.Tasks["a"].State != contracts.TaskPending {
		t.Fatalf("executor mutated task state to %s", run.Tasks["a"].State)
	}
}

func TestParallelExecutor_BoundsConcurrency(t *testing.T) {
	var inFlight, peak int32
	p := NewParallelExecutor(2, func(ctx context.Context, task *contracts.Task) (*contracts.TaskResult, error) {
		cur := atomic.AddInt32(&inFlight, 1)
		for {
			old := atomic.LoadInt32(&peak)
			if cur <= old || atomic.CompareAndSwapInt32(&peak, old, cur) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		return &contracts.TaskResult{Usage: contracts.Usage{Tokens: 1}}, nil
	})

	ids := []contracts.TaskID{"a", "b", "c", "d", "e"}
	run := executorRun(ids...)

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(tid contracts.TaskID) {
			defer wg.Done()
			if _, err := p.Execute(context.Background(), run, tid); err != nil {
				t.Errorf("Execute(%s): %v", tid, err)
			}
		}(id)
	}
	wg.Wait()

	if got := atomic.LoadInt32(&peak); got > 2 {
		t.Fatalf("peak concurrency = %d, want <= 2", got)
	}
}

func TestParallelExecutor_TaskTimeoutOverride(t *testing.T) {
	p := NewParallelExecutor(1, func(ctx context.Context, task *contracts.Task) (*contracts.TaskResult, error) {
		select {
		case <-time.After(5 * time.Second):
			return &contracts.TaskResult{Usage: contracts.Usage{Tokens: 1}}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})
	run := executorRun("a")
	run.Policy.TimeoutMs = 60_000
	run.Tasks["a"].TimeoutMs = 20 // task override wins

	_, err := p.Execute(context.Background(), run, "a")
	if !errors.Is(err, contracts.ErrTaskTimeout) {
		t.Fatalf("Execute = %v, want ErrTaskTimeout", err)
	}
}

func TestParallelExecutor_ExecutorErrorWrapped(t *testing.T) {
	p := NewParallelExecutor(1, func(ctx context.Context, task *contracts.Task) (*contracts.TaskResult, error) {
		return nil, errors.New("agent blew up")
	})
	run := executorRun("a")

	_, err := p.Execute(context.Background(), run, "a")
	if !errors.Is(err, contracts.ErrTaskFailed) {
		t.Fatalf("Execute = %v, want ErrTaskFailed", err)
	}
}

func TestParallelExecutor_Cancellation(t *testing.T) {
	p := NewParallelExecutor(1, func(ctx context.Context, task *contracts.Task) (*contracts.TaskResult, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	run := executorRun("a")

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := p.Execute(ctx, run, "a")
	if !errors.Is(err, contracts.ErrTaskCancelled) {
		t.Fatalf("Execute = %v, want ErrTaskCancelled", err)
	}
}

func TestParallelExecutor_Validation(t *testing.T) {
	p := NewParallelExecutor(1, nil)
	run := executorRun("a")

	if _, err := p.Execute(context.Background(), nil, "a"); !errors.Is(err, contracts.ErrInvalidInput) {
		t.Fatalf("nil run = %v", err)
	}
	if _, err := p.Execute(context.Background(), run, "nope"); !errors.Is(err, contracts.ErrTaskNotFound) {
		t.Fatalf("unknown task = %v", err)
	}

	run.Tasks["a"].State = contracts.TaskCompleted
	if _, err := p.Execute(context.Background(), run, "a"); !errors.Is(err, contracts.ErrTaskNotReady) {
		t.Fatalf("terminal task = %v", err)
	}
}

func TestParallelExecutor_RejectsDuplicateExecution(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	p := NewParallelExecutor(2, func(ctx context.Context, task *contracts.Task) (*contracts.TaskResult, error) {
		close(started)
		<-release
		return &contracts.TaskResult{Usage: contracts.Usage{Tokens: 1}}, nil
	})
	run := executorRun("a")

	go p.Execute(context.Background(), run, "a")
	<-started

	_, err := p.Execute(context.Background(), run, "a")
	close(release)
	if !errors.Is(err, contracts.ErrTaskNotReady) {
		t.Fatalf("duplicate Execute = %v, want ErrTaskNotReady", err)
	}
}
