package orchestration

import (
	"fmt"
	"sort"

	"github.com/substratehq/substrate/contracts"
)

// scheduler implements contracts.Scheduler over the run's DAG. A task is
// ready when its Pending count reaches zero and it has not entered a
// terminal state. Failure blocks the transitive dependents; cancellation
// cascades to them.
//
// Thread-safety: the scheduler assumes the caller holds appropriate
// locks. All operations on Run and DAG must be externally synchronized.
type scheduler struct{}

// NewScheduler creates a Scheduler.
func NewScheduler() contracts.Scheduler {
	return &scheduler{}
}

// NextReady returns the task IDs whose every dependency completed,
// sorted by TaskID for deterministic batch ordering.
func (s *scheduler) NextReady(run *contracts.Run) ([]contracts.TaskID, error) {
	if run == nil {
		return nil, contracts.ErrInvalidInput
	}
	if run.State != contracts.RunRunning {
		return nil, fmt.Errorf("run %s is not running (state: %s): %w", run.ID, run.State, contracts.ErrRunCompleted)
	}
	if run.DAG == nil || run.DAG.Nodes == nil {
		return nil, fmt.Errorf("run %s has no DAG: %w", run.ID, contracts.ErrDAGInvalid)
	}
	if len(run.Tasks) == 0 {
		return []contracts.TaskID{}, nil
	}

	var ready []contracts.TaskID
	for taskID, node := range run.DAG.Nodes {
		if node.Pending != 0 {
			continue
		}
		task, exists := run.Tasks[taskID]
		if !exists {
			continue
		}
		if task.State == contracts.TaskPending || task.State == contracts.TaskReady {
			ready = append(ready, taskID)
		}
	}

	sort.Slice(ready, func(i, j int) bool {
		return string(ready[i]) < string(ready[j])
	})
	return ready, nil
}

// MarkComplete marks a task as completed, stores its result, and
// decrements the Pending count of each dependent. Completing a task
// twice, or completing a task already in a terminal state, is an error.
func (s *scheduler) MarkComplete(run *contracts.Run, taskID contracts.TaskID, result *contracts.TaskResult) error {
	task, err := s.lookup(run, taskID)
	if err != nil {
		return err
	}
	if task.State.Terminal() {
		return fmt.Errorf("task %s is in terminal state %s: %w", taskID, task.State, contracts.ErrTaskNotReady)
	}

	task.State = contracts.TaskCompleted
	task.Outputs = result

	if node, ok := run.DAG.Nodes[taskID]; ok {
		for _, nextID := range node.Next {
			if nextNode, ok := run.DAG.Nodes[nextID]; ok && nextNode.Pending > 0 {
				nextNode.Pending--
			}
		}
	}
	return nil
}

// MarkFailed marks a task as failed and blocks every transitive
// dependent: a blocked task is terminal and never scheduled.
func (s *scheduler) MarkFailed(run *contracts.Run, taskID contracts.TaskID, taskErr *contracts.TaskError) error {
	task, err := s.lookup(run, taskID)
	if err != nil {
		return err
	}
	if task.State.Terminal() {
		return fmt.Errorf("task %s is in terminal state %s: %w", taskID, task.State, contracts.ErrTaskNotReady)
	}

	task.State = contracts.TaskFailed
	task.Error = taskErr

	s.cascade(run, taskID, func(t *contracts.Task) {
		t.State = contracts.TaskBlocked
		t.Error = &contracts.TaskError{
			Code:    "dependency_failed",
			Message: fmt.Sprintf("blocked: dependency chain from %s failed", taskID),
		}
	})
	return nil
}

// MarkCancelled marks a task as cancelled and cascades cancellation to
// every transitive dependent. Cancelling an already-terminal task is a
// no-op rather than an error, so double-cancellation stays idempotent.
func (s *scheduler) MarkCancelled(run *contracts.Run, taskID contracts.TaskID) error {
	task, err := s.lookup(run, taskID)
	if err != nil {
		return err
	}
	if task.State.Terminal() {
		return nil
	}

	task.State = contracts.TaskCancelled

	s.cascade(run, taskID, func(t *contracts.Task) {
		t.State = contracts.TaskCancelled
	})
	return nil
}

// cascade applies fn to every non-terminal transitive dependent of
// rootID, breadth-first over the DAG's forward edges.
func (s *scheduler) cascade(run *contracts.Run, rootID contracts.TaskID, fn func(*contracts.Task)) {
	if run.DAG == nil || run.DAG.Nodes == nil {
		return
	}
	frontier := []contracts.TaskID{rootID}
	seen := map[contracts.TaskID]bool{rootID: true}
	for len(frontier) > 0 {
		id := frontier[0]
		frontier = frontier[1:]
		node, ok := run.DAG.Nodes[id]
		if !ok {
			continue
		}
		for _, nextID := range node.Next {
			if seen[nextID] {
				continue
			}
			seen[nextID] = true
			if t, ok := run.Tasks[nextID]; ok && !t.State.Terminal() {
				fn(t)
			}
			frontier = append(frontier, nextID)
		}
	}
}

func (s *scheduler) lookup(run *contracts.Run, taskID contracts.TaskID) (*contracts.Task, error) {
	if run == nil {
		return nil, contracts.ErrInvalidInput
	}
	if run.State != contracts.RunRunning {
		return nil, fmt.Errorf("run %s is not running (state: %s): %w", run.ID, run.State, contracts.ErrRunCompleted)
	}
	if run.DAG == nil {
		return nil, fmt.Errorf("run %s has no DAG: %w", run.ID, contracts.ErrDAGInvalid)
	}
	if run.Tasks == nil {
		return nil, fmt.Errorf("run %s has no tasks: %w", run.ID, contracts.ErrTaskNotFound)
	}
	task, exists := run.Tasks[taskID]
	if !exists {
		return nil, fmt.Errorf("task %s not found in run %s: %w", taskID, run.ID, contracts.ErrTaskNotFound)
	}
	return task, nil
}
