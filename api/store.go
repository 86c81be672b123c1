package api

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/substratehq/substrate/contracts"
)

// RunEntry tracks one run the sidecar accepted: the live run object the
// orchestrator goroutine mutates, its cancel func, and a shadow copy of
// its state that handlers read instead of the live object.
type RunEntry struct {
	mu sync.RWMutex // protects shadow and UpdatedAt

	// Run is mutated by the orchestrator goroutine. Handlers must not
	// read it directly; they go through GetSnapshot.
	Run    *contracts.Run
	Cancel context.CancelFunc
	Done   chan struct{} // closed when the orchestrator returns
	Error  error         // the orchestrator's final error

	shadow *runShadow

	Aborting  bool // set by Abort until the goroutine finishes
	CreatedAt time.Time
	UpdatedAt time.Time
}

// runShadow is the synchronized copy of run state handlers read from.
type runShadow struct {
	State contracts.RunState
	Tasks map[contracts.TaskID]taskShadow
	Usage contracts.Usage
}

type taskShadow struct {
	State  contracts.TaskState
	Agent  contracts.AgentID
	Output string
	Error  *contracts.TaskError
}

// snapshotTask deep-copies one task into its shadow form.
func snapshotTask(task *contracts.Task) taskShadow {
	ts := taskShadow{State: task.State, Agent: task.Agent}
	if task.Outputs != nil {
		ts.Output = task.Outputs.Output
	}
	if task.Error != nil {
		errCopy := *task.Error
		ts.Error = &errCopy
	}
	return ts
}

// RunStore is the sidecar's in-memory run registry.
type RunStore struct {
	mu   sync.RWMutex
	runs map[contracts.RunID]*RunEntry
}

// NewRunStore creates an empty RunStore.
func NewRunStore() *RunStore {
	return &RunStore{runs: make(map[contracts.RunID]*RunEntry)}
}

// Create registers a new run. Returns ErrRunExists on an ID collision.
func (s *RunStore) Create(run *contracts.Run, cancel context.CancelFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.runs[run.ID]; exists {
		return fmt.Errorf("run %s: %w", run.ID, ErrRunExists)
	}

	shadow := &runShadow{
		State: run.State,
		Tasks: make(map[contracts.TaskID]taskShadow, len(run.Tasks)),
		Usage: run.Usage,
	}
	for id, task := range run.Tasks {
		shadow.Tasks[id] = snapshotTask(task)
	}

	now := time.Now()
	s.runs[run.ID] = &RunEntry{
		Run:       run,
		Cancel:    cancel,
		Done:      make(chan struct{}),
		shadow:    shadow,
		CreatedAt: now,
		UpdatedAt: now,
	}
	return nil
}

// Get retrieves a run entry by ID. The entry holds the live run the
// orchestrator mutates; use GetSnapshot for anything handler-facing.
func (s *RunStore) Get(id contracts.RunID) (*RunEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, exists := s.runs[id]
	return entry, exists
}

// RunSnapshot is the immutable view handlers build responses from.
type RunSnapshot struct {
	ID        contracts.RunID
	Session   contracts.SessionID
	State     contracts.RunState
	Tasks     map[contracts.TaskID]TaskSnapshot
	Usage     contracts.Usage
	CreatedAt int64
	UpdatedAt int64
	APIState  string // "aborting" while an abort is in flight
	Error     error
}

// TaskSnapshot is the per-task slice of a RunSnapshot.
type TaskSnapshot struct {
	State  contracts.TaskState
	Agent  contracts.AgentID
	Output string
	Error  *contracts.TaskError
}

// GetSnapshot returns an immutable copy of the run's current shadow
// state.
func (s *RunStore) GetSnapshot(id contracts.RunID) (*RunSnapshot, bool) {
	s.mu.RLock()
	entry, exists := s.runs[id]
	if !exists {
		s.mu.RUnlock()
		return nil, false
	}
	aborting := entry.Aborting
	done := isDone(entry)
	createdAt := entry.CreatedAt.UnixMilli()
	runErr := entry.Error
	runID := entry.Run.ID
	session := entry.Run.Session // immutable after create
	s.mu.RUnlock()

	entry.mu.RLock()
	defer entry.mu.RUnlock()

	shadow := entry.shadow
	if shadow == nil {
		return nil, false
	}

	apiState := shadow.State.String()
	if aborting && !done {
		apiState = "aborting"
	}

	tasks := make(map[contracts.TaskID]TaskSnapshot, len(shadow.Tasks))
	for id, task := range shadow.Tasks {
		ts := TaskSnapshot{State: task.State, Agent: task.Agent, Output: task.Output}
		if task.Error != nil {
			errCopy := *task.Error
			ts.Error = &errCopy
		}
		tasks[id] = ts
	}

	return &RunSnapshot{
		ID:        runID,
		Session:   session,
		State:     shadow.State,
		Tasks:     tasks,
		Usage:     shadow.Usage,
		CreatedAt: createdAt,
		UpdatedAt: entry.UpdatedAt.UnixMilli(),
		APIState:  apiState,
		Error:     runErr,
	}, true
}

// Abort cancels a running run. Aborting an unknown run is
// ErrRunNotFound; aborting one that already finished (completed,
// failed, aborted, or paused) is ErrRunCompleted. A second abort of a
// still-finishing run is a no-op.
func (s *RunStore) Abort(id contracts.RunID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, exists := s.runs[id]
	if !exists {
		return fmt.Errorf("run %s: %w", id, contracts.ErrRunNotFound)
	}
	if isDone(entry) || terminalRunState(shadowState(entry)) {
		return fmt.Errorf("run %s: %w", id, contracts.ErrRunCompleted)
	}
	if entry.Aborting {
		return nil
	}

	entry.Aborting = true
	entry.mu.Lock()
	entry.UpdatedAt = time.Now()
	entry.mu.Unlock()

	if entry.Cancel != nil {
		entry.Cancel()
	}
	return nil
}

// UpdateShadowState re-copies the live run's tasks and usage into the
// shadow. Safe while the orchestrator runs only at its batch
// boundaries (the progress callback) and after it returns (MarkDone).
func (s *RunStore) UpdateShadowState(id contracts.RunID) {
	entry, exists := s.Get(id)
	if !exists {
		return
	}
	run := entry.Run

	entry.mu.Lock()
	defer entry.mu.Unlock()

	entry.shadow.Usage = run.Usage
	for id, task := range run.Tasks {
		entry.shadow.Tasks[id] = snapshotTask(task)
	}
	entry.UpdatedAt = time.Now()
}

// SetShadowRunState publishes a run-level state into the shadow.
func (s *RunStore) SetShadowRunState(id contracts.RunID, state contracts.RunState) {
	entry, exists := s.Get(id)
	if !exists {
		return
	}
	entry.mu.Lock()
	entry.shadow.State = state
	entry.mu.Unlock()
}

// UpdateTimestamp bumps the run's UpdatedAt without touching task state.
func (s *RunStore) UpdateTimestamp(id contracts.RunID) {
	entry, exists := s.Get(id)
	if !exists {
		return
	}
	entry.mu.Lock()
	entry.UpdatedAt = time.Now()
	entry.mu.Unlock()
}

// MarkDone records the orchestrator's final result: one last shadow
// sync, the final run state, the error, and the closed Done channel.
func (s *RunStore) MarkDone(id contracts.RunID, err error) {
	s.UpdateShadowState(id)

	s.mu.Lock()
	entry, exists := s.runs[id]
	if !exists {
		s.mu.Unlock()
		return
	}
	finalState := entry.Run.State // safe: the orchestrator has returned
	s.mu.Unlock()

	s.SetShadowRunState(id, finalState)

	s.mu.Lock()
	defer s.mu.Unlock()
	entry, exists = s.runs[id]
	if !exists {
		return
	}
	entry.Error = err
	entry.UpdatedAt = time.Now()
	select {
	case <-entry.Done:
	default:
		close(entry.Done)
	}
}

// CancelAll cancels every run that is still active, for graceful
// shutdown. Returns how many were cancelled.
func (s *RunStore) CancelAll() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cancelled := 0
	for _, entry := range s.runs {
		if entry.Aborting || terminalRunState(shadowState(entry)) {
			continue
		}
		entry.Aborting = true
		entry.UpdatedAt = time.Now()
		if entry.Cancel != nil {
			entry.Cancel()
		}
		cancelled++
	}
	return cancelled
}

// WaitAll blocks until every run finishes or the timeout elapses.
// Returns the number still active at return.
func (s *RunStore) WaitAll(timeout time.Duration) int {
	deadline := time.Now().Add(timeout)

	for {
		s.mu.RLock()
		active := 0
		var firstDone chan struct{}
		for _, entry := range s.runs {
			if !isDone(entry) {
				active++
				if firstDone == nil {
					firstDone = entry.Done
				}
			}
		}
		s.mu.RUnlock()

		if active == 0 {
			return 0
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return active
		}

		select {
		case <-time.After(remaining):
			return active
		case <-firstDone:
		}
	}
}

// PruneCompleted drops finished runs that have been idle longer than
// retention. Returns how many were removed.
func (s *RunStore) PruneCompleted(retention time.Duration) int {
	if retention <= 0 {
		return 0
	}
	cutoff := time.Now().Add(-retention)
	removed := 0

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, entry := range s.runs {
		if isDone(entry) && entry.UpdatedAt.Before(cutoff) {
			delete(s.runs, id)
			removed++
		}
	}
	return removed
}

func isDone(entry *RunEntry) bool {
	select {
	case <-entry.Done:
		return true
	default:
		return false
	}
}

func shadowState(entry *RunEntry) contracts.RunState {
	entry.mu.RLock()
	defer entry.mu.RUnlock()
	if entry.shadow == nil {
		return contracts.RunPending
	}
	return entry.shadow.State
}

// terminalRunState reports whether the run will do no further work. A
// paused run counts: its orchestrator has returned, so there is
// nothing left to abort.
func terminalRunState(state contracts.RunState) bool {
	switch state {
	case contracts.RunCompleted, contracts.RunFailed, contracts.RunAborted, contracts.RunPaused:
		return true
	}
	return false
}
