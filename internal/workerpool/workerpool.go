// Package workerpool bounds in-flight dispatches process-wide and
// per-adapter, admits a waiting Submit as soon as slots free up (waiters
// are polled, so their admission order is not guaranteed), and reacts to
// budget events published on the EventBus by terminating the affected
// worker(s).
package workerpool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/substratehq/substrate/contracts"
	"github.com/substratehq/substrate/internal/dispatch"
	"github.com/substratehq/substrate/internal/eventbus"
	"github.com/substratehq/substrate/internal/logging"
)

// admitPollInterval bounds how long acquire() waits between checks of
// the concurrency gate; workers release promptly so this is a short
// fixed interval rather than a per-adapter condition variable.
const admitPollInterval = 10 * time.Millisecond

func admitRetry() <-chan time.Time {
	return time.After(admitPollInterval)
}

// ReasonBudgetExceeded is the termination reason the pool records when
// it cancels a worker because a budget check tripped. It surfaces as
// the failed task's error code.
const ReasonBudgetExceeded = "budget_exceeded"

const (
	DefaultMaxConcurrentTasks = 4
	MinMaxConcurrentTasks     = 1
	MaxMaxConcurrentTasks     = 64

	DefaultAdapterMaxConcurrent = 4
	MinAdapterMaxConcurrent     = 1
	MaxAdapterMaxConcurrent     = 32
)

// ClampMaxConcurrentTasks enforces the process-wide concurrency bound
// (1..64, default 4).
func ClampMaxConcurrentTasks(n int) int {
	if n <= 0 {
		return DefaultMaxConcurrentTasks
	}
	if n < MinMaxConcurrentTasks {
		return MinMaxConcurrentTasks
	}
	if n > MaxMaxConcurrentTasks {
		return MaxMaxConcurrentTasks
	}
	return n
}

// ClampAdapterMaxConcurrent enforces the per-adapter concurrency bound
// (1..32, default 4).
func ClampAdapterMaxConcurrent(n int) int {
	if n <= 0 {
		return DefaultAdapterMaxConcurrent
	}
	if n < MinAdapterMaxConcurrent {
		return MinAdapterMaxConcurrent
	}
	if n > MaxAdapterMaxConcurrent {
		return MaxAdapterMaxConcurrent
	}
	return n
}

// worker tracks one admitted, in-flight dispatch.
type worker struct {
	handle    *dispatch.Handle
	adapterID string
	sessionID string
}

// Manager bounds concurrency and mediates budget-driven termination
// through the EventBus rather than a direct budget-enforcer reference.
type Manager struct {
	mu              sync.Mutex
	maxConcurrent   int
	adapterMax      map[string]int
	inFlight        int
	adapterInFlight map[string]int
	workers         map[string]*worker // taskID -> worker
}

// NewManager creates a Manager and subscribes it to the bus's
// budget-exceeded events. maxConcurrentTasks is clamped to [1,64].
func NewManager(bus *eventbus.Bus, maxConcurrentTasks int) *Manager {
	m := &Manager{
		maxConcurrent:   ClampMaxConcurrentTasks(maxConcurrentTasks),
		adapterMax:      make(map[string]int),
		adapterInFlight: make(map[string]int),
		workers:         make(map[string]*worker),
	}
	if bus != nil {
		bus.Subscribe(eventbus.BudgetExceededTask, m.onTaskBudgetExceeded)
		bus.Subscribe(eventbus.SessionBudgetExceeded, m.onSessionBudgetExceeded)
	}
	return m
}

// SetAdapterMax overrides the per-adapter concurrency ceiling.
func (m *Manager) SetAdapterMax(adapterID string, max int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.adapterMax[adapterID] = ClampAdapterMaxConcurrent(max)
}

func (m *Manager) adapterLimit(adapterID string) int {
	if limit, ok := m.adapterMax[adapterID]; ok {
		return limit
	}
	return DefaultAdapterMaxConcurrent
}

// ActiveWorkers returns a snapshot of in-flight task IDs. The pool is
// the only mutator of the live map; every other consumer gets a copy.
func (m *Manager) ActiveWorkers() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.workers))
	for id := range m.workers {
		out = append(out, id)
	}
	return out
}

// Submit blocks until both the process-wide and per-adapter slots admit
// the task (FIFO within opts.Priority is approximated by blocking
// acquire order; high-priority callers should use a short-lived
// goroutine ahead of normal ones at the caller layer), then dispatches
// it and tracks the resulting Handle.
func (m *Manager) Submit(ctx context.Context, task contracts.Task, ad dispatch.Adapter, sessionID string, opts dispatch.Opts) (*dispatch.Handle, error) {
	if err := m.acquire(ctx, ad.ID()); err != nil {
		return nil, err
	}

	h, err := dispatch.Dispatch(ctx, task, ad, opts)
	if err != nil {
		m.release(ad.ID())
		return nil, err
	}

	m.mu.Lock()
	m.workers[string(task.ID)] = &worker{handle: h, adapterID: ad.ID(), sessionID: sessionID}
	m.mu.Unlock()

	go func() {
		_, _ = h.Result(context.Background())
		m.mu.Lock()
		delete(m.workers, string(task.ID))
		m.mu.Unlock()
		m.release(ad.ID())
	}()

	return h, nil
}

func (m *Manager) acquire(ctx context.Context, adapterID string) error {
	for {
		m.mu.Lock()
		if m.inFlight < m.maxConcurrent && m.adapterInFlight[adapterID] < m.adapterLimit(adapterID) {
			m.inFlight++
			m.adapterInFlight[adapterID]++
			m.mu.Unlock()
			return nil
		}
		m.mu.Unlock()

		select {
		case <-ctx.Done():
			return fmt.Errorf("workerpool: acquire cancelled: %w", ctx.Err())
		default:
		}
		// Busy-poll with yield; the pool's admission count is small and
		// workers release promptly, so this keeps the implementation
		// simple without a condvar-per-adapter.
		select {
		case <-ctx.Done():
			return fmt.Errorf("workerpool: acquire cancelled: %w", ctx.Err())
		case <-admitRetry():
		}
	}
}

func (m *Manager) release(adapterID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inFlight--
	m.adapterInFlight[adapterID]--
}

// onTaskBudgetExceeded terminates the single worker named by the event.
func (m *Manager) onTaskBudgetExceeded(ev eventbus.Event) {
	taskID, _ := ev.Data["taskId"].(string)
	if taskID == "" {
		return
	}
	m.mu.Lock()
	w, ok := m.workers[taskID]
	m.mu.Unlock()
	if !ok {
		return
	}
	logging.WithFields(map[string]any{"task_id": taskID}).Warn("workerpool: terminating worker, task budget exceeded")
	w.handle.CancelWithReason(ReasonBudgetExceeded)
}

// onSessionBudgetExceeded terminates every worker belonging to the
// session named by the event.
func (m *Manager) onSessionBudgetExceeded(ev eventbus.Event) {
	sessionID, _ := ev.Data["sessionId"].(string)
	if sessionID == "" {
		return
	}
	m.mu.Lock()
	var victims []*worker
	for _, w := range m.workers {
		if w.sessionID == sessionID {
			victims = append(victims, w)
		}
	}
	m.mu.Unlock()

	logging.WithFields(map[string]any{"session_id": sessionID, "count": len(victims)}).Warn("workerpool: terminating all workers, session budget exceeded")
	for _, w := range victims {
		w.handle.CancelWithReason(ReasonBudgetExceeded)
	}
}
