package cost

import (
	"sync"

	"github.com/substratehq/substrate/contracts"
	"github.com/substratehq/substrate/internal/eventbus"
)

// usageTracker implements contracts.UsageTracker and is the process's
// cost ledger: it accumulates per-run and per-session totals, remembers
// which session each task belongs to and the budget cap it was routed
// with, and publishes a cost:recorded event for every task-cost
// recording so the budget subscriber can react without being called
// directly.
//
// It satisfies both TaskLookup and SessionCostLookup for the Subscriber.
type usageTracker struct {
	mu          sync.Mutex
	bus         *eventbus.Bus
	usage       map[contracts.RunID]contracts.Usage
	sessionCost map[string]float64
	taskSession map[string]string
	taskCost    map[string]float64
	taskCap     map[string]float64
}

// Tracker is the concrete usage-tracker surface the wiring layer uses;
// contracts.UsageTracker covers the orchestrator-facing subset.
type Tracker interface {
	contracts.UsageTracker
	TaskLookup
	SessionCostLookup
	// RecordTaskCost attributes cost to a task (and its session) and
	// publishes cost:recorded on the bus.
	RecordTaskCost(taskID, sessionID string, costUSD float64)
}

// NewUsageTracker creates a tracker. bus may be nil in tests; no events
// are published then.
func NewUsageTracker(bus *eventbus.Bus) Tracker {
	return &usageTracker{
		bus:         bus,
		usage:       make(map[contracts.RunID]contracts.Usage),
		sessionCost: make(map[string]float64),
		taskSession: make(map[string]string),
		taskCost:    make(map[string]float64),
		taskCap:     make(map[string]float64),
	}
}

// Add adds usage to the run's total. A nil run is ignored. Add touches
// only the run ledger: session attribution happens exclusively through
// RecordTaskCost, so a task whose cost flows through both paths is
// never counted against its session twice.
func (ut *usageTracker) Add(run *contracts.Run, usage contracts.Usage) {
	if run == nil {
		return
	}

	ut.mu.Lock()
	current := ut.usage[run.ID]
	current.Tokens += usage.Tokens
	if current.Cost.Currency == "" {
		current.Cost.Currency = usage.Cost.Currency
	}
	current.Cost.Amount += usage.Cost.Amount
	ut.usage[run.ID] = current
	ut.mu.Unlock()
}

// Snapshot returns a copy of the run's current usage.
func (ut *usageTracker) Snapshot(run *contracts.Run) contracts.Usage {
	if run == nil {
		return contracts.Usage{}
	}
	ut.mu.Lock()
	defer ut.mu.Unlock()
	return ut.usage[run.ID]
}

// RecordTaskCost attributes cost to one task and its session, then
// publishes cost:recorded. The published cost is the task's running
// total, which is what the per-task budget check compares against.
func (ut *usageTracker) RecordTaskCost(taskID, sessionID string, costUSD float64) {
	ut.mu.Lock()
	if sessionID != "" {
		ut.taskSession[taskID] = sessionID
		ut.sessionCost[sessionID] += costUSD
	}
	ut.taskCost[taskID] += costUSD
	total := ut.taskCost[taskID]
	ut.mu.Unlock()

	if ut.bus != nil {
		ut.bus.Publish(eventbus.Event{Type: eventbus.CostRecorded, Data: map[string]any{
			"taskId":    taskID,
			"sessionId": sessionID,
			"costUsd":   total,
		}})
	}
}

// SessionForTask returns the session a task was recorded under.
func (ut *usageTracker) SessionForTask(taskID string) (string, bool) {
	ut.mu.Lock()
	defer ut.mu.Unlock()
	s, ok := ut.taskSession[taskID]
	return s, ok
}

// SessionCostUSD returns the session's accumulated cost.
func (ut *usageTracker) SessionCostUSD(sessionID string) float64 {
	ut.mu.Lock()
	defer ut.mu.Unlock()
	return ut.sessionCost[sessionID]
}

// TaskBudgetCap returns the cap recorded for a task, if any.
func (ut *usageTracker) TaskBudgetCap(taskID string) (float64, bool) {
	ut.mu.Lock()
	defer ut.mu.Unlock()
	c, ok := ut.taskCap[taskID]
	return c, ok
}

// SetTaskBudgetCap records the budget cap a task was routed with.
func (ut *usageTracker) SetTaskBudgetCap(taskID string, budgetUSD float64) {
	ut.mu.Lock()
	defer ut.mu.Unlock()
	ut.taskCap[taskID] = budgetUSD
}
