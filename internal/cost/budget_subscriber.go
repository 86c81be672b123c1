package cost

import (
	"strings"
	"sync"

	"github.com/substratehq/substrate/internal/eventbus"
	"github.com/substratehq/substrate/internal/logging"
)

// Action is what a budget check asks the caller to do.
type Action string

const (
	ActionContinue     Action = "continue"
	ActionTerminate    Action = "terminate"
	ActionTerminateAll Action = "terminate-all"
)

// CheckResult is the outcome of one budget check.
type CheckResult struct {
	Exceeded       bool
	Action         Action
	CurrentCostUSD float64
	BudgetUSD      float64
	PercentageUsed float64
}

// DefaultBudgets is the enforcer's fallback budget configuration,
// refreshed when a config reload touches a budget key.
type DefaultBudgets struct {
	DefaultTaskBudgetUSD    float64
	DefaultSessionBudgetUSD float64
	WarningThresholdPercent float64
}

// TaskLookup resolves a task id to its session id and configured budget
// cap, as recorded by a prior task:routed event.
type TaskLookup interface {
	SessionForTask(taskID string) (sessionID string, ok bool)
	TaskBudgetCap(taskID string) (budgetUSD float64, ok bool)
	SetTaskBudgetCap(taskID string, budgetUSD float64)
}

// SessionCostLookup returns the total cost recorded so far for a
// session, across every task dispatched within it.
type SessionCostLookup interface {
	SessionCostUSD(sessionID string) float64
}

// Subscriber is the event-driven half of budget enforcement. It
// attaches to the EventBus and never holds a direct reference to the
// Worker Pool, publishing budget:exceeded:task / session:budget:exceeded
// events instead; the pool reacts on its own subscription.
type Subscriber struct {
	mu      sync.Mutex
	bus     *eventbus.Bus
	tasks   TaskLookup
	session SessionCostLookup
	budgets DefaultBudgets
}

// NewSubscriber constructs a Subscriber and registers its handlers on
// bus. tasks and session supply the lookups the enforcer itself does
// not own; it stays a pure policy check against externally-supplied
// totals.
func NewSubscriber(bus *eventbus.Bus, tasks TaskLookup, session SessionCostLookup, budgets DefaultBudgets) *Subscriber {
	s := &Subscriber{bus: bus, tasks: tasks, session: session, budgets: budgets}
	if bus != nil {
		bus.Subscribe(eventbus.CostRecorded, s.onCostRecorded)
		bus.Subscribe(eventbus.TaskRouted, s.onTaskRouted)
		bus.Subscribe(eventbus.ConfigReloaded, s.onConfigReloaded)
	}
	return s
}

// CheckTaskBudget reports whether a task's current cost has exceeded
// its budget cap.
func (s *Subscriber) CheckTaskBudget(budgetUSD, currentCostUSD float64) CheckResult {
	if budgetUSD <= 0 {
		return CheckResult{CurrentCostUSD: currentCostUSD, Action: ActionContinue}
	}
	pct := currentCostUSD / budgetUSD * 100
	if currentCostUSD > budgetUSD {
		return CheckResult{Exceeded: true, Action: ActionTerminate, CurrentCostUSD: currentCostUSD, BudgetUSD: budgetUSD, PercentageUsed: pct}
	}
	return CheckResult{CurrentCostUSD: currentCostUSD, BudgetUSD: budgetUSD, PercentageUsed: pct, Action: ActionContinue}
}

// CheckSessionBudget reports whether a session's total cost has
// exceeded its budget cap.
func (s *Subscriber) CheckSessionBudget(budgetUSD, totalCostUSD float64) CheckResult {
	if budgetUSD <= 0 {
		return CheckResult{CurrentCostUSD: totalCostUSD, Action: ActionContinue}
	}
	pct := totalCostUSD / budgetUSD * 100
	if totalCostUSD > budgetUSD {
		return CheckResult{Exceeded: true, Action: ActionTerminateAll, CurrentCostUSD: totalCostUSD, BudgetUSD: budgetUSD, PercentageUsed: pct}
	}
	return CheckResult{CurrentCostUSD: totalCostUSD, BudgetUSD: budgetUSD, PercentageUsed: pct, Action: ActionContinue}
}

// RecordTaskBudgetCap stores the cap a task was routed with, applying
// the configured default when the task carried none.
func (s *Subscriber) RecordTaskBudgetCap(taskID string, cap float64) {
	if cap <= 0 {
		cap = s.currentBudgets().DefaultTaskBudgetUSD
	}
	s.tasks.SetTaskBudgetCap(taskID, cap)
}

func (s *Subscriber) currentBudgets() DefaultBudgets {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.budgets
}

// onCostRecorded handles cost:recorded{taskId, sessionId, costUsd}: it
// checks the task's budget first, then (if not exceeded) the session
// total, publishing the corresponding exceeded event. All handler
// errors are swallowed and logged; a broken handler must never abort
// cost recording.
func (s *Subscriber) onCostRecorded(ev eventbus.Event) {
	defer s.recoverNonFatal("onCostRecorded")

	taskID, _ := ev.Data["taskId"].(string)
	sessionID, _ := ev.Data["sessionId"].(string)
	costUSD, _ := ev.Data["costUsd"].(float64)
	if taskID == "" || s.tasks == nil {
		return
	}

	if cap, ok := s.tasks.TaskBudgetCap(taskID); ok {
		if res := s.CheckTaskBudget(cap, costUSD); res.Exceeded {
			s.bus.Publish(eventbus.Event{Type: eventbus.BudgetExceededTask, Data: map[string]any{
				"taskId": taskID, "currentCostUsd": res.CurrentCostUSD, "budgetUsd": res.BudgetUSD,
			}})
			return
		}
	}

	if sessionID == "" || s.session == nil {
		return
	}
	total := s.session.SessionCostUSD(sessionID)
	if res := s.CheckSessionBudget(s.currentBudgets().DefaultSessionBudgetUSD, total); res.Exceeded {
		s.bus.Publish(eventbus.Event{Type: eventbus.SessionBudgetExceeded, Data: map[string]any{
			"sessionId": sessionID, "currentCostUsd": res.CurrentCostUSD, "budgetUsd": res.BudgetUSD,
		}})
	}
}

// onTaskRouted handles task:routed{taskId, budgetUsd}: when the task
// carries no budget, it applies the configured default and records the
// cap.
func (s *Subscriber) onTaskRouted(ev eventbus.Event) {
	defer s.recoverNonFatal("onTaskRouted")

	taskID, _ := ev.Data["taskId"].(string)
	if taskID == "" || s.tasks == nil {
		return
	}
	budgetUSD, _ := ev.Data["budgetUsd"].(float64)
	if budgetUSD <= 0 {
		s.RecordTaskBudgetCap(taskID, 0)
	}
}

// onConfigReloaded handles config:reloaded{changedKeys}. The
// Subscriber holds no reference to the ConfigSystem, so this handler
// only logs that a budget key changed; the wiring layer re-applies the new budget subset by
// calling SetBudgets after a reload.
func (s *Subscriber) onConfigReloaded(ev eventbus.Event) {
	defer s.recoverNonFatal("onConfigReloaded")

	changed, _ := ev.Data["changedKeys"].([]string)
	for _, key := range changed {
		if strings.HasPrefix(key, "budget") {
			logging.WithFields(map[string]any{"key": key}).Info("cost: budget config changed, awaiting refreshed defaults")
			return
		}
	}
}

// SetBudgets replaces the enforcer's default budget configuration,
// called by the wiring layer after a config reload touches budget keys.
func (s *Subscriber) SetBudgets(b DefaultBudgets) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.budgets = b
}

// recoverNonFatal isolates a handler panic so it never propagates
// back through the EventBus and aborts cost recording.
func (s *Subscriber) recoverNonFatal(handler string) {
	if r := recover(); r != nil {
		logging.WithFields(map[string]any{"handler": handler, "panic": r}).Error("cost: budget subscriber handler failed, non-fatal")
	}
}
