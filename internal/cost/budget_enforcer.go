package cost

import (
	"fmt"
	"sync"

	"github.com/substratehq/substrate/contracts"
	"github.com/substratehq/substrate/internal/logging"
)

// budgetEnforcer implements contracts.BudgetEnforcer: the pre-admission
// check the orchestrator runs before dispatching a task, complementing
// the event-driven Subscriber which reacts to costs already incurred.
type budgetEnforcer struct {
	mu sync.Mutex
	// warnPct, when > 0, logs a warning once projected usage crosses
	// this percentage of the run budget.
	warnPct float64
	warned  map[contracts.RunID]bool
}

// NewBudgetEnforcer creates a BudgetEnforcer with no warning threshold.
func NewBudgetEnforcer() contracts.BudgetEnforcer {
	return &budgetEnforcer{warned: make(map[contracts.RunID]bool)}
}

// NewBudgetEnforcerWithWarning creates a BudgetEnforcer that logs once
// when a run's projected spend crosses warnPct percent of its budget.
func NewBudgetEnforcerWithWarning(warnPct float64) contracts.BudgetEnforcer {
	return &budgetEnforcer{warnPct: warnPct, warned: make(map[contracts.RunID]bool)}
}

// Allow checks whether current usage plus estimate stays within the
// run's budget. Returns:
// - ErrInvalidInput when run is nil or currencies disagree
// - ErrBudgetNotSet when the run has no budget configured
// - ErrBudgetExceeded when the projection crosses the limit
func (b *budgetEnforcer) Allow(run *contracts.Run, estimate contracts.Cost) error {
	if run == nil {
		return contracts.ErrInvalidInput
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	budget := run.Policy.BudgetLimit
	if budget.Amount <= 0 {
		return contracts.ErrBudgetNotSet
	}
	if estimate.Currency != "" && budget.Currency != "" && estimate.Currency != budget.Currency {
		return fmt.Errorf("currency mismatch: estimate %s, budget %s: %w",
			estimate.Currency, budget.Currency, contracts.ErrInvalidInput)
	}

	current := run.Usage.Cost.Amount
	projected := current + estimate.Amount
	if projected > budget.Amount {
		return fmt.Errorf("projected cost %.4f exceeds budget %.4f (current: %.4f, estimate: %.4f): %w",
			projected, budget.Amount, current, estimate.Amount, contracts.ErrBudgetExceeded)
	}

	b.maybeWarn(run, projected, budget.Amount)
	return nil
}

// Record adds actual cost to the run's usage. The budget is re-checked
// here because estimates can undershoot; a recording that would cross
// the limit is refused with ErrBudgetExceeded.
func (b *budgetEnforcer) Record(run *contracts.Run, actual contracts.Cost) error {
	if run == nil {
		return contracts.ErrInvalidInput
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	budget := run.Policy.BudgetLimit
	if budget.Amount > 0 {
		projected := run.Usage.Cost.Amount + actual.Amount
		if projected > budget.Amount {
			return fmt.Errorf("recording cost %.4f would exceed budget %.4f (current: %.4f): %w",
				actual.Amount, budget.Amount, run.Usage.Cost.Amount, contracts.ErrBudgetExceeded)
		}
		b.maybeWarn(run, projected, budget.Amount)
	}

	run.Usage.Cost.Amount += actual.Amount
	if run.Usage.Cost.Currency == "" && actual.Currency != "" {
		run.Usage.Cost.Currency = actual.Currency
	}
	return nil
}

// maybeWarn logs once per run when projected spend crosses the warning
// threshold. Caller holds b.mu.
func (b *budgetEnforcer) maybeWarn(run *contracts.Run, projected, budget float64) {
	if b.warnPct <= 0 || b.warned[run.ID] {
		return
	}
	pct := projected / budget * 100
	if pct >= b.warnPct {
		b.warned[run.ID] = true
		logging.WithFields(map[string]any{
			"run_id":       string(run.ID),
			"percent_used": fmt.Sprintf("%.1f", pct),
			"budget_usd":   budget,
		}).Warn("cost: run budget warning threshold crossed")
	}
}
