package orchestration

import (
	"github.com/substratehq/substrate/contracts"
	ctxpkg "github.com/substratehq/substrate/internal/context"
	"github.com/substratehq/substrate/internal/cost"
	"github.com/substratehq/substrate/internal/eventbus"
)

// FactoryOptions provides optional customization for orchestrator assembly.
type FactoryOptions struct {
	// ModelCatalog overrides the default pricing catalog.
	ModelCatalog contracts.ModelCatalog

	// Currency overrides the default currency (USD).
	Currency contracts.Currency

	// Bus, when set, receives run/task lifecycle events; the usage
	// tracker also publishes cost:recorded through it whenever task
	// costs are recorded against a session.
	Bus *eventbus.Bus

	// BudgetWarnPct, when > 0, logs once per run when projected spend
	// crosses this percentage of the run budget.
	BudgetWarnPct float64
}

// NewOrchestratorWithDefaults assembles an orchestrator from default
// components. executor performs the actual agent invocation; nil uses
// a stub.
func NewOrchestratorWithDefaults(policy contracts.RunPolicy, executor TaskExecutorFunc) contracts.Orchestrator {
	return NewOrchestratorWithOptions(policy, executor, FactoryOptions{})
}

// NewOrchestratorWithOptions assembles an orchestrator with custom
// catalog, currency, event bus, or budget warning threshold.
func NewOrchestratorWithOptions(policy contracts.RunPolicy, executor TaskExecutorFunc, opts FactoryOptions) contracts.Orchestrator {
	var costCalc contracts.CostCalculator
	if opts.ModelCatalog != nil || opts.Currency != "" {
		costCalc = cost.NewCostCalculatorWithCatalog(opts.ModelCatalog, opts.Currency)
	} else {
		costCalc = cost.NewCostCalculator()
	}

	var enforcer contracts.BudgetEnforcer
	if opts.BudgetWarnPct > 0 {
		enforcer = cost.NewBudgetEnforcerWithWarning(opts.BudgetWarnPct)
	} else {
		enforcer = cost.NewBudgetEnforcer()
	}

	deps := OrchestratorDeps{
		Scheduler:      NewScheduler(),
		DepResolver:    NewDependencyResolver(),
		Queue:          NewQueueManager(),
		Executor:       NewParallelExecutorFromPolicy(policy, executor),
		ContextBuilder: ctxpkg.NewContextBuilder(),
		Compactor:      ctxpkg.NewContextCompactor(),
		TokenEstimator: cost.NewTokenEstimator(),
		CostCalc:       costCalc,
		BudgetEnforcer: enforcer,
		UsageTracker:   cost.NewUsageTracker(opts.Bus),
		Router:         ctxpkg.NewContextRouter(),
		Bus:            opts.Bus,
	}

	return NewOrchestrator(deps)
}
