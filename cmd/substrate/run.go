package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/substratehq/substrate/contracts"
	"github.com/substratehq/substrate/internal/adapter"
	"github.com/substratehq/substrate/internal/cliout"
	"github.com/substratehq/substrate/internal/configsys"
	ctxpkg "github.com/substratehq/substrate/internal/context"
	"github.com/substratehq/substrate/internal/cost"
	"github.com/substratehq/substrate/internal/dispatch"
	"github.com/substratehq/substrate/internal/eventbus"
	"github.com/substratehq/substrate/internal/logging"
	"github.com/substratehq/substrate/internal/orchestration"
	"github.com/substratehq/substrate/internal/routing"
	"github.com/substratehq/substrate/internal/taskgraph"
	"github.com/substratehq/substrate/internal/workerpool"
)

// defaultDispatchTimeout is the per-dispatch deadline applied when
// neither the task nor the graph overrides it.
const defaultDispatchTimeout = 180 * time.Second

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run <graph-file>",
		Short: "Execute a task graph against the configured agents",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			doc, err := loadGraphDocument(args[0])
			if err != nil {
				return err
			}

			bus := eventbus.New()
			registry := buildRegistry(cfg)

			graph, res := taskgraph.Validate(doc, registry)
			if !res.Valid {
				for _, e := range res.Errors {
					fmt.Fprintf(cmd.ErrOrStderr(), "error: %s: %s\n", e.Category, e.Message)
				}
				return usageError{fmt.Errorf("graph is invalid: %w", contracts.ErrValidation)}
			}
			for _, w := range res.Warnings {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s: %s\n", w.Category, w.Message)
			}

			var encoder *cliout.Encoder
			if flagJSON {
				encoder = cliout.NewEncoder(cmd.OutOrStdout(), "run")
				encoder.Subscribe(bus)
			}

			run := buildRun(cfg, graph)
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			err = executeRun(ctx, cfg, bus, registry, graph, run)

			if encoder != nil {
				if err != nil {
					_ = encoder.EmitError(err)
				} else {
					_ = encoder.Emit(map[string]any{
						"runId":     string(run.ID),
						"state":     run.State.String(),
						"tokens":    int64(run.Usage.Tokens),
						"cost_usd":  run.Usage.Cost.Amount,
						"taskCount": len(run.Tasks),
					})
				}
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "run %s %s: %d tasks, %d tokens, $%.4f\n",
					run.ID, run.State, len(run.Tasks), run.Usage.Tokens, run.Usage.Cost.Amount)
			}
			return err
		},
	}
}

// buildRegistry registers one CLI adapter per enabled provider.
func buildRegistry(cfg *configsys.Config) *adapter.Registry {
	registry := adapter.NewRegistry(30 * time.Second)
	allTypes := []string{
		string(taskgraph.TaskCoding), string(taskgraph.TaskTesting), string(taskgraph.TaskDocs),
		string(taskgraph.TaskDebugging), string(taskgraph.TaskRefactoring),
	}
	for id, p := range cfg.Providers {
		if !p.IsEnabled() || p.SubscriptionRouting == configsys.SubscriptionDisabled {
			continue
		}
		binary := p.CLIPath
		if binary == "" {
			binary = id
		}
		billing := "api"
		if p.SubscriptionRouting == configsys.SubscriptionAuto || p.SubscriptionRouting == configsys.SubscriptionOnly {
			billing = "subscription"
		}
		registry.Register(adapter.NewCLIAdapter(id, binary, nil, cfg.Global.WorkspaceDir, adapter.Capabilities{
			TaskTypes:     allTypes,
			MaxConcurrent: p.MaxConcurrent,
			BillingMode:   billing,
		}))
	}
	return registry
}

// buildRun converts a validated graph into the orchestrator's run form.
func buildRun(cfg *configsys.Config, graph *taskgraph.Graph) *contracts.Run {
	sessionBudget := graph.Session.BudgetUSD
	if sessionBudget <= 0 {
		sessionBudget = cfg.Budget.DefaultSessionBudgetUSD
	}

	balanced, _ := cost.NewModelCatalog().GetByRole(contracts.RoleBalanced)

	run := &contracts.Run{
		ID:      contracts.RunID("run-" + uuid.NewString()),
		Session: contracts.SessionID(graph.Session.Name),
		State:   contracts.RunPending,
		Tasks:   make(map[contracts.TaskID]*contracts.Task, len(graph.Tasks)),
		Memory:  make(map[string]string),
		Policy: contracts.RunPolicy{
			TimeoutMs:      defaultDispatchTimeout.Milliseconds(),
			MaxParallelism: workerpool.ClampMaxConcurrentTasks(cfg.Global.MaxConcurrentTasks),
			BudgetLimit:    contracts.Cost{Amount: sessionBudget, Currency: "USD"},
		},
	}

	specs := make([]contracts.Task, 0, len(graph.Tasks))
	for _, id := range graph.OrderedIDs() {
		t := graph.Tasks[id]
		task := contracts.Task{
			ID:    contracts.TaskID(id),
			State: contracts.TaskPending,
			Model: balanced.ID,
			Agent: contracts.AgentID(t.Agent),
			Inputs: &contracts.TaskInput{
				Prompt:   t.Prompt,
				Metadata: map[string]string{"taskType": string(t.Type), "name": t.Name},
			},
		}
		if t.BudgetUSD != nil {
			task.BudgetUSD = *t.BudgetUSD
		}
		for dep := range t.DependsOn {
			task.Deps = append(task.Deps, contracts.TaskID(dep))
		}
		specs = append(specs, task)
	}

	dag, err := orchestration.NewDependencyResolver().BuildDAG(specs)
	if err != nil {
		// Validate already proved the graph well-formed; a failure here
		// is an internal inconsistency.
		panic(fmt.Sprintf("building DAG from validated graph: %v", err))
	}
	run.DAG = dag
	for i := range specs {
		t := specs[i]
		run.Tasks[t.ID] = &t
	}
	return run
}

// executeRun wires the routing engine, worker pool, cost tracking, and
// budget subscriber onto the bus and drives the run to completion.
func executeRun(ctx context.Context, cfg *configsys.Config, bus *eventbus.Bus, registry *adapter.Registry, graph *taskgraph.Graph, run *contracts.Run) error {
	pool := workerpool.NewManager(bus, cfg.Global.MaxConcurrentTasks)
	for id, p := range cfg.Providers {
		if p.MaxConcurrent > 0 {
			pool.SetAdapterMax(id, p.MaxConcurrent)
		}
	}

	tracker := cost.NewUsageTracker(bus)
	subscriber := cost.NewSubscriber(bus, tracker, tracker, cost.DefaultBudgets{
		DefaultTaskBudgetUSD:    cfg.Budget.DefaultTaskBudgetUSD,
		DefaultSessionBudgetUSD: cfg.Budget.DefaultSessionBudgetUSD,
		WarningThresholdPercent: cfg.Budget.WarningThresholdPercent,
	})

	// Hot-reload the layered config for the duration of the run. The
	// subscriber cannot read the config system itself, so this wiring
	// layer re-applies the budget subset whenever a reload touches a
	// budget key.
	bus.Subscribe(eventbus.ConfigReloaded, func(ev eventbus.Event) {
		changed, _ := ev.Data["changedKeys"].([]string)
		reloaded, ok := ev.Data["config"].(*configsys.Config)
		if !ok {
			return
		}
		for _, key := range changed {
			if strings.HasPrefix(key, "budget") {
				subscriber.SetBudgets(cost.DefaultBudgets{
					DefaultTaskBudgetUSD:    reloaded.Budget.DefaultTaskBudgetUSD,
					DefaultSessionBudgetUSD: reloaded.Budget.DefaultSessionBudgetUSD,
					WarningThresholdPercent: reloaded.Budget.WarningThresholdPercent,
				})
				return
			}
		}
	})
	watcher, err := configsys.NewWatcher(configLoader(), bus)
	if err != nil {
		logging.Warnf("config watch unavailable: %v", err)
	} else {
		watcher.Start()
		defer watcher.Stop()
	}

	engine := routing.NewEngine(registry, nil)
	policy := policyFromConfig(cfg)
	catalog := cost.NewModelCatalog()
	calc := cost.NewCostCalculatorWithCatalog(catalog, "USD")
	sessionID := graph.Session.Name

	executor := func(ctx context.Context, task *contracts.Task) (*contracts.TaskResult, error) {
		dec := engine.Route(ctx, string(task.Agent), task.TaskType(), policy)
		if dec.BillingMode == routing.BillingUnavailable {
			return nil, fmt.Errorf("routing task %s: %s", task.ID, dec.Rationale)
		}
		ad, ok := registry.Get(dec.Agent)
		if !ok {
			return nil, fmt.Errorf("routing task %s: adapter %q vanished after selection", task.ID, dec.Agent)
		}

		subscriber.RecordTaskBudgetCap(string(task.ID), task.BudgetUSD)
		bus.Publish(eventbus.Event{Type: eventbus.TaskRouted, Data: map[string]any{
			"taskId":    string(task.ID),
			"agent":     dec.Agent,
			"billing":   string(dec.BillingMode),
			"rationale": dec.Rationale,
			"budgetUsd": task.BudgetUSD,
		}})

		opts := dispatch.Opts{Priority: dispatch.PriorityNormal, TimeoutMs: int(task.TimeoutMs)}
		if task.Priority >= contracts.PriorityHigh {
			opts.Priority = dispatch.PriorityHigh
		}
		if opts.TimeoutMs <= 0 {
			opts.TimeoutMs = int(defaultDispatchTimeout.Milliseconds())
		}

		handle, err := pool.Submit(ctx, *task, ad, sessionID, opts)
		if err != nil {
			return nil, fmt.Errorf("dispatching task %s: %w", task.ID, err)
		}
		result, err := handle.Result(ctx)
		// A worker the pool tore down for cost reasons surfaces as a
		// cancelled dispatch; the recorded reason is what tells a
		// budget termination apart from an operator abort.
		if handle.CancelReason() == workerpool.ReasonBudgetExceeded {
			return nil, fmt.Errorf("task %s: worker terminated: %w", task.ID, contracts.ErrBudgetExceeded)
		}
		if err != nil {
			return nil, fmt.Errorf("task %s: %w: %v", task.ID, contracts.ErrDispatch, err)
		}
		if result.Status != dispatch.StatusCompleted {
			return nil, fmt.Errorf("task %s: %w: status=%s", task.ID, contracts.ErrDispatch, result.Status)
		}

		model := task.Model
		if info, ok := catalog.DefaultForAgent(contracts.AgentID(dec.Agent)); ok {
			model = info.ID
		}
		dispatchCost, err := calc.EstimateSplit(
			contracts.TokenCount(result.TokenEstimate.Input),
			contracts.TokenCount(result.TokenEstimate.Output),
			model,
		)
		if err != nil {
			dispatchCost = contracts.Cost{Currency: "USD"}
		}
		tracker.RecordTaskCost(string(task.ID), sessionID, dispatchCost.Amount)

		tokens := contracts.TokenCount(result.TokenEstimate.Input + result.TokenEstimate.Output)
		if tokens == 0 {
			tokens = 1
		}
		return &contracts.TaskResult{
			Output: result.Output,
			Usage:  contracts.Usage{Tokens: tokens, Cost: dispatchCost},
		}, nil
	}

	deps := orchestration.OrchestratorDeps{
		Scheduler:      orchestration.NewScheduler(),
		DepResolver:    orchestration.NewDependencyResolver(),
		Queue:          orchestration.NewQueueManager(),
		Executor:       orchestration.NewParallelExecutorFromPolicy(run.Policy, executor),
		ContextBuilder: ctxpkg.NewContextBuilder(),
		Compactor:      ctxpkg.NewContextCompactor(),
		TokenEstimator: cost.NewTokenEstimator(),
		CostCalc:       calc,
		BudgetEnforcer: cost.NewBudgetEnforcerWithWarning(cfg.Budget.WarningThresholdPercent),
		UsageTracker:   tracker,
		Router:         ctxpkg.NewContextRouter(),
		Bus:            bus,
	}
	return orchestration.NewOrchestrator(deps).Run(ctx, run)
}

// policyFromConfig converts the declarative routing_policy section into
// the engine's policy form.
func policyFromConfig(cfg *configsys.Config) *routing.Policy {
	if len(cfg.RoutingPolicy.Rules) == 0 && cfg.RoutingPolicy.DefaultProvider == "" {
		return nil
	}
	policy := &routing.Policy{Rules: make(map[string]routing.RoutingRule, len(cfg.RoutingPolicy.Rules))}
	for _, rule := range cfg.RoutingPolicy.Rules {
		policy.Rules[rule.TaskType] = routing.RoutingRule{
			PreferredProvider: rule.PreferredProvider,
			FallbackProviders: rule.FallbackProviders,
		}
	}
	if cfg.RoutingPolicy.DefaultProvider != "" {
		for _, t := range []taskgraph.TaskType{
			taskgraph.TaskCoding, taskgraph.TaskTesting, taskgraph.TaskDocs,
			taskgraph.TaskDebugging, taskgraph.TaskRefactoring,
		} {
			if _, ok := policy.Rules[string(t)]; !ok {
				policy.Rules[string(t)] = routing.RoutingRule{PreferredProvider: cfg.RoutingPolicy.DefaultProvider}
			}
		}
	}
	return policy
}
