// Package orchestration is the in-process DAG execution engine: it
// drives one run start-to-finish through batched scheduling, bounded
// parallel execution, deterministic merge, and budget enforcement,
// publishing lifecycle events on the bus as it goes.
package orchestration

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/substratehq/substrate/contracts"
	"github.com/substratehq/substrate/internal/eventbus"
	"github.com/substratehq/substrate/internal/logging"
)

// orchestrator implements contracts.Orchestrator with a batched
// execution loop: parallel executor I/O, sequential deterministic
// merge. A failed task blocks its transitive dependents; independent
// branches keep running, and the run only ends when every task reaches
// a terminal state.
type orchestrator struct {
	scheduler      contracts.Scheduler
	depResolver    contracts.DependencyResolver
	queue          contracts.QueueManager
	executor       contracts.ParallelExecutor
	contextBuilder contracts.ContextBuilder
	compactor      contracts.ContextCompactor
	tokenEstimator contracts.TokenEstimator
	costCalc       contracts.CostCalculator
	budgetEnforcer contracts.BudgetEnforcer
	usageTracker   contracts.UsageTracker
	router         contracts.ContextRouter
	bus            *eventbus.Bus

	// onProgress is called after each successful batch merge (optional).
	onProgress func(*contracts.Run)

	runStart time.Time
}

// OrchestratorDeps contains all dependencies needed by the orchestrator.
type OrchestratorDeps struct {
	Scheduler      contracts.Scheduler
	DepResolver    contracts.DependencyResolver
	Queue          contracts.QueueManager
	Executor       contracts.ParallelExecutor
	ContextBuilder contracts.ContextBuilder
	Compactor      contracts.ContextCompactor
	TokenEstimator contracts.TokenEstimator
	CostCalc       contracts.CostCalculator
	BudgetEnforcer contracts.BudgetEnforcer
	UsageTracker   contracts.UsageTracker
	Router         contracts.ContextRouter
	// Bus, when set, receives task.dispatched / task.completed /
	// task.failed / run.completed events.
	Bus *eventbus.Bus
}

// NewOrchestrator creates an Orchestrator with the given dependencies.
func NewOrchestrator(deps OrchestratorDeps) contracts.Orchestrator {
	return &orchestrator{
		scheduler:      deps.Scheduler,
		depResolver:    deps.DepResolver,
		queue:          deps.Queue,
		executor:       deps.Executor,
		contextBuilder: deps.ContextBuilder,
		compactor:      deps.Compactor,
		tokenEstimator: deps.TokenEstimator,
		costCalc:       deps.CostCalc,
		budgetEnforcer: deps.BudgetEnforcer,
		usageTracker:   deps.UsageTracker,
		router:         deps.Router,
		bus:            deps.Bus,
	}
}

// NewOrchestratorWithCallback creates an Orchestrator whose onProgress
// callback fires after each successful batch merge.
func NewOrchestratorWithCallback(deps OrchestratorDeps, onProgress func(*contracts.Run)) contracts.Orchestrator {
	o := NewOrchestrator(deps).(*orchestrator)
	o.onProgress = onProgress
	return o
}

// batchResult contains the result of executing a single task in a batch.
type batchResult struct {
	taskID    contracts.TaskID
	result    *contracts.TaskResult
	err       error
	startTime time.Time
}

// Run executes all tasks in the run according to the dependency graph.
func (o *orchestrator) Run(ctx context.Context, run *contracts.Run) error {
	o.runStart = time.Now()
	batchNum := 0

	if err := o.init(run); err != nil {
		return err
	}

	for {
		batchNum++
		select {
		case <-ctx.Done():
			run.State = contracts.RunAborted
			logging.Infof("event=run_aborted run_id=%s duration_ms=%d reason=context_cancelled",
				run.ID, time.Since(o.runStart).Milliseconds())
			return ctx.Err()
		default:
		}

		ready, err := o.scheduler.NextReady(run)
		if err != nil {
			run.State = contracts.RunFailed
			return err
		}

		if len(ready) == 0 {
			return o.finish(run)
		}

		// Budget and context pre-checks run sequentially so admission
		// is deterministic; a denied task fails (and blocks its
		// dependents) without ending the run.
		allowed := o.preCheck(run, ready)
		if len(allowed) == 0 {
			continue
		}

		// Admit through the priority queue: high-priority tasks of the
		// batch dispatch first.
		for _, tid := range allowed {
			o.queue.Enqueue(tid, run.Tasks[tid].Priority)
		}
		batch := make([]contracts.TaskID, 0, len(allowed))
		for {
			tid, ok := o.queue.Dequeue()
			if !ok {
				break
			}
			batch = append(batch, tid)
		}

		ids := make([]string, len(batch))
		for i, tid := range batch {
			ids[i] = string(tid)
		}
		logging.Infof("event=batch_started run_id=%s batch=%d task_count=%d tasks=%s",
			run.ID, batchNum, len(batch), strings.Join(ids, ","))
		batchStart := time.Now()

		results := o.executeBatch(ctx, run, batch)

		if err := o.mergeBatchResults(run, results); err != nil {
			// The only merge-level stop is the run budget: the run is
			// paused, not failed, so a raised cap can resume it.
			return err
		}

		logging.Infof("event=batch_completed run_id=%s batch=%d duration_ms=%d",
			run.ID, batchNum, time.Since(batchStart).Milliseconds())

		if o.onProgress != nil {
			o.onProgress(run)
		}
	}
}

// init validates the run and marks it as running.
func (o *orchestrator) init(run *contracts.Run) error {
	if run == nil || run.DAG == nil {
		return contracts.ErrInvalidInput
	}
	if err := o.depResolver.Validate(run.DAG); err != nil {
		run.State = contracts.RunFailed
		logging.Infof("event=run_failed run_id=%s error_code=dag_validation error_msg=%s",
			run.ID, err.Error())
		return err
	}
	run.State = contracts.RunRunning
	logging.Infof("event=run_started run_id=%s session=%s policy_timeout_ms=%d policy_parallelism=%d policy_budget=%.2f%s",
		run.ID, run.Session, run.Policy.TimeoutMs, run.Policy.MaxParallelism,
		run.Policy.BudgetLimit.Amount, run.Policy.BudgetLimit.Currency)
	return nil
}

// finish decides the run's terminal state once no task is schedulable.
func (o *orchestrator) finish(run *contracts.Run) error {
	allTerminal := true
	anyFailed := false
	for _, task := range run.Tasks {
		if !task.State.Terminal() {
			allTerminal = false
		}
		if task.State == contracts.TaskFailed || task.State == contracts.TaskBlocked {
			anyFailed = true
		}
	}

	if !allTerminal {
		run.State = contracts.RunFailed
		logging.Infof("event=run_failed run_id=%s error_code=deadlock", run.ID)
		return contracts.ErrDeadlock
	}

	if anyFailed {
		run.State = contracts.RunFailed
	} else {
		run.State = contracts.RunCompleted
	}
	logging.Infof("event=run_finished run_id=%s state=%s duration_ms=%d total_tokens=%d total_cost=%.4f%s",
		run.ID, run.State, time.Since(o.runStart).Milliseconds(),
		run.Usage.Tokens, run.Usage.Cost.Amount, run.Usage.Cost.Currency)
	o.publish(eventbus.RunCompleted, map[string]any{
		"runId": string(run.ID),
		"state": run.State.String(),
	})
	if anyFailed {
		return fmt.Errorf("run %s finished with failed tasks: %w", run.ID, contracts.ErrTaskFailed)
	}
	return nil
}

// preCheck resolves context and checks budget for each ready task,
// sequentially for determinism. A task the budget cannot admit fails
// with budget_exceeded and blocks its dependents; other pre-check
// failures fail the task the same way with their own code. The run
// itself continues - sibling branches are unaffected.
func (o *orchestrator) preCheck(run *contracts.Run, taskIDs []contracts.TaskID) []contracts.TaskID {
	var allowed []contracts.TaskID
	var reserved contracts.Cost

	for _, tid := range taskIDs {
		task, exists := run.Tasks[tid]
		if !exists {
			continue
		}

		denyCode, denyErr := "", error(nil)

		bundle, err := o.contextBuilder.Build(run, tid)
		if err != nil {
			denyCode, denyErr = "context_build_failed", err
		}

		var compacted *contracts.ContextBundle
		if denyErr == nil {
			compacted, err = o.compactor.Compact(bundle, run.Policy.ContextPolicy)
			if err != nil {
				denyCode, denyErr = "context_compact_failed", err
			}
		}

		var tokens contracts.TokenCount
		if denyErr == nil {
			tokens, err = o.tokenEstimator.Estimate(task.Inputs, compacted)
			if err != nil {
				denyCode, denyErr = "token_estimation_failed", err
			}
		}

		var estimate contracts.Cost
		if denyErr == nil {
			estimate, err = o.costCalc.Estimate(tokens, task.Model)
			if err != nil {
				denyCode, denyErr = "model_unknown", err
			}
		}

		if denyErr == nil {
			// Reserve already-admitted batch cost so N tasks cannot
			// each individually fit a budget they jointly exceed.
			total := contracts.Cost{Amount: estimate.Amount + reserved.Amount, Currency: estimate.Currency}
			err = o.budgetEnforcer.Allow(run, total)
			switch {
			case err == nil:
			case errors.Is(err, contracts.ErrBudgetNotSet):
				// No budget configured; admission is unconstrained.
			default:
				denyCode, denyErr = "budget_exceeded", err
			}
		}

		if denyErr != nil {
			logging.Infof("event=task_denied run_id=%s task_id=%s error_code=%s error_msg=%s",
				run.ID, tid, denyCode, denyErr.Error())
			if err := o.scheduler.MarkFailed(run, tid, &contracts.TaskError{Code: denyCode, Message: denyErr.Error()}); err != nil {
				logging.Errorf("orchestration: mark failed %s: %v", tid, err)
			}
			o.publish(eventbus.TaskFailed, map[string]any{
				"runId": string(run.ID), "taskId": string(tid), "errorCode": denyCode,
			})
			continue
		}

		reserved.Amount += estimate.Amount
		if reserved.Currency == "" {
			reserved.Currency = estimate.Currency
		}
		allowed = append(allowed, tid)
	}
	return allowed
}

// executeBatch executes tasks in parallel. Each goroutine touches only
// its own task, so setting TaskRunning there is race-free.
func (o *orchestrator) executeBatch(ctx context.Context, run *contracts.Run, taskIDs []contracts.TaskID) []batchResult {
	results := make([]batchResult, len(taskIDs))
	var wg sync.WaitGroup

	for i, taskID := range taskIDs {
		wg.Add(1)
		go func(idx int, tid contracts.TaskID) {
			defer wg.Done()

			task, exists := run.Tasks[tid]
			if !exists {
				results[idx] = batchResult{taskID: tid, err: fmt.Errorf("task %s not found", tid), startTime: time.Now()}
				return
			}

			taskStart := time.Now()
			logging.Infof("event=task_started run_id=%s task_id=%s agent=%s model=%s",
				run.ID, tid, task.Agent, task.Model)
			o.publish(eventbus.TaskDispatched, map[string]any{
				"runId": string(run.ID), "taskId": string(tid), "agent": string(task.Agent),
			})

			task.State = contracts.TaskRunning
			result, err := o.executor.Execute(ctx, run, tid)
			results[idx] = batchResult{taskID: tid, result: result, err: err, startTime: taskStart}
		}(i, taskID)
	}

	wg.Wait()
	return results
}

// mergeBatchResults applies batch results sequentially, sorted by
// TaskID for determinism. A task failure blocks its dependents and the
// loop continues; only a run-budget breach stops the merge, pausing
// the run.
func (o *orchestrator) mergeBatchResults(run *contracts.Run, results []batchResult) error {
	sort.Slice(results, func(i, j int) bool {
		return string(results[i].taskID) < string(results[j].taskID)
	})

	for _, r := range results {
		if _, exists := run.Tasks[r.taskID]; !exists {
			return fmt.Errorf("task %s not found during merge: %w", r.taskID, contracts.ErrFatal)
		}

		if r.err != nil {
			o.failTask(run, r, classifyExecError(r.err), r.err.Error())
			continue
		}
		if r.result == nil || r.result.Usage.Tokens == 0 {
			o.failTask(run, r, "invalid_result", "executor returned nil or zero usage")
			continue
		}

		// Run-budget recording is the one merge step that can stop the
		// run: over-budget pauses it so the remaining work survives a
		// raised cap.
		if err := o.budgetEnforcer.Record(run, r.result.Usage.Cost); err != nil {
			if errors.Is(err, contracts.ErrBudgetExceeded) {
				run.State = contracts.RunPaused
				logging.Infof("event=run_paused run_id=%s reason=budget_exceeded cost=%.4f",
					run.ID, r.result.Usage.Cost.Amount)
				o.publish(eventbus.SessionBudgetExceeded, map[string]any{
					"sessionId": string(run.Session), "runId": string(run.ID),
				})
				return fmt.Errorf("run %s paused: %w", run.ID, contracts.ErrBudgetExceeded)
			}
			o.failTask(run, r, "budget_record_failed", err.Error())
			continue
		}

		// Run-ledger accounting only. cost:recorded is published by the
		// usage tracker's task-level recording path at dispatch time;
		// publishing again here would double-count the task against its
		// session budget.
		run.Usage.Tokens += r.result.Usage.Tokens
		o.usageTracker.Add(run, r.result.Usage)

		if err := o.scheduler.MarkComplete(run, r.taskID, r.result); err != nil {
			o.failTask(run, r, "scheduler_error", err.Error())
			continue
		}

		durationMs := time.Since(r.startTime).Milliseconds()
		logging.Infof("event=task_completed run_id=%s task_id=%s duration_ms=%d tokens=%d cost=%.4f%s",
			run.ID, r.taskID, durationMs, r.result.Usage.Tokens,
			r.result.Usage.Cost.Amount, r.result.Usage.Cost.Currency)
		o.publish(eventbus.TaskCompleted, map[string]any{
			"runId": string(run.ID), "taskId": string(r.taskID),
		})

		// Route the output along every forward edge. A routing error is
		// an inconsistency in our own bookkeeping, not agent behavior.
		node, ok := run.DAG.Nodes[r.taskID]
		if !ok {
			return fmt.Errorf("DAG node for completed task %s missing: %w", r.taskID, contracts.ErrFatal)
		}
		for _, depID := range node.Next {
			if err := o.router.Route(run, r.taskID, depID, r.result); err != nil {
				return fmt.Errorf("routing from %s to %s failed: %w", r.taskID, depID, err)
			}
		}
	}

	return nil
}

// failTask marks one task failed (or cancelled), cascades to its
// dependents, and publishes the failure.
func (o *orchestrator) failTask(run *contracts.Run, r batchResult, code, msg string) {
	durationMs := time.Since(r.startTime).Milliseconds()
	logging.Infof("event=task_failed run_id=%s task_id=%s duration_ms=%d error_code=%s error_msg=%s",
		run.ID, r.taskID, durationMs, code, msg)

	var err error
	if code == "cancelled" {
		err = o.scheduler.MarkCancelled(run, r.taskID)
	} else {
		err = o.scheduler.MarkFailed(run, r.taskID, &contracts.TaskError{Code: code, Message: msg})
	}
	if err != nil {
		logging.Errorf("orchestration: fail task %s: %v", r.taskID, err)
	}

	o.publish(eventbus.TaskFailed, map[string]any{
		"runId": string(run.ID), "taskId": string(r.taskID), "errorCode": code,
	})
}

// classifyExecError maps an executor error to a task error code. A
// budget-driven termination is checked first: the worker pool cancels
// such workers, and the cancellation must surface as budget_exceeded
// on the task, not as a generic cancel.
func classifyExecError(err error) string {
	switch {
	case errors.Is(err, contracts.ErrBudgetExceeded):
		return "budget_exceeded"
	case errors.Is(err, contracts.ErrTaskTimeout):
		return "timeout"
	case errors.Is(err, contracts.ErrTaskCancelled):
		return "cancelled"
	default:
		return "execution_failed"
	}
}

func (o *orchestrator) publish(t eventbus.Type, data map[string]any) {
	if o.bus == nil {
		return
	}
	o.bus.Publish(eventbus.Event{Type: t, Data: data})
}
