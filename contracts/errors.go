package contracts

import "errors"

// Sentinel errors for the runtime layer.
var (
	// Budget errors
	ErrBudgetExceeded = errors.New("budget exceeded")
	ErrBudgetNotSet   = errors.New("budget not set")

	// Task errors
	ErrTaskNotFound   = errors.New("task not found")
	ErrTaskNotReady   = errors.New("task not ready for execution")
	ErrTaskFailed     = errors.New("task execution failed")
	ErrTaskTimeout    = errors.New("task execution timeout")
	ErrTaskCancelled  = errors.New("task cancelled")

	// Run errors
	ErrRunNotFound    = errors.New("run not found")
	ErrRunCompleted   = errors.New("run already completed")
	ErrRunAborted     = errors.New("run aborted")

	// DAG errors
	ErrDAGCycle       = errors.New("cycle detected in task dependencies")
	ErrDAGInvalid     = errors.New("invalid DAG structure")
	ErrDepNotFound    = errors.New("dependency task not found")

	// Context errors
	ErrContextTooLarge = errors.New("context exceeds maximum token limit")
	ErrContextEmpty    = errors.New("context bundle is empty")

	// Estimation errors
	ErrEstimationFailed = errors.New("token estimation failed")
	ErrModelUnknown     = errors.New("unknown model for cost calculation")

	// Input validation errors
	ErrInvalidInput = errors.New("invalid input: nil or malformed")

	// ErrDeadlock is returned by an Orchestrator when no ready tasks remain
	// but the run has not reached a terminal state - a stuck DAG.
	ErrDeadlock = errors.New("no progress possible: deadlock")

	// Store/config/dispatch taxonomy. These sit alongside the
	// run/task/DAG sentinels above and are wrapped with
	// fmt.Errorf("%w", ...) the same way.
	ErrValidation               = errors.New("validation error")
	ErrNotFound                 = errors.New("not found")
	ErrConflict                 = errors.New("conflict")
	ErrChainTooDeep             = errors.New("amendment chain too deep")
	ErrConfigIncompatibleFormat = errors.New("incompatible config format version")
	ErrDispatch                 = errors.New("dispatch error")
	ErrFatal                    = errors.New("fatal error")
)
