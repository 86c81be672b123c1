package context

import (
	"github.com/substratehq/substrate/contracts"
)

// contextRouter implements contracts.ContextRouter: after a task
// completes, its output is routed along the DAG edge into each
// dependent's input map.
type contextRouter struct{}

// NewContextRouter creates a ContextRouter.
func NewContextRouter() contracts.ContextRouter {
	return &contextRouter{}
}

// Route stores the source task's primary output in the target task's
// input map keyed by the source task ID, and any named outputs keyed
// "<from>.<name>" so two dependencies with the same output name never
// collide. Both tasks must exist in the run; nil maps on the target are
// initialized in place.
func (cr *contextRouter) Route(run *contracts.Run, from contracts.TaskID, to contracts.TaskID, output *contracts.TaskResult) error {
	if run == nil {
		return contracts.ErrInvalidInput
	}
	if _, ok := run.Tasks[from]; !ok {
		return contracts.ErrTaskNotFound
	}
	toTask, ok := run.Tasks[to]
	if !ok {
		return contracts.ErrTaskNotFound
	}

	if toTask.Inputs == nil {
		toTask.Inputs = &contracts.TaskInput{}
	}
	if toTask.Inputs.Inputs == nil {
		toTask.Inputs.Inputs = make(map[string]string)
	}

	if output == nil {
		toTask.Inputs.Inputs[string(from)] = ""
		return nil
	}

	toTask.Inputs.Inputs[string(from)] = output.Output
	for name, value := range output.Outputs {
		toTask.Inputs.Inputs[string(from)+"."+name] = value
	}
	return nil
}
