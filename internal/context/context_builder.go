// Package context assembles, routes, bounds, and remembers the context
// that flows between tasks in a run: completed dependency outputs become
// the next task's messages, routed outputs land in its input map, and
// the run's short-term memory rides along.
package context

import (
	"fmt"

	"github.com/substratehq/substrate/contracts"
)

// contextBuilder implements contracts.ContextBuilder.
type contextBuilder struct{}

// NewContextBuilder creates a ContextBuilder.
func NewContextBuilder() contracts.ContextBuilder {
	return &contextBuilder{}
}

// Build constructs the context bundle for a task within a run:
// - one message per completed dependency, in the task's declared
//   dependency order, headed by the dependency's task ID
// - a copy of run.Memory
// - an empty tool map (adapters declare their own tools)
//
// A dependency that is missing from run.Tasks or not yet completed is
// skipped rather than errored; the scheduler guarantees completeness
// before dispatch, and Build stays usable for previews of partial runs.
func (cb *contextBuilder) Build(run *contracts.Run, taskID contracts.TaskID) (*contracts.ContextBundle, error) {
	if run == nil {
		return nil, contracts.ErrInvalidInput
	}

	task, exists := run.Tasks[taskID]
	if !exists {
		return nil, contracts.ErrTaskNotFound
	}

	bundle := &contracts.ContextBundle{
		Messages: []string{},
		Memory:   make(map[string]string),
		Tools:    make(map[string]string),
	}

	for _, depID := range task.Deps {
		dep, ok := run.Tasks[depID]
		if !ok || dep.State != contracts.TaskCompleted || dep.Outputs == nil {
			continue
		}
		if dep.Outputs.Output == "" {
			continue
		}
		bundle.Messages = append(bundle.Messages,
			fmt.Sprintf("### %s\n%s", depID, dep.Outputs.Output))
	}

	for key, value := range run.Memory {
		bundle.Memory[key] = value
	}

	return bundle, nil
}
