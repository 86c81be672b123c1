package orchestration

import (
	"fmt"
	"sort"
	"strings"

	"github.com/substratehq/substrate/contracts"
)

// dependencyResolver implements contracts.DependencyResolver: it builds
// a DAG from a task list and validates it with iterative three-color
// DFS, reporting the full cycle path when one exists.
//
// Thread-safety: the resolver is stateless and safe for concurrent use.
type dependencyResolver struct{}

// NewDependencyResolver creates a DependencyResolver.
func NewDependencyResolver() contracts.DependencyResolver {
	return &dependencyResolver{}
}

// BuildDAG constructs a DAG from a list of tasks: one node per task
// with its Deps copied, forward Next edges, and a Pending count equal
// to the number of dependencies. An empty task list yields a valid
// empty DAG; an unknown dependency fails with ErrDepNotFound.
func (dr *dependencyResolver) BuildDAG(tasks []contracts.Task) (*contracts.DAG, error) {
	if tasks == nil {
		return nil, contracts.ErrInvalidInput
	}

	dag := &contracts.DAG{
		Nodes: make(map[contracts.TaskID]*contracts.DAGNode, len(tasks)),
		Edges: make(map[contracts.TaskID][]contracts.TaskID, len(tasks)),
	}

	known := make(map[contracts.TaskID]bool, len(tasks))
	for i := range tasks {
		known[tasks[i].ID] = true
	}

	for i := range tasks {
		task := &tasks[i]
		node := &contracts.DAGNode{
			ID:      task.ID,
			Deps:    make([]contracts.TaskID, len(task.Deps)),
			Next:    []contracts.TaskID{},
			Pending: len(task.Deps),
		}
		copy(node.Deps, task.Deps)
		dag.Nodes[task.ID] = node
	}

	for i := range tasks {
		task := &tasks[i]
		for _, depID := range task.Deps {
			if !known[depID] {
				return nil, fmt.Errorf("task %s depends on %s which not found: %w",
					task.ID, depID, contracts.ErrDepNotFound)
			}
			dag.Edges[depID] = append(dag.Edges[depID], task.ID)
			dag.Nodes[depID].Next = append(dag.Nodes[depID].Next, task.ID)
		}
		if _, exists := dag.Edges[task.ID]; !exists {
			dag.Edges[task.ID] = []contracts.TaskID{}
		}
	}

	return dag, nil
}

const (
	colorWhite = 0
	colorGray  = 1
	colorBlack = 2
)

// Validate checks the DAG for cycles using iterative DFS with
// three-color marking. A detected cycle fails with ErrDAGCycle wrapped
// in an error naming the full path ("a -> b -> a"). Node iteration is
// sorted so the reported path is stable across calls.
func (dr *dependencyResolver) Validate(dag *contracts.DAG) error {
	if dag == nil {
		return contracts.ErrInvalidInput
	}
	if dag.Nodes == nil {
		return fmt.Errorf("DAG has nil Nodes: %w", contracts.ErrDAGInvalid)
	}
	if dag.Edges == nil {
		return fmt.Errorf("DAG has nil Edges: %w", contracts.ErrDAGInvalid)
	}
	if len(dag.Nodes) == 0 {
		return nil
	}

	ids := make([]contracts.TaskID, 0, len(dag.Nodes))
	for id := range dag.Nodes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return string(ids[i]) < string(ids[j]) })

	colors := make(map[contracts.TaskID]int, len(dag.Nodes))
	for _, id := range ids {
		if colors[id] != colorWhite {
			continue
		}
		if path := findCycle(id, colors, dag); path != nil {
			parts := make([]string, len(path))
			for i, p := range path {
				parts[i] = string(p)
			}
			return fmt.Errorf("cycle: %s: %w", strings.Join(parts, " -> "), contracts.ErrDAGCycle)
		}
	}
	return nil
}

// dfsFrame is one explicit stack entry for the iterative DFS.
type dfsFrame struct {
	id   contracts.TaskID
	next int
}

// findCycle runs iterative DFS from start. On finding a back-edge to a
// gray node it returns the cycle path closed on the repeated node
// (e.g. [a b a]); nil means no cycle reachable from start.
func findCycle(start contracts.TaskID, colors map[contracts.TaskID]int, dag *contracts.DAG) []contracts.TaskID {
	stack := []dfsFrame{{id: start}}
	colors[start] = colorGray

	for len(stack) > 0 {
		frame := &stack[len(stack)-1]
		node, ok := dag.Nodes[frame.id]
		if !ok || frame.next >= len(node.Next) {
			colors[frame.id] = colorBlack
			stack = stack[:len(stack)-1]
			continue
		}

		nextID := node.Next[frame.next]
		frame.next++

		switch colors[nextID] {
		case colorGray:
			// Back-edge: the cycle is the stack suffix from nextID.
			var path []contracts.TaskID
			for i := range stack {
				if stack[i].id == nextID {
					for _, f := range stack[i:] {
						path = append(path, f.id)
					}
					break
				}
			}
			return append(path, nextID)
		case colorWhite:
			colors[nextID] = colorGray
			stack = append(stack, dfsFrame{id: nextID})
		}
	}
	return nil
}
