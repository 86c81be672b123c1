package taskgraph

import (
	"fmt"
	"strings"
)

// AgentAvailability reports whether an agent id is registered and
// usable. The Routing Engine's AdapterRegistry satisfies this; it is
// optional (step 6 of the pipeline is skipped when nil).
type AgentAvailability interface {
	Available(agentID string) bool
}

// Validate runs the full validation pipeline:
// schema, agent-alias normalization, empty-graph, dangling-reference,
// cycle detection, agent availability, and budget warnings. A schema
// failure or an empty graph ends the pipeline early, since
// adjacency/cycle analysis is meaningless against a structurally broken
// or empty document; past those checks errors and warnings accumulate.
func Validate(doc *Document, registry AgentAvailability) (*Graph, Result) {
	var res Result

	if errs := schemaCheck(doc); len(errs) > 0 {
		res.Errors = errs
		return nil, res
	}

	graph, fixes := NewGraph(doc)
	res.AutoFixed = fixes

	if len(graph.Tasks) == 0 {
		res.Errors = append(res.Errors, Issue{
			Category: CategoryEmptyGraph,
			Field:    "tasks",
			Message:  "task graph must contain at least one task",
		})
		res.Valid = false
		return graph, res
	}

	res.Errors = append(res.Errors, danglingRefs(graph)...)
	res.Errors = append(res.Errors, cycleCheck(graph)...)

	if registry != nil {
		res.Warnings = append(res.Warnings, agentAvailabilityWarnings(graph, registry)...)
	}
	res.Warnings = append(res.Warnings, budgetWarnings(graph)...)

	res.Valid = len(res.Errors) == 0
	return graph, res
}

func schemaCheck(doc *Document) []Issue {
	var errs []Issue
	if doc == nil {
		return []Issue{{Category: CategorySchema, Field: "", Message: "document is nil"}}
	}
	if strings.TrimSpace(doc.Session.Name) == "" {
		errs = append(errs, Issue{Category: CategorySchema, Field: "session.name", Message: "session.name is required"})
	}
	for id, t := range doc.Tasks {
		if strings.TrimSpace(t.Name) == "" {
			errs = append(errs, Issue{Category: CategorySchema, Field: fmt.Sprintf("tasks.%s.name", id), Message: "task name is required"})
		}
		if strings.TrimSpace(t.Prompt) == "" {
			errs = append(errs, Issue{Category: CategorySchema, Field: fmt.Sprintf("tasks.%s.prompt", id), Message: "task prompt is required"})
		}
		if !validTaskType(t.Type) {
			errs = append(errs, Issue{
				Category:   CategorySchema,
				Field:      fmt.Sprintf("tasks.%s.type", id),
				Message:    fmt.Sprintf("invalid task type %q", t.Type),
				Suggestion: "use one of: coding, testing, docs, debugging, refactoring",
			})
		}
	}
	return errs
}

func validTaskType(t TaskType) bool {
	switch t {
	case TaskCoding, TaskTesting, TaskDocs, TaskDebugging, TaskRefactoring:
		return true
	default:
		return false
	}
}

func danglingRefs(g *Graph) []Issue {
	var errs []Issue
	for _, id := range g.order {
		task := g.Tasks[id]
		for dep := range task.DependsOn {
			if _, ok := g.Tasks[dep]; !ok {
				errs = append(errs, Issue{
					Category: CategoryDanglingRef,
					Field:    fmt.Sprintf("tasks.%s.depends_on", id),
					Message:  fmt.Sprintf("task %s depends on unknown task %s", id, dep),
				})
			}
		}
	}
	return errs
}

// cycleCheck runs a recursive three-color DFS; it stops at the first
// back-edge found and emits one Issue containing the full path
// "a → b → ... → a".
func cycleCheck(g *Graph) []Issue {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(g.Tasks))
	for id := range g.Tasks {
		color[id] = white
	}

	var issues []Issue

	// Recursive three-color DFS over dependency edges (task -> dep).
	var path []string
	onPath := make(map[string]bool)
	var dfs func(id string) []Issue
	dfs = func(id string) []Issue {
		color[id] = gray
		onPath[id] = true
		path = append(path, id)

		task := g.Tasks[id]
		deps := sortedKeys(task.DependsOn)
		for _, dep := range deps {
			if _, ok := g.Tasks[dep]; !ok {
				continue
			}
			if color[dep] == gray {
				// Found a cycle: path from dep's first occurrence to here, closing back to dep.
				cyclePath := append([]string{}, path...)
				start := 0
				for i, p := range cyclePath {
					if p == dep {
						start = i
						break
					}
				}
				cyclePath = append(cyclePath[start:], dep)
				return []Issue{{
					Category: CategoryCycle,
					Field:    "tasks",
					Message:  fmt.Sprintf("cycle detected: %s", strings.Join(cyclePath, " → ")),
				}}
			}
			if color[dep] == white {
				if found := dfs(dep); found != nil {
					return found
				}
			}
		}

		path = path[:len(path)-1]
		onPath[id] = false
		color[id] = black
		return nil
	}

	for _, id := range g.order {
		if color[id] == white {
			if found := dfs(id); found != nil {
				issues = append(issues, found...)
				break
			}
		}
	}
	return issues
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	// Deterministic order for path reporting; doesn't affect correctness.
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j] < out[j-1]; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

func agentAvailabilityWarnings(g *Graph, registry AgentAvailability) []Issue {
	var warnings []Issue
	for _, id := range g.order {
		task := g.Tasks[id]
		if task.Agent == "" {
			continue
		}
		if !registry.Available(task.Agent) {
			warnings = append(warnings, Issue{
				Category: CategoryAgentUnavail,
				Field:    fmt.Sprintf("tasks.%s.agent", id),
				Message:  fmt.Sprintf("agent %q is not registered or unhealthy", task.Agent),
				Warning:  true,
			})
		}
	}
	return warnings
}

func budgetWarnings(g *Graph) []Issue {
	var warnings []Issue
	for _, id := range g.order {
		task := g.Tasks[id]
		if task.BudgetUSD == nil {
			warnings = append(warnings, Issue{
				Category: CategoryNoBudget,
				Field:    fmt.Sprintf("tasks.%s.budget_usd", id),
				Message:  fmt.Sprintf("task %s has no budget_usd set", id),
				Warning:  true,
			})
		}
	}
	return warnings
}
