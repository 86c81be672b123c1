// Package taskgraph implements the Task-Graph Engine:
// parsing a task-graph document, validating it against the schema,
// cycle, and dangling-reference rules, and compiling it into the
// adjacency/topo-order/ready-set views the Worker Pool schedules from.
package taskgraph

// TaskType is the declared kind of work a task performs.
type TaskType string

const (
	TaskCoding       TaskType = "coding"
	TaskTesting      TaskType = "testing"
	TaskDocs         TaskType = "docs"
	TaskDebugging    TaskType = "debugging"
	TaskRefactoring  TaskType = "refactoring"
)

// TaskStatus is the scheduling state of a task within a Graph at
// runtime. The Graph's adjacency/topo-order are static; Status is the
// only mutable per-task field the Scheduler touches.
type TaskStatus string

const (
	StatusPending   TaskStatus = "pending"
	StatusReady     TaskStatus = "ready"
	StatusRunning   TaskStatus = "running"
	StatusCompleted TaskStatus = "completed"
	StatusFailed    TaskStatus = "failed"
	StatusBlocked   TaskStatus = "blocked"
	StatusCancelled TaskStatus = "cancelled"
)

// Session carries the graph-level metadata from the document's
// `session` key.
type Session struct {
	Name      string  `yaml:"name" json:"name"`
	BudgetUSD float64 `yaml:"budget_usd,omitempty" json:"budget_usd,omitempty"`
}

// TaskNode is one task in the document, keyed by its TaskID in
// Document.Tasks.
type TaskNode struct {
	Name        string   `yaml:"name" json:"name"`
	Description string   `yaml:"description,omitempty" json:"description,omitempty"`
	Prompt      string   `yaml:"prompt" json:"prompt"`
	Type        TaskType `yaml:"type" json:"type"`
	DependsOn   []string `yaml:"depends_on,omitempty" json:"depends_on,omitempty"`
	Agent       string   `yaml:"agent,omitempty" json:"agent,omitempty"`
	BudgetUSD   *float64 `yaml:"budget_usd,omitempty" json:"budget_usd,omitempty"`
}

// Document is the raw task-graph document shape: the
// top-level version/session/tasks keys, before validation/compilation.
// TaskOrder preserves the order task IDs first appeared in the source
// document, since Go map iteration is unordered and topoSort's
// tie-break is defined as "stable by insertion order of the tasks map".
type Document struct {
	Version   string              `yaml:"version" json:"version"`
	Session   Session             `yaml:"session" json:"session"`
	Tasks     map[string]TaskNode `yaml:"tasks" json:"tasks"`
	TaskOrder []string            `yaml:"-" json:"-"`
}

// Task is a task as tracked by the compiled Graph, adding runtime state
// and the normalized dependency set.
type Task struct {
	ID          string
	Name        string
	Description string
	Prompt      string
	Type        TaskType
	DependsOn   map[string]struct{}
	Agent       string
	BudgetUSD   *float64
	Status      TaskStatus
}

// AdjacencyInfo is the return shape of Graph.BuildAdjacencyList.
type AdjacencyInfo struct {
	RootTasks  []string            // tasks with no depends_on
	LeafTasks  []string            // tasks with no dependents
	Dependents map[string][]string // taskID -> IDs of tasks that depend on it
	MaxDepth   int
}

// Summary renders the human-readable one-liner used by CLI output:
// "N tasks, R root(s), L leaf(s), max depth D".
func (a AdjacencyInfo) Summary(taskCount int) string {
	return summarize(taskCount, len(a.RootTasks), len(a.LeafTasks), a.MaxDepth)
}
