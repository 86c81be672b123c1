package taskgraph

// Graph is the compiled, executable form of a task-graph document: a
// validated set of Task nodes plus the session metadata, ready for
// adjacency/topo analysis and scheduling.
type Graph struct {
	Version string
	Session Session
	Tasks   map[string]*Task
	order   []string // insertion order, for deterministic topoSort tie-break
}

// AgentAliases maps known CLI aliases to their normalized AgentID.
// Substitutions are recorded in Result.AutoFixed.
var AgentAliases = map[string]string{
	"claude":     "claude-code",
	"claude-cli": "claude-code",
	"codex-cli":  "codex",
	"gemini-cli": "gemini",
	"gemini-code": "gemini",
}

// NewGraph compiles a parsed Document into a Graph, without running
// validation. Every task starts in StatusPending. Agent aliases are
// normalized and the fixes returned alongside.
func NewGraph(doc *Document) (*Graph, []AliasFix) {
	g := &Graph{
		Version: doc.Version,
		Session: doc.Session,
		Tasks:   make(map[string]*Task, len(doc.Tasks)),
	}

	order := doc.TaskOrder
	if len(order) != len(doc.Tasks) {
		// Fall back to an arbitrary-but-stable order when the source
		// didn't carry one (e.g. a Graph built in-process, not parsed).
		order = order[:0]
		for id := range doc.Tasks {
			order = append(order, id)
		}
	}
	g.order = order

	var fixes []AliasFix
	for _, id := range order {
		node := doc.Tasks[id]
		deps := make(map[string]struct{}, len(node.DependsOn))
		for _, d := range node.DependsOn {
			deps[d] = struct{}{}
		}

		agent := node.Agent
		if normalized, ok := AgentAliases[agent]; ok {
			fixes = append(fixes, AliasFix{TaskID: id, From: agent, To: normalized})
			agent = normalized
		}

		g.Tasks[id] = &Task{
			ID:          id,
			Name:        node.Name,
			Description: node.Description,
			Prompt:      node.Prompt,
			Type:        node.Type,
			DependsOn:   deps,
			Agent:       agent,
			BudgetUSD:   node.BudgetUSD,
			Status:      StatusPending,
		}
	}
	return g, fixes
}

// OrderedIDs returns task IDs in the document's original insertion
// order (or construction order, for in-process graphs).
func (g *Graph) OrderedIDs() []string {
	out := make([]string, len(g.order))
	copy(out, g.order)
	return out
}
