package taskgraph

import "fmt"

// BuildAdjacencyList computes root/leaf tasks, the forward dependents
// map, and the max depth of the dependency chain.
// Depth of a root is 0; depth of any other task is one more than the
// deepest of its dependencies.
func (g *Graph) BuildAdjacencyList() AdjacencyInfo {
	dependents := make(map[string][]string, len(g.Tasks))
	for _, id := range g.order {
		dependents[id] = nil
	}
	for _, id := range g.order {
		task := g.Tasks[id]
		for dep := range task.DependsOn {
			if _, ok := g.Tasks[dep]; ok {
				dependents[dep] = append(dependents[dep], id)
			}
		}
	}

	var roots []string
	for _, id := range g.order {
		if len(g.Tasks[id].DependsOn) == 0 {
			roots = append(roots, id)
		}
	}

	var leaves []string
	for _, id := range g.order {
		if len(dependents[id]) == 0 {
			leaves = append(leaves, id)
		}
	}

	depth := make(map[string]int, len(g.Tasks))
	order, _ := g.topoOrderIDs()
	for _, id := range order {
		task := g.Tasks[id]
		if len(task.DependsOn) == 0 {
			depth[id] = 0
			continue
		}
		maxDepDepth := -1
		for dep := range task.DependsOn {
			if _, ok := depth[dep]; ok && depth[dep] > maxDepDepth {
				maxDepDepth = depth[dep]
			}
		}
		depth[id] = maxDepDepth + 1
	}

	maxDepth := 0
	for _, d := range depth {
		if d > maxDepth {
			maxDepth = d
		}
	}

	return AdjacencyInfo{
		RootTasks:  roots,
		LeafTasks:  leaves,
		Dependents: dependents,
		MaxDepth:   maxDepth,
	}
}

func summarize(taskCount, roots, leaves, maxDepth int) string {
	return fmt.Sprintf("%d tasks, %d root(s), %d leaf(s), max depth %d", taskCount, roots, leaves, maxDepth)
}

// TopoSort returns a total order over all task IDs consistent with
// depends_on, tie-broken by the document's insertion order. Callers
// must validate the graph acyclic first; a cyclic graph returns a
// partial order with the remainder appended in insertion order.
func (g *Graph) TopoSort() []string {
	order, complete := g.topoOrderIDs()
	if !complete {
		placed := make(map[string]bool, len(order))
		for _, id := range order {
			placed[id] = true
		}
		for _, id := range g.order {
			if !placed[id] {
				order = append(order, id)
			}
		}
	}
	return order
}

// topoOrderIDs runs Kahn's algorithm, picking the lowest-insertion-index
// ready node at each step for a deterministic, stable order.
func (g *Graph) topoOrderIDs() ([]string, bool) {
	indexOf := make(map[string]int, len(g.order))
	for i, id := range g.order {
		indexOf[id] = i
	}

	inDegree := make(map[string]int, len(g.Tasks))
	for _, id := range g.order {
		count := 0
		for dep := range g.Tasks[id].DependsOn {
			if _, ok := g.Tasks[dep]; ok {
				count++
			}
		}
		inDegree[id] = count
	}

	dependents := make(map[string][]string, len(g.Tasks))
	for _, id := range g.order {
		task := g.Tasks[id]
		for dep := range task.DependsOn {
			if _, ok := g.Tasks[dep]; ok {
				dependents[dep] = append(dependents[dep], id)
			}
		}
	}

	var ready []string
	for _, id := range g.order {
		if inDegree[id] == 0 {
			ready = append(ready, id)
		}
	}

	var result []string
	remaining := inDegree
	for len(ready) > 0 {
		// Pick lowest-insertion-index ready node.
		best := 0
		for i := 1; i < len(ready); i++ {
			if indexOf[ready[i]] < indexOf[ready[best]] {
				best = i
			}
		}
		id := ready[best]
		ready = append(ready[:best], ready[best+1:]...)
		result = append(result, id)

		for _, dep := range dependents[id] {
			remaining[dep]--
			if remaining[dep] == 0 {
				ready = append(ready, dep)
			}
		}
	}

	complete := len(result) == len(g.Tasks)
	return result, complete
}
