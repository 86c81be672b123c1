package taskgraph

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func chainDoc() *Document {
	return &Document{
		Version: "1",
		Session: Session{Name: "chain"},
		Tasks: map[string]TaskNode{
			"a": {Name: "a", Prompt: "do a", Type: TaskCoding},
			"b": {Name: "b", Prompt: "do b", Type: TaskCoding, DependsOn: []string{"a"}},
			"c": {Name: "c", Prompt: "do c", Type: TaskCoding, DependsOn: []string{"b"}},
		},
		TaskOrder: []string{"a", "b", "c"},
	}
}

func TestValidate_ChainGraph(t *testing.T) {
	graph, res := Validate(chainDoc(), nil)
	require.True(t, res.Valid)
	require.Empty(t, res.Errors)

	adj := graph.BuildAdjacencyList()
	require.Equal(t, []string{"a"}, adj.RootTasks)
	require.Equal(t, []string{"c"}, adj.LeafTasks)
	require.Equal(t, 2, adj.MaxDepth)
	require.Equal(t, "3 tasks, 1 root(s), 1 leaf(s), max depth 2", adj.Summary(len(graph.Tasks)))

	order := graph.TopoSort()
	require.Equal(t, []string{"a", "b", "c"}, order)
}

func TestValidate_Cycle(t *testing.T) {
	doc := &Document{
		Version: "1",
		Session: Session{Name: "cycle"},
		Tasks: map[string]TaskNode{
			"a": {Name: "a", Prompt: "do a", Type: TaskCoding, DependsOn: []string{"b"}},
			"b": {Name: "b", Prompt: "do b", Type: TaskCoding, DependsOn: []string{"a"}},
		},
		TaskOrder: []string{"a", "b"},
	}

	_, res := Validate(doc, nil)
	require.False(t, res.Valid)
	require.Len(t, res.Errors, 1)
	require.Equal(t, CategoryCycle, res.Errors[0].Category)
	require.Contains(t, res.Errors[0].Message, "a")
	require.Contains(t, res.Errors[0].Message, "b")
	require.True(t, strings.Contains(res.Errors[0].Message, "→ a"))
}

func TestValidate_DanglingRef(t *testing.T) {
	doc := &Document{
		Version: "1",
		Session: Session{Name: "dangling"},
		Tasks: map[string]TaskNode{
			"b": {Name: "b", Prompt: "do b", Type: TaskCoding, DependsOn: []string{"x"}},
		},
		TaskOrder: []string{"b"},
	}

	_, res := Validate(doc, nil)
	require.False(t, res.Valid)
	require.Len(t, res.Errors, 1)
	require.Equal(t, CategoryDanglingRef, res.Errors[0].Category)
	require.Equal(t, "tasks.b.depends_on", res.Errors[0].Field)
	require.Contains(t, res.Errors[0].Message, "x")
}

func TestValidate_EmptyGraph(t *testing.T) {
	doc := &Document{Version: "1", Session: Session{Name: "empty"}, Tasks: map[string]TaskNode{}}
	_, res := Validate(doc, nil)
	require.False(t, res.Valid)
	require.Equal(t, CategoryEmptyGraph, res.Errors[0].Category)
}

func TestValidate_AgentAliasNormalization(t *testing.T) {
	doc := &Document{
		Version: "1",
		Session: Session{Name: "alias"},
		Tasks: map[string]TaskNode{
			"a": {Name: "a", Prompt: "do a", Type: TaskCoding, Agent: "claude-cli"},
		},
		TaskOrder: []string{"a"},
	}
	graph, res := Validate(doc, nil)
	require.True(t, res.Valid)
	require.Len(t, res.AutoFixed, 1)
	require.Equal(t, "claude-code", res.AutoFixed[0].To)
	require.Equal(t, "claude-code", graph.Tasks["a"].Agent)
}

func TestValidate_NoBudgetWarning(t *testing.T) {
	graph, res := Validate(chainDoc(), nil)
	require.True(t, res.Valid)
	require.Len(t, res.Warnings, len(graph.Tasks))
	for _, w := range res.Warnings {
		require.Equal(t, CategoryNoBudget, w.Category)
		require.True(t, w.Warning)
	}
}

type fakeRegistry struct{ healthy map[string]bool }

func (f fakeRegistry) Available(id string) bool { return f.healthy[id] }

func TestValidate_AgentUnavailableWarning(t *testing.T) {
	doc := &Document{
		Version: "1",
		Session: Session{Name: "agents"},
		Tasks: map[string]TaskNode{
			"a": {Name: "a", Prompt: "do a", Type: TaskCoding, Agent: "codex"},
		},
		TaskOrder: []string{"a"},
	}
	_, res := Validate(doc, fakeRegistry{healthy: map[string]bool{}})
	require.True(t, res.Valid, "availability is a warning, never blocks validity")
	found := false
	for _, w := range res.Warnings {
		if w.Category == CategoryAgentUnavail {
			found = true
		}
	}
	require.True(t, found)
}

func TestSingleNodeGraph(t *testing.T) {
	doc := &Document{
		Version: "1",
		Session: Session{Name: "single"},
		Tasks: map[string]TaskNode{
			"a": {Name: "a", Prompt: "do a", Type: TaskCoding},
		},
		TaskOrder: []string{"a"},
	}
	graph, res := Validate(doc, nil)
	require.True(t, res.Valid)
	adj := graph.BuildAdjacencyList()
	require.Equal(t, []string{"a"}, adj.RootTasks)
	require.Equal(t, []string{"a"}, adj.LeafTasks)
	require.Equal(t, 0, adj.MaxDepth)
}

func TestReadyAndCascadingFailure(t *testing.T) {
	graph, res := Validate(chainDoc(), nil)
	require.True(t, res.Valid)

	require.Equal(t, []string{"a"}, graph.Ready())
	graph.MarkFailed("a")
	require.Empty(t, graph.Ready(), "a failed ancestor blocks all descendants")
	require.Equal(t, StatusBlocked, graph.Tasks["b"].Status)
	require.Equal(t, StatusBlocked, graph.Tasks["c"].Status)
	require.True(t, graph.IsTerminal())
}

func TestParseDocument_JSONAndYAML(t *testing.T) {
	yamlData := []byte("version: \"1\"\nsession:\n  name: demo\ntasks:\n  a:\n    name: a\n    prompt: do a\n    type: coding\n")
	doc, err := ParseDocument(yamlData, "graph.yaml")
	require.NoError(t, err)
	require.Equal(t, []string{"a"}, doc.TaskOrder)

	jsonData := []byte(`{"version":"1","session":{"name":"demo"},"tasks":{"a":{"name":"a","prompt":"do a","type":"coding"},"b":{"name":"b","prompt":"do b","type":"coding","depends_on":["a"]}}}`)
	doc2, err := ParseDocument(jsonData, "graph.json")
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, doc2.TaskOrder)
}

func TestRenderYAMLRoundTrip(t *testing.T) {
	doc := chainDoc()
	out, err := RenderYAML(doc)
	require.NoError(t, err)

	reparsed, err := ParseDocument(out, "graph.yaml")
	require.NoError(t, err)

	g1, _ := NewGraph(doc)
	g2, _ := NewGraph(reparsed)
	require.Equal(t, g1.BuildAdjacencyList(), g2.BuildAdjacencyList())
}
