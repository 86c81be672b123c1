package orchestration

import (
	"errors"
	"strings"
	"testing"

	"github.com/substratehq/substrate/contracts"
)

func TestBuildDAG_ChainShape(t *testing.T) {
	dr := NewDependencyResolver()
	tasks := []contracts.Task{
		{ID: "a"},
		{ID: "b", Deps: []contracts.TaskID{"a"}},
		{ID: "c", Deps: []contracts.TaskID{"b"}},
	}

	dag, err := dr.BuildDAG(tasks)
	if err != nil {
		t.Fatalf("BuildDAG: %v", err)
	}

	if len(dag.Nodes) != 3 {
		t.Fatalf("nodes = %d, want 3", len(dag.Nodes))
	}
	if dag.Nodes["a"].Pending != 0 || dag.Nodes["b"].Pending != 1 || dag.Nodes["c"].Pending != 1 {
		t.Fatalf("pending counts wrong: a=%d b=%d c=%d",
			dag.Nodes["a"].Pending, dag.Nodes["b"].Pending, dag.Nodes["c"].Pending)
	}
	if len(dag.Nodes["a"].Next) != 1 || dag.Nodes["a"].Next[0] != "b" {
		t.Fatalf("a.Next = %v, want [b]", dag.Nodes["a"].Next)
	}
	if len(dag.Nodes["c"].Next) != 0 {
		t.Fatalf("c.Next = %v, want empty", dag.Nodes["c"].Next)
	}
}

func TestBuildDAG_Errors(t *testing.T) {
	dr := NewDependencyResolver()

	if _, err := dr.BuildDAG(nil); !errors.Is(err, contracts.ErrInvalidInput) {
		t.Fatalf("nil tasks = %v, want ErrInvalidInput", err)
	}

	_, err := dr.BuildDAG([]contracts.Task{
		{ID: "b", Deps: []contracts.TaskID{"x"}},
	})
	if !errors.Is(err, contracts.ErrDepNotFound) {
		t.Fatalf("dangling dep = %v, want ErrDepNotFound", err)
	}
}

func TestBuildDAG_Empty(t *testing.T) {
	dr := NewDependencyResolver()
	dag, err := dr.BuildDAG([]contracts.Task{})
	if err != nil {
		t.Fatalf("BuildDAG(empty): %v", err)
	}
	if len(dag.Nodes) != 0 || len(dag.Edges) != 0 {
		t.Fatalf("empty DAG not empty: %+v", dag)
	}
	if err := dr.Validate(dag); err != nil {
		t.Fatalf("Validate(empty): %v", err)
	}
}

func TestValidate_CycleReportsPath(t *testing.T) {
	dr := NewDependencyResolver()
	dag, err := dr.BuildDAG([]contracts.Task{
		{ID: "a", Deps: []contracts.TaskID{"b"}},
		{ID: "b", Deps: []contracts.TaskID{"a"}},
	})
	if err != nil {
		t.Fatalf("BuildDAG: %v", err)
	}

	err = dr.Validate(dag)
	if !errors.Is(err, contracts.ErrDAGCycle) {
		t.Fatalf("Validate = %v, want ErrDAGCycle", err)
	}
	msg := err.Error()
	if !strings.Contains(msg, "a") || !strings.Contains(msg, "b") || !strings.Contains(msg, "->") {
		t.Fatalf("cycle message %q should name the full path", msg)
	}
}

func TestValidate_SelfCycle(t *testing.T) {
	dr := NewDependencyResolver()
	dag := &contracts.DAG{
		Nodes: map[contracts.TaskID]*contracts.DAGNode{
			"a": {ID: "a", Next: []contracts.TaskID{"a"}, Pending: 1},
		},
		Edges: map[contracts.TaskID][]contracts.TaskID{"a": {"a"}},
	}
	if err := dr.Validate(dag); !errors.Is(err, contracts.ErrDAGCycle) {
		t.Fatalf("self-cycle = %v, want ErrDAGCycle", err)
	}
}

func TestValidate_DiamondIsAcyclic(t *testing.T) {
	dr := NewDependencyResolver()
	dag, err := dr.BuildDAG([]contracts.Task{
		{ID: "a"},
		{ID: "b", Deps: []contracts.TaskID{"a"}},
		{ID: "c", Deps: []contracts.TaskID{"a"}},
		{ID: "d", Deps: []contracts.TaskID{"b", "c"}},
	})
	if err != nil {
		t.Fatalf("BuildDAG: %v", err)
	}
	if err := dr.Validate(dag); err != nil {
		t.Fatalf("Validate(diamond): %v", err)
	}
}

func TestValidate_StructuralErrors(t *testing.T) {
	dr := NewDependencyResolver()

	if err := dr.Validate(nil); !errors.Is(err, contracts.ErrInvalidInput) {
		t.Fatalf("nil dag = %v", err)
	}
	if err := dr.Validate(&contracts.DAG{Edges: map[contracts.TaskID][]contracts.TaskID{}}); !errors.Is(err, contracts.ErrDAGInvalid) {
		t.Fatalf("nil nodes = %v", err)
	}
	if err := dr.Validate(&contracts.DAG{Nodes: map[contracts.TaskID]*contracts.DAGNode{}}); !errors.Is(err, contracts.ErrDAGInvalid) {
		t.Fatalf("nil edges = %v", err)
	}
}
