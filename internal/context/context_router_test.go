package context

import (
	"errors"
	"testing"

	"github.com/substratehq/substrate/contracts"
)

func routeRun() *contracts.Run {
	return &contracts.Run{
		ID: "run-1",
		Tasks: map[contracts.TaskID]*contracts.Task{
			"a": {ID: "a"},
			"b": {ID: "b", Deps: []contracts.TaskID{"a"}},
		},
	}
}

func TestRouter_RoutePrimaryAndNamedOutputs(t *testing.T) {
	r := NewContextRouter()
	run := routeRun()

	err := r.Route(run, "a", "b", &contracts.TaskResult{
		Output:  "main output",
		Outputs: map[string]string{"report": "details"},
	})
	if err != nil {
		t.Fatalf("Route: %v", err)
	}

	in := run.Tasks["b"].Inputs.Inputs
	if in["a"] != "main output" {
		t.Fatalf(`in["a"] = %q`, in["a"])
	}
	if in["a.report"] != "details" {
		t.Fatalf(`in["a.report"] = %q`, in["a.report"])
	}
}

func TestRouter_NilOutputRoutesEmpty(t *testing.T) {
	r := NewContextRouter()
	run := routeRun()

	if err := r.Route(run, "a", "b", nil); err != nil {
		t.Fatalf("Route: %v", err)
	}
	if v, ok := run.Tasks["b"].Inputs.Inputs["a"]; !ok || v != "" {
		t.Fatalf("expected empty routed value, got %q, %v", v, ok)
	}
}

func TestRouter_Errors(t *testing.T) {
	r := NewContextRouter()

	if err := r.Route(nil, "a", "b", nil); !errors.Is(err, contracts.ErrInvalidInput) {
		t.Fatalf("nil run = %v", err)
	}
	if err := r.Route(routeRun(), "nope", "b", nil); !errors.Is(err, contracts.ErrTaskNotFound) {
		t.Fatalf("unknown from = %v", err)
	}
	if err := r.Route(routeRun(), "a", "nope", nil); !errors.Is(err, contracts.ErrTaskNotFound) {
		t.Fatalf("unknown to = %v", err)
	}
}
