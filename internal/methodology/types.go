// Package methodology implements the Methodology Step Runner: it
// executes an ordered list of StepDefinitions sequentially against a
// pipeline run, resolving context, enforcing a dynamic per-step prompt
// budget, persisting decisions from each step's parsed output, and
// halting on the first failure.
package methodology

import "github.com/substratehq/substrate/internal/dispatch"

// ContextRef is one variable to resolve and interpolate into a step's
// prompt template.
type ContextRef struct {
	Placeholder string
	Source      string // "param:<key>" | "decision:<phase>.<category>" | "step:<priorStepName>"
}

// PersistRule maps one field of a step's parsed output to a decision.
// Key == "array" means Field holds a list; each element becomes its own
// decision keyed "<stepName>-<index>".
type PersistRule struct {
	Field    string
	Category string
	Key      string
}

const ArrayKey = "array"

// ArtifactSpec registers an artifact from a step's parsed output.
type ArtifactSpec struct {
	Type      string
	Path      string
	Summarize func(parsed map[string]any) string
}

// StepDefinition is one dispatched agent invocation inside a phase.
type StepDefinition struct {
	Name             string
	TaskType         string
	Context          []ContextRef
	Persist          []PersistRule
	RegisterArtifact *ArtifactSpec
	// BaseBudget is the step's base prompt-token budget before the
	// per-decision bump.
	BaseBudget int
}

// StepResult is the per-step outcome recorded in a PhaseResult.
type StepResult struct {
	Name          string
	Success       bool
	Error         string
	ParseError    string
	TokenEstimate dispatch.TokenEstimate
}

// PhaseResult is the outcome of running an ordered list of steps.
type PhaseResult struct {
	Success    bool
	Steps      []StepResult
	TokenUsage dispatch.TokenEstimate
	Error      string
}
