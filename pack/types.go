// Package pack loads and validates methodology packs: the read-only
// file bundles (manifest + prompts + constraints + templates) that
// define a pipeline's phases and the steps the Step Runner executes
// inside each phase.
package pack

// ManifestType selects which validation strategy applies to a manifest.
type ManifestType string

const (
	// TypeStandard enforces the canonical analysis -> planning ->
	// implementation -> validation phase chain, in order.
	TypeStandard ManifestType = "standard"
	// TypeCustom skips phase-order checking entirely.
	TypeCustom ManifestType = "custom"
)

// Manifest is the root document of a methodology pack
// (packs/<name>/manifest.yaml).
type Manifest struct {
	Name        string       `yaml:"name"`
	Version     string       `yaml:"version"`
	Description string       `yaml:"description,omitempty"`
	Type        ManifestType `yaml:"type,omitempty"`
	Phases      []Phase      `yaml:"phases"`

	// Prompts, Constraints, and Templates map logical names to file
	// paths relative to the pack directory. Contents are lazy-loaded
	// and cached on first access.
	Prompts     map[string]string `yaml:"prompts,omitempty"`
	Constraints map[string]string `yaml:"constraints,omitempty"`
	Templates   map[string]string `yaml:"templates,omitempty"`
}

// Phase is one named stage of the methodology.
type Phase struct {
	Name        string     `yaml:"name"`
	Description string     `yaml:"description,omitempty"`
	EntryGates  []string   `yaml:"entry_gates,omitempty"`
	ExitGates   []string   `yaml:"exit_gates,omitempty"`
	Artifacts   []string   `yaml:"artifacts,omitempty"`
	Steps       []StepSpec `yaml:"steps,omitempty"`
}

// StepSpec declares one step of a phase: which prompt template it
// dispatches, what context is injected, and which output fields persist
// as decisions.
type StepSpec struct {
	Name       string            `yaml:"name"`
	TaskType   string            `yaml:"task_type"`
	Context    []ContextRefSpec  `yaml:"context,omitempty"`
	Persist    []PersistRuleSpec `yaml:"persist,omitempty"`
	Artifact   *ArtifactRefSpec  `yaml:"artifact,omitempty"`
	BaseBudget int               `yaml:"base_budget,omitempty"`
}

// ContextRefSpec maps a prompt placeholder to a context source
// ("param:<key>" | "decision:<phase>.<category>" | "step:<name>").
type ContextRefSpec struct {
	Placeholder string `yaml:"placeholder"`
	Source      string `yaml:"source"`
}

// PersistRuleSpec maps one output field to a decision (category, key).
// Key "array" expands a list field into per-element decisions.
type PersistRuleSpec struct {
	Field    string `yaml:"field"`
	Category string `yaml:"category"`
	Key      string `yaml:"key"`
}

// ArtifactRefSpec registers an artifact produced by a step.
type ArtifactRefSpec struct {
	Type string `yaml:"type"`
	Path string `yaml:"path"`
}

// StandardPhases returns the canonical phase chain a standard-type
// manifest must declare, in order.
func StandardPhases() []string {
	return []string{"analysis", "planning", "implementation", "validation"}
}
