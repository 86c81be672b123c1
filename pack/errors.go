package pack

import "errors"

// Sentinel errors for manifest validation and pack loading.
var (
	// ErrManifestEmpty is returned when the manifest data is empty.
	ErrManifestEmpty = errors.New("pack manifest is empty")

	// ErrNameEmpty is returned when manifest.name is empty.
	ErrNameEmpty = errors.New("manifest.name is required")

	// ErrVersionEmpty is returned when manifest.version is empty.
	ErrVersionEmpty = errors.New("manifest.version is required")

	// ErrNoPhases is returned when the manifest declares no phases.
	ErrNoPhases = errors.New("manifest.phases must not be empty")

	// ErrPhaseNameEmpty is returned when a phase has an empty name.
	ErrPhaseNameEmpty = errors.New("phase.name is required")

	// ErrPhaseDuplicate is returned when two phases share a name.
	ErrPhaseDuplicate = errors.New("duplicate phase name")

	// ErrStepNameEmpty is returned when a step has an empty name.
	ErrStepNameEmpty = errors.New("step.name is required")

	// ErrStepDuplicate is returned when two steps in one phase share a name.
	ErrStepDuplicate = errors.New("duplicate step name within phase")

	// ErrStepTaskTypeEmpty is returned when a step has no task_type.
	ErrStepTaskTypeEmpty = errors.New("step.task_type is required")

	// ErrPromptNotDeclared is returned when a step's task_type names a
	// prompt absent from the manifest's prompts map.
	ErrPromptNotDeclared = errors.New("step.task_type has no declared prompt")

	// ErrPhaseMissing is returned when a standard manifest lacks one of
	// the canonical phases.
	ErrPhaseMissing = errors.New("standard manifest is missing a canonical phase")

	// ErrPhaseOrder is returned when a standard manifest's canonical
	// phases are present but out of order.
	ErrPhaseOrder = errors.New("standard manifest phases must follow canonical order")

	// ErrFileNotDeclared is returned when a prompt/constraint/template
	// name is requested that the manifest never declared.
	ErrFileNotDeclared = errors.New("file not declared in manifest")
)
