package pack

import "fmt"

// Validator validates pack manifests in two tiers: a generic structural
// pass every manifest gets, and a strict canonical-order pass for
// standard-type manifests.
type Validator struct{}

// NewValidator creates a manifest validator.
func NewValidator() *Validator {
	return &Validator{}
}

// Validate performs both validation tiers. Returns nil if valid, or an
// error describing the first failure.
func (v *Validator) Validate(m *Manifest) error {
	if m == nil {
		return ErrManifestEmpty
	}
	if err := v.validateGeneric(m); err != nil {
		return err
	}

	switch m.Type {
	case TypeStandard, "":
		// Standard is the default when type is omitted.
		return v.validateStandard(m)
	case TypeCustom:
		return nil
	default:
		return fmt.Errorf("manifest.type %q is not recognized", m.Type)
	}
}

// validateGeneric checks structure common to every manifest: names,
// uniqueness, and that each step's task_type has a declared prompt.
func (v *Validator) validateGeneric(m *Manifest) error {
	if m.Name == "" {
		return ErrNameEmpty
	}
	if m.Version == "" {
		return ErrVersionEmpty
	}
	if len(m.Phases) == 0 {
		return ErrNoPhases
	}

	phaseNames := make(map[string]bool, len(m.Phases))
	for i, phase := range m.Phases {
		if phase.Name == "" {
			return fmt.Errorf("phase[%d]: %w", i, ErrPhaseNameEmpty)
		}
		if phaseNames[phase.Name] {
			return fmt.Errorf("phase %q: %w", phase.Name, ErrPhaseDuplicate)
		}
		phaseNames[phase.Name] = true

		stepNames := make(map[string]bool, len(phase.Steps))
		for j, step := range phase.Steps {
			if step.Name == "" {
				return fmt.Errorf("phase %q step[%d]: %w", phase.Name, j, ErrStepNameEmpty)
			}
			if stepNames[step.Name] {
				return fmt.Errorf("phase %q step %q: %w", phase.Name, step.Name, ErrStepDuplicate)
			}
			stepNames[step.Name] = true

			if step.TaskType == "" {
				return fmt.Errorf("phase %q step %q: %w", phase.Name, step.Name, ErrStepTaskTypeEmpty)
			}
			if _, ok := m.Prompts[step.TaskType]; !ok {
				return fmt.Errorf("phase %q step %q task_type %q: %w",
					phase.Name, step.Name, step.TaskType, ErrPromptNotDeclared)
			}
		}
	}
	return nil
}

// validateStandard enforces the canonical phase chain: every canonical
// phase present, in order. Extra phases may appear between or after
// canonical ones; the canonical subsequence itself must be intact.
func (v *Validator) validateStandard(m *Manifest) error {
	canonical := StandardPhases()
	next := 0
	for _, phase := range m.Phases {
		if next < len(canonical) && phase.Name == canonical[next] {
			next++
			continue
		}
		// A canonical phase appearing out of position is an order
		// violation rather than a missing phase.
		for _, c := range canonical {
			if phase.Name == c {
				return fmt.Errorf("phase %q: %w", phase.Name, ErrPhaseOrder)
			}
		}
	}
	if next < len(canonical) {
		return fmt.Errorf("phase %q: %w", canonical[next], ErrPhaseMissing)
	}
	return nil
}
