package pack

import (
	"errors"
	"testing"
)

func validManifest() *Manifest {
	return &Manifest{
		Name:    "standard-delivery",
		Version: "1.0.0",
		Type:    TypeStandard,
		Phases: []Phase{
			{Name: "analysis", Steps: []StepSpec{{Name: "gather", TaskType: "analyze"}}},
			{Name: "planning"},
			{Name: "implementation"},
			{Name: "validation"},
		},
		Prompts: map[string]string{"analyze": "prompts/analyze.md"},
	}
}

func TestValidator_ValidStandardManifest(t *testing.T) {
	if err := NewValidator().Validate(validManifest()); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestValidator_GenericTier(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Manifest)
		wantErr error
	}{
		{"nil manifest", nil, ErrManifestEmpty},
		{"empty name", func(m *Manifest) { m.Name = "" }, ErrNameEmpty},
		{"empty version", func(m *Manifest) { m.Version = "" }, ErrVersionEmpty},
		{"no phases", func(m *Manifest) { m.Phases = nil }, ErrNoPhases},
		{"empty phase name", func(m *Manifest) { m.Phases[1].Name = "" }, ErrPhaseNameEmpty},
		{"duplicate phase", func(m *Manifest) { m.Phases[1].Name = "analysis" }, ErrPhaseDuplicate},
		{"empty step name", func(m *Manifest) { m.Phases[0].Steps[0].Name = "" }, ErrStepNameEmpty},
		{"duplicate step", func(m *Manifest) {
			m.Phases[0].Steps = append(m.Phases[0].Steps, StepSpec{Name: "gather", TaskType: "analyze"})
		}, ErrStepDuplicate},
		{"empty task type", func(m *Manifest) { m.Phases[0].Steps[0].TaskType = "" }, ErrStepTaskTypeEmpty},
		{"undeclared prompt", func(m *Manifest) { m.Phases[0].Steps[0].TaskType = "ghost" }, ErrPromptNotDeclared},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var m *Manifest
			if tt.mutate != nil {
				m = validManifest()
				tt.mutate(m)
			}
			err := NewValidator().Validate(m)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Validate = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidator_StandardTier(t *testing.T) {
	t.Run("missing canonical phase", func(t *testing.T) {
		m := validManifest()
		m.Phases = m.Phases[:3] // drop validation
		if err := NewValidator().Validate(m); !errors.Is(err, ErrPhaseMissing) {
			t.Fatalf("Validate = %v, want ErrPhaseMissing", err)
		}
	})

	t.Run("canonical phases out of order", func(t *testing.T) {
		m := validManifest()
		m.Phases[1], m.Phases[2] = m.Phases[2], m.Phases[1]
		if err := NewValidator().Validate(m); !errors.Is(err, ErrPhaseOrder) {
			t.Fatalf("Validate = %v, want ErrPhaseOrder", err)
		}
	})

	t.Run("extra phases between canonical ones are fine", func(t *testing.T) {
		m := validManifest()
		m.Phases = append(m.Phases[:2:2], append([]Phase{{Name: "review"}}, m.Phases[2:]...)...)
		if err := NewValidator().Validate(m); err != nil {
			t.Fatalf("Validate: %v", err)
		}
	})

	t.Run("type omitted defaults to standard", func(t *testing.T) {
		m := validManifest()
		m.Type = ""
		m.Phases = m.Phases[:2]
		if err := NewValidator().Validate(m); !errors.Is(err, ErrPhaseMissing) {
			t.Fatalf("Validate = %v, want ErrPhaseMissing", err)
		}
	})
}

func TestValidator_CustomSkipsPhaseOrder(t *testing.T) {
	m := validManifest()
	m.Type = TypeCustom
	m.Phases = []Phase{{Name: "freeform"}}
	if err := NewValidator().Validate(m); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestValidator_UnknownType(t *testing.T) {
	m := validManifest()
	m.Type = "exotic"
	if err := NewValidator().Validate(m); err == nil {
		t.Fatal("Validate should reject unknown manifest type")
	}
}
