package pack

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

const manifestYAML = `name: standard-delivery
version: 1.0.0
description: end-to-end delivery methodology
type: standard
phases:
  - name: analysis
    description: understand the concept
    exit_gates: [requirements-recorded]
    artifacts: [brief]
    steps:
      - name: gather
        task_type: analyze
        base_budget: 2000
        context:
          - placeholder: concept
            source: "param:concept"
        persist:
          - field: requirements
            category: data
            key: array
        artifact:
          type: brief
          path: "decision-store://{run}/brief"
  - name: planning
  - name: implementation
  - name: validation
prompts:
  analyze: prompts/analyze.md
constraints:
  security: constraints/security.yaml
templates:
  report: templates/report.md
`

func writePack(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{
		ManifestFileName:            manifestYAML,
		"prompts/analyze.md":        "Analyze {{concept}} carefully.",
		"constraints/security.yaml": "rules: [no-secrets]",
		"templates/report.md":       "# Report",
	}
	for rel, content := range files {
		path := filepath.Join(dir, rel)
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatalf("write %s: %v", rel, err)
		}
	}
	return dir
}

func TestLoad_FullPack(t *testing.T) {
	p, err := Load(writePack(t))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if p.Manifest.Name != "standard-delivery" || len(p.Manifest.Phases) != 4 {
		t.Fatalf("manifest = %+v", p.Manifest)
	}

	phase, ok := p.Phase("analysis")
	if !ok {
		t.Fatal("analysis phase missing")
	}
	if len(phase.Steps) != 1 || phase.Steps[0].TaskType != "analyze" {
		t.Fatalf("steps = %+v", phase.Steps)
	}
	if phase.Steps[0].Persist[0].Key != "array" {
		t.Fatalf("persist = %+v", phase.Steps[0].Persist)
	}
}

func TestLoad_MissingManifest(t *testing.T) {
	_, err := Load(t.TempDir())
	if err == nil {
		t.Fatal("Load of empty dir should fail")
	}
}

func TestParse_InvalidManifests(t *testing.T) {
	if _, err := Parse(nil); !errors.Is(err, ErrManifestEmpty) {
		t.Fatalf("Parse(nil) = %v", err)
	}
	if _, err := Parse([]byte("{{not yaml")); err == nil {
		t.Fatal("Parse of broken YAML should fail")
	}
	if _, err := Parse([]byte("name: x\n")); err == nil {
		t.Fatal("Parse of structurally invalid manifest should fail")
	}
}

func TestPack_LazyLoadAndCache(t *testing.T) {
	dir := writePack(t)
	p, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	got, err := p.Prompt("analyze")
	if err != nil {
		t.Fatalf("Prompt: %v", err)
	}
	if got != "Analyze {{concept}} carefully." {
		t.Fatalf("Prompt = %q", got)
	}

	// Cached content survives deletion of the backing file.
	if err := os.Remove(filepath.Join(dir, "prompts/analyze.md")); err != nil {
		t.Fatalf("remove: %v", err)
	}
	got, err = p.Prompt("analyze")
	if err != nil || got != "Analyze {{concept}} carefully." {
		t.Fatalf("cached Prompt = %q, %v", got, err)
	}

	if _, err := p.Prompt("ghost"); !errors.Is(err, ErrFileNotDeclared) {
		t.Fatalf("undeclared prompt = %v", err)
	}
}

func TestPack_ConstraintAndTemplate(t *testing.T) {
	p, err := Load(writePack(t))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got, err := p.Constraint("security"); err != nil || got == "" {
		t.Fatalf("Constraint = %q, %v", got, err)
	}
	if got, err := p.Template("report"); err != nil || got != "# Report" {
		t.Fatalf("Template = %q, %v", got, err)
	}
}

func TestPack_StepsForPhase(t *testing.T) {
	p, err := Load(writePack(t))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	steps, err := p.StepsForPhase("analysis")
	if err != nil {
		t.Fatalf("StepsForPhase: %v", err)
	}
	if len(steps) != 1 {
		t.Fatalf("steps = %d, want 1", len(steps))
	}
	step := steps[0]
	if step.Name != "gather" || step.TaskType != "analyze" || step.BaseBudget != 2000 {
		t.Fatalf("step = %+v", step)
	}
	if len(step.Context) != 1 || step.Context[0].Source != "param:concept" {
		t.Fatalf("context = %+v", step.Context)
	}
	if step.RegisterArtifact == nil || step.RegisterArtifact.Type != "brief" {
		t.Fatalf("artifact = %+v", step.RegisterArtifact)
	}

	// The pack satisfies the runner's template loader.
	if tpl, err := p.Load("analyze"); err != nil || tpl == "" {
		t.Fatalf("Load = %q, %v", tpl, err)
	}

	if _, err := p.StepsForPhase("nope"); err == nil {
		t.Fatal("unknown phase should fail")
	}
}
