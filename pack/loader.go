package pack

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/substratehq/substrate/internal/methodology"
)

// ManifestFileName is the manifest's fixed name inside a pack directory.
const ManifestFileName = "manifest.yaml"

// Pack is a loaded methodology pack: its validated manifest plus
// lazy-loaded, cached file contents.
type Pack struct {
	Manifest *Manifest

	dir string

	mu    sync.Mutex
	cache map[string]string // relative path -> contents
}

// Load reads, parses, and validates the pack rooted at dir
// (dir/manifest.yaml). File contents are not read until first access.
func Load(dir string) (*Pack, error) {
	path := filepath.Join(dir, ManifestFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("pack: reading %s: %w", path, err)
	}

	m, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("pack: loading %s: %w", path, err)
	}

	return &Pack{
		Manifest: m,
		dir:      dir,
		cache:    make(map[string]string),
	}, nil
}

// Parse parses and validates a manifest from raw YAML bytes.
func Parse(data []byte) (*Manifest, error) {
	if len(data) == 0 {
		return nil, ErrManifestEmpty
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing YAML: %w", err)
	}
	if err := NewValidator().Validate(&m); err != nil {
		return nil, err
	}
	return &m, nil
}

// Phase returns the named phase's definition.
func (p *Pack) Phase(name string) (*Phase, bool) {
	for i := range p.Manifest.Phases {
		if p.Manifest.Phases[i].Name == name {
			return &p.Manifest.Phases[i], true
		}
	}
	return nil, false
}

// Prompt returns the contents of the named prompt file.
func (p *Pack) Prompt(name string) (string, error) {
	return p.readDeclared(p.Manifest.Prompts, name, "prompt")
}

// Constraint returns the contents of the named constraint file.
func (p *Pack) Constraint(name string) (string, error) {
	return p.readDeclared(p.Manifest.Constraints, name, "constraint")
}

// Template returns the contents of the named template file.
func (p *Pack) Template(name string) (string, error) {
	return p.readDeclared(p.Manifest.Templates, name, "template")
}

// Load satisfies methodology.TemplateLoader: a step's taskType resolves
// through the manifest's prompts map.
func (p *Pack) Load(taskType string) (string, error) {
	return p.Prompt(taskType)
}

// readDeclared resolves name through the declaration map and returns
// the file's contents, cached by relative path after the first read.
func (p *Pack) readDeclared(declared map[string]string, name, kind string) (string, error) {
	rel, ok := declared[name]
	if !ok {
		return "", fmt.Errorf("pack %s: %s %q: %w", p.Manifest.Name, kind, name, ErrFileNotDeclared)
	}

	p.mu.Lock()
	if content, ok := p.cache[rel]; ok {
		p.mu.Unlock()
		return content, nil
	}
	p.mu.Unlock()

	data, err := os.ReadFile(filepath.Join(p.dir, rel))
	if err != nil {
		return "", fmt.Errorf("pack %s: reading %s %q: %w", p.Manifest.Name, kind, name, err)
	}

	p.mu.Lock()
	p.cache[rel] = string(data)
	p.mu.Unlock()
	return string(data), nil
}

// StepsForPhase converts the named phase's step specs into the Step
// Runner's StepDefinitions.
func (p *Pack) StepsForPhase(phaseName string) ([]methodology.StepDefinition, error) {
	phase, ok := p.Phase(phaseName)
	if !ok {
		return nil, fmt.Errorf("pack %s: phase %q not found", p.Manifest.Name, phaseName)
	}

	steps := make([]methodology.StepDefinition, 0, len(phase.Steps))
	for _, spec := range phase.Steps {
		def := methodology.StepDefinition{
			Name:       spec.Name,
			TaskType:   spec.TaskType,
			BaseBudget: spec.BaseBudget,
		}
		for _, ref := range spec.Context {
			def.Context = append(def.Context, methodology.ContextRef{
				Placeholder: ref.Placeholder,
				Source:      ref.Source,
			})
		}
		for _, rule := range spec.Persist {
			def.Persist = append(def.Persist, methodology.PersistRule{
				Field:    rule.Field,
				Category: rule.Category,
				Key:      rule.Key,
			})
		}
		if spec.Artifact != nil {
			def.RegisterArtifact = &methodology.ArtifactSpec{
				Type: spec.Artifact.Type,
				Path: spec.Artifact.Path,
			}
		}
		steps = append(steps, def)
	}
	return steps, nil
}
