package configsys

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// MigrationStep transforms a raw config document from one format
// version to the next. Steps are pure functions:
// given the document at version N, they return the document at N+1 and
// never touch the filesystem themselves.
type MigrationStep func(doc map[string]any) (map[string]any, error)

// Migrator sequences MigrationSteps keyed by the version they migrate
// *from*, and knows the (possibly multi-hop) path from any supported
// starting version to CurrentFormatVersion.
type Migrator struct {
	steps map[string]MigrationStep
	order []string // versions in migration order, e.g. ["1", "2"]
}

// NewMigrator creates a Migrator with no registered steps.
func NewMigrator() *Migrator {
	return &Migrator{steps: make(map[string]MigrationStep)}
}

// Register adds the step that migrates documents at fromVersion to the
// next version. Steps must be registered in version order.
func (m *Migrator) Register(fromVersion string, step MigrationStep) {
	m.steps[fromVersion] = step
	m.order = append(m.order, fromVersion)
}

// Path reports whether a migration path exists from `from` to
// CurrentFormatVersion, returning the ordered list of "from" versions
// whose step must run.
func (m *Migrator) Path(from string) ([]string, bool) {
	if from == CurrentFormatVersion {
		return nil, true
	}
	var path []string
	version := from
	for i := 0; i < len(m.order)+1; i++ {
		step, ok := m.steps[version]
		if !ok {
			return nil, false
		}
		path = append(path, version)
		next, err := m.nextVersionOf(version, step)
		if err != nil {
			return nil, false
		}
		if next == CurrentFormatVersion {
			return path, true
		}
		version = next
	}
	return nil, false
}

// nextVersionOf runs step against a minimal probe document to discover
// the version it produces, without mutating caller state.
func (m *Migrator) nextVersionOf(from string, step MigrationStep) (string, error) {
	probe := map[string]any{"config_format_version": from}
	out, err := step(probe)
	if err != nil {
		return "", err
	}
	v, _ := out["config_format_version"].(string)
	if v == "" {
		return "", fmt.Errorf("configsys: migration step for %s did not set config_format_version", from)
	}
	return v, nil
}

// DefaultMigrator registers the one step this repository ships with: the
// v1 -> v2 migration that renamed `budget_cap` to the split
// `budget_cap_tokens`/`budget_cap_usd` pair under `global`.
func DefaultMigrator() *Migrator {
	m := NewMigrator()
	m.Register("1", migrateV1ToV2)
	return m
}

func migrateV1ToV2(doc map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(doc))
	for k, v := range doc {
		out[k] = v
	}
	out["config_format_version"] = "2"

	src, ok := out["global"].(map[string]any)
	if !ok {
		return out, nil
	}
	global := make(map[string]any, len(src))
	for k, v := range src {
		global[k] = v
	}
	if raw, present := global["budget_cap"]; present {
		delete(global, "budget_cap")
		switch n := raw.(type) {
		case int:
			global["budget_cap_tokens"] = n
		case float64:
			global["budget_cap_usd"] = n
		}
	}
	out["global"] = global
	return out, nil
}

// MigrateFile reads the config document at path, and if its
// config_format_version is unsupported, walks the Migrator's path to
// CurrentFormatVersion, writing a `<path>.bak.v<old>` backup before each
// transformation step and persisting the migrated document back to path
//. It returns the changed top-level keys across all
// applied steps, or ErrNoMigrationPath/wrapIncompatible if no path
// exists.
func MigrateFile(path string, migrator *Migrator) (changedKeys []string, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("configsys: migrate: reading %s: %w", path, err)
	}

	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("configsys: migrate: parsing %s: %w", path, err)
	}

	version, _ := doc["config_format_version"].(string)
	if SupportedFormatVersions[version] {
		return nil, nil
	}

	path_, ok := migrator.Path(version)
	if !ok {
		return nil, wrapIncompatible(fmt.Sprintf("configsys: no migration path from version %q to %q (run the upgrade command)", version, CurrentFormatVersion))
	}

	changed := map[string]bool{}
	for _, fromVersion := range path_ {
		backupPath := fmt.Sprintf("%s.bak.v%s", path, fromVersion)
		if err := os.WriteFile(backupPath, data, 0o644); err != nil {
			return nil, fmt.Errorf("configsys: migrate: writing backup %s: %w", backupPath, err)
		}

		step := migrator.steps[fromVersion]
		migrated, err := step(doc)
		if err != nil {
			return nil, fmt.Errorf("configsys: migrate: step from %s: %w", fromVersion, err)
		}
		recordChangedKeys(doc, migrated, changed)
		doc = migrated

		data, err = yaml.Marshal(doc)
		if err != nil {
			return nil, fmt.Errorf("configsys: migrate: marshaling migrated document: %w", err)
		}
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return nil, fmt.Errorf("configsys: migrate: writing %s: %w", path, err)
		}
	}

	keys := make([]string, 0, len(changed))
	for k := range changed {
		keys = append(keys, k)
	}
	return keys, nil
}

func recordChangedKeys(before, after map[string]any, changed map[string]bool) {
	for k, v := range after {
		bv, existed := before[k]
		if !existed || !equalScalarOrMap(bv, v) {
			changed[k] = true
		}
	}
}

// equalScalarOrMap is a shallow equality check sufficient for detecting
// migration-touched top-level keys; it is not a general deep-equal.
func equalScalarOrMap(a, b any) bool {
	am, aok := a.(map[string]any)
	bm, bok := b.(map[string]any)
	if aok != bok {
		return false
	}
	if !aok {
		return a == b
	}
	if len(am) != len(bm) {
		return false
	}
	for k, av := range am {
		if bv, ok := bm[k]; !ok || !equalScalarOrMap(av, bv) {
			return false
		}
	}
	return true
}
