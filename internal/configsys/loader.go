package configsys

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Sources names where each merge layer's document comes from, lowest
// to highest: built-in defaults, GlobalPath, ProjectPath, environment
// variables, then CLI overrides.
type Sources struct {
	GlobalPath  string
	ProjectPath string
	CLI         *Config
	Migrator    *Migrator
}

// Loader assembles the layered Config System.
type Loader struct {
	sources Sources
}

// NewLoader creates a Loader for the given source paths.
func NewLoader(sources Sources) *Loader {
	return &Loader{sources: sources}
}

// Load reads each configured layer, migrating any out-of-date document
// in place first, and merges them in order: Defaults -> global ->
// project -> env -> CLI. A layer whose path is empty or missing on disk
// is skipped silently; a layer that fails to parse is a hard error.
func (l *Loader) Load() (*Config, error) {
	merged := Defaults()

	for _, path := range []string{l.sources.GlobalPath, l.sources.ProjectPath} {
		if path == "" {
			continue
		}
		layer, err := l.loadFile(path)
		if err != nil {
			return nil, err
		}
		if layer == nil {
			continue
		}
		merged = Merge(merged, layer)
	}

	merged = Merge(merged, EnvOverrides(os.LookupEnv))

	if l.sources.CLI != nil {
		merged = Merge(merged, l.sources.CLI)
	}

	return merged, nil
}

// loadFile reads path, migrating it first if its format version is
// unsupported, and returns the strictly-parsed layer. A missing file is
// not an error (returns nil, nil): an absent global or project config
// simply contributes nothing to the merge.
func (l *Loader) loadFile(path string) (*Config, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("configsys: stat %s: %w", path, err)
	}

	migrator := l.sources.Migrator
	if migrator == nil {
		migrator = DefaultMigrator()
	}
	if _, err := MigrateFile(path, migrator); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("configsys: reading %s: %w", path, err)
	}

	if err := checkKnownTopLevelKeys(data); err != nil {
		return nil, fmt.Errorf("configsys: %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("configsys: parsing %s: %w", path, err)
	}
	return &cfg, nil
}

var knownTopLevelKeys = map[string]bool{
	"config_format_version": true,
	"global":                true,
	"providers":             true,
	"routing_policy":        true,
	"budget":                true,
}

// checkKnownTopLevelKeys rejects any top-level key outside the strict
// schema, so a typo'd key fails loudly instead of being
// silently dropped by yaml.Unmarshal.
func checkKnownTopLevelKeys(data []byte) error {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return err
	}
	for key := range raw {
		if !knownTopLevelKeys[key] {
			return fmt.Errorf("%q: %w", key, ErrUnknownTopLevelKey)
		}
	}
	return nil
}

// Get resolves a dot-separated path (e.g. "global.log_level") against
// the merged config and returns its scalar value. It returns
// ErrUseDeeperPath if the path names an object rather than a scalar, and
// ErrKeyNotFound if no such path exists.
func Get(cfg *Config, path string) (any, error) {
	node, err := navigate(cfg, strings.Split(path, "."))
	if err != nil {
		return nil, err
	}
	if m, ok := node.(map[string]any); ok {
		_ = m
		return nil, fmt.Errorf("%q: %w", path, ErrUseDeeperPath)
	}
	return node, nil
}

// Set applies value at the dot-separated path within a YAML-decoded
// view of cfg and returns a new Config reflecting the change. Only
// scalar leaves may be set directly; setting a path
// that resolves to an object returns ErrUseDeeperPath.
func Set(cfg *Config, path string, value any) (*Config, error) {
	raw, err := toRawMap(cfg)
	if err != nil {
		return nil, err
	}

	segments := strings.Split(path, ".")
	node := raw
	for i, seg := range segments {
		if i == len(segments)-1 {
			if existing, ok := node[seg]; ok {
				if _, isMap := existing.(map[string]any); isMap {
					return nil, fmt.Errorf("%q: %w", path, ErrUseDeeperPath)
				}
			}
			node[seg] = value
			break
		}
		next, ok := node[seg]
		if !ok {
			return nil, fmt.Errorf("%q: %w", path, ErrKeyNotFound)
		}
		nextMap, ok := next.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%q: %w", path, ErrUseDeeperPath)
		}
		node = nextMap
	}

	return fromRawMap(raw)
}

func navigate(cfg *Config, segments []string) (any, error) {
	raw, err := toRawMap(cfg)
	if err != nil {
		return nil, err
	}
	var node any = raw
	for _, seg := range segments {
		m, ok := node.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%q: %w", strings.Join(segments, "."), ErrKeyNotFound)
		}
		next, ok := m[seg]
		if !ok {
			return nil, fmt.Errorf("%q: %w", strings.Join(segments, "."), ErrKeyNotFound)
		}
		node = next
	}
	return node, nil
}

func toRawMap(cfg *Config) (map[string]any, error) {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("configsys: marshaling config: %w", err)
	}
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("configsys: re-parsing config: %w", err)
	}
	return raw, nil
}

func fromRawMap(raw map[string]any) (*Config, error) {
	data, err := yaml.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("configsys: marshaling updated config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("configsys: parsing updated config: %w", err)
	}
	return &cfg, nil
}

const secretMask = "********"

// Export renders cfg as YAML for display, masking every provider's
// api_key_env-referenced value: since the field only ever stores the
// name of an environment variable (never the secret itself), Export
// replaces that name with a fixed-length mask so a pasted export never
// leaks which env var a deployment expects, while still showing that a
// provider HAS a key configured.
func Export(cfg *Config) ([]byte, error) {
	masked := cfg.clone()
	for id, p := range masked.Providers {
		if p.APIKeyEnv != "" {
			p.APIKeyEnv = secretMask
			masked.Providers[id] = p
		}
	}
	return yaml.Marshal(masked)
}

// Import parses data as a Config layer and reports whether it differs
// from current. A byte-identical re-import is a no-op the caller should
// report as "No changes detected" rather than rewriting the file.
func Import(current *Config, data []byte) (updated *Config, changed bool, err error) {
	if err := checkKnownTopLevelKeys(data); err != nil {
		return nil, false, err
	}
	var incoming Config
	if err := yaml.Unmarshal(data, &incoming); err != nil {
		return nil, false, fmt.Errorf("configsys: parsing import: %w", err)
	}

	currentYAML, err := yaml.Marshal(current)
	if err != nil {
		return nil, false, fmt.Errorf("configsys: marshaling current config: %w", err)
	}
	incomingYAML, err := yaml.Marshal(&incoming)
	if err != nil {
		return nil, false, fmt.Errorf("configsys: marshaling import: %w", err)
	}
	if string(currentYAML) == string(incomingYAML) {
		return current, false, nil
	}
	return &incoming, true, nil
}
