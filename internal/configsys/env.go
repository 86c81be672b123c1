package configsys

import (
	"os"
	"regexp"
	"strconv"
	"strings"
)

var (
	intPattern   = regexp.MustCompile(`^-?\d+$`)
	floatPattern = regexp.MustCompile(`^-?\d*\.\d+$`)
)

// CoerceEnvValue converts a raw environment variable string per spec
// section 4.7: "true"/"false" -> bool, an integer pattern -> int, a
// decimal pattern -> float, anything else is left as a string.
func CoerceEnvValue(raw string) any {
	switch raw {
	case "true":
		return true
	case "false":
		return false
	}
	if intPattern.MatchString(raw) {
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
			return n
		}
	}
	if floatPattern.MatchString(raw) {
		if f, err := strconv.ParseFloat(raw, 64); err == nil {
			return f
		}
	}
	return raw
}

// EnvOverrides reads the fixed ADT_* environment map from the process
// environment and applies it as the fourth merge layer. Unknown ADT_*
// keys are ignored.
func EnvOverrides(lookup func(string) (string, bool)) *Config {
	out := &Config{Providers: map[string]ProviderConfig{}}

	if v, ok := lookup("ADT_LOG_LEVEL"); ok {
		out.Global.LogLevel = v
	}
	if v, ok := lookup("ADT_MAX_CONCURRENT_TASKS"); ok {
		if n, isInt := CoerceEnvValue(v).(int64); isInt {
			out.Global.MaxConcurrentTasks = int(n)
		}
	}
	if v, ok := lookup("ADT_BUDGET_CAP_TOKENS"); ok {
		if n, isInt := CoerceEnvValue(v).(int64); isInt {
			out.Global.BudgetCapTokens = n
		}
	}
	if v, ok := lookup("ADT_BUDGET_CAP_USD"); ok {
		switch n := CoerceEnvValue(v).(type) {
		case float64:
			out.Global.BudgetCapUSD = n
		case int64:
			out.Global.BudgetCapUSD = float64(n)
		}
	}
	if v, ok := lookup("ADT_WORKSPACE_DIR"); ok {
		out.Global.WorkspaceDir = v
	}

	for _, env := range os.Environ() {
		key, val, found := strings.Cut(env, "=")
		if !found {
			continue
		}
		if !strings.HasPrefix(key, "ADT_") || !strings.HasSuffix(key, "_ENABLED") {
			continue
		}
		providerID := providerIDFromEnvKey(key)
		if providerID == "" {
			continue
		}
		if b, ok := CoerceEnvValue(val).(bool); ok {
			out.Providers[providerID] = ProviderConfig{Enabled: boolPtr(b)}
		}
	}

	return out
}

// providerIDFromEnvKey extracts the provider id from an
// "ADT_<PROVIDER>_ENABLED" key, lower-casing and hyphenating it to match
// the config file's provider ids (e.g. "ADT_CLAUDE_CODE_ENABLED" ->
// "claude-code").
func providerIDFromEnvKey(key string) string {
	const prefix, suffix = "ADT_", "_ENABLED"
	if len(key) <= len(prefix)+len(suffix) || !strings.HasPrefix(key, prefix) || !strings.HasSuffix(key, suffix) {
		return ""
	}
	inner := key[len(prefix) : len(key)-len(suffix)]
	return strings.ToLower(strings.ReplaceAll(inner, "_", "-"))
}
