package configsys

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCoerceEnvValue(t *testing.T) {
	cases := map[string]any{
		"true":  true,
		"false": false,
		"42":    int64(42),
		"-7":    int64(-7),
		"3.14":  3.14,
		"abc":   "abc",
		"4abc":  "4abc",
		"":      "",
		"1.2.3": "1.2.3",
	}
	for raw, want := range cases {
		require.Equal(t, want, CoerceEnvValue(raw), "raw=%q", raw)
	}
}

func TestEnvOverrides_KnownKeys(t *testing.T) {
	env := map[string]string{
		"ADT_LOG_LEVEL":            "debug",
		"ADT_MAX_CONCURRENT_TASKS": "8",
		"ADT_BUDGET_CAP_USD":       "50.5",
		"ADT_WORKSPACE_DIR":        "/srv/substrate",
	}
	lookup := func(k string) (string, bool) { v, ok := env[k]; return v, ok }

	out := EnvOverrides(lookup)

	require.Equal(t, "debug", out.Global.LogLevel)
	require.Equal(t, 8, out.Global.MaxConcurrentTasks)
	require.Equal(t, 50.5, out.Global.BudgetCapUSD)
	require.Equal(t, "/srv/substrate", out.Global.WorkspaceDir)
}

func TestEnvOverrides_UnknownKeysIgnored(t *testing.T) {
	lookup := func(k string) (string, bool) { return "", false }

	out := EnvOverrides(lookup)

	require.Equal(t, "", out.Global.LogLevel)
	require.Equal(t, 0, out.Global.MaxConcurrentTasks)
}

func TestProviderIDFromEnvKey(t *testing.T) {
	require.Equal(t, "claude-code", providerIDFromEnvKey("ADT_CLAUDE_CODE_ENABLED"))
	require.Equal(t, "codex", providerIDFromEnvKey("ADT_CODEX_ENABLED"))
	require.Equal(t, "", providerIDFromEnvKey("ADT_ENABLED"))
	require.Equal(t, "", providerIDFromEnvKey("UNRELATED_KEY"))
}
