package configsys

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/substratehq/substrate/internal/eventbus"
)

func TestChangedTopLevelKeys(t *testing.T) {
	base := Defaults()

	t.Run("nil previous reports every section", func(t *testing.T) {
		keys := changedTopLevelKeys(nil, base)
		require.ElementsMatch(t, []string{"global", "providers", "routing_policy", "budget"}, keys)
	})

	t.Run("identical configs report nothing", func(t *testing.T) {
		require.Empty(t, changedTopLevelKeys(base, Defaults()))
	})

	t.Run("budget-only change reports budget", func(t *testing.T) {
		next := Defaults()
		next.Budget.DefaultTaskBudgetUSD = 9.0
		require.Equal(t, []string{"budget"}, changedTopLevelKeys(base, next))
	})

	t.Run("global and budget changes report both", func(t *testing.T) {
		next := Defaults()
		next.Global.LogLevel = "debug"
		next.Budget.WarningThresholdPercent = 50
		require.ElementsMatch(t, []string{"global", "budget"}, changedTopLevelKeys(base, next))
	})
}

func TestNewWatcher_MissingPathsAreSkipped(t *testing.T) {
	loader := NewLoader(Sources{
		GlobalPath:  filepath.Join(t.TempDir(), "nope", "config.yaml"),
		ProjectPath: "",
	})
	w, err := NewWatcher(loader, nil)
	require.NoError(t, err)
	w.Stop()
}

func TestWatcher_PublishesConfigReloadedOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	initial := "config_format_version: \"2\"\nbudget:\n  default_task_budget_usd: 1.0\n"
	require.NoError(t, os.WriteFile(path, []byte(initial), 0644))

	loader := NewLoader(Sources{ProjectPath: path})
	bus := eventbus.New()

	events := make(chan eventbus.Event, 4)
	bus.Subscribe(eventbus.ConfigReloaded, func(ev eventbus.Event) { events <- ev })

	w, err := NewWatcher(loader, bus)
	require.NoError(t, err)
	w.Start()
	defer w.Stop()

	updated := "config_format_version: \"2\"\nbudget:\n  default_task_budget_usd: 2.5\n"
	require.NoError(t, os.WriteFile(path, []byte(updated), 0644))

	select {
	case ev := <-events:
		changed, _ := ev.Data["changedKeys"].([]string)
		require.Contains(t, changed, "budget")

		cfg, ok := ev.Data["config"].(*Config)
		require.True(t, ok)
		require.Equal(t, 2.5, cfg.Budget.DefaultTaskBudgetUSD)
	case <-time.After(5 * time.Second):
		t.Fatal("no config:reloaded event after file write")
	}
}

func TestWatcher_KeepsPreviousConfigOnBrokenWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("config_format_version: \"2\"\n"), 0644))

	loader := NewLoader(Sources{ProjectPath: path})
	bus := eventbus.New()
	events := make(chan eventbus.Event, 4)
	bus.Subscribe(eventbus.ConfigReloaded, func(ev eventbus.Event) { events <- ev })

	w, err := NewWatcher(loader, bus)
	require.NoError(t, err)
	w.Start()
	defer w.Stop()

	// An unknown top-level key fails the strict parse; the reload is
	// dropped and no event fires.
	require.NoError(t, os.WriteFile(path, []byte("config_format_version: \"2\"\nbogus_key: 1\n"), 0644))

	select {
	case ev := <-events:
		t.Fatalf("unexpected config:reloaded for broken config: %+v", ev.Data)
	case <-time.After(500 * time.Millisecond):
	}
}
