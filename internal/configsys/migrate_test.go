package configsys

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/substratehq/substrate/contracts"
)

func TestMigrateFile_V1ToV2RenamesBudgetCap(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	original := `config_format_version: "1"
global:
  log_level: info
  budget_cap: 100
`
	require.NoError(t, os.WriteFile(path, []byte(original), 0o644))

	changed, err := MigrateFile(path, DefaultMigrator())
	require.NoError(t, err)
	require.Contains(t, changed, "global")

	migratedBytes, err := os.ReadFile(path)
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, yaml.Unmarshal(migratedBytes, &doc))
	require.Equal(t, "2", doc["config_format_version"])

	global := doc["global"].(map[string]any)
	require.NotContains(t, global, "budget_cap")
	require.Equal(t, 100, global["budget_cap_tokens"])
}

func TestMigrateFile_WritesBackupBeforeTransform(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	original := `config_format_version: "1"
global:
  budget_cap: 5
`
	require.NoError(t, os.WriteFile(path, []byte(original), 0o644))

	_, err := MigrateFile(path, DefaultMigrator())
	require.NoError(t, err)

	backupPath := path + ".bak.v1"
	backup, err := os.ReadFile(backupPath)
	require.NoError(t, err)
	require.Equal(t, original, string(backup), "backup must hold the pre-migration content")
}

func TestMigrateFile_CurrentVersionIsNoop(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	original := `config_format_version: "2"
global:
  log_level: info
`
	require.NoError(t, os.WriteFile(path, []byte(original), 0o644))

	changed, err := MigrateFile(path, DefaultMigrator())
	require.NoError(t, err)
	require.Nil(t, changed)

	unchanged, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, original, string(unchanged))
}

func TestMigrateFile_NoPathReturnsIncompatibleFormatError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`config_format_version: "99"`+"\n"), 0o644))

	_, err := MigrateFile(path, DefaultMigrator())
	require.Error(t, err)
	require.ErrorIs(t, err, contracts.ErrConfigIncompatibleFormat)
}
