package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/substratehq/substrate/internal/cliout"
	"github.com/substratehq/substrate/internal/configsys"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and edit the layered configuration",
	}
	cmd.AddCommand(newConfigGetCmd())
	cmd.AddCommand(newConfigSetCmd())
	cmd.AddCommand(newConfigShowCmd())
	return cmd
}

func newConfigGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Print one merged config value (dot-separated key)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			value, err := configsys.Get(cfg, args[0])
			if err != nil {
				return usageError{err}
			}
			if flagJSON {
				return cliout.NewEncoder(cmd.OutOrStdout(), "config get").Emit(map[string]any{
					"key": args[0], "value": value,
				})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%v\n", value)
			return nil
		},
	}
}

func newConfigSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set one scalar value in the project config",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, raw := args[0], args[1]
			// The same coercion rules as ADT_* environment variables:
			// bools and numbers become typed values, everything else
			// stays a string.
			value := configsys.CoerceEnvValue(raw)

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if _, err := configsys.Set(cfg, key, value); err != nil {
				return usageError{err}
			}

			// Apply the same change to the project layer only, then
			// rewrite it; the next load rebuilds the merged view.
			path := projectConfigPath()
			project := &configsys.Config{ConfigFormatVersion: configsys.CurrentFormatVersion}
			if data, err := os.ReadFile(path); err == nil {
				if err := yaml.Unmarshal(data, project); err != nil {
					return fmt.Errorf("parsing %s: %w", path, err)
				}
			}
			updated, err := configsys.Set(project, key, value)
			if err != nil {
				return usageError{err}
			}

			data, err := yaml.Marshal(updated)
			if err != nil {
				return fmt.Errorf("marshaling config: %w", err)
			}
			if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
				return fmt.Errorf("creating %s: %w", filepath.Dir(path), err)
			}
			if err := os.WriteFile(path, data, 0644); err != nil {
				return fmt.Errorf("writing %s: %w", path, err)
			}

			if flagJSON {
				return cliout.NewEncoder(cmd.OutOrStdout(), "config set").Emit(map[string]any{
					"key": key, "value": value, "path": path,
				})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s = %v (written to %s)\n", key, value, path)
			return nil
		},
	}
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the merged configuration (secrets masked)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			out, err := configsys.Export(cfg)
			if err != nil {
				return err
			}
			if flagJSON {
				return cliout.NewEncoder(cmd.OutOrStdout(), "config show").Emit(map[string]any{
					"yaml": string(out),
				})
			}
			fmt.Fprint(cmd.OutOrStdout(), string(out))
			return nil
		},
	}
}
