// Package main is the substrate CLI: run task graphs against coding
// agents, validate graph documents, and inspect or edit the layered
// configuration.
package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/substratehq/substrate/contracts"
	"github.com/substratehq/substrate/internal/configsys"
	"github.com/substratehq/substrate/internal/logging"
)

// Exit codes, stable across every subcommand.
const (
	exitOK         = 0
	exitRuntime    = 1
	exitValidation = 2
)

// usageError marks an error as a usage/validation failure (exit 2).
type usageError struct{ err error }

func (u usageError) Error() string { return u.err.Error() }
func (u usageError) Unwrap() error { return u.err }

var (
	flagJSON       bool
	flagConfigPath string
)

func main() {
	root := &cobra.Command{
		Use:           "substrate",
		Short:         "Orchestrate heterogeneous AI coding agents over task graphs",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().BoolVar(&flagJSON, "json", false, "emit NDJSON envelopes instead of human-readable output")
	root.PersistentFlags().StringVar(&flagConfigPath, "config", "", "project config path (default .substrate/config.yaml)")

	root.AddCommand(newRunCmd())
	root.AddCommand(newGraphCmd())
	root.AddCommand(newConfigCmd())
	root.AddCommand(newServeCmd())

	if err := root.Execute(); err != nil {
		logging.Errorf("%v", err)
		os.Exit(exitCodeFor(err))
	}
	os.Exit(exitOK)
}

// exitCodeFor maps an error to the CLI's stable exit codes: validation
// and usage failures exit 2, everything else 1.
func exitCodeFor(err error) int {
	var usage usageError
	switch {
	case errors.As(err, &usage),
		errors.Is(err, contracts.ErrValidation),
		errors.Is(err, contracts.ErrInvalidInput),
		errors.Is(err, contracts.ErrDAGCycle),
		errors.Is(err, contracts.ErrDAGInvalid),
		errors.Is(err, contracts.ErrDepNotFound),
		errors.Is(err, configsys.ErrUnknownTopLevelKey),
		errors.Is(err, configsys.ErrUseDeeperPath),
		errors.Is(err, configsys.ErrKeyNotFound):
		return exitValidation
	default:
		return exitRuntime
	}
}

// projectConfigPath resolves the project-layer config path.
func projectConfigPath() string {
	if flagConfigPath != "" {
		return flagConfigPath
	}
	return filepath.Join(".substrate", "config.yaml")
}

// globalConfigPath resolves the user-level config path, empty when no
// home directory is resolvable.
func globalConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".substrate", "config.yaml")
}

// configLoader builds the layered loader over the global and project
// config paths; long-running commands hand the same loader to a
// configsys.Watcher for hot reload.
func configLoader() *configsys.Loader {
	return configsys.NewLoader(configsys.Sources{
		GlobalPath:  globalConfigPath(),
		ProjectPath: projectConfigPath(),
	})
}

// loadConfig assembles the layered configuration.
func loadConfig() (*configsys.Config, error) {
	cfg, err := configLoader().Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}
