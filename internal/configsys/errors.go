package configsys

import (
	"errors"
	"fmt"

	"github.com/substratehq/substrate/contracts"
)

// Sentinel errors for the Config System, layered on the shared
// taxonomy (contracts.ErrConfigIncompatibleFormat, contracts.ErrValidation).
var (
	// ErrUnknownTopLevelKey is returned when the document carries a
	// top-level key outside the strict schema.
	ErrUnknownTopLevelKey = errors.New("configsys: unknown top-level key")

	// ErrUseDeeperPath is returned by Set when key resolves to an object
	// rather than a scalar.
	ErrUseDeeperPath = errors.New("configsys: key resolves to an object, use a deeper path")

	// ErrKeyNotFound is returned by Get/Set when the dot-path does not
	// resolve to any field in the merged config.
	ErrKeyNotFound = errors.New("configsys: key not found")

	// ErrNoMigrationPath is returned when the loaded config's format
	// version is unsupported and no migration path to CURRENT exists.
	ErrNoMigrationPath = errors.New("configsys: no migration path to current config format")
)

// wrapIncompatible wraps msg with contracts.ErrConfigIncompatibleFormat
// so callers can errors.Is against the shared taxonomy.
func wrapIncompatible(msg string) error {
	return fmt.Errorf("%s: %w", msg, contracts.ErrConfigIncompatibleFormat)
}
