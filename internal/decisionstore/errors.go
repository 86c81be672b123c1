package decisionstore

import (
	"errors"
	"fmt"

	"github.com/substratehq/substrate/contracts"
)

// Sentinel errors for the Decision Store, layered on top of the
// shared taxonomy in contracts/errors.go (contracts.ErrNotFound,
// contracts.ErrConflict, contracts.ErrChainTooDeep, contracts.ErrValidation)
// via errors.Is / fmt.Errorf("%w", ...) wrapping.
var (
	// ErrAlreadySuperseded is returned by Supersede when the original
	// decision's superseded_by is already set.
	ErrAlreadySuperseded = fmt.Errorf("decision already superseded: %w", contracts.ErrConflict)

	// ErrEmptyKey is returned when a decision is created/upserted with
	// an empty category or key.
	ErrEmptyKey = fmt.Errorf("decision category and key must be non-empty: %w", contracts.ErrValidation)

	// ErrChainTooDeep is returned by GetAmendmentRunChain when the
	// parent_run_id walk exceeds maxDepth.
	ErrChainTooDeep = fmt.Errorf("amendment chain exceeds max depth: %w", contracts.ErrChainTooDeep)

	// ErrParentRunNotCompleted is returned at run-create time when
	// parent_run_id references a run whose status isn't 'completed'.
	ErrParentRunNotCompleted = errors.New("parent run is not completed")
)
