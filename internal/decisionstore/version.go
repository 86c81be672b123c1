package decisionstore

import (
	"fmt"
	"strconv"

	"github.com/substratehq/substrate/contracts"
)

// ParseVersion parses a plan version string into its integer form.
// Versions are positive integers; anything else is a ValidationError.
func ParseVersion(v string) (int, error) {
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("decisionstore: parse version %q: %w", v, contracts.ErrValidation)
	}
	if n <= 0 {
		return 0, fmt.Errorf("decisionstore: version %q must be positive: %w", v, contracts.ErrValidation)
	}
	return n, nil
}

// GetNextVersion returns the version string that follows v.
// GetNextVersion(v) == strconv.Itoa(ParseVersion(v)+1) for all valid v.
func GetNextVersion(v string) (string, error) {
	n, err := ParseVersion(v)
	if err != nil {
		return "", err
	}
	return strconv.Itoa(n + 1), nil
}
