package cost

import (
	"github.com/substratehq/substrate/contracts"
)

// defaultCharsPerToken is the character-per-token heuristic used before
// dispatch, when the adapter has not yet reported real counts.
const defaultCharsPerToken = 4

// tokenEstimator implements contracts.TokenEstimator.
type tokenEstimator struct {
	charsPerToken int
}

// NewTokenEstimator creates a TokenEstimator with the default ratio.
func NewTokenEstimator() contracts.TokenEstimator {
	return &tokenEstimator{charsPerToken: defaultCharsPerToken}
}

// NewTokenEstimatorWithRatio creates a TokenEstimator with a custom
// chars-per-token ratio.
func NewTokenEstimatorWithRatio(charsPerToken int) contracts.TokenEstimator {
	if charsPerToken <= 0 {
		charsPerToken = defaultCharsPerToken
	}
	return &tokenEstimator{charsPerToken: charsPerToken}
}

// Estimate sums every string the task will carry to the agent - prompt,
// routed dependency outputs, metadata, and the context bundle - and
// divides by the ratio. Non-empty input always estimates at least one
// token so a tiny prompt cannot slip past a budget check at zero cost.
func (e *tokenEstimator) Estimate(input *contracts.TaskInput, bundle *contracts.ContextBundle) (contracts.TokenCount, error) {
	if input == nil {
		return 0, contracts.ErrInvalidInput
	}

	totalChars := len(input.Prompt)
	for _, v := range input.Inputs {
		totalChars += len(v)
	}
	for _, v := range input.Metadata {
		totalChars += len(v)
	}

	if bundle != nil {
		for _, msg := range bundle.Messages {
			totalChars += len(msg)
		}
		for _, v := range bundle.Memory {
			totalChars += len(v)
		}
		for _, v := range bundle.Tools {
			totalChars += len(v)
		}
	}

	tokens := totalChars / e.charsPerToken
	if totalChars > 0 && tokens == 0 {
		tokens = 1
	}
	return contracts.TokenCount(tokens), nil
}
