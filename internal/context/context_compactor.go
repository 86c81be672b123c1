package context

import (
	"fmt"

	"github.com/substratehq/substrate/contracts"
)

const (
	// StrategyTruncateOldest drops the oldest messages until the bundle
	// fits the policy's token ceiling.
	StrategyTruncateOldest = "truncate-oldest"
	// StrategyKeepLastN keeps only the last N messages.
	StrategyKeepLastN = "keep-last-n"
	// StrategyNone applies no compaction; the size check still runs.
	StrategyNone = "none"

	defaultCharsPerToken = 4
)

// contextCompactor implements contracts.ContextCompactor. Only Messages
// are compacted; Memory and Tools always survive intact, since dropping
// memory entries would silently change task semantics.
type contextCompactor struct {
	charsPerToken int
}

// NewContextCompactor creates a ContextCompactor with the default
// chars-per-token ratio.
func NewContextCompactor() contracts.ContextCompactor {
	return &contextCompactor{charsPerToken: defaultCharsPerToken}
}

// NewContextCompactorWithRatio creates a ContextCompactor with a custom
// ratio.
func NewContextCompactorWithRatio(charsPerToken int) contracts.ContextCompactor {
	if charsPerToken <= 0 {
		charsPerToken = defaultCharsPerToken
	}
	return &contextCompactor{charsPerToken: charsPerToken}
}

// Compact returns a compacted copy of bundle; the input is never
// mutated. An unknown strategy compacts nothing. When policy.MaxTokens
// is set and the bundle still exceeds it after compaction, Compact
// fails with ErrContextTooLarge - the caller decides whether to retry
// with a stricter policy or fail the task.
func (c *contextCompactor) Compact(bundle *contracts.ContextBundle, policy contracts.ContextPolicy) (*contracts.ContextBundle, error) {
	if bundle == nil {
		return nil, contracts.ErrInvalidInput
	}

	result := c.copyBundle(bundle)

	switch policy.Strategy {
	case StrategyKeepLastN:
		result = applyKeepLastN(result, policy.KeepLastN)
	case StrategyTruncateOldest:
		result = c.applyTruncateOldest(result, policy.MaxTokens)
	case StrategyNone, "":
	default:
	}

	if policy.MaxTokens > 0 {
		tokens := c.estimateTokens(result)
		if tokens > policy.MaxTokens {
			return nil, fmt.Errorf("context has %d tokens after compaction, exceeds limit %d: %w",
				tokens, policy.MaxTokens, contracts.ErrContextTooLarge)
		}
	}

	return result, nil
}

func (c *contextCompactor) copyBundle(bundle *contracts.ContextBundle) *contracts.ContextBundle {
	result := &contracts.ContextBundle{
		Messages: make([]string, len(bundle.Messages)),
		Memory:   make(map[string]string, len(bundle.Memory)),
		Tools:    make(map[string]string, len(bundle.Tools)),
	}
	copy(result.Messages, bundle.Messages)
	for k, v := range bundle.Memory {
		result.Memory[k] = v
	}
	for k, v := range bundle.Tools {
		result.Tools[k] = v
	}
	return result
}

func applyKeepLastN(bundle *contracts.ContextBundle, n int) *contracts.ContextBundle {
	if n <= 0 || n >= len(bundle.Messages) {
		return bundle
	}
	bundle.Messages = bundle.Messages[len(bundle.Messages)-n:]
	return bundle
}

// applyTruncateOldest drops messages front-first. Memory and Tools are
// not trimmed, so a bundle whose fixed parts alone exceed the ceiling
// ends with zero messages and fails the final size check.
func (c *contextCompactor) applyTruncateOldest(bundle *contracts.ContextBundle, maxTokens contracts.TokenCount) *contracts.ContextBundle {
	if maxTokens <= 0 {
		return bundle
	}
	for c.estimateTokens(bundle) > maxTokens && len(bundle.Messages) > 0 {
		bundle.Messages = bundle.Messages[1:]
	}
	return bundle
}

func (c *contextCompactor) estimateTokens(bundle *contracts.ContextBundle) contracts.TokenCount {
	var totalChars int
	for _, msg := range bundle.Messages {
		totalChars += len(msg)
	}
	for _, v := range bundle.Memory {
		totalChars += len(v)
	}
	for _, v := range bundle.Tools {
		totalChars += len(v)
	}
	return contracts.TokenCount(totalChars / c.charsPerToken)
}
