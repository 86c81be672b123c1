package context

import (
	"errors"
	"strings"
	"testing"

	"github.com/substratehq/substrate/contracts"
)

func bundleWithMessages(msgs ...string) *contracts.ContextBundle {
	return &contracts.ContextBundle{
		Messages: msgs,
		Memory:   map[string]string{},
		Tools:    map[string]string{},
	}
}

func TestCompactor_KeepLastN(t *testing.T) {
	c := NewContextCompactor()
	bundle := bundleWithMessages("one", "two", "three", "four")

	out, err := c.Compact(bundle, contracts.ContextPolicy{Strategy: StrategyKeepLastN, KeepLastN: 2})
	if err != nil {
		t.Fatalf("Compact: %v", err)
	}
	if len(out.Messages) != 2 || out.Messages[0] != "three" || out.Messages[1] != "four" {
		t.Fatalf("messages = %v, want [three four]", out.Messages)
	}
	// Original is untouched.
	if len(bundle.Messages) != 4 {
		t.Fatal("Compact must not mutate its input")
	}
}

func TestCompactor_TruncateOldest(t *testing.T) {
	c := NewContextCompactor()
	// 4 messages x 40 chars = 40 tokens at 4 chars/token.
	msg := strings.Repeat("x", 40)
	bundle := bundleWithMessages(msg, msg, msg, msg)

	out, err := c.Compact(bundle, contracts.ContextPolicy{Strategy: StrategyTruncateOldest, MaxTokens: 20})
	if err != nil {
		t.Fatalf("Compact: %v", err)
	}
	if len(out.Messages) != 2 {
		t.Fatalf("got %d messages, want 2", len(out.Messages))
	}
}

func TestCompactor_TooLargeAfterCompaction(t *testing.T) {
	c := NewContextCompactor()
	bundle := &contracts.ContextBundle{
		Messages: []string{},
		// Memory is never trimmed, so a large memory blows the ceiling.
		Memory: map[string]string{"big": strings.Repeat("m", 400)},
		Tools:  map[string]string{},
	}

	_, err := c.Compact(bundle, contracts.ContextPolicy{Strategy: StrategyTruncateOldest, MaxTokens: 10})
	if !errors.Is(err, contracts.ErrContextTooLarge) {
		t.Fatalf("Compact = %v, want ErrContextTooLarge", err)
	}
}

func TestCompactor_NoneAndUnknownStrategies(t *testing.T) {
	c := NewContextCompactor()
	bundle := bundleWithMessages("a", "b")

	for _, strategy := range []string{StrategyNone, "", "some-future-strategy"} {
		out, err := c.Compact(bundle, contracts.ContextPolicy{Strategy: strategy})
		if err != nil {
			t.Fatalf("Compact(%q): %v", strategy, err)
		}
		if len(out.Messages) != 2 {
			t.Fatalf("Compact(%q) dropped messages", strategy)
		}
	}
}

func TestCompactor_NilBundle(t *testing.T) {
	c := NewContextCompactor()
	if _, err := c.Compact(nil, contracts.ContextPolicy{}); !errors.Is(err, contracts.ErrInvalidInput) {
		t.Fatalf("Compact(nil) = %v, want ErrInvalidInput", err)
	}
}
