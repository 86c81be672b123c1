package cost

import (
	"errors"
	"math"
	"testing"

	"github.com/substratehq/substrate/contracts"
)

func approxEq(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestCostCalculator_Estimate(t *testing.T) {
	c := NewCostCalculator()

	// claude-3-haiku: (0.25 + 1.25) / 2 = 0.75 USD per 1M average.
	got, err := c.Estimate(1_000_000, "claude-3-haiku-20240307")
	if err != nil {
		t.Fatalf("Estimate: %v", err)
	}
	if !approxEq(got.Amount, 0.75) {
		t.Fatalf("Amount = %v, want 0.75", got.Amount)
	}
	if got.Currency != "USD" {
		t.Fatalf("Currency = %v, want USD", got.Currency)
	}
}

func TestCostCalculator_EstimateSplit(t *testing.T) {
	c := NewCostCalculator()

	// gpt-5.1-codex: 1.25 in / 10.0 out per 1M.
	got, err := c.EstimateSplit(2_000_000, 100_000, "gpt-5.1-codex")
	if err != nil {
		t.Fatalf("EstimateSplit: %v", err)
	}
	want := 2*1.25 + 0.1*10.0
	if !approxEq(got.Amount, want) {
		t.Fatalf("Amount = %v, want %v", got.Amount, want)
	}
}

func TestCostCalculator_UnknownModel(t *testing.T) {
	c := NewCostCalculator()
	if _, err := c.Estimate(100, "no-such-model"); !errors.Is(err, contracts.ErrModelUnknown) {
		t.Fatalf("Estimate unknown = %v, want ErrModelUnknown", err)
	}
	if _, err := c.EstimateSplit(100, 100, "no-such-model"); !errors.Is(err, contracts.ErrModelUnknown) {
		t.Fatalf("EstimateSplit unknown = %v, want ErrModelUnknown", err)
	}
}

func TestCostCalculator_ZeroTokens(t *testing.T) {
	c := NewCostCalculator()
	got, err := c.Estimate(0, "claude-sonnet-4-5-20250929")
	if err != nil {
		t.Fatalf("Estimate: %v", err)
	}
	if got.Amount != 0 {
		t.Fatalf("Amount = %v, want 0", got.Amount)
	}
}
