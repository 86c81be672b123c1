package cost

import (
	"github.com/substratehq/substrate/contracts"
)

const defaultCurrency = contracts.Currency("USD")

// costCalculator implements contracts.CostCalculator against a
// ModelCatalog's per-1M-token prices.
type costCalculator struct {
	catalog  contracts.ModelCatalog
	currency contracts.Currency
}

// NewCostCalculator creates a CostCalculator over the built-in catalog.
func NewCostCalculator() contracts.CostCalculator {
	return &costCalculator{
		catalog:  NewModelCatalog(),
		currency: defaultCurrency,
	}
}

// NewCostCalculatorWithCatalog creates a CostCalculator with a custom catalog.
func NewCostCalculatorWithCatalog(catalog contracts.ModelCatalog, currency contracts.Currency) contracts.CostCalculator {
	if catalog == nil {
		catalog = NewModelCatalog()
	}
	if currency == "" {
		currency = defaultCurrency
	}
	return &costCalculator{
		catalog:  catalog,
		currency: currency,
	}
}

// Estimate prices tokens at the model's average per-token rate, for
// callers that only have a single undifferentiated count.
func (c *costCalculator) Estimate(tokens contracts.TokenCount, model contracts.ModelID) (contracts.Cost, error) {
	info, ok := c.catalog.Get(model)
	if !ok {
		return contracts.Cost{}, contracts.ErrModelUnknown
	}
	amount := float64(tokens) * info.AverageCostPer1M() / 1_000_000
	return contracts.Cost{Amount: amount, Currency: c.currency}, nil
}

// EstimateSplit prices input and output tokens at their separate rates.
// Adapters report the split in their dispatch result; this is the
// accurate path and Estimate is the fallback.
func (c *costCalculator) EstimateSplit(inputTokens, outputTokens contracts.TokenCount, model contracts.ModelID) (contracts.Cost, error) {
	info, ok := c.catalog.Get(model)
	if !ok {
		return contracts.Cost{}, contracts.ErrModelUnknown
	}
	amount := (float64(inputTokens)*info.InputCostPer1M + float64(outputTokens)*info.OutputCostPer1M) / 1_000_000
	return contracts.Cost{Amount: amount, Currency: c.currency}, nil
}
