package models

import (
	"time"

	"github.com/google/uuid"
)

// PricingEntry is one row of the append-only price history for a
// (provider, model) pair. Updating a price deactivates the prior entry
// rather than overwriting it, so past records keep their cost basis.
type PricingEntry struct {
	ID              uuid.UUID `db:"id" json:"id"`
	Provider        Provider  `db:"provider" json:"provider"`
	ModelName       string    `db:"model_name" json:"model_name"`
	InputCostPer1K  float64   `db:"input_cost_per_1k" json:"input_cost_per_1k"`
	OutputCostPer1K float64   `db:"output_cost_per_1k" json:"output_cost_per_1k"`
	Currency        string    `db:"currency" json:"currency"`
	EffectiveDate   time.Time `db:"effective_date" json:"effective_date"`
	IsActive        bool      `db:"is_active" json:"is_active"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
}

// PerInputToken returns the snapshot price of a single input token.
func (p *PricingEntry) PerInputToken() float64 {
	return p.InputCostPer1K / 1000.0
}

// PerOutputToken returns the snapshot price of a single output token.
func (p *PricingEntry) PerOutputToken() float64 {
	return p.OutputCostPer1K / 1000.0
}

// CostFor computes the cost of a token pair under this entry.
func (p *PricingEntry) CostFor(inputTokens, outputTokens int) float64 {
	return float64(inputTokens)*p.PerInputToken() + float64(outputTokens)*p.PerOutputToken()
}
