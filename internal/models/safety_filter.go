package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// FilterType discriminates the rule payload a safety filter carries.
type FilterType string

const (
	FilterContent FilterType = "content"
	FilterCost    FilterType = "cost"
	FilterRate    FilterType = "rate"
	FilterModel   FilterType = "model"
)

// SafetyFilter is an operator-configured rule evaluated against every
// tracked request. Filters are independently toggle-able; the raw Rules
// payload is parsed into the typed variant matching FilterType.
type SafetyFilter struct {
	ID        uuid.UUID       `db:"id" json:"id"`
	Name      string          `db:"name" json:"name"`
	Type      FilterType      `db:"filter_type" json:"filter_type"`
	Rules     json.RawMessage `db:"rules" json:"rules"`
	IsActive  bool            `db:"is_active" json:"is_active"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt time.Time       `db:"updated_at" json:"updated_at"`
}

// ContentRules configure the content filter.
type ContentRules struct {
	BlockedKeywords []string `json:"blocked_keywords,omitempty"`
	MaxPromptLength int      `json:"max_prompt_length,omitempty"`
	FlagPII         bool     `json:"flag_pii,omitempty"`
	BlockPII        bool     `json:"block_pii,omitempty"`
}

// CostRules configure the cost filter. Ceilings are in the pricing
// currency; zero means the ceiling is not enforced.
type CostRules struct {
	MaxCostPerCall float64 `json:"max_cost_per_call,omitempty"`
	MaxCostPerDay  float64 `json:"max_cost_per_day,omitempty"`
}

// RateRules configure the rate filter. Each threshold is enforced
// independently; zero disables that window.
type RateRules struct {
	MaxCallsPerMinute int `json:"max_calls_per_minute,omitempty"`
	MaxCallsPerHour   int `json:"max_calls_per_hour,omitempty"`
	MaxCallsPerDay    int `json:"max_calls_per_day,omitempty"`
}

// ModelRules configure the model-scope filter. Entries are
// "provider/model" pairs; an empty allow list permits everything not
// explicitly blocked.
type ModelRules struct {
	AllowedModels []string `json:"allowed_models,omitempty"`
	BlockedModels []string `json:"blocked_models,omitempty"`
}

// ParseRules decodes the raw rule payload into the variant matching the
// filter's type. Unknown fields are rejected so malformed rules surface
// at load time, not during evaluation.
func (f *SafetyFilter) ParseRules() (any, error) {
	if len(f.Rules) == 0 {
		return nil, fmt.Errorf("filter %q: empty rules payload", f.Name)
	}
	var target any
	switch f.Type {
	case FilterContent:
		target = &ContentRules{}
	case FilterCost:
		target = &CostRules{}
	case FilterRate:
		target = &RateRules{}
	case FilterModel:
		target = &ModelRules{}
	default:
		return nil, fmt.Errorf("filter %q: unknown filter type %q", f.Name, f.Type)
	}
	if err := strictUnmarshal(f.Rules, target); err != nil {
		return nil, fmt.Errorf("filter %q: malformed %s rules: %w", f.Name, f.Type, err)
	}
	return target, nil
}

func strictUnmarshal(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
