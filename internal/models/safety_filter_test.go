package models

import (
	"encoding/json"
	"testing"
)

func TestSafetyFilter_ParseRules(t *testing.T) {
	tests := []struct {
		name       string
		filterType FilterType
		rules      string
		wantErr    bool
		check      func(t *testing.T, parsed any)
	}{
		{
			name:       "content rules",
			filterType: FilterContent,
			rules:      `{"blocked_keywords":["bomb"],"max_prompt_length":1000,"flag_pii":true}`,
			check: func(t *testing.T, parsed any) {
				rules, ok := parsed.(*ContentRules)
				if !ok {
					t.Fatalf("parsed type = %T, want *ContentRules", parsed)
				}
				if len(rules.BlockedKeywords) != 1 || rules.BlockedKeywords[0] != "bomb" {
					t.Errorf("BlockedKeywords = %v", rules.BlockedKeywords)
				}
				if !rules.FlagPII || rules.BlockPII {
					t.Errorf("PII flags = flag:%v block:%v", rules.FlagPII, rules.BlockPII)
				}
			},
		},
		{
			name:       "cost rules",
			filterType: FilterCost,
			rules:      `{"max_cost_per_call":0.5,"max_cost_per_day":10}`,
			check: func(t *testing.T, parsed any) {
				rules := parsed.(*CostRules)
				if rules.MaxCostPerCall != 0.5 || rules.MaxCostPerDay != 10 {
					t.Errorf("cost rules = %+v", rules)
				}
			},
		},
		{
			name:       "rate rules",
			filterType: FilterRate,
			rules:      `{"max_calls_per_minute":2}`,
			check: func(t *testing.T, parsed any) {
				rules := parsed.(*RateRules)
				if rules.MaxCallsPerMinute != 2 || rules.MaxCallsPerHour != 0 {
					t.Errorf("rate rules = %+v", rules)
				}
			},
		},
		{
			name:       "model rules",
			filterType: FilterModel,
			rules:      `{"allowed_models":["openai/gpt-4o"],"blocked_models":["google/gemini-exp"]}`,
			check: func(t *testing.T, parsed any) {
				rules := parsed.(*ModelRules)
				if len(rules.AllowedModels) != 1 || len(rules.BlockedModels) != 1 {
					t.Errorf("model rules = %+v", rules)
				}
			},
		},
		{
			name:       "unknown field rejected at load time",
			filterType: FilterRate,
			rules:      `{"max_calls":5}`,
			wantErr:    true,
		},
		{
			name:       "wrong payload shape for type",
			filterType: FilterCost,
			rules:      `{"blocked_keywords":["x"]}`,
			wantErr:    true,
		},
		{
			name:       "empty payload",
			filterType: FilterContent,
			rules:      ``,
			wantErr:    true,
		},
		{
			name:       "unknown filter type",
			filterType: FilterType("geo"),
			rules:      `{}`,
			wantErr:    true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := &SafetyFilter{
				Name:  tc.name,
				Type:  tc.filterType,
				Rules: json.RawMessage(tc.rules),
			}
			parsed, err := f.ParseRules()
			if tc.wantErr {
				if err == nil {
					t.Fatalf("ParseRules() = %+v, want error", parsed)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseRules() error = %v", err)
			}
			if tc.check != nil {
				tc.check(t, parsed)
			}
		})
	}
}

func TestPricingEntry_CostFor(t *testing.T) {
	entry := &PricingEntry{InputCostPer1K: 0.001, OutputCostPer1K: 0.002}

	got := entry.CostFor(1000, 1000)
	if got != 0.003 {
		t.Errorf("CostFor(1000, 1000) = %g, want 0.003", got)
	}
	if entry.CostFor(0, 0) != 0 {
		t.Error("CostFor(0, 0) != 0")
	}
}
