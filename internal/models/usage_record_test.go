package models

import (
	"math"
	"testing"

	"github.com/google/uuid"
)

func TestUsageRecord_ApplyTokens(t *testing.T) {
	tests := []struct {
		name          string
		perInput      float64
		perOutput     float64
		input         int
		output        int
		expectedTotal int
		expectedCost  float64
	}{
		{
			name:          "gpt-3.5-turbo pricing",
			perInput:      0.001 / 1000,
			perOutput:     0.002 / 1000,
			input:         2,
			output:        3,
			expectedTotal: 5,
			expectedCost:  2*0.000001 + 3*0.000002,
		},
		{
			name:          "zero tokens",
			perInput:      0.01 / 1000,
			perOutput:     0.03 / 1000,
			input:         0,
			output:        0,
			expectedTotal: 0,
			expectedCost:  0,
		},
		{
			name:          "no pricing snapshot",
			perInput:      0,
			perOutput:     0,
			input:         100,
			output:        250,
			expectedTotal: 350,
			expectedCost:  0,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := &UsageRecord{
				ID:                 uuid.New(),
				CostPerInputToken:  tc.perInput,
				CostPerOutputToken: tc.perOutput,
			}
			rec.ApplyTokens(tc.input, tc.output)

			if rec.TotalTokens != tc.expectedTotal {
				t.Errorf("TotalTokens = %d, want %d", rec.TotalTokens, tc.expectedTotal)
			}
			if rec.TotalTokens != rec.InputTokens+rec.OutputTokens {
				t.Errorf("TotalTokens = %d, want input+output = %d",
					rec.TotalTokens, rec.InputTokens+rec.OutputTokens)
			}
			if math.Abs(rec.TotalCost-tc.expectedCost) > 1e-12 {
				t.Errorf("TotalCost = %g, want %g", rec.TotalCost, tc.expectedCost)
			}
		})
	}
}

func TestUsageRecord_Finalize(t *testing.T) {
	rec := &UsageRecord{ID: uuid.New(), Status: StatusProcessing}

	if err := rec.Finalize(StatusSuccess); err != nil {
		t.Fatalf("Finalize(success) error = %v", err)
	}
	if rec.Status != StatusSuccess {
		t.Fatalf("Status = %s, want success", rec.Status)
	}

	// A second transition must be rejected, regardless of target.
	for _, status := range []RecordStatus{StatusFailure, StatusSuccess, StatusHallucination, StatusProcessing} {
		if err := rec.Finalize(status); err == nil {
			t.Errorf("Finalize(%s) after terminal state succeeded, want error", status)
		}
	}
	if rec.Status != StatusSuccess {
		t.Errorf("Status mutated to %s after rejected transition", rec.Status)
	}
}

func TestUsageRecord_Finalize_InvalidTarget(t *testing.T) {
	rec := &UsageRecord{Status: StatusProcessing}
	if err := rec.Finalize(StatusProcessing); err == nil {
		t.Error("Finalize(processing) succeeded, want error")
	}
	if err := rec.Finalize(RecordStatus("cancelled")); err == nil {
		t.Error("Finalize(cancelled) succeeded, want error")
	}
	if rec.Status != StatusProcessing {
		t.Errorf("Status = %s, want processing", rec.Status)
	}
}

func TestUsageRecord_MergeSafetyFlags(t *testing.T) {
	rec := &UsageRecord{}
	rec.MergeSafetyFlags(nil)
	if rec.SafetyFlags != nil {
		t.Error("merging nil flags allocated the map")
	}

	rec.MergeSafetyFlags(map[string]any{"content": map[string]any{"pii": true}})
	rec.MergeSafetyFlags(map[string]any{"quality": []string{"repetition"}})

	if len(rec.SafetyFlags) != 2 {
		t.Fatalf("SafetyFlags has %d entries, want 2", len(rec.SafetyFlags))
	}
	if _, ok := rec.SafetyFlags["content"]; !ok {
		t.Error("pre-check flags lost after post-check merge")
	}
}

func TestIdentity_Key(t *testing.T) {
	a := Identity{UserID: "u1", TeamID: "t1"}
	b := Identity{UserID: "u1", TeamID: "t2"}
	if a.Key() == b.Key() {
		t.Error("identities with different teams share a policy key")
	}
}
