package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Provider identifies an external LLM completion API.
type Provider string

const (
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
	ProviderGoogle    Provider = "google"
)

// KnownProvider reports whether p is one of the supported providers.
func KnownProvider(p Provider) bool {
	switch p {
	case ProviderOpenAI, ProviderAnthropic, ProviderGoogle:
		return true
	}
	return false
}

// RecordStatus is the lifecycle state of a usage record. A record moves
// from processing to exactly one terminal state and never back.
type RecordStatus string

const (
	StatusProcessing    RecordStatus = "processing"
	StatusSuccess       RecordStatus = "success"
	StatusFailure       RecordStatus = "failure"
	StatusHallucination RecordStatus = "hallucination"
)

// MaxPromptLength is the hard cap on accepted prompt size in characters.
const MaxPromptLength = 50000

// Identity scopes rate and cost policy windows. All fields are opaque
// caller-supplied strings; they are not validated against a user registry.
type Identity struct {
	UserID    string `json:"user_id,omitempty"`
	TeamID    string `json:"team_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

// Key returns a stable string form used to scope policy windows.
func (i Identity) Key() string {
	return i.UserID + "/" + i.TeamID
}

// GenerationOptions carries the caller's generation parameters. RetryOf
// references the record a caller-initiated retry is re-running.
type GenerationOptions struct {
	MaxTokens   int     `json:"max_tokens,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
	TopP        float64 `json:"top_p,omitempty"`
	RetryOf     string  `json:"retry_of,omitempty"`
}

// UsageRecord is one persisted outcome of a tracked completion request.
// It is written exactly once, after the outcome is known, and is immutable
// afterwards.
type UsageRecord struct {
	ID        uuid.UUID `db:"id" json:"id"`
	UserID    string    `db:"user_id" json:"user_id,omitempty"`
	TeamID    string    `db:"team_id" json:"team_id,omitempty"`
	SessionID string    `db:"session_id" json:"session_id,omitempty"`

	Provider  Provider `db:"model_provider" json:"model_provider"`
	ModelName string   `db:"model_name" json:"model_name"`
	Prompt    string   `db:"prompt" json:"prompt"`
	Options   JSONB    `db:"options" json:"options,omitempty"`

	Status       RecordStatus `db:"status" json:"status"`
	Response     string       `db:"response" json:"response,omitempty"`
	ErrorMessage string       `db:"error_message" json:"error_message,omitempty"`

	InputTokens  int `db:"input_tokens" json:"input_tokens"`
	OutputTokens int `db:"output_tokens" json:"output_tokens"`
	TotalTokens  int `db:"total_tokens" json:"total_tokens"`

	// Per-token prices are a snapshot taken at call time, not a live
	// reference into the pricing table.
	CostPerInputToken  float64 `db:"cost_per_input_token" json:"cost_per_input_token"`
	CostPerOutputToken float64 `db:"cost_per_output_token" json:"cost_per_output_token"`
	TotalCost          float64 `db:"total_cost" json:"total_cost"`

	SafetyFlags    JSONB `db:"safety_flags" json:"safety_flags,omitempty"`
	RetryCount     int   `db:"retry_count" json:"retry_count"`
	ResponseTimeMS int   `db:"response_time_ms" json:"response_time_ms"`

	Metadata  JSONB     `db:"metadata" json:"metadata,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Identity returns the policy identity of the record's caller.
func (r *UsageRecord) Identity() Identity {
	return Identity{UserID: r.UserID, TeamID: r.TeamID, SessionID: r.SessionID}
}

// ApplyTokens sets the token counts and derives totals from the price
// snapshot already on the record.
func (r *UsageRecord) ApplyTokens(input, output int) {
	r.InputTokens = input
	r.OutputTokens = output
	r.TotalTokens = input + output
	r.TotalCost = float64(input)*r.CostPerInputToken + float64(output)*r.CostPerOutputToken
}

// Finalize transitions the record out of processing. It returns an error
// if the record already reached a terminal state or the target state is
// not terminal.
func (r *UsageRecord) Finalize(status RecordStatus) error {
	if r.Status != StatusProcessing {
		return fmt.Errorf("usage record %s already finalized as %s", r.ID, r.Status)
	}
	switch status {
	case StatusSuccess, StatusFailure, StatusHallucination:
		r.Status = status
		return nil
	}
	return fmt.Errorf("invalid terminal status %q", status)
}

// MergeSafetyFlags folds flags from a policy or quality pass into the
// record, namespaced by filter name.
func (r *UsageRecord) MergeSafetyFlags(flags map[string]any) {
	if len(flags) == 0 {
		return
	}
	if r.SafetyFlags == nil {
		r.SafetyFlags = JSONB{}
	}
	for k, v := range flags {
		r.SafetyFlags[k] = v
	}
}
