// Package providers adapts external LLM completion APIs to one uniform
// surface. Each provider differs only in request and response shape; the
// adapters normalize replies into a Completion and every failure into a
// ProviderError.
package providers

import (
	"context"
	"fmt"
	"time"

	"github.com/vasudvy/billfrog/internal/models"
)

// Options carries generation parameters through to the provider.
type Options struct {
	MaxTokens   int
	Temperature float64
	TopP        float64
}

// TokenUsage is the provider-reported token accounting, when present.
type TokenUsage struct {
	InputTokens  int
	OutputTokens int
}

// Completion is a normalized provider reply.
type Completion struct {
	Text         string
	FinishReason string
	// Usage is nil when the provider did not report token counts; the
	// pipeline falls back to its own estimate.
	Usage *TokenUsage
}

// ProviderError is the uniform failure shape for upstream calls. The
// orchestrator treats every variant (bad credential, unknown model, rate
// limit, network) identically as a failure outcome.
type ProviderError struct {
	Provider   models.Provider
	StatusCode int
	Message    string
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: %s (status %d)", e.Provider, e.Message, e.StatusCode)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

// Adapter is implemented by each concrete provider variant.
type Adapter interface {
	// Name returns the provider identifier (openai, anthropic, google)
	Name() models.Provider

	// Complete sends one prompt-completion request
	Complete(ctx context.Context, credential, model, prompt string, opts Options) (*Completion, error)

	// Validate performs one minimal completion-shaped call to check the
	// credential. It must not touch usage accounting.
	Validate(ctx context.Context, credential, model string) error
}

// Config tunes the shared HTTP behavior of the adapters.
type Config struct {
	// RequestTimeout bounds each upstream call so a hung provider cannot
	// pin a request forever.
	RequestTimeout time.Duration

	// BaseURL overrides per provider, keyed by provider name. Used for
	// self-hosted gateways and tests.
	BaseURLs map[models.Provider]string
}

// DefaultConfig returns the default adapter configuration
func DefaultConfig() Config {
	return Config{RequestTimeout: 60 * time.Second}
}

func (c Config) baseURL(provider models.Provider, fallback string) string {
	if url, ok := c.BaseURLs[provider]; ok && url != "" {
		return url
	}
	return fallback
}
