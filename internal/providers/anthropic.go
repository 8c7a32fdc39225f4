package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/vasudvy/billfrog/internal/models"
)

const (
	anthropicDefaultBaseURL = "https://api.anthropic.com/v1"
	anthropicVersion        = "2023-06-01"
)

// AnthropicAdapter talks to the Anthropic messages API
type AnthropicAdapter struct {
	client  *http.Client
	baseURL string
}

// NewAnthropicAdapter creates an Anthropic adapter with the shared HTTP settings
func NewAnthropicAdapter(cfg Config) *AnthropicAdapter {
	return &AnthropicAdapter{
		client:  newHTTPClient(cfg.RequestTimeout),
		baseURL: cfg.baseURL(models.ProviderAnthropic, anthropicDefaultBaseURL),
	}
}

// Name returns the provider identifier
func (a *AnthropicAdapter) Name() models.Provider {
	return models.ProviderAnthropic
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	Messages    []anthropicMessage `json:"messages"`
	Temperature float64            `json:"temperature,omitempty"`
	TopP        float64            `json:"top_p,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// anthropicDefaultMaxTokens applies when the caller did not bound the
// completion; the messages API requires max_tokens.
const anthropicDefaultMaxTokens = 1024

// Complete sends a messages request to Anthropic
func (a *AnthropicAdapter) Complete(ctx context.Context, credential, model, prompt string, opts Options) (*Completion, error) {
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = anthropicDefaultMaxTokens
	}

	body, err := json.Marshal(anthropicRequest{
		Model:       model,
		MaxTokens:   maxTokens,
		Messages:    []anthropicMessage{{Role: "user", Content: prompt}},
		Temperature: opts.Temperature,
		TopP:        opts.TopP,
	})
	if err != nil {
		return nil, &ProviderError{Provider: a.Name(), Message: fmt.Sprintf("failed to marshal request: %v", err)}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return nil, &ProviderError{Provider: a.Name(), Message: fmt.Sprintf("failed to create request: %v", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", credential)
	httpReq.Header.Set("anthropic-version", anthropicVersion)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, &ProviderError{Provider: a.Name(), Message: fmt.Sprintf("request failed: %v", err)}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ProviderError{Provider: a.Name(), StatusCode: resp.StatusCode, Message: fmt.Sprintf("failed to read response: %v", err)}
	}

	var parsed anthropicResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, &ProviderError{Provider: a.Name(), StatusCode: resp.StatusCode, Message: "malformed response body"}
	}

	if resp.StatusCode != http.StatusOK {
		msg := fmt.Sprintf("unexpected status %d", resp.StatusCode)
		if parsed.Error != nil && parsed.Error.Message != "" {
			msg = parsed.Error.Message
		}
		return nil, &ProviderError{Provider: a.Name(), StatusCode: resp.StatusCode, Message: msg}
	}

	var text string
	for _, block := range parsed.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	if text == "" && len(parsed.Content) == 0 {
		return nil, &ProviderError{Provider: a.Name(), StatusCode: resp.StatusCode, Message: "response contained no content"}
	}

	completion := &Completion{
		Text:         text,
		FinishReason: normalizeStopReason(parsed.StopReason),
	}
	if parsed.Usage.InputTokens > 0 || parsed.Usage.OutputTokens > 0 {
		completion.Usage = &TokenUsage{
			InputTokens:  parsed.Usage.InputTokens,
			OutputTokens: parsed.Usage.OutputTokens,
		}
	}
	return completion, nil
}

// Validate checks the credential with a one-token messages call
func (a *AnthropicAdapter) Validate(ctx context.Context, credential, model string) error {
	_, err := a.Complete(ctx, credential, model, "ping", Options{MaxTokens: 1})
	return err
}

// normalizeStopReason maps Anthropic stop reasons onto the finish reason
// vocabulary the rest of the pipeline expects.
func normalizeStopReason(reason string) string {
	switch reason {
	case "end_turn", "stop_sequence":
		return "stop"
	case "max_tokens":
		return "length"
	default:
		return reason
	}
}
