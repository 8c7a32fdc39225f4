package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/vasudvy/billfrog/internal/models"
)

const openAIDefaultBaseURL = "https://api.openai.com/v1"

// OpenAIAdapter talks to the OpenAI chat completions API
type OpenAIAdapter struct {
	client  *http.Client
	baseURL string
}

// NewOpenAIAdapter creates an OpenAI adapter with the shared HTTP settings
func NewOpenAIAdapter(cfg Config) *OpenAIAdapter {
	return &OpenAIAdapter{
		client:  newHTTPClient(cfg.RequestTimeout),
		baseURL: cfg.baseURL(models.ProviderOpenAI, openAIDefaultBaseURL),
	}
}

// Name returns the provider identifier
func (a *OpenAIAdapter) Name() models.Provider {
	return models.ProviderOpenAI
}

type openAIRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Temperature float64         `json:"temperature,omitempty"`
	TopP        float64         `json:"top_p,omitempty"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Complete sends a chat completion request to OpenAI
func (a *OpenAIAdapter) Complete(ctx context.Context, credential, model, prompt string, opts Options) (*Completion, error) {
	body, err := json.Marshal(openAIRequest{
		Model:       model,
		Messages:    []openAIMessage{{Role: "user", Content: prompt}},
		MaxTokens:   opts.MaxTokens,
		Temperature: opts.Temperature,
		TopP:        opts.TopP,
	})
	if err != nil {
		return nil, &ProviderError{Provider: a.Name(), Message: fmt.Sprintf("failed to marshal request: %v", err)}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, &ProviderError{Provider: a.Name(), Message: fmt.Sprintf("failed to create request: %v", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+credential)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, &ProviderError{Provider: a.Name(), Message: fmt.Sprintf("request failed: %v", err)}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ProviderError{Provider: a.Name(), StatusCode: resp.StatusCode, Message: fmt.Sprintf("failed to read response: %v", err)}
	}

	var parsed openAIResponse
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

	if len(parsed.Choices) == 0 {
		return nil, &ProviderError{Provider: a.Name(), StatusCode: resp.StatusCode, Message: "response contained no choices"}
	}

	completion := &Completion{
		Text:         parsed.Choices[0].Message.Content,
		FinishReason: parsed.Choices[0].FinishReason,
	}
	if parsed.Usage.PromptTokens > 0 || parsed.Usage.CompletionTokens > 0 {
		completion.Usage = &TokenUsage{
			InputTokens:  parsed.Usage.PromptTokens,
			OutputTokens: parsed.Usage.CompletionTokens,
		}
	}
	return completion, nil
}

// Validate checks the credential with a minimal models listing call
func (a *OpenAIAdapter) Validate(ctx context.Context, credential, model string) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/models", nil)
	if err != nil {
		return &ProviderError{Provider: a.Name(), Message: fmt.Sprintf("failed to create request: %v", err)}
	}
	httpReq.Header.Set("Authorization", "Bearer "+credential)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return &ProviderError{Provider: a.Name(), Message: fmt.Sprintf("request failed: %v", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return &ProviderError{Provider: a.Name(), StatusCode: resp.StatusCode, Message: "invalid API key"}
	}
	if resp.StatusCode != http.StatusOK {
		return &ProviderError{Provider: a.Name(), StatusCode: resp.StatusCode, Message: fmt.Sprintf("validation failed with status %d", resp.StatusCode)}
	}
	return nil
}

func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultConfig().RequestTimeout
	}
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}
