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

const googleDefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// GoogleAdapter talks to the Gemini generateContent API
type GoogleAdapter struct {
	client  *http.Client
	baseURL string
}

// NewGoogleAdapter creates a Google adapter with the shared HTTP settings
func NewGoogleAdapter(cfg Config) *GoogleAdapter {
	return &GoogleAdapter{
		client:  newHTTPClient(cfg.RequestTimeout),
		baseURL: cfg.baseURL(models.ProviderGoogle, googleDefaultBaseURL),
	}
}

// Name returns the provider identifier
func (a *GoogleAdapter) Name() models.Provider {
	return models.ProviderGoogle
}

type googleRequest struct {
	Contents         []googleContent  `json:"contents"`
	GenerationConfig *googleGenConfig `json:"generationConfig,omitempty"`
}

type googleContent struct {
	Role  string       `json:"role"`
	Parts []googlePart `json:"parts"`
}

type googlePart struct {
	Text string `json:"text"`
}

type googleGenConfig struct {
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
	Temperature     float64 `json:"temperature,omitempty"`
	TopP            float64 `json:"topP,omitempty"`
}

type googleResponse struct {
	Candidates []struct {
		Content struct {
			Parts []googlePart `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
	} `json:"usageMetadata"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Complete sends a generateContent request to the Gemini API
func (a *GoogleAdapter) Complete(ctx context.Context, credential, model, prompt string, opts Options) (*Completion, error) {
	req := googleRequest{
		Contents: []googleContent{{Role: "user", Parts: []googlePart{{Text: prompt}}}},
	}
	if opts.MaxTokens > 0 || opts.Temperature > 0 || opts.TopP > 0 {
		req.GenerationConfig = &googleGenConfig{
			MaxOutputTokens: opts.MaxTokens,
			Temperature:     opts.Temperature,
			TopP:            opts.TopP,
		}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, &ProviderError{Provider: a.Name(), Message: fmt.Sprintf("failed to marshal request: %v", err)}
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", a.baseURL, model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, &ProviderError{Provider: a.Name(), Message: fmt.Sprintf("failed to create request: %v", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", credential)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, &ProviderError{Provider: a.Name(), Message: fmt.Sprintf("request failed: %v", err)}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ProviderError{Provider: a.Name(), StatusCode: resp.StatusCode, Message: fmt.Sprintf("failed to read response: %v", err)}
	}

	var parsed googleResponse
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

	if len(parsed.Candidates) == 0 {
		return nil, &ProviderError{Provider: a.Name(), StatusCode: resp.StatusCode, Message: "response contained no candidates"}
	}

	var text string
	for _, part := range parsed.Candidates[0].Content.Parts {
		text += part.Text
	}

	completion := &Completion{
		Text:         text,
		FinishReason: normalizeGoogleFinishReason(parsed.Candidates[0].FinishReason),
	}
	if parsed.UsageMetadata.PromptTokenCount > 0 || parsed.UsageMetadata.CandidatesTokenCount > 0 {
		completion.Usage = &TokenUsage{
			InputTokens:  parsed.UsageMetadata.PromptTokenCount,
			OutputTokens: parsed.UsageMetadata.CandidatesTokenCount,
		}
	}
	return completion, nil
}

// Validate checks the credential with a one-token generateContent call
func (a *GoogleAdapter) Validate(ctx context.Context, credential, model string) error {
	_, err := a.Complete(ctx, credential, model, "ping", Options{MaxTokens: 1})
	return err
}

func normalizeGoogleFinishReason(reason string) string {
	switch reason {
	case "STOP":
		return "stop"
	case "MAX_TOKENS":
		return "length"
	default:
		return reason
	}
}
