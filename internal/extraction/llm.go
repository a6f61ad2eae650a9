package extraction

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const defaultLLMBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// defaultMaxTokens is used when CompletionOptions.MaxOutputTokens is unset.
const defaultMaxTokens = 8192

// LlmClient implements LlmClient (C6): complete/completeVision against a
// single Gemini-compatible chat+vision endpoint over raw HTTP, no vendor
// SDK. The client makes exactly one request per call and does not retry;
// the only retry is the Pipeline's salvage-retry-once rule on
// empty/malformed completions (§4.10.4).
type LlmClient struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
}

// NewLlmClient returns a client bound to a Gemini-style API key and model.
func NewLlmClient(apiKey, model string) *LlmClient {
	return &LlmClient{
		apiKey:     apiKey,
		model:      model,
		baseURL:    defaultLLMBaseURL,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

// CompletionOptions configures one complete/completeVision call.
type CompletionOptions struct {
	MaxOutputTokens int
	Temperature     float64
}

// Completion is the client's uniform result shape for both text and
// vision calls.
type Completion struct {
	Text             string
	PromptTokens     uint64
	CompletionTokens uint64
}

// Complete implements complete(prompt, options) -> {text, promptTokens, completionTokens}.
func (c *LlmClient) Complete(ctx context.Context, prompt string, opts CompletionOptions) (Completion, error) {
	parts := []map[string]any{{"text": prompt}}
	return c.generate(ctx, parts, opts)
}

// CompleteVision implements completeVision(prompt, images, options) -> same.
func (c *LlmClient) CompleteVision(ctx context.Context, prompt string, images [][]byte, opts CompletionOptions) (Completion, error) {
	parts := []map[string]any{{"text": prompt}}
	for _, img := range images {
		parts = append(parts, map[string]any{
			"inline_data": map[string]string{
				"mime_type": "image/png",
				"data":      base64.StdEncoding.EncodeToString(img),
			},
		})
	}
	return c.generate(ctx, parts, opts)
}

func (c *LlmClient) generate(ctx context.Context, parts []map[string]any, opts CompletionOptions) (Completion, error) {
	if c.apiKey == "" {
		return Completion{}, newInternal("LLM API key not configured")
	}
	return c.generateOnce(ctx, parts, opts)
}

func (c *LlmClient) generateOnce(ctx context.Context, parts []map[string]any, opts CompletionOptions) (Completion, error) {
	temperature := opts.Temperature
	if temperature == 0 {
		temperature = 0.1
	}
	maxTokens := opts.MaxOutputTokens
	if maxTokens == 0 {
		maxTokens = defaultMaxTokens
	}

	requestBody := map[string]any{
		"contents": []map[string]any{
			{"parts": parts},
		},
		"generationConfig": map[string]any{
			"temperature":     temperature,
			"maxOutputTokens": maxTokens,
		},
	}

	jsonBody, err := json.Marshal(requestBody)
	if err != nil {
		return Completion{}, newInternal(fmt.Sprintf("marshal LLM request: %v", err))
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", c.baseURL, c.model, c.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
	if err != nil {
		return Completion{}, newInternal(fmt.Sprintf("build LLM request: %v", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return Completion{}, newCancelled()
		}
		return Completion{}, newTransportFailure("LLM request failed", err, true)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return Completion{}, classifyLLMHTTPError(resp.StatusCode, string(body))
	}

	var parsed struct {
		Candidates []struct {
			Content struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"content"`
		} `json:"candidates"`
		UsageMetadata struct {
			PromptTokenCount     uint64 `json:"promptTokenCount"`
			CandidatesTokenCount uint64 `json:"candidatesTokenCount"`
		} `json:"usageMetadata"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return Completion{}, newTransportFailure("decode LLM response", err, false)
	}
	if len(parsed.Candidates) == 0 || len(parsed.Candidates[0].Content.Parts) == 0 {
		return Completion{}, newExtractionEmpty("LLM returned no content")
	}

	return Completion{
		Text:             parsed.Candidates[0].Content.Parts[0].Text,
		PromptTokens:     parsed.UsageMetadata.PromptTokenCount,
		CompletionTokens: parsed.UsageMetadata.CandidatesTokenCount,
	}, nil
}

func classifyLLMHTTPError(statusCode int, body string) *Error {
	if statusCode == http.StatusTooManyRequests {
		return newUpstreamQuota("LLM rate limited", fmt.Errorf("%s", body))
	}
	return &Error{
		Code:      ErrTransportFailure,
		Message:   fmt.Sprintf("LLM API error (HTTP %d): %s", statusCode, body),
		Retryable: statusCode >= 500,
	}
}
