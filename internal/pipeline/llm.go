package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const decomposePrompt = `You are a task-decomposition engine for a multi-agent system.
Break the user's request into the smallest set of independent sub-tasks that
together fulfil it. Only use capabilities from the available list. Respond
with strict JSON, no prose and no code fences:
{"tasks":[{"capability":"...","description":"...","authority_tier":"autonomous|execute_and_report|must_ask_first"}],"summary":"...","confidence":0.0}
If the request cannot be served by the available capabilities, return an empty
tasks array with confidence 0.`

// LLMConfig configures the OpenAI-compatible decomposition backend.
type LLMConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
}

// LLMDecomposer calls an OpenAI-compatible chat-completions endpoint and
// parses its JSON answer into a Result. An optional ContextProvider enriches
// the prompt with advisory snippets.
type LLMDecomposer struct {
	cfg        LLMConfig
	contextual ContextProvider
	httpClient *http.Client
}

// NewLLMDecomposer creates a decomposer against the configured endpoint.
func NewLLMDecomposer(cfg LLMConfig) *LLMDecomposer {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	return &LLMDecomposer{
		cfg:        LLMConfig{BaseURL: strings.TrimSuffix(cfg.BaseURL, "/"), APIKey: cfg.APIKey, Model: cfg.Model, Temperature: cfg.Temperature},
		contextual: NoopContextProvider{},
		httpClient: &http.Client{Timeout: 120 * time.Second},
	}
}

// SetContextProvider installs an advisory snippet source. Passing nil resets
// to the null object.
func (d *LLMDecomposer) SetContextProvider(p ContextProvider) {
	if p == nil {
		p = NoopContextProvider{}
	}
	d.contextual = p
}

// Decompose sends the request content and capability hint to the model.
func (d *LLMDecomposer) Decompose(ctx context.Context, content, capabilityHint string) (*Result, error) {
	var sb strings.Builder
	sb.WriteString("Available capabilities:\n")
	sb.WriteString(capabilityHint)
	if snippets, err := d.contextual.Query(ctx, ContextQuery{Keywords: strings.Fields(content), MaxResults: 5}); err == nil && len(snippets) > 0 {
		sb.WriteString("\n\nRelevant context:\n")
		for _, s := range snippets {
			sb.WriteString("- ")
			sb.WriteString(s.Content)
			sb.WriteString("\n")
		}
	}
	sb.WriteString("\n\nRequest:\n")
	sb.WriteString(content)

	body := map[string]any{
		"model": d.cfg.Model,
		"messages": []map[string]any{
			{"role": "system", "content": decomposePrompt},
			{"role": "user", "content": sb.String()},
		},
		"temperature": d.cfg.Temperature,
	}
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, d.cfg.BaseURL+"/chat/completions", bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+d.cfg.APIKey)

	resp, err := d.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var apiResp struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	if len(apiResp.Choices) == 0 {
		return nil, nil
	}
	return ParseResult(apiResp.Choices[0].Message.Content)
}

// ParseResult decodes the model's JSON answer, tolerating code fences.
func ParseResult(raw string) (*Result, error) {
	cleaned := strings.TrimSpace(raw)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	cleaned = strings.TrimSpace(cleaned)
	if cleaned == "" {
		return nil, nil
	}
	var res Result
	if err := json.Unmarshal([]byte(cleaned), &res); err != nil {
		return nil, fmt.Errorf("parse decomposition: %w", err)
	}
	return &res, nil
}
