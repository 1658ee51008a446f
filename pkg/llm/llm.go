// Package llm abstracts the language-model backends that drive Ghost
// Council deliberation and diagnostic narrative generation, per spec
// §1's "LLM providers... specified only via the capability each
// exposes." Only the Anthropic SDK is wired directly; OpenAI and Ollama
// are reached over their OpenAI-compatible HTTP surface, which needs no
// dedicated SDK.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/forge-health/compliance-diagnostics/pkg/compliance/errs"
)

// Provider is the capability every backend exposes: complete a single
// prompt under a system instruction and return raw text.
type Provider interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
	Name() string
}

// AnthropicProvider wraps the Anthropic Messages API.
type AnthropicProvider struct {
	client anthropic.Client
	model  anthropic.Model
}

// NewAnthropicProvider constructs a provider bound to apiKey. model
// defaults to Claude Sonnet when empty.
const defaultAnthropicModel = "claude-sonnet-4-5"

func NewAnthropicProvider(apiKey, model string) *AnthropicProvider {
	c := anthropic.NewClient(option.WithAPIKey(apiKey))
	if model == "" {
		model = defaultAnthropicModel
	}
	return &AnthropicProvider{client: c, model: anthropic.Model(model)}
}

func (p *AnthropicProvider) Name() string { return "anthropic" }

// Complete sends one user turn and returns the concatenated text blocks
// of the reply.
func (p *AnthropicProvider) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	msg, err := p.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     p.model,
		MaxTokens: 2048,
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
		},
	})
	if err != nil {
		return "", errs.Transient("anthropic completion failed", err)
	}
	var out bytes.Buffer
	for _, block := range msg.Content {
		if block.Type == "text" {
			out.WriteString(block.Text)
		}
	}
	return out.String(), nil
}

// OpenAICompatibleProvider talks to any backend exposing the OpenAI
// chat-completions wire format, including Ollama's compatibility
// endpoint — no dedicated SDK needed for either.
type OpenAICompatibleProvider struct {
	name       string
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

// NewOpenAICompatibleProvider constructs a provider against an
// OpenAI-compatible /chat/completions endpoint.
func NewOpenAICompatibleProvider(name, baseURL, apiKey, model string) *OpenAICompatibleProvider {
	return &OpenAICompatibleProvider{
		name:       name,
		baseURL:    baseURL,
		apiKey:     apiKey,
		model:      model,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

func (p *OpenAICompatibleProvider) Name() string { return p.name }

type chatCompletionRequest struct {
	Model    string              `json:"model"`
	Messages []chatCompletionMsg `json:"messages"`
}

type chatCompletionMsg struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message chatCompletionMsg `json:"message"`
	} `json:"choices"`
}

// Complete posts a single chat-completion request and returns the first
// choice's content.
func (p *OpenAICompatibleProvider) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	body, err := json.Marshal(chatCompletionRequest{
		Model: p.model,
		Messages: []chatCompletionMsg{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
	})
	if err != nil {
		return "", errs.Fatal("failed to encode chat completion request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", errs.Fatal("failed to build chat completion request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", errs.Transient("chat completion request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", errs.Transient(fmt.Sprintf("chat completion backend returned status %d", resp.StatusCode), nil)
	}

	var out chatCompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", errs.Transient("failed to decode chat completion response", err)
	}
	if len(out.Choices) == 0 {
		return "", errs.Transient("chat completion backend returned no choices", nil)
	}
	return out.Choices[0].Message.Content, nil
}

// MockProvider returns a deterministic canned response without making
// any network call, used when no API key or endpoint is configured —
// spec §6 requires the system to degrade to this rather than fail to
// start.
type MockProvider struct {
	Response string
}

func (p *MockProvider) Name() string { return "mock" }

// Complete returns the configured canned response, or a generic
// placeholder if none was set.
func (p *MockProvider) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	if p.Response != "" {
		return p.Response, nil
	}
	return `{"perspectives":{"optimistic":{"assessment":"mock response","key_points":[],"confidence":0.5},"balanced":{"assessment":"mock response","key_points":[],"confidence":0.5},"critical":{"assessment":"mock response","key_points":[],"confidence":0.5}},"synthesis":{"vote":"ABSTAIN","reasoning":"mock provider configured, no real deliberation performed","confidence":0.5,"top_benefits":[],"top_concerns":[]}}`, nil
}
