// Package llmclient wraps langchaingo behind a small blocking ChatProvider
// interface. Every caller in this codebase (curator, promptanalyzer,
// frameworkdetector, taskbreakdown) wants one complete, structured JSON
// reply rather than a token stream, so the interface is a single
// synchronous Complete call.
package llmclient

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/openai"

	"promptmcp/outbound"
)

// CompletionRequest is one chat-completion call.
type CompletionRequest struct {
	System      string
	User        string
	Temperature float64
	MaxTokens   int
}

// CompletionResult is the model's reply text plus basic usage accounting.
type CompletionResult struct {
	Text         string
	InputTokens  int
	OutputTokens int
}

// ChatProvider is implemented by each concrete backend. A nil ChatProvider
// is a legal value wherever this interface is injected: every call site in
// this codebase treats "no provider configured" as "fall back to the
// heuristic path".
type ChatProvider interface {
	Complete(ctx context.Context, req CompletionRequest) (CompletionResult, error)
}

// StructuredRequest builds a CompletionRequest for callers that need a
// deterministic, parseable JSON reply. Temperature is fixed at 0.2;
// complete separately clamps any request's temperature to at most 0.3.
func StructuredRequest(system, user string, maxTokens int) CompletionRequest {
	return CompletionRequest{System: system, User: user, Temperature: 0.2, MaxTokens: maxTokens}
}

// Config selects and parameterizes a backend.
type Config struct {
	Provider    string // "openai" | "anthropic" | "" (disabled)
	APIKey      string
	Model       string
	BaseURL     string
	MaxTokens   int
	Temperature float64

	// Limiter is the process-wide outbound request cap, shared with the
	// Context7 client. nil means unbounded.
	Limiter *outbound.Limiter
}

// New constructs a ChatProvider from Config. It returns (nil, nil) when the
// provider is unset or has no API key; callers must treat that as "AI
// disabled", not an error.
func New(cfg Config) (ChatProvider, error) {
	if cfg.Provider == "" || cfg.APIKey == "" {
		return nil, nil
	}
	switch cfg.Provider {
	case "openai":
		return newOpenAIProvider(cfg)
	case "anthropic":
		return newAnthropicProvider(cfg)
	default:
		return nil, fmt.Errorf("llmclient: unsupported provider %q", cfg.Provider)
	}
}

type openAIProvider struct {
	llm *openai.LLM
	cfg Config
}

func newOpenAIProvider(cfg Config) (*openAIProvider, error) {
	opts := []openai.Option{
		openai.WithModel(cfg.Model),
		openai.WithToken(cfg.APIKey),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("llmclient: failed to create OpenAI client: %w", err)
	}
	return &openAIProvider{llm: llm, cfg: cfg}, nil
}

func (p *openAIProvider) Complete(ctx context.Context, req CompletionRequest) (CompletionResult, error) {
	return complete(ctx, p.llm, p.cfg.Limiter, req)
}

type anthropicProvider struct {
	llm *anthropic.LLM
	cfg Config
}

func newAnthropicProvider(cfg Config) (*anthropicProvider, error) {
	opts := []anthropic.Option{
		anthropic.WithModel(cfg.Model),
		anthropic.WithToken(cfg.APIKey),
	}
	llm, err := anthropic.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("llmclient: failed to create Anthropic client: %w", err)
	}
	return &anthropicProvider{llm: llm, cfg: cfg}, nil
}

func (p *anthropicProvider) Complete(ctx context.Context, req CompletionRequest) (CompletionResult, error) {
	return complete(ctx, p.llm, p.cfg.Limiter, req)
}

// complete runs one blocking GenerateContent call against any langchaingo
// llms.Model, shared by both backends since the call shape is identical.
// The outbound slot is held for the duration of the upstream call.
func complete(ctx context.Context, model llms.Model, limiter *outbound.Limiter, req CompletionRequest) (CompletionResult, error) {
	release, err := limiter.Acquire(ctx)
	if err != nil {
		return CompletionResult{}, fmt.Errorf("llmclient: %w", err)
	}
	defer release()

	temp := req.Temperature
	if temp > 0.3 {
		temp = 0.3
	}

	msgs := []llms.MessageContent{}
	if req.System != "" {
		msgs = append(msgs, llms.TextParts(llms.ChatMessageTypeSystem, req.System))
	}
	msgs = append(msgs, llms.TextParts(llms.ChatMessageTypeHuman, req.User))

	opts := []llms.CallOption{llms.WithTemperature(temp)}
	if req.MaxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(req.MaxTokens))
	}

	resp, err := model.GenerateContent(ctx, msgs, opts...)
	if err != nil {
		return CompletionResult{}, fmt.Errorf("llmclient: generate content: %w", err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return CompletionResult{}, fmt.Errorf("llmclient: empty response")
	}

	choice := resp.Choices[0]
	return CompletionResult{
		Text:         choice.Content,
		InputTokens:  genInfoInt(choice.GenerationInfo, "PromptTokens", "prompt_tokens"),
		OutputTokens: genInfoInt(choice.GenerationInfo, "CompletionTokens", "completion_tokens"),
	}, nil
}

// genInfoInt defensively extracts an integer usage figure from a langchaingo
// ContentChoice.GenerationInfo map, which is provider-specific and untyped.
func genInfoInt(info map[string]any, keys ...string) int {
	for _, k := range keys {
		v, ok := info[k]
		if !ok {
			continue
		}
		switch n := v.(type) {
		case int:
			return n
		case int64:
			return int(n)
		case float64:
			return int(n)
		}
	}
	return 0
}
