package llmservice

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/sj48695/langchain-example/internal/config"
	"github.com/sj48695/langchain-example/internal/models"
)

// Middleware decorates a provider model, e.g. with a response cache.
type Middleware func(llms.Model) llms.Model

// NewModel builds the chat model for llmConfig. Middlewares wrap the provider
// client before the configured call defaults are applied.
func NewModel(llmConfig *config.LLMConfig, middlewares ...Middleware) (llms.Model, error) {
	log.Debug().
		Str("provider", llmConfig.Provider).
		Str("model", llmConfig.Model).
		Str("base_url", llmConfig.BaseURL).
		Msg("Creating chat model")

	var (
		llm llms.Model
		err error
	)
	switch llmConfig.Provider {
	case "", "openai":
		llm, err = newOpenAI(llmConfig)
	case "ollama":
		llm, err = ollama.New(
			ollama.WithServerURL(llmConfig.BaseURL),
			ollama.WithModel(llmConfig.Model),
		)
	case "anthropic":
		llm, err = NewAnthropic(llmConfig)
	default:
		return nil, fmt.Errorf("%w: %q", models.ErrUnknownProvider, llmConfig.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to initialize %s model: %w", llmConfig.Provider, err)
	}

	for _, mw := range middlewares {
		llm = mw(llm)
	}
	return WithDefaults(llm, CallOptions(llmConfig)...), nil
}

func newOpenAI(llmConfig *config.LLMConfig) (*openai.LLM, error) {
	opts := []openai.Option{
		openai.WithToken(strings.TrimPrefix(llmConfig.Key, "Bearer ")),
	}
	if llmConfig.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(llmConfig.BaseURL))
	}
	if llmConfig.Model != "" {
		opts = append(opts, openai.WithModel(llmConfig.Model))
	}
	return openai.New(opts...)
}

// CallOptions turns the configured sampling settings into call options.
func CallOptions(llmConfig *config.LLMConfig) []llms.CallOption {
	opts := []llms.CallOption{llms.WithTemperature(llmConfig.Temperature)}
	if llmConfig.Model != "" {
		opts = append(opts, llms.WithModel(llmConfig.Model))
	}
	if llmConfig.MaxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(llmConfig.MaxTokens))
	}
	return opts
}

type defaultsModel struct {
	llm      llms.Model
	defaults []llms.CallOption
}

// WithDefaults returns a model that applies defaults before any per-call options.
func WithDefaults(llm llms.Model, defaults ...llms.CallOption) llms.Model {
	if len(defaults) == 0 {
		return llm
	}
	return &defaultsModel{llm: llm, defaults: defaults}
}

func (m *defaultsModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	opts := make([]llms.CallOption, 0, len(m.defaults)+len(options))
	opts = append(opts, m.defaults...)
	opts = append(opts, options...)
	return m.llm.GenerateContent(ctx, messages, opts...)
}

func (m *defaultsModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}

// call llm
func GenerateContent(ctx context.Context, llm llms.Model, tools []llms.Tool, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	if len(tools) > 0 {
		options = append(options, llms.WithTools(tools))
	}
	resp, err := llm.GenerateContent(ctx, messages, options...)
	if err != nil {
		return nil, fmt.Errorf("failed to generate content: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("failed to generate content: empty response")
	}
	return resp, nil
}

// Invoke sends messages to the model unchanged and returns a copy of them
// with the reply appended.
func Invoke(ctx context.Context, llm llms.Model, messages []models.Message, options ...llms.CallOption) ([]models.Message, error) {
	content, err := ToMessageContent(messages)
	if err != nil {
		return nil, err
	}

	resp, err := GenerateContent(ctx, llm, nil, content, options...)
	if err != nil {
		return nil, err
	}

	reply := FromChoice(resp.Choices[0])
	log.Debug().
		Int("tool_calls", len(reply.ToolCalls)).
		Str("stop_reason", resp.Choices[0].StopReason).
		Msg("Model replied")

	out := make([]models.Message, 0, len(messages)+1)
	out = append(out, models.CloneMessages(messages)...)
	return append(out, reply), nil
}
