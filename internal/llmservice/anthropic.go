package llmservice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/tmc/langchaingo/llms"

	"github.com/sj48695/langchain-example/internal/config"
)

const (
	defaultAnthropicModel     = "claude-3-5-haiku-latest"
	defaultAnthropicMaxTokens = 1024
)

// AnthropicLLM adapts the Anthropic Messages API to llms.Model.
type AnthropicLLM struct {
	client    anthropic.Client
	model     string
	maxTokens int64
}

var _ llms.Model = (*AnthropicLLM)(nil)

func NewAnthropic(llmConfig *config.LLMConfig) (*AnthropicLLM, error) {
	if llmConfig.Key == "" {
		return nil, errors.New("anthropic api key is required")
	}
	opts := []option.RequestOption{
		option.WithAPIKey(llmConfig.Key),
		option.WithMaxRetries(0),
	}
	if llmConfig.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(llmConfig.BaseURL))
	}

	model := llmConfig.Model
	if model == "" {
		model = defaultAnthropicModel
	}
	maxTokens := int64(llmConfig.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}

	return &AnthropicLLM{
		client:    anthropic.NewClient(opts...),
		model:     model,
		maxTokens: maxTokens,
	}, nil
}

func (a *AnthropicLLM) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, a, prompt, options...)
}

func (a *AnthropicLLM) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	opts := llms.CallOptions{}
	for _, opt := range options {
		opt(&opts)
	}

	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(a.model),
		MaxTokens:   a.maxTokens,
		Temperature: anthropic.Float(opts.Temperature),
	}
	if opts.Model != "" {
		params.Model = anthropic.Model(opts.Model)
	}
	if opts.MaxTokens > 0 {
		params.MaxTokens = int64(opts.MaxTokens)
	}
	if len(opts.StopWords) > 0 {
		params.StopSequences = opts.StopWords
	}
	for _, t := range opts.Tools {
		tool, err := anthropicTool(t)
		if err != nil {
			return nil, err
		}
		params.Tools = append(params.Tools, tool)
	}

	system, msgs, err := anthropicMessages(messages)
	if err != nil {
		return nil, err
	}
	params.System = system
	params.Messages = msgs

	resp, err := a.client.Messages.New(ctx, params)
	if err != nil {
		return nil, err
	}

	choice := &llms.ContentChoice{
		StopReason: string(resp.StopReason),
		GenerationInfo: map[string]any{
			"InputTokens":  resp.Usage.InputTokens,
			"OutputTokens": resp.Usage.OutputTokens,
		},
	}
	var text strings.Builder
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.Text)
		case "tool_use":
			choice.ToolCalls = append(choice.ToolCalls, llms.ToolCall{
				ID:   block.ID,
				Type: "function",
				FunctionCall: &llms.FunctionCall{
					Name:      block.Name,
					Arguments: string(block.Input),
				},
			})
		}
	}
	choice.Content = text.String()
	if len(choice.ToolCalls) > 0 {
		choice.FuncCall = choice.ToolCalls[0].FunctionCall
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{choice}}, nil
}

// anthropicMessages splits out system prompts and merges consecutive tool
// results into one user turn, as the Messages API requires.
func anthropicMessages(messages []llms.MessageContent) ([]anthropic.TextBlockParam, []anthropic.MessageParam, error) {
	var (
		system []anthropic.TextBlockParam
		out    []anthropic.MessageParam
	)
	for _, mc := range messages {
		switch mc.Role {
		case llms.ChatMessageTypeSystem:
			for _, p := range mc.Parts {
				if tc, ok := p.(llms.TextContent); ok {
					system = append(system, anthropic.TextBlockParam{Text: tc.Text})
				}
			}
		case llms.ChatMessageTypeHuman, llms.ChatMessageTypeGeneric:
			var blocks []anthropic.ContentBlockParamUnion
			for _, p := range mc.Parts {
				if tc, ok := p.(llms.TextContent); ok {
					blocks = append(blocks, anthropic.NewTextBlock(tc.Text))
				}
			}
			out = append(out, anthropic.NewUserMessage(blocks...))
		case llms.ChatMessageTypeAI:
			var blocks []anthropic.ContentBlockParamUnion
			for _, p := range mc.Parts {
				switch part := p.(type) {
				case llms.TextContent:
					if part.Text != "" {
						blocks = append(blocks, anthropic.NewTextBlock(part.Text))
					}
				case llms.ToolCall:
					if part.FunctionCall == nil {
						continue
					}
					args := json.RawMessage(part.FunctionCall.Arguments)
					if len(args) == 0 {
						args = json.RawMessage("{}")
					}
					blocks = append(blocks, anthropic.NewToolUseBlock(part.ID, args, part.FunctionCall.Name))
				}
			}
			// the API rejects empty assistant turns
			if len(blocks) > 0 {
				out = append(out, anthropic.NewAssistantMessage(blocks...))
			}
		case llms.ChatMessageTypeTool:
			var blocks []anthropic.ContentBlockParamUnion
			for _, p := range mc.Parts {
				if r, ok := p.(llms.ToolCallResponse); ok {
					blocks = append(blocks, anthropic.NewToolResultBlock(r.ToolCallID, r.Content, false))
				}
			}
			if n := len(out); n > 0 && out[n-1].Role == anthropic.MessageParamRoleUser && isToolResultTurn(out[n-1]) {
				out[n-1].Content = append(out[n-1].Content, blocks...)
				continue
			}
			out = append(out, anthropic.NewUserMessage(blocks...))
		default:
			return nil, nil, fmt.Errorf("role %v not supported", mc.Role)
		}
	}
	return system, out, nil
}

func isToolResultTurn(m anthropic.MessageParam) bool {
	for _, b := range m.Content {
		if b.OfToolResult == nil {
			return false
		}
	}
	return len(m.Content) > 0
}

func anthropicTool(t llms.Tool) (anthropic.ToolUnionParam, error) {
	if t.Function == nil {
		return anthropic.ToolUnionParam{}, fmt.Errorf("tool type %v not supported", t.Type)
	}
	schema := anthropic.ToolInputSchemaParam{}
	if params, ok := t.Function.Parameters.(map[string]any); ok {
		schema.Properties = params["properties"]
		switch req := params["required"].(type) {
		case []string:
			schema.Required = req
		case []any:
			for _, r := range req {
				if s, ok := r.(string); ok {
					schema.Required = append(schema.Required, s)
				}
			}
		}
	}
	return anthropic.ToolUnionParam{OfTool: &anthropic.ToolParam{
		Name:        t.Function.Name,
		Description: anthropic.String(t.Function.Description),
		InputSchema: schema,
	}}, nil
}
