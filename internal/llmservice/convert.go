package llmservice

import (
	"fmt"

	"github.com/tmc/langchaingo/llms"

	"github.com/sj48695/langchain-example/internal/models"
)

// ToMessageContent converts a transcript into langchaingo chat messages.
// System and user messages must carry content; assistant and tool
// messages are model output and pass through as stored, even when empty.
func ToMessageContent(messages []models.Message) ([]llms.MessageContent, error) {
	out := make([]llms.MessageContent, 0, len(messages))
	for i, m := range messages {
		if m.Role == models.RoleSystem || m.Role == models.RoleUser {
			if err := m.Validate(); err != nil {
				return nil, fmt.Errorf("message %d: %w", i, err)
			}
		}

		switch m.Role {
		case models.RoleSystem:
			out = append(out, llms.TextParts(llms.ChatMessageTypeSystem, m.Content))
		case models.RoleUser:
			out = append(out, llms.TextParts(llms.ChatMessageTypeHuman, m.Content))
		case models.RoleAssistant:
			mc := llms.MessageContent{Role: llms.ChatMessageTypeAI}
			if m.Content != "" || len(m.ToolCalls) == 0 {
				mc.Parts = append(mc.Parts, llms.TextContent{Text: m.Content})
			}
			for _, tc := range m.ToolCalls {
				mc.Parts = append(mc.Parts, llms.ToolCall{
					ID:   tc.ID,
					Type: "function",
					FunctionCall: &llms.FunctionCall{
						Name:      tc.Name,
						Arguments: tc.Arguments,
					},
				})
			}
			out = append(out, mc)
		case models.RoleTool:
			out = append(out, llms.MessageContent{
				Role: llms.ChatMessageTypeTool,
				Parts: []llms.ContentPart{llms.ToolCallResponse{
					ToolCallID: m.ToolCallID,
					Name:       m.Name,
					Content:    m.Content,
				}},
			})
		default:
			return nil, fmt.Errorf("message %d: unsupported role %q", i, m.Role)
		}
	}
	return out, nil
}

// FromChoice converts a model choice into an assistant message.
func FromChoice(choice *llms.ContentChoice) models.Message {
	msg := models.Message{Role: models.RoleAssistant, Content: choice.Content}
	for _, tc := range choice.ToolCalls {
		if tc.FunctionCall == nil {
			continue
		}
		msg.ToolCalls = append(msg.ToolCalls, models.ToolCall{
			ID:        tc.ID,
			Name:      tc.FunctionCall.Name,
			Arguments: tc.FunctionCall.Arguments,
		})
	}
	return msg
}

// FromChatMessage converts a langchaingo chat history message.
func FromChatMessage(m llms.ChatMessage) (models.Message, error) {
	switch msg := m.(type) {
	case llms.SystemChatMessage:
		return models.SystemMessage(msg.Content), nil
	case llms.HumanChatMessage:
		return models.UserMessage(msg.Content), nil
	case llms.GenericChatMessage:
		return models.UserMessage(msg.Content), nil
	case llms.AIChatMessage:
		out := models.AssistantMessage(msg.Content)
		for _, tc := range msg.ToolCalls {
			if tc.FunctionCall == nil {
				continue
			}
			out.ToolCalls = append(out.ToolCalls, models.ToolCall{
				ID:        tc.ID,
				Name:      tc.FunctionCall.Name,
				Arguments: tc.FunctionCall.Arguments,
			})
		}
		return out, nil
	case llms.ToolChatMessage:
		return models.ToolMessage(msg.ID, "", msg.Content), nil
	}
	return models.Message{}, fmt.Errorf("unsupported chat message type %q", m.GetType())
}

// ToChatMessage is the inverse of FromChatMessage.
func ToChatMessage(m models.Message) llms.ChatMessage {
	switch m.Role {
	case models.RoleSystem:
		return llms.SystemChatMessage{Content: m.Content}
	case models.RoleAssistant:
		ai := llms.AIChatMessage{Content: m.Content}
		for _, tc := range m.ToolCalls {
			ai.ToolCalls = append(ai.ToolCalls, llms.ToolCall{
				ID:           tc.ID,
				Type:         "function",
				FunctionCall: &llms.FunctionCall{Name: tc.Name, Arguments: tc.Arguments},
			})
		}
		return ai
	case models.RoleTool:
		return llms.ToolChatMessage{ID: m.ToolCallID, Content: m.Content}
	default:
		return llms.HumanChatMessage{Content: m.Content}
	}
}
