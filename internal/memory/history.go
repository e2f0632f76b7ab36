package memory

import (
	"context"

	"github.com/tmc/langchaingo/chains"
	"github.com/tmc/langchaingo/llms"
	lcmemory "github.com/tmc/langchaingo/memory"
	"github.com/tmc/langchaingo/schema"

	"github.com/sj48695/langchain-example/internal/llmservice"
	"github.com/sj48695/langchain-example/internal/models"
)

// ChatHistory exposes one thread of a Saver as a langchaingo chat history,
// so langchaingo memories and chains can run on any saver.
type ChatHistory struct {
	saver    Saver
	threadID string
}

var _ schema.ChatMessageHistory = (*ChatHistory)(nil)

func NewChatHistory(saver Saver, threadID string) *ChatHistory {
	return &ChatHistory{saver: saver, threadID: threadID}
}

func (h *ChatHistory) AddMessage(ctx context.Context, message llms.ChatMessage) error {
	m, err := llmservice.FromChatMessage(message)
	if err != nil {
		return err
	}
	return h.saver.Append(ctx, h.threadID, m)
}

func (h *ChatHistory) AddUserMessage(ctx context.Context, message string) error {
	return h.saver.Append(ctx, h.threadID, models.UserMessage(message))
}

func (h *ChatHistory) AddAIMessage(ctx context.Context, message string) error {
	return h.saver.Append(ctx, h.threadID, models.AssistantMessage(message))
}

func (h *ChatHistory) Clear(ctx context.Context) error {
	return h.saver.Delete(ctx, h.threadID)
}

func (h *ChatHistory) Messages(ctx context.Context) ([]llms.ChatMessage, error) {
	msgs, err := h.saver.Transcript(ctx, h.threadID)
	if err != nil {
		return nil, err
	}
	out := make([]llms.ChatMessage, len(msgs))
	for i, m := range msgs {
		out[i] = llmservice.ToChatMessage(m)
	}
	return out, nil
}

// SetMessages replaces the thread with messages.
func (h *ChatHistory) SetMessages(ctx context.Context, messages []llms.ChatMessage) error {
	msgs := make([]models.Message, len(messages))
	for i, message := range messages {
		m, err := llmservice.FromChatMessage(message)
		if err != nil {
			return err
		}
		msgs[i] = m
	}
	if err := h.saver.Delete(ctx, h.threadID); err != nil {
		return err
	}
	return h.saver.Append(ctx, h.threadID, msgs...)
}

// NewBufferChain builds a langchaingo conversation chain whose buffer memory
// reads and writes threadID in saver.
func NewBufferChain(llm llms.Model, saver Saver, threadID string) chains.LLMChain {
	buffer := lcmemory.NewConversationBuffer(lcmemory.WithChatHistory(NewChatHistory(saver, threadID)))
	return chains.NewConversation(llm, buffer)
}
