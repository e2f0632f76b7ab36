package memory

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"

	"github.com/sj48695/langchain-example/internal/llmservice"
	"github.com/sj48695/langchain-example/internal/models"
)

// Conversation is a single-step chat app checkpointed per thread: the model
// sees the thread so far plus the new input, and both input and reply are saved.
type Conversation struct {
	llm     llms.Model
	saver   Saver
	options []llms.CallOption
}

func NewConversation(llm llms.Model, saver Saver, options ...llms.CallOption) *Conversation {
	return &Conversation{llm: llm, saver: saver, options: options}
}

// NewThreadID returns a fresh random thread identifier.
func NewThreadID() string {
	return uuid.NewString()
}

// Invoke runs one turn and returns the full thread state. Nothing is saved
// when the model call fails.
func (c *Conversation) Invoke(ctx context.Context, threadID string, input ...models.Message) ([]models.Message, error) {
	for i, m := range input {
		if err := m.Validate(); err != nil {
			return nil, fmt.Errorf("input %d: %w", i, err)
		}
	}

	history, err := c.saver.Transcript(ctx, threadID)
	if err != nil {
		return nil, err
	}
	state := append(history, input...)

	out, err := llmservice.Invoke(ctx, c.llm, state, c.options...)
	if err != nil {
		return nil, err
	}
	reply := out[len(out)-1]

	if err := c.saver.Append(ctx, threadID, append(models.CloneMessages(input), reply)...); err != nil {
		return nil, err
	}
	log.Debug().Str("thread_id", threadID).Int("messages", len(out)).Msg("Thread updated")
	return out, nil
}

// State returns the saved transcript of threadID.
func (c *Conversation) State(ctx context.Context, threadID string) ([]models.Message, error) {
	return c.saver.Transcript(ctx, threadID)
}
