package rag

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"

	"github.com/sj48695/langchain-example/internal/llmservice"
	"github.com/sj48695/langchain-example/internal/memory"
	"github.com/sj48695/langchain-example/internal/models"
	"github.com/sj48695/langchain-example/internal/vectorstore"
)

const retrieveK = 2

// Agent answers with thread memory, letting the model decide when to
// search the store through the retrieve tool.
type Agent struct {
	llm   llms.Model
	store vectorstore.Store
	saver memory.Saver
}

func NewAgent(llm llms.Model, store vectorstore.Store, saver memory.Saver) *Agent {
	return &Agent{llm: llm, store: store, saver: saver}
}

func RetrieveTool() llms.Tool {
	return llms.Tool{
		Type: "function",
		Function: &llms.FunctionDefinition{
			Name:        models.RetrieveToolName,
			Description: models.RetrieveToolDescription,
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"query": map[string]any{"type": "string"},
				},
				"required": []string{"query"},
			},
		},
	}
}

// Run appends input to the thread and returns every message the turn
// produced, input included, in order. Nothing is saved if a step fails.
func (a *Agent) Run(ctx context.Context, threadID string, input ...models.Message) ([]models.Message, error) {
	for _, m := range input {
		if err := m.Validate(); err != nil {
			return nil, err
		}
	}
	history, err := a.saver.Transcript(ctx, threadID)
	if err != nil {
		return nil, err
	}
	state := append(history, input...)

	// query or respond
	content, err := llmservice.ToMessageContent(state)
	if err != nil {
		return nil, err
	}
	resp, err := llmservice.GenerateContent(ctx, a.llm, []llms.Tool{RetrieveTool()}, content)
	if err != nil {
		return nil, err
	}
	reply := llmservice.FromChoice(resp.Choices[0])
	produced := append(models.CloneMessages(input), reply)

	if !reply.HasToolCalls() {
		return a.save(ctx, threadID, produced)
	}

	// tools
	toolMsgs := make([]models.Message, 0, len(reply.ToolCalls))
	for _, call := range reply.ToolCalls {
		toolMsgs = append(toolMsgs, models.ToolMessage(call.ID, call.Name, a.runTool(ctx, call)))
	}
	produced = append(produced, toolMsgs...)

	// generate
	final, err := llmservice.Invoke(ctx, a.llm, generatePrompt(append(state, reply), toolMsgs))
	if err != nil {
		return nil, err
	}
	produced = append(produced, final[len(final)-1])
	return a.save(ctx, threadID, produced)
}

func (a *Agent) save(ctx context.Context, threadID string, msgs []models.Message) ([]models.Message, error) {
	if err := a.saver.Append(ctx, threadID, msgs...); err != nil {
		return nil, err
	}
	return msgs, nil
}

// runTool returns the tool output; failures are reported to the model as text.
func (a *Agent) runTool(ctx context.Context, call models.ToolCall) string {
	if call.Name != models.RetrieveToolName {
		return fmt.Sprintf("Error: unknown tool %q", call.Name)
	}
	var args struct {
		Query string `json:"query"`
	}
	if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
		return fmt.Sprintf("Error: invalid arguments: %v", err)
	}
	log.Info().Str("query", args.Query).Msg("Retrieving")

	out, err := Retrieve(ctx, a.store, args.Query)
	if err != nil {
		log.Warn().Err(err).Str("query", args.Query).Msg("Retrieve failed")
		return fmt.Sprintf("Error: %v", err)
	}
	return out
}

// Retrieve serializes the top matches for query as Source/Content blocks.
func Retrieve(ctx context.Context, store vectorstore.Store, query string) (string, error) {
	docs, err := store.SimilaritySearch(ctx, query, retrieveK, nil)
	if err != nil {
		return "", err
	}
	parts := make([]string, len(docs))
	for i, d := range docs {
		parts[i] = fmt.Sprintf("Source: %s\nContent: %s", models.MetadataString(d.Metadata["source"]), d.PageContent)
	}
	return strings.Join(parts, "\n"), nil
}

// generatePrompt puts the retrieved text in a system prompt ahead of the
// conversation, leaving out tool traffic.
func generatePrompt(state, toolMsgs []models.Message) []models.Message {
	docs := make([]string, len(toolMsgs))
	for i, m := range toolMsgs {
		docs[i] = m.Content
	}
	prompt := []models.Message{models.SystemMessage(models.GenerateSystemPrompt + "\n\n" + strings.Join(docs, "\n"))}
	for _, m := range state {
		switch {
		case m.Role == models.RoleUser, m.Role == models.RoleSystem:
			prompt = append(prompt, m)
		case m.Role == models.RoleAssistant && !m.HasToolCalls():
			prompt = append(prompt, m)
		}
	}
	return prompt
}

// Pretty renders a message as "[role]: content" plus any tool calls.
func Pretty(m models.Message) string {
	txt := fmt.Sprintf("[%s]: %s", m.Role, m.Content)
	if m.HasToolCalls() {
		calls := make([]string, len(m.ToolCalls))
		for i, tc := range m.ToolCalls {
			calls[i] = fmt.Sprintf("- %s(%s)", tc.Name, tc.Arguments)
		}
		txt += " \nTools: \n" + strings.Join(calls, "\n")
	}
	return txt
}
