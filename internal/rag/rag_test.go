package rag

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"github.com/sj48695/langchain-example/internal/chromemdb"
	"github.com/sj48695/langchain-example/internal/config"
	"github.com/sj48695/langchain-example/internal/embedding"
	"github.com/sj48695/langchain-example/internal/llmservice"
	"github.com/sj48695/langchain-example/internal/llmtest"
	"github.com/sj48695/langchain-example/internal/memory"
	"github.com/sj48695/langchain-example/internal/models"
	"github.com/sj48695/langchain-example/internal/vectorstore"
)

func newStore(t *testing.T, docs ...models.Document) *vectorstore.VectorStore {
	t.Helper()
	e := embedding.NewHashEmbedder(64)
	index, err := chromemdb.NewVectorDBManager("test", chromemdb.Options{Embed: e.EmbedQuery})
	require.NoError(t, err)
	s := vectorstore.NewVectorStore(index, e)
	if len(docs) > 0 {
		_, err = s.AddDocuments(context.Background(), docs)
		require.NoError(t, err)
	}
	return s
}

func newModel(t *testing.T) (*llmtest.Server, llms.Model) {
	t.Helper()
	srv := llmtest.NewServer(t)
	llm, err := llmservice.NewModel(srv.Config())
	require.NoError(t, err)
	return srv, llm
}

func TestQueryUsesOnlyTheUsersDocuments(t *testing.T) {
	store := newStore(t,
		models.Document{PageContent: "I like cats", Metadata: map[string]any{"userId": "a"}},
		models.Document{PageContent: "My cat is grey", Metadata: map[string]any{"userId": "a"}},
		models.Document{PageContent: "I like cats a lot", Metadata: map[string]any{"userId": "b"}},
	)
	srv, llm := newModel(t)
	r := NewRAG(store, llm, config.Default())

	resp, err := r.Query(context.Background(), "a", "what do I like about cats")
	require.NoError(t, err)
	assert.Equal(t, "echo: what do I like about cats", resp.Content)
	assert.Len(t, resp.Documents, 2)
	for _, d := range resp.Documents {
		assert.Equal(t, "a", d.Metadata["userId"])
	}
	assert.NotContains(t, resp.Source, "a lot")

	reqs := srv.ChatRequests()
	require.Len(t, reqs, 1)
	msgs := reqs[0].Messages
	require.Len(t, msgs, 3)
	assert.Equal(t, "system", msgs[0].Role)
	assert.Equal(t, models.RAGSystemPrompt, msgs[0].Text())
	assert.True(t, strings.HasPrefix(msgs[1].Text(), "context:\n"))
	assert.Contains(t, msgs[1].Text(), "I like cats")
	assert.Equal(t, "user", msgs[2].Role)
}

func TestQueryWithoutUserSearchesEverything(t *testing.T) {
	store := newStore(t,
		models.Document{PageContent: "I like cats", Metadata: map[string]any{"userId": "a"}},
		models.Document{PageContent: "I like cats a lot", Metadata: map[string]any{"userId": "b"}},
	)
	_, llm := newModel(t)

	resp, err := NewRAG(store, llm, config.Default()).Query(context.Background(), "", "cats")
	require.NoError(t, err)
	assert.Len(t, resp.Documents, 2)
}

func TestQueryEmptyStore(t *testing.T) {
	srv, llm := newModel(t)
	resp, err := NewRAG(newStore(t), llm, config.Default()).Query(context.Background(), "a", "anything")
	require.NoError(t, err)
	assert.Empty(t, resp.Documents)
	assert.Equal(t, "context:\n", srv.ChatRequests()[0].Messages[1].Text())

	_, err = NewRAG(newStore(t), llm, config.Default()).Query(context.Background(), "a", "  ")
	assert.ErrorIs(t, err, models.ErrEmptyContent)
}

func agentStore(t *testing.T) *vectorstore.VectorStore {
	return newStore(t,
		models.Document{PageContent: "Task decomposition breaks a task into smaller steps", Metadata: map[string]any{"source": "blog"}},
		models.Document{PageContent: "Memory lets agents recall past events", Metadata: map[string]any{"source": "blog"}},
		models.Document{PageContent: "Tool use extends what agents can do", Metadata: map[string]any{"source": "blog"}},
	)
}

func TestAgentRetrievesThenGenerates(t *testing.T) {
	srv, llm := newModel(t)
	srv.Enqueue(
		llmtest.Reply{ToolCalls: []models.ToolCall{{ID: "call_1", Name: "retrieve", Arguments: `{"query":"task decomposition"}`}}},
		llmtest.Reply{Content: "It splits a task into steps."},
	)
	saver := memory.NewInMemorySaver()
	agent := NewAgent(llm, agentStore(t), saver)
	ctx := context.Background()

	out, err := agent.Run(ctx, "abc123", models.UserMessage("What is Task Decomposition?"))
	require.NoError(t, err)
	require.Len(t, out, 4)
	assert.Equal(t, models.RoleUser, out[0].Role)
	assert.True(t, out[1].HasToolCalls())
	assert.Equal(t, models.RoleTool, out[2].Role)
	assert.Equal(t, "call_1", out[2].ToolCallID)
	assert.Contains(t, out[2].Content, "Source: blog\nContent: Task decomposition")
	assert.Equal(t, 2, strings.Count(out[2].Content, "Source: "))
	assert.Equal(t, "It splits a task into steps.", out[3].Content)

	reqs := srv.ChatRequests()
	require.Len(t, reqs, 2)
	require.Len(t, reqs[0].Tools, 1)
	assert.Equal(t, "retrieve", reqs[0].Tools[0].Function.Name)
	assert.Empty(t, reqs[1].Tools)

	gen := reqs[1].Messages
	require.Len(t, gen, 2)
	assert.Equal(t, "system", gen[0].Role)
	assert.True(t, strings.HasPrefix(gen[0].Text(), models.GenerateSystemPrompt+"\n\n"))
	assert.Contains(t, gen[0].Text(), "Task decomposition breaks a task")
	assert.Equal(t, "What is Task Decomposition?", gen[1].Text())

	state, err := saver.Transcript(ctx, "abc123")
	require.NoError(t, err)
	assert.Equal(t, out, state)

	// second turn answers directly and sees the whole thread
	out, err = agent.Run(ctx, "abc123", models.UserMessage("Thanks!"))
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "echo: Thanks!", out[1].Content)

	reqs = srv.ChatRequests()
	require.Len(t, reqs, 3)
	assert.Len(t, reqs[2].Messages, 5)
	assert.Equal(t, "tool", reqs[2].Messages[2].Role)

	state, err = saver.Transcript(ctx, "abc123")
	require.NoError(t, err)
	assert.Len(t, state, 6)
}

func TestAgentReportsUnknownTool(t *testing.T) {
	srv, llm := newModel(t)
	srv.Enqueue(
		llmtest.Reply{ToolCalls: []models.ToolCall{{ID: "c", Name: "browse", Arguments: `{}`}}},
		llmtest.Reply{Content: "sorry"},
	)
	out, err := NewAgent(llm, agentStore(t), memory.NewInMemorySaver()).Run(context.Background(), "t", models.UserMessage("hi"))
	require.NoError(t, err)
	require.Len(t, out, 4)
	assert.Contains(t, out[2].Content, `unknown tool "browse"`)
}

func TestAgentFailureSavesNothing(t *testing.T) {
	srv, llm := newModel(t)
	srv.FailChat(true)
	saver := memory.NewInMemorySaver()

	_, err := NewAgent(llm, agentStore(t), saver).Run(context.Background(), "t", models.UserMessage("hi"))
	require.Error(t, err)

	state, err := saver.Transcript(context.Background(), "t")
	require.NoError(t, err)
	assert.Empty(t, state)

	_, err = NewAgent(llm, agentStore(t), saver).Run(context.Background(), "t", models.UserMessage(""))
	assert.ErrorIs(t, err, models.ErrEmptyContent)
}

func TestAgentSurvivesEmptyReply(t *testing.T) {
	srv, llm := newModel(t)
	srv.Enqueue(llmtest.Reply{Content: ""})
	agent := NewAgent(llm, agentStore(t), memory.NewInMemorySaver())
	ctx := context.Background()

	out, err := agent.Run(ctx, "t", models.UserMessage("hi"))
	require.NoError(t, err)
	require.Len(t, out, 2)

	out, err = agent.Run(ctx, "t", models.UserMessage("hello?"))
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "echo: hello?", out[1].Content)
}

func TestPretty(t *testing.T) {
	assert.Equal(t, "[user]: hi", Pretty(models.UserMessage("hi")))
	msg := models.AssistantMessage("", models.ToolCall{ID: "1", Name: "retrieve", Arguments: `{"query":"x"}`})
	assert.Equal(t, "[assistant]:  \nTools: \n- retrieve({\"query\":\"x\"})", Pretty(msg))
}
