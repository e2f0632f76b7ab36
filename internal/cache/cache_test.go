package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"github.com/sj48695/langchain-example/internal/config"
	"github.com/sj48695/langchain-example/internal/llmservice"
	"github.com/sj48695/langchain-example/internal/llmtest"
	"github.com/sj48695/langchain-example/internal/models"
)

type failingBackend struct{}

func (failingBackend) Get(context.Context, string) (*llms.ContentResponse, bool, error) {
	return nil, false, assert.AnError
}

func (failingBackend) Put(context.Context, string, *llms.ContentResponse) error {
	return assert.AnError
}

func newRedisClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), Protocol: 2})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func backends(t *testing.T) map[string]Backend {
	t.Helper()
	rist, err := NewRistretto(1<<20, 0)
	require.NoError(t, err)
	t.Cleanup(rist.Close)

	_, rdb := newRedisClient(t)
	return map[string]Backend{
		"ristretto": rist,
		"redis":     NewRedis(rdb, "test:", time.Minute),
	}
}

func TestWrapServesRepeatedRequestsFromCache(t *testing.T) {
	for name, backend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			srv := llmtest.NewServer(t)
			llm, err := llmservice.NewModel(srv.Config(), Middleware(backend))
			require.NoError(t, err)

			ctx := context.Background()
			msgs := []models.Message{models.UserMessage("What is Task Decomposition?")}

			first, err := llmservice.Invoke(ctx, llm, msgs)
			require.NoError(t, err)
			second, err := llmservice.Invoke(ctx, llm, msgs)
			require.NoError(t, err)

			assert.Equal(t, first, second)
			assert.Len(t, srv.ChatRequests(), 1)

			_, err = llmservice.Invoke(ctx, llm, []models.Message{models.UserMessage("something else")})
			require.NoError(t, err)
			assert.Len(t, srv.ChatRequests(), 2)
		})
	}
}

func TestWrapCachesToolCalls(t *testing.T) {
	rist, err := NewRistretto(1<<20, 0)
	require.NoError(t, err)
	defer rist.Close()

	srv := llmtest.NewServer(t)
	srv.Enqueue(llmtest.Reply{ToolCalls: []models.ToolCall{{ID: "c1", Name: "retrieve", Arguments: `{"query":"x"}`}}})
	llm, err := llmservice.NewModel(srv.Config(), Middleware(rist))
	require.NoError(t, err)

	msgs := []models.Message{models.UserMessage("q")}
	_, err = llmservice.Invoke(context.Background(), llm, msgs)
	require.NoError(t, err)
	out, err := llmservice.Invoke(context.Background(), llm, msgs)
	require.NoError(t, err)

	reply := out[len(out)-1]
	require.Len(t, reply.ToolCalls, 1)
	assert.Equal(t, "retrieve", reply.ToolCalls[0].Name)
	assert.Len(t, srv.ChatRequests(), 1)
}

func TestWrapBackendErrorsFallThrough(t *testing.T) {
	srv := llmtest.NewServer(t)
	llm, err := llmservice.NewModel(srv.Config(), Middleware(failingBackend{}))
	require.NoError(t, err)

	msgs := []models.Message{models.UserMessage("hi")}
	for range 2 {
		out, err := llmservice.Invoke(context.Background(), llm, msgs)
		require.NoError(t, err)
		assert.Equal(t, "echo: hi", out[1].Content)
	}
	assert.Len(t, srv.ChatRequests(), 2)
}

func TestWrapDoesNotCacheErrors(t *testing.T) {
	rist, err := NewRistretto(1<<20, 0)
	require.NoError(t, err)
	defer rist.Close()

	srv := llmtest.NewServer(t)
	srv.FailChat(true)
	llm, err := llmservice.NewModel(srv.Config(), Middleware(rist))
	require.NoError(t, err)

	msgs := []models.Message{models.UserMessage("hi")}
	_, err = llmservice.Invoke(context.Background(), llm, msgs)
	require.Error(t, err)

	srv.FailChat(false)
	_, err = llmservice.Invoke(context.Background(), llm, msgs)
	require.NoError(t, err)
	assert.Len(t, srv.ChatRequests(), 2)
}

func TestKeyDependsOnRequest(t *testing.T) {
	msgs := []llms.MessageContent{llms.TextParts(llms.ChatMessageTypeHuman, "hello")}

	base, err := Key(msgs, llms.CallOptions{Model: "gpt-4o-mini"})
	require.NoError(t, err)
	same, err := Key(msgs, llms.CallOptions{Model: "gpt-4o-mini"})
	require.NoError(t, err)
	assert.Equal(t, base, same)

	variants := []llms.CallOptions{
		{Model: "gpt-4o"},
		{Model: "gpt-4o-mini", Temperature: 0.7},
		{Model: "gpt-4o-mini", MaxTokens: 10},
		{Model: "gpt-4o-mini", Tools: []llms.Tool{{Type: "function", Function: &llms.FunctionDefinition{Name: "retrieve"}}}},
	}
	for _, opts := range variants {
		k, err := Key(msgs, opts)
		require.NoError(t, err)
		assert.NotEqual(t, base, k)
	}

	other, err := Key([]llms.MessageContent{llms.TextParts(llms.ChatMessageTypeSystem, "hello")}, llms.CallOptions{Model: "gpt-4o-mini"})
	require.NoError(t, err)
	assert.NotEqual(t, base, other)
}

func TestRedisBackendTTL(t *testing.T) {
	mr, rdb := newRedisClient(t)
	backend := NewRedis(rdb, "llm:", time.Minute)
	ctx := context.Background()

	_, ok, err := backend.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, backend.Put(ctx, "k", &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: "v"}}}))
	assert.True(t, mr.Exists("llm:k"))

	resp, ok, err := backend.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "v", resp.Choices[0].Content)

	mr.FastForward(2 * time.Minute)
	_, ok, err = backend.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNewBackend(t *testing.T) {
	b, err := NewBackend(&config.CacheConfig{}, nil)
	require.NoError(t, err)
	assert.Nil(t, b)

	b, err = NewBackend(&config.CacheConfig{Backend: "memory", MaxCost: 1 << 20}, nil)
	require.NoError(t, err)
	assert.IsType(t, &Ristretto{}, b)
	b.(*Ristretto).Close()

	_, err = NewBackend(&config.CacheConfig{Backend: "redis"}, nil)
	assert.Error(t, err)

	_, err = NewBackend(&config.CacheConfig{Backend: "memcached"}, nil)
	assert.ErrorIs(t, err, models.ErrUnknownBackend)
}
