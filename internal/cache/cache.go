// Package cache memoizes chat completions keyed by the request that produced them.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"

	"github.com/sj48695/langchain-example/internal/config"
	"github.com/sj48695/langchain-example/internal/llmservice"
	"github.com/sj48695/langchain-example/internal/models"
)

// Backend stores serialized responses.
type Backend interface {
	Get(ctx context.Context, key string) (*llms.ContentResponse, bool, error)
	Put(ctx context.Context, key string, resp *llms.ContentResponse) error
}

// NewBackend returns the configured backend, or nil when caching is disabled.
// rdb is only used by the redis backend.
func NewBackend(cfg *config.CacheConfig, rdb *redis.Client) (Backend, error) {
	switch cfg.Backend {
	case "":
		return nil, nil
	case "memory":
		return NewRistretto(cfg.MaxCost, cfg.TTL)
	case "redis":
		if rdb == nil {
			return nil, fmt.Errorf("redis cache needs a redis client")
		}
		return NewRedis(rdb, cfg.Prefix, cfg.TTL), nil
	}
	return nil, fmt.Errorf("%w: cache %q", models.ErrUnknownBackend, cfg.Backend)
}

// Middleware wraps models with backend. A nil backend leaves them untouched.
func Middleware(backend Backend) llmservice.Middleware {
	return func(llm llms.Model) llms.Model {
		if backend == nil {
			return llm
		}
		return Wrap(llm, backend)
	}
}

type cachedModel struct {
	llm     llms.Model
	backend Backend
}

// Wrap returns a model that answers repeated requests from backend.
func Wrap(llm llms.Model, backend Backend) llms.Model {
	return &cachedModel{llm: llm, backend: backend}
}

func (m *cachedModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}

func (m *cachedModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	opts := llms.CallOptions{}
	for _, opt := range options {
		opt(&opts)
	}
	if opts.StreamingFunc != nil {
		return m.llm.GenerateContent(ctx, messages, options...)
	}

	key, err := Key(messages, opts)
	if err != nil {
		return nil, err
	}

	resp, ok, err := m.backend.Get(ctx, key)
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Cache read failed, calling model")
	} else if ok {
		log.Debug().Str("key", key).Msg("Cache hit")
		return resp, nil
	}

	resp, err = m.llm.GenerateContent(ctx, messages, options...)
	if err != nil {
		return nil, err
	}
	if err := m.backend.Put(ctx, key, resp); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Cache write failed")
	}
	return resp, nil
}

type keyPart struct {
	Kind    string `json:"k"`
	ID      string `json:"id,omitempty"`
	Name    string `json:"n,omitempty"`
	Content string `json:"c,omitempty"`
}

type keyMessage struct {
	Role  llms.ChatMessageType `json:"r"`
	Parts []keyPart            `json:"p"`
}

type keyRequest struct {
	Model       string       `json:"model"`
	Temperature float64      `json:"temperature"`
	MaxTokens   int          `json:"max_tokens"`
	StopWords   []string     `json:"stop,omitempty"`
	JSONMode    bool         `json:"json,omitempty"`
	Tools       []llms.Tool  `json:"tools,omitempty"`
	Messages    []keyMessage `json:"messages"`
}

// Key hashes everything about a request that can change the response.
func Key(messages []llms.MessageContent, opts llms.CallOptions) (string, error) {
	req := keyRequest{
		Model:       opts.Model,
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
		StopWords:   opts.StopWords,
		JSONMode:    opts.JSONMode,
		Tools:       opts.Tools,
		Messages:    make([]keyMessage, len(messages)),
	}
	for i, mc := range messages {
		km := keyMessage{Role: mc.Role, Parts: make([]keyPart, 0, len(mc.Parts))}
		for _, p := range mc.Parts {
			switch part := p.(type) {
			case llms.TextContent:
				km.Parts = append(km.Parts, keyPart{Kind: "text", Content: part.Text})
			case llms.ToolCall:
				kp := keyPart{Kind: "tool_call", ID: part.ID}
				if part.FunctionCall != nil {
					kp.Name = part.FunctionCall.Name
					kp.Content = part.FunctionCall.Arguments
				}
				km.Parts = append(km.Parts, kp)
			case llms.ToolCallResponse:
				km.Parts = append(km.Parts, keyPart{Kind: "tool_result", ID: part.ToolCallID, Name: part.Name, Content: part.Content})
			default:
				km.Parts = append(km.Parts, keyPart{Kind: fmt.Sprintf("%T", p), Content: fmt.Sprint(p)})
			}
		}
		req.Messages[i] = km
	}

	b, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to build cache key: %w", err)
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

func encode(resp *llms.ContentResponse) ([]byte, error) {
	return json.Marshal(resp)
}

func decode(b []byte) (*llms.ContentResponse, error) {
	var resp llms.ContentResponse
	if err := json.Unmarshal(b, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode cached response: %w", err)
	}
	return &resp, nil
}
