package embedding

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/sj48695/langchain-example/internal/config"
	"github.com/sj48695/langchain-example/internal/llmservice"
	"github.com/sj48695/langchain-example/internal/models"
)

// NewEmbedder creates the embedder configured by LLMconfig.Provider
func NewEmbedder(LLMconfig *config.LLMConfig) (embeddings.Embedder, error) {
	log.Debug().
		Str("provider", LLMconfig.Provider).
		Str("base_url", LLMconfig.BaseURL).
		Str("embedding_model", LLMconfig.Model).
		Msg("Creating embedder")

	switch LLMconfig.Provider {
	case "", "openai":
		return NewOpenAIEmbedder(LLMconfig)
	case "ollama":
		return NewOllamaEmbedder(LLMconfig)
	case "hash":
		return NewHashEmbedder(LLMconfig.Dimensions), nil
	}
	return nil, fmt.Errorf("%w: %q", models.ErrUnknownProvider, LLMconfig.Provider)
}

// NewOpenAIEmbedder works with OpenAI and any API that mirrors its /embeddings route
func NewOpenAIEmbedder(LLMconfig *config.LLMConfig) (*embeddings.EmbedderImpl, error) {
	opts := []openai.Option{
		openai.WithToken(strings.TrimPrefix(LLMconfig.Key, "Bearer ")),
	}
	if LLMconfig.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(LLMconfig.BaseURL))
	}
	if LLMconfig.Model != "" {
		opts = append(opts, openai.WithEmbeddingModel(LLMconfig.Model))
	}
	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize openai embedding client: %w", err)
	}
	embedder, err := embeddings.NewEmbedder(llm)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}
	return embedder, nil
}

// new ollama embedder
func NewOllamaEmbedder(LLMconfig *config.LLMConfig) (*embeddings.EmbedderImpl, error) {
	llm, err := ollama.New(
		ollama.WithServerURL(LLMconfig.BaseURL),
		ollama.WithModel(LLMconfig.Model),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize ollama embedding client: %w", err)
	}
	embedder, err := embeddings.NewEmbedder(llm)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}
	return embedder, nil
}

// Contextualize prefixes every chunk with a short LLM-written summary of
// where it sits in its source document. Chunks are grouped by their
// "source" metadata and the group's chunks, joined in order, stand in for
// the whole document.
func Contextualize(ctx context.Context, llm llms.Model, docs []models.Document) ([]models.Document, error) {
	if len(docs) == 0 {
		log.Info().Msg("No chunks to contextualize")
		return nil, nil
	}

	parts := make(map[string][]string)
	for _, d := range docs {
		source := models.MetadataString(d.Metadata["source"])
		parts[source] = append(parts[source], d.PageContent)
	}

	out := make([]models.Document, len(docs))
	for i, d := range docs {
		document := strings.Join(parts[models.MetadataString(d.Metadata["source"])], "\n")
		summary, err := GenerateContext(ctx, llm, document, d.PageContent)
		if err != nil {
			return nil, fmt.Errorf("failed to contextualize chunk %d: %w", i, err)
		}
		out[i] = d.WithMetadata(map[string]any{"context": summary})
		out[i].PageContent = summary + models.ContextSeparator + d.PageContent
	}
	return out, nil
}

// generate context for each chunk and return new chunks
func GenerateContext(ctx context.Context, llm llms.Model, document, chunk string) (string, error) {
	log.Debug().Msgf("Generating context for chunk: %s", chunk)
	prompt := fmt.Sprintf(models.ContextPromptTemplate, document, chunk)

	msgContent := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeHuman, prompt),
	}

	res, err := llmservice.GenerateContent(ctx, llm, nil, msgContent)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(res.Choices[0].Content), nil
}
