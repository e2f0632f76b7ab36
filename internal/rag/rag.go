package rag

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"

	"github.com/sj48695/langchain-example/internal/config"
	"github.com/sj48695/langchain-example/internal/llmservice"
	"github.com/sj48695/langchain-example/internal/models"
	"github.com/sj48695/langchain-example/internal/vectorstore"
)

type RAG struct {
	store vectorstore.Store
	llm   llms.Model
	cfg   *config.Config
}

func NewRAG(store vectorstore.Store, llm llms.Model, cfg *config.Config) *RAG {
	return &RAG{store: store, llm: llm, cfg: cfg}
}

// Query answers query from the documents stored for userID. An empty
// userID searches every document.
func (r *RAG) Query(ctx context.Context, userID, query string) (*models.PromptResponse, error) {
	if strings.TrimSpace(query) == "" {
		return nil, models.ErrEmptyContent
	}

	var filter *models.Filter
	if userID != "" {
		filter = models.NewFilter(models.Eq("userId", userID))
	}
	docs, err := r.store.SimilaritySearch(ctx, query, r.cfg.RAG.TopK, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to search documents: %w", err)
	}
	log.Debug().Str("user", userID).Int("matches", len(docs)).Msg("Retrieved context")

	contents := make([]string, len(docs))
	for i, d := range docs {
		contents[i] = d.PageContent
	}
	retrieved := strings.Join(contents, "\n")

	out, err := llmservice.Invoke(ctx, r.llm, []models.Message{
		models.SystemMessage(models.RAGSystemPrompt),
		models.SystemMessage(models.RAGContextPrefix + retrieved),
		models.UserMessage(query),
	})
	if err != nil {
		return nil, err
	}

	return &models.PromptResponse{
		Query:     query,
		Source:    retrieved,
		Content:   out[len(out)-1].Content,
		Documents: docs,
	}, nil
}
