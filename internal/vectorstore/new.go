package vectorstore

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/uptrace/bun"

	"github.com/sj48695/langchain-example/internal/chromemdb"
	"github.com/sj48695/langchain-example/internal/config"
	"github.com/sj48695/langchain-example/internal/db"
	"github.com/sj48695/langchain-example/internal/helper"
	"github.com/sj48695/langchain-example/internal/models"
	"github.com/sj48695/langchain-example/internal/redisdb"
)

// Clients are the shared connections a backend may need. The caller owns
// and closes them.
type Clients struct {
	DB    *bun.DB
	Redis *redis.Client
}

// New builds the vector store selected by cfg.VectorStore.Backend.
func New(ctx context.Context, cfg *config.Config, embedder embeddings.Embedder, clients Clients) (*VectorStore, error) {
	vs := cfg.VectorStore
	distance, err := models.ParseDistance(vs.Distance)
	if err != nil {
		return nil, err
	}

	log.Debug().Str("backend", vs.Backend).Str("collection", vs.Collection).Str("distance", string(distance)).Msg("Creating vector store")

	var index Index
	switch vs.Backend {
	case "", "memory", "chromem":
		if distance != models.DistanceCosine {
			return nil, fmt.Errorf("chromem supports only cosine distance, got %s", distance)
		}
		opts := chromemdb.Options{Embed: embedder.EmbedQuery}
		if vs.Backend == "chromem" {
			if err := helper.CreateFolder(vs.Chromem.Path); err != nil {
				return nil, err
			}
			opts.DBPath = vs.Chromem.Path
			opts.Compress = vs.Chromem.Compress
			opts.EncryptionKey = cfg.RAG.EncryptionKey
		}
		index, err = chromemdb.NewVectorDBManager(vs.Collection, opts)
		if err != nil {
			return nil, err
		}
	case "pgvector":
		if clients.DB == nil {
			return nil, fmt.Errorf("pgvector backend needs a database connection")
		}
		if err := clients.DB.PingContext(ctx); err != nil {
			return nil, fmt.Errorf("failed to reach database: %w", err)
		}
		index = db.NewPGVectorStore(clients.DB, vs.PGVector, distance)
	case "redis":
		if clients.Redis == nil {
			return nil, fmt.Errorf("redis backend needs a redis client")
		}
		if err := clients.Redis.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("failed to reach redis: %w", err)
		}
		index = redisdb.NewStore(clients.Redis, vs.Redis, distance)
	default:
		return nil, fmt.Errorf("%w: vector store %q", models.ErrUnknownBackend, vs.Backend)
	}

	return NewVectorStore(index, embedder,
		WithBatchSize(cfg.RAG.EmbedBatchSize),
		WithConcurrency(cfg.RAG.EmbedConcurrency),
		withSkipExisting(cfg.RAG),
	), nil
}

func withSkipExisting(cfg config.RAGConfig) Option {
	if !cfg.SkipExisting {
		return func(*VectorStore) {}
	}
	return WithSkipExisting(cfg.DuplicateThreshold)
}
