package main

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms"
	"github.com/uptrace/bun"

	"github.com/sj48695/langchain-example/internal/cache"
	"github.com/sj48695/langchain-example/internal/config"
	"github.com/sj48695/langchain-example/internal/db"
	"github.com/sj48695/langchain-example/internal/embedding"
	"github.com/sj48695/langchain-example/internal/llmservice"
	"github.com/sj48695/langchain-example/internal/memory"
	"github.com/sj48695/langchain-example/internal/redisdb"
	"github.com/sj48695/langchain-example/internal/vectorstore"
)

// app holds the clients one command needs. Everything it opens is closed
// by Close.
type app struct {
	cfg *config.Config

	db    *bun.DB
	redis *redis.Client
	cache cache.Backend

	llm      llms.Model
	embedder embeddings.Embedder
	store    *vectorstore.VectorStore
	saver    memory.Saver
}

type need int

const (
	needChat need = 1 << iota
	needStore
	needSaver
)

func newApp(ctx context.Context, n need) (_ *app, err error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	usesRedis := (n&needStore != 0 && cfg.VectorStore.Backend == "redis") ||
		(n&needChat != 0 && cfg.Cache.Backend == "redis")
	usesDB := (n&needStore != 0 && cfg.VectorStore.Backend == "pgvector") ||
		(n&needSaver != 0 && cfg.Memory.Backend == "database")

	if usesRedis {
		if a.redis, err = redisdb.NewClient(cfg.Redis.URL); err != nil {
			return nil, err
		}
	}
	if usesDB {
		if a.db, err = db.Open(&cfg.Database); err != nil {
			return nil, err
		}
	}

	if n&needChat != 0 {
		if a.cache, err = cache.NewBackend(&cfg.Cache, a.redis); err != nil {
			return nil, err
		}
		var middlewares []llmservice.Middleware
		if a.cache != nil {
			middlewares = append(middlewares, cache.Middleware(a.cache))
		}
		if a.llm, err = llmservice.NewModel(&cfg.LLM, middlewares...); err != nil {
			return nil, err
		}
	}

	if n&needStore != 0 {
		if a.embedder, err = embedding.NewEmbedder(&cfg.EmbedLLM); err != nil {
			return nil, err
		}
		a.store, err = vectorstore.New(ctx, cfg, a.embedder, vectorstore.Clients{DB: a.db, Redis: a.redis})
		if err != nil {
			return nil, err
		}
	}

	if n&needSaver != 0 {
		if a.saver, err = memory.NewSaver(ctx, &cfg.Memory, a.db); err != nil {
			return nil, err
		}
	}
	return a, nil
}

func (a *app) Close() {
	var errs []error
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if c, ok := a.cache.(interface{ Close() }); ok {
		c.Close()
	}
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	if a.db != nil {
		errs = append(errs, a.db.Close())
	}
	if err := errors.Join(errs...); err != nil {
		log.Warn().Err(err).Msg("Error closing clients")
	}
}
