package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("REDIS_URL", "")
	t.Setenv("DATABASE_URL", "")

	cfg, err := LoadConfig(writeConfig(t, "llm:\n  provider: openai\n"))
	require.NoError(t, err)

	assert.Equal(t, "gpt-4o-mini", cfg.LLM.Model)
	assert.Equal(t, "text-embedding-3-large", cfg.EmbedLLM.Model)
	assert.Equal(t, 1000, cfg.RAG.ChunkSize)
	assert.Equal(t, 200, cfg.RAG.ChunkOverlap)
	assert.Equal(t, 3, cfg.RAG.TopK)
	assert.Equal(t, "./docs", cfg.RAG.DocsDir)
	assert.Equal(t, "memory", cfg.VectorStore.Backend)
	assert.Equal(t, "cosine", cfg.VectorStore.Distance)
	assert.Equal(t, "testlangchainjs", cfg.VectorStore.PGVector.Table)
	assert.Equal(t, []string{"userId"}, cfg.VectorStore.Redis.TagFields)
	assert.Equal(t, "redis://localhost:6379", cfg.Redis.URL)
	assert.Equal(t, "memory", cfg.Memory.Backend)
}

func TestLoadConfigFile(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("REDIS_URL", "")
	t.Setenv("DATABASE_URL", "")

	cfg, err := LoadConfig(writeConfig(t, `
llm:
  provider: ollama
  base_url: http://localhost:11434
  model: llama3
rag:
  chunk_size: 500
  chunk_overlap: 50
  top_k: 2
vector_store:
  backend: redis
  redis:
    index_name: idx
cache:
  backend: redis
  ttl: 90m
`))
	require.NoError(t, err)

	assert.Equal(t, "ollama", cfg.LLM.Provider)
	assert.Equal(t, "llama3", cfg.LLM.Model)
	assert.Equal(t, 500, cfg.RAG.ChunkSize)
	assert.Equal(t, 50, cfg.RAG.ChunkOverlap)
	assert.Equal(t, 2, cfg.RAG.TopK)
	assert.Equal(t, "idx", cfg.VectorStore.Redis.IndexName)
	assert.Equal(t, "idx:", cfg.VectorStore.Redis.Prefix)
	assert.Equal(t, 90*time.Minute, cfg.Cache.TTL)
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-env")
	t.Setenv("ANTHROPIC_API_KEY", "ak-env")
	t.Setenv("REDIS_URL", "redis://cache:6380/1")
	t.Setenv("DATABASE_URL", "postgres://u:p@db/x")

	cfg, err := LoadConfig(writeConfig(t, `
llm:
  provider: anthropic
  key: from-file
embed_llm:
  provider: openai
redis:
  url: redis://ignored
`))
	require.NoError(t, err)

	assert.Equal(t, "ak-env", cfg.LLM.Key)
	assert.Equal(t, "sk-env", cfg.EmbedLLM.Key)
	assert.Equal(t, "redis://cache:6380/1", cfg.Redis.URL)
	assert.Equal(t, "postgres://u:p@db/x", cfg.Database.DSN)
}

func TestLoadConfigValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"overlap not smaller than size", "rag:\n  chunk_size: 100\n  chunk_overlap: 100\n"},
		{"negative overlap", "rag:\n  chunk_size: 100\n  chunk_overlap: -1\n"},
		{"short encryption key", "rag:\n  encryption_key: short\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
