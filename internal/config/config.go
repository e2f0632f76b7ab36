package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	LLM         LLMConfig         `yaml:"llm"`
	EmbedLLM    LLMConfig         `yaml:"embed_llm"`
	RAG         RAGConfig         `yaml:"rag"`
	VectorStore VectorStoreConfig `yaml:"vector_store"`
	Database    DatabaseConfig    `yaml:"database"`
	Redis       RedisConfig       `yaml:"redis"`
	Cache       CacheConfig       `yaml:"cache"`
	Memory      MemoryConfig      `yaml:"memory"`
}

// LLMConfig describes either a chat model or an embedding model.
type LLMConfig struct {
	Provider    string  `yaml:"provider"`
	BaseURL     string  `yaml:"base_url"`
	Key         string  `yaml:"key"`
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
	// Dimensions is only read by the offline hash embedder.
	Dimensions int `yaml:"dimensions"`
}

type RAGConfig struct {
	ChunkSize          int     `yaml:"chunk_size"`
	ChunkOverlap       int     `yaml:"chunk_overlap"`
	Splitter           string  `yaml:"splitter"`
	TopK               int     `yaml:"top_k"`
	DocsDir            string  `yaml:"docs_dir"`
	EncryptionKey      string  `yaml:"encryption_key"`
	EmbedConcurrency   int     `yaml:"embed_concurrency"`
	EmbedBatchSize     int     `yaml:"embed_batch_size"`
	SkipExisting       bool    `yaml:"skip_existing"`
	DuplicateThreshold float32 `yaml:"duplicate_threshold"`
}

type VectorStoreConfig struct {
	Backend    string         `yaml:"backend"`
	Collection string         `yaml:"collection"`
	Distance   string         `yaml:"distance"`
	Chromem    ChromemConfig  `yaml:"chromem"`
	PGVector   PGVectorConfig `yaml:"pgvector"`
	Redis      RedisIndex     `yaml:"redis"`
}

type ChromemConfig struct {
	Path     string `yaml:"path"`
	Compress bool   `yaml:"compress"`
}

type PGVectorConfig struct {
	Table          string `yaml:"table"`
	IDColumn       string `yaml:"id_column"`
	VectorColumn   string `yaml:"vector_column"`
	ContentColumn  string `yaml:"content_column"`
	MetadataColumn string `yaml:"metadata_column"`
}

type RedisIndex struct {
	IndexName string   `yaml:"index_name"`
	Prefix    string   `yaml:"prefix"`
	TagFields []string `yaml:"tag_fields"`
}

type DatabaseConfig struct {
	// Driver is one of pgdriver, postgres (lib/pq) or sqlite.
	Driver   string `yaml:"driver"`
	DSN      string `yaml:"dsn"`
	Password string `yaml:"password"`
	Debug    bool   `yaml:"debug"`
}

type RedisConfig struct {
	URL string `yaml:"url"`
}

type CacheConfig struct {
	// Backend is empty (disabled), memory or redis.
	Backend string        `yaml:"backend"`
	TTL     time.Duration `yaml:"ttl"`
	MaxCost int64         `yaml:"max_cost"`
	Prefix  string        `yaml:"prefix"`
}

type MemoryConfig struct {
	// Backend is memory or database.
	Backend string `yaml:"backend"`
}

const (
	defaultChatModel          = "gpt-4o-mini"
	defaultEmbeddingModel     = "text-embedding-3-large"
	defaultChunkSize          = 1000
	defaultChunkOverlap       = 200
	defaultTopK               = 3
	defaultDocsDir            = "./docs"
	defaultEmbedBatchSize     = 64
	defaultDuplicateThreshold = 0.999
	defaultRedisURL           = "redis://localhost:6379"
	defaultCacheMaxCost       = 1 << 26
)

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.ApplyEnv()
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyEnv overrides secrets and connection strings from the environment.
func (c *Config) ApplyEnv() {
	for _, llm := range []*LLMConfig{&c.LLM, &c.EmbedLLM} {
		switch llm.Provider {
		case "", "openai":
			if v := os.Getenv("OPENAI_API_KEY"); v != "" {
				llm.Key = v
			}
		case "anthropic":
			if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
				llm.Key = v
			}
		}
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		c.Redis.URL = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Database.DSN = v
	}
}

func (c *Config) ApplyDefaults() {
	if c.LLM.Provider == "" {
		c.LLM.Provider = "openai"
	}
	if c.LLM.Model == "" && c.LLM.Provider == "openai" {
		c.LLM.Model = defaultChatModel
	}
	if c.EmbedLLM.Provider == "" {
		c.EmbedLLM.Provider = "openai"
	}
	if c.EmbedLLM.Model == "" && c.EmbedLLM.Provider == "openai" {
		c.EmbedLLM.Model = defaultEmbeddingModel
	}

	if c.RAG.ChunkSize == 0 {
		c.RAG.ChunkSize = defaultChunkSize
	}
	if c.RAG.ChunkOverlap == 0 && c.RAG.ChunkSize > defaultChunkOverlap {
		c.RAG.ChunkOverlap = defaultChunkOverlap
	}
	if c.RAG.Splitter == "" {
		c.RAG.Splitter = "recursive"
	}
	if c.RAG.TopK == 0 {
		c.RAG.TopK = defaultTopK
	}
	if c.RAG.DocsDir == "" {
		c.RAG.DocsDir = defaultDocsDir
	}
	if c.RAG.EmbedConcurrency == 0 {
		c.RAG.EmbedConcurrency = 1
	}
	if c.RAG.EmbedBatchSize == 0 {
		c.RAG.EmbedBatchSize = defaultEmbedBatchSize
	}
	if c.RAG.DuplicateThreshold == 0 {
		c.RAG.DuplicateThreshold = defaultDuplicateThreshold
	}

	vs := &c.VectorStore
	if vs.Backend == "" {
		vs.Backend = "memory"
	}
	if vs.Collection == "" {
		vs.Collection = "documents"
	}
	if vs.Distance == "" {
		vs.Distance = "cosine"
	}
	if vs.Chromem.Path == "" {
		vs.Chromem.Path = "./chromemdb"
	}
	if vs.PGVector.Table == "" {
		vs.PGVector.Table = "testlangchainjs"
	}
	if vs.PGVector.IDColumn == "" {
		vs.PGVector.IDColumn = "id"
	}
	if vs.PGVector.VectorColumn == "" {
		vs.PGVector.VectorColumn = "vector"
	}
	if vs.PGVector.ContentColumn == "" {
		vs.PGVector.ContentColumn = "content"
	}
	if vs.PGVector.MetadataColumn == "" {
		vs.PGVector.MetadataColumn = "metadata"
	}
	if vs.Redis.IndexName == "" {
		vs.Redis.IndexName = vs.Collection
	}
	if vs.Redis.Prefix == "" {
		vs.Redis.Prefix = vs.Redis.IndexName + ":"
	}
	if len(vs.Redis.TagFields) == 0 {
		vs.Redis.TagFields = []string{"userId"}
	}

	if c.Database.Driver == "" {
		c.Database.Driver = "pgdriver"
	}
	if c.Redis.URL == "" {
		c.Redis.URL = defaultRedisURL
	}
	if c.Cache.MaxCost == 0 {
		c.Cache.MaxCost = defaultCacheMaxCost
	}
	if c.Cache.Prefix == "" {
		c.Cache.Prefix = "llm:cache:"
	}
	if c.Memory.Backend == "" {
		c.Memory.Backend = "memory"
	}
}

func (c *Config) Validate() error {
	if c.RAG.ChunkSize <= 0 {
		return fmt.Errorf("rag.chunk_size must be positive, got %d", c.RAG.ChunkSize)
	}
	if c.RAG.ChunkOverlap < 0 || c.RAG.ChunkOverlap >= c.RAG.ChunkSize {
		return fmt.Errorf("rag.chunk_overlap must be in [0, %d), got %d", c.RAG.ChunkSize, c.RAG.ChunkOverlap)
	}
	if c.RAG.TopK <= 0 {
		return fmt.Errorf("rag.top_k must be positive, got %d", c.RAG.TopK)
	}
	if key := c.RAG.EncryptionKey; key != "" && len(key) != 32 {
		return fmt.Errorf("rag.encryption_key must be 32 bytes, got %d", len(key))
	}
	return nil
}

// Default returns a configuration with every default applied and no file behind it.
func Default() *Config {
	var cfg Config
	cfg.ApplyDefaults()
	return &cfg
}
