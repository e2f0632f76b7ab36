package vectorstore

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sj48695/langchain-example/internal/chromemdb"
	"github.com/sj48695/langchain-example/internal/config"
	"github.com/sj48695/langchain-example/internal/embedding"
	"github.com/sj48695/langchain-example/internal/models"
	"github.com/sj48695/langchain-example/internal/redisdb"
)

func memoryStore(t *testing.T, opts ...Option) *VectorStore {
	t.Helper()
	e := embedding.NewHashEmbedder(64)
	index, err := chromemdb.NewVectorDBManager("test", chromemdb.Options{Embed: e.EmbedQuery})
	require.NoError(t, err)
	return NewVectorStore(index, e, opts...)
}

func userDocs() []models.Document {
	return []models.Document{
		{PageContent: "I like cats", Metadata: map[string]any{"userId": "a", "timestamp": "t1"}},
		{PageContent: "My cat is called Nabi", Metadata: map[string]any{"userId": "a", "timestamp": "t2"}},
		{PageContent: "cats and dogs are pets", Metadata: map[string]any{"userId": "b", "timestamp": "t3"}},
		{PageContent: "I live in Seoul", Metadata: map[string]any{"userId": "c", "timestamp": "t4"}},
		{PageContent: "I like cats too", Metadata: map[string]any{"userId": "c", "timestamp": "t5"}},
	}
}

func TestFilteredSearchProperties(t *testing.T) {
	ctx := context.Background()
	s := memoryStore(t)
	ids, err := s.AddDocuments(ctx, userDocs())
	require.NoError(t, err)
	require.Len(t, ids, 5)

	filters := []struct {
		filter   *models.Filter
		matching int
	}{
		{nil, 5},
		{models.NewFilter(models.Eq("userId", "a")), 2},
		{models.NewFilter(models.Ne("userId", "a")), 3},
		{models.NewFilter(models.In("userId", "b", "c")), 3},
		{models.NewFilter(models.Eq("userId", "nobody")), 0},
	}
	for _, tc := range filters {
		for _, k := range []int{1, 2, 10} {
			res, err := s.SimilaritySearch(ctx, "cats", k, tc.filter)
			require.NoError(t, err)
			assert.Len(t, res, min(k, tc.matching), "filter %+v k=%d", tc.filter, k)
			for i, r := range res {
				assert.True(t, tc.filter.Match(r.Metadata), "filter %+v returned %v", tc.filter, r.Metadata)
				if i > 0 {
					assert.GreaterOrEqual(t, res[i-1].Score, r.Score)
				}
			}
		}
	}
}

// plainIndex stores nothing and has no Drop.
type plainIndex struct{}

func (plainIndex) Upsert(context.Context, []models.Document, [][]float32) error { return nil }

func (plainIndex) Search(context.Context, []float32, int, *models.Filter) ([]models.ScoredDocument, error) {
	return nil, nil
}

func (plainIndex) Close() error { return nil }

func TestReset(t *testing.T) {
	ctx := context.Background()
	s := memoryStore(t)
	_, err := s.AddDocuments(ctx, userDocs())
	require.NoError(t, err)

	require.NoError(t, s.Reset(ctx))
	res, err := s.SimilaritySearch(ctx, "cats", 3, nil)
	require.NoError(t, err)
	assert.Empty(t, res)

	_, err = s.AddDocuments(ctx, userDocs()[:1])
	require.NoError(t, err)
	res, err = s.SimilaritySearch(ctx, "cats", 3, nil)
	require.NoError(t, err)
	assert.Len(t, res, 1)

	assert.Error(t, NewVectorStore(plainIndex{}, embedding.NewHashEmbedder(8)).Reset(ctx))
}

func TestEmptyStoreReturnsNothing(t *testing.T) {
	res, err := memoryStore(t).SimilaritySearch(context.Background(), "anything", 3, nil)
	require.NoError(t, err)
	assert.Empty(t, res)
}

func TestInvalidK(t *testing.T) {
	s := memoryStore(t)
	for _, k := range []int{0, -1} {
		_, err := s.SimilaritySearch(context.Background(), "q", k, nil)
		assert.ErrorIs(t, err, models.ErrInvalidK)
		_, err = s.SimilaritySearchVector(context.Background(), []float32{1}, k, nil)
		assert.ErrorIs(t, err, models.ErrInvalidK)
	}
}

func TestAddDocumentsKeepsCallerDocs(t *testing.T) {
	docs := []models.Document{{PageContent: "x"}, {ID: "fixed", PageContent: "y"}}
	ids, err := memoryStore(t).AddDocuments(context.Background(), docs)
	require.NoError(t, err)
	require.Len(t, ids, 2)
	assert.NotEmpty(t, ids[0])
	assert.Equal(t, "fixed", ids[1])
	assert.Empty(t, docs[0].ID)

	ids, err = memoryStore(t).AddDocuments(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestSkipExisting(t *testing.T) {
	ctx := context.Background()
	s := memoryStore(t, WithSkipExisting(0.999))

	ids, err := s.AddDocuments(ctx, userDocs()[:2])
	require.NoError(t, err)
	assert.Len(t, ids, 2)

	ids, err = s.AddDocuments(ctx, userDocs()[:3])
	require.NoError(t, err)
	assert.Len(t, ids, 1)

	res, err := s.SimilaritySearch(ctx, "cats", 10, nil)
	require.NoError(t, err)
	assert.Len(t, res, 3)
}

type countingEmbedder struct {
	*embedding.HashEmbedder
	mu      sync.Mutex
	batches []int
	active  atomic.Int32
	peak    atomic.Int32
}

func (c *countingEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	n := c.active.Add(1)
	defer c.active.Add(-1)
	for {
		p := c.peak.Load()
		if n <= p || c.peak.CompareAndSwap(p, n) {
			break
		}
	}
	c.mu.Lock()
	c.batches = append(c.batches, len(texts))
	c.mu.Unlock()
	return c.HashEmbedder.EmbedDocuments(ctx, texts)
}

func TestBatchedEmbedding(t *testing.T) {
	e := &countingEmbedder{HashEmbedder: embedding.NewHashEmbedder(16)}
	index, err := chromemdb.NewVectorDBManager("test", chromemdb.Options{})
	require.NoError(t, err)
	s := NewVectorStore(index, e, WithBatchSize(2), WithConcurrency(2))

	docs := make([]models.Document, 5)
	for i := range docs {
		docs[i] = models.Document{PageContent: string(rune('a' + i))}
	}
	ids, err := s.AddDocuments(context.Background(), docs)
	require.NoError(t, err)
	assert.Len(t, ids, 5)
	assert.ElementsMatch(t, []int{2, 2, 1}, e.batches)
	assert.LessOrEqual(t, e.peak.Load(), int32(2))
	assert.Equal(t, 5, index.Count())
}

func TestNewBackends(t *testing.T) {
	ctx := context.Background()
	e := embedding.NewHashEmbedder(16)

	cfg := config.Default()
	s, err := New(ctx, cfg, e, Clients{})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	cfg.VectorStore.Backend = "chromem"
	cfg.VectorStore.Chromem.Path = t.TempDir()
	s, err = New(ctx, cfg, e, Clients{})
	require.NoError(t, err)
	_, err = s.AddDocuments(ctx, []models.Document{{PageContent: "persisted"}})
	require.NoError(t, err)

	cfg.VectorStore.Backend = "memory"
	cfg.VectorStore.Distance = "euclidean"
	_, err = New(ctx, cfg, e, Clients{})
	assert.Error(t, err)

	cfg.VectorStore.Distance = "cosine"
	cfg.VectorStore.Backend = "pgvector"
	_, err = New(ctx, cfg, e, Clients{})
	assert.Error(t, err)

	cfg.VectorStore.Backend = "redis"
	_, err = New(ctx, cfg, e, Clients{})
	assert.Error(t, err)

	mr := miniredis.RunT(t)
	rdb, err := redisdb.NewClient("redis://" + mr.Addr())
	require.NoError(t, err)
	defer rdb.Close()
	s, err = New(ctx, cfg, e, Clients{Redis: rdb})
	require.NoError(t, err)
	assert.IsType(t, &redisdb.Store{}, s.index)

	cfg.VectorStore.Backend = "faiss"
	_, err = New(ctx, cfg, e, Clients{})
	assert.ErrorIs(t, err, models.ErrUnknownBackend)
}
