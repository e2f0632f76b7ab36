package vectorstore

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"
	"golang.org/x/sync/errgroup"

	"github.com/sj48695/langchain-example/internal/helper"
	"github.com/sj48695/langchain-example/internal/models"
)

// Index is a backend that stores precomputed vectors.
type Index interface {
	Upsert(ctx context.Context, docs []models.Document, vectors [][]float32) error
	// Search returns at most k documents passing filter, highest score first.
	Search(ctx context.Context, vector []float32, k int, filter *models.Filter) ([]models.ScoredDocument, error)
	Close() error
}

// Dropper is an Index that can delete everything it stores.
type Dropper interface {
	Drop(ctx context.Context) error
}

type Store interface {
	AddDocuments(ctx context.Context, docs []models.Document) ([]string, error)
	SimilaritySearch(ctx context.Context, query string, k int, filter *models.Filter) ([]models.ScoredDocument, error)
	SimilaritySearchVector(ctx context.Context, vector []float32, k int, filter *models.Filter) ([]models.ScoredDocument, error)
	Close() error
}

// VectorStore embeds documents and queries and delegates storage to an Index.
type VectorStore struct {
	index    Index
	embedder embeddings.Embedder

	batchSize    int
	concurrency  int
	skipExisting bool
	threshold    float32
}

var _ Store = (*VectorStore)(nil)

type Option func(*VectorStore)

func WithBatchSize(n int) Option {
	return func(s *VectorStore) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// WithConcurrency bounds the number of embedding batches in flight.
func WithConcurrency(n int) Option {
	return func(s *VectorStore) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// WithSkipExisting drops documents whose nearest stored neighbour scores at
// least threshold.
func WithSkipExisting(threshold float32) Option {
	return func(s *VectorStore) {
		s.skipExisting = true
		s.threshold = threshold
	}
}

func NewVectorStore(index Index, embedder embeddings.Embedder, opts ...Option) *VectorStore {
	s := &VectorStore{
		index:       index,
		embedder:    embedder,
		batchSize:   64,
		concurrency: 1,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AddDocuments embeds and stores docs, returning the IDs that were written.
// Documents without an ID get a random one.
func (s *VectorStore) AddDocuments(ctx context.Context, docs []models.Document) ([]string, error) {
	if len(docs) == 0 {
		return nil, nil
	}
	docs = append([]models.Document(nil), docs...)
	texts := make([]string, len(docs))
	for i := range docs {
		if docs[i].ID == "" {
			id, err := helper.GenerateUUID()
			if err != nil {
				return nil, err
			}
			docs[i].ID = id
		}
		texts[i] = docs[i].PageContent
	}

	vectors, err := s.embed(ctx, texts)
	if err != nil {
		return nil, err
	}

	if s.skipExisting {
		docs, vectors, err = s.dropExisting(ctx, docs, vectors)
		if err != nil {
			return nil, err
		}
		if len(docs) == 0 {
			return nil, nil
		}
	}

	if err := s.index.Upsert(ctx, docs, vectors); err != nil {
		return nil, err
	}
	ids := make([]string, len(docs))
	for i, d := range docs {
		ids[i] = d.ID
	}
	log.Debug().Int("documents", len(ids)).Msg("Stored documents")
	return ids, nil
}

func (s *VectorStore) embed(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for start := 0; start < len(texts); start += s.batchSize {
		end := min(start+s.batchSize, len(texts))
		g.Go(func() error {
			batch, err := s.embedder.EmbedDocuments(ctx, texts[start:end])
			if err != nil {
				return fmt.Errorf("failed to embed documents %d-%d: %w", start, end, err)
			}
			if len(batch) != end-start {
				return fmt.Errorf("embedder returned %d vectors for %d documents", len(batch), end-start)
			}
			copy(vectors[start:end], batch)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return vectors, nil
}

func (s *VectorStore) dropExisting(ctx context.Context, docs []models.Document, vectors [][]float32) ([]models.Document, [][]float32, error) {
	keptDocs := docs[:0:0]
	var keptVecs [][]float32
	for i, doc := range docs {
		hits, err := s.index.Search(ctx, vectors[i], 1, nil)
		if err != nil {
			return nil, nil, err
		}
		if len(hits) > 0 && hits[0].Score >= s.threshold {
			log.Info().Str("id", doc.ID).Str("duplicate_of", hits[0].ID).Msg("Skipping existing document")
			continue
		}
		keptDocs = append(keptDocs, doc)
		keptVecs = append(keptVecs, vectors[i])
	}
	return keptDocs, keptVecs, nil
}

func (s *VectorStore) SimilaritySearch(ctx context.Context, query string, k int, filter *models.Filter) ([]models.ScoredDocument, error) {
	if k <= 0 {
		return nil, models.ErrInvalidK
	}
	vector, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	return s.SimilaritySearchVector(ctx, vector, k, filter)
}

func (s *VectorStore) SimilaritySearchVector(ctx context.Context, vector []float32, k int, filter *models.Filter) ([]models.ScoredDocument, error) {
	if k <= 0 {
		return nil, models.ErrInvalidK
	}
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	return s.index.Search(ctx, vector, k, filter)
}

func (s *VectorStore) Close() error {
	return s.index.Close()
}

// Reset deletes every stored document. The index is recreated on the next
// write.
func (s *VectorStore) Reset(ctx context.Context) error {
	d, ok := s.index.(Dropper)
	if !ok {
		return fmt.Errorf("index %T cannot be dropped", s.index)
	}
	return d.Drop(ctx)
}
