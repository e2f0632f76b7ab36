package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	"github.com/tmc/langchaingo/embeddings"
)

const defaultHashDimensions = 256

// HashEmbedder is an offline bag-of-words embedder. Each token maps to a
// deterministic pseudo-random direction; a text is the normalized sum of its
// tokens, so texts sharing words score higher.
type HashEmbedder struct {
	dimensions int
}

var _ embeddings.Embedder = (*HashEmbedder)(nil)

func NewHashEmbedder(dimensions int) *HashEmbedder {
	if dimensions <= 0 {
		dimensions = defaultHashDimensions
	}
	return &HashEmbedder{dimensions: dimensions}
}

func (h *HashEmbedder) Dimensions() int {
	return h.dimensions
}

func (h *HashEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = h.embed(text)
	}
	return out, nil
}

func (h *HashEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return h.embed(text), nil
}

func (h *HashEmbedder) embed(text string) []float32 {
	tokens := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	if len(tokens) == 0 {
		tokens = []string{text}
	}

	sum := make([]float64, h.dimensions)
	for _, tok := range tokens {
		f := fnv.New64a()
		f.Write([]byte(tok))
		seed := f.Sum64()
		for i := range sum {
			seed = seed*6364136223846793005 + 1442695040888963407
			sum[i] += float64(int64(seed)) / math.MaxInt64
		}
	}

	var norm float64
	for _, v := range sum {
		norm += v * v
	}
	norm = math.Sqrt(norm)

	vec := make([]float32, h.dimensions)
	for i, v := range sum {
		vec[i] = float32(v / norm)
	}
	return vec
}
