package parser

import (
	"errors"
	"fmt"

	"github.com/tmc/langchaingo/textsplitter"

	"github.com/sj48695/langchain-example/internal/config"
	"github.com/sj48695/langchain-example/internal/models"
)

var ErrInvalidChunking = errors.New("invalid chunk size or overlap")

// Splitter turns documents into overlapping chunks.
type Splitter interface {
	SplitText(text string) ([]string, error)
	SplitDocuments(docs []models.Document) ([]models.Document, error)
}

// FixedSplitter cuts text into windows of Size runes, each starting
// Size-Overlap runes after the previous one.
type FixedSplitter struct {
	Size    int
	Overlap int
}

var _ textsplitter.TextSplitter = FixedSplitter{}

func checkChunking(size, overlap int) error {
	if size <= 0 || overlap < 0 || overlap >= size {
		return fmt.Errorf("%w: size=%d overlap=%d", ErrInvalidChunking, size, overlap)
	}
	return nil
}

func (s FixedSplitter) SplitText(text string) ([]string, error) {
	if err := checkChunking(s.Size, s.Overlap); err != nil {
		return nil, err
	}
	runes := []rune(text)
	if len(runes) == 0 {
		return nil, nil
	}

	step := s.Size - s.Overlap
	var chunks []string
	for start := 0; ; start += step {
		end := min(start+s.Size, len(runes))
		chunks = append(chunks, string(runes[start:end]))
		if end == len(runes) {
			break
		}
	}
	return chunks, nil
}

// DocumentSplitter applies a text splitter to each document. Chunks keep
// the parent metadata and gain a "chunk" index.
type DocumentSplitter struct {
	textsplitter.TextSplitter
}

func NewFixedSplitter(size, overlap int) (*DocumentSplitter, error) {
	if err := checkChunking(size, overlap); err != nil {
		return nil, err
	}
	return &DocumentSplitter{FixedSplitter{Size: size, Overlap: overlap}}, nil
}

func NewRecursiveSplitter(size, overlap int) (*DocumentSplitter, error) {
	if err := checkChunking(size, overlap); err != nil {
		return nil, err
	}
	return &DocumentSplitter{textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(size),
		textsplitter.WithChunkOverlap(overlap),
	)}, nil
}

// NewSplitter picks the splitter named in cfg ("recursive" or "fixed").
func NewSplitter(cfg *config.RAGConfig) (*DocumentSplitter, error) {
	switch cfg.Splitter {
	case "", "recursive":
		return NewRecursiveSplitter(cfg.ChunkSize, cfg.ChunkOverlap)
	case "fixed":
		return NewFixedSplitter(cfg.ChunkSize, cfg.ChunkOverlap)
	default:
		return nil, fmt.Errorf("%w: splitter %q", models.ErrUnknownBackend, cfg.Splitter)
	}
}

func (s *DocumentSplitter) SplitDocuments(docs []models.Document) ([]models.Document, error) {
	var out []models.Document
	for _, doc := range docs {
		parts, err := s.SplitText(doc.PageContent)
		if err != nil {
			return nil, err
		}
		for i, part := range parts {
			chunk := doc.WithMetadata(map[string]any{"chunk": i})
			chunk.PageContent = part
			if doc.ID != "" {
				chunk.ID = fmt.Sprintf("%s-%d", doc.ID, i)
			}
			out = append(out, chunk)
		}
	}
	return out, nil
}
