// Package memory keeps per-thread chat transcripts and runs conversations on top of them.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/uptrace/bun"

	"github.com/sj48695/langchain-example/internal/config"
	"github.com/sj48695/langchain-example/internal/models"
)

// Saver persists transcripts. Messages are immutable once appended and are
// returned in append order.
type Saver interface {
	Append(ctx context.Context, threadID string, msgs ...models.Message) error
	Transcript(ctx context.Context, threadID string) ([]models.Message, error)
	Threads(ctx context.Context) ([]string, error)
	Delete(ctx context.Context, threadID string) error
}

// NewSaver returns the configured saver. db is only used by the database backend.
func NewSaver(ctx context.Context, cfg *config.MemoryConfig, db *bun.DB) (Saver, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewInMemorySaver(), nil
	case "database":
		if db == nil {
			return nil, fmt.Errorf("database memory needs a database connection")
		}
		s := NewBunSaver(db)
		if err := s.Init(ctx); err != nil {
			return nil, err
		}
		return s, nil
	}
	return nil, fmt.Errorf("%w: memory %q", models.ErrUnknownBackend, cfg.Backend)
}

// InMemorySaver keeps transcripts for the life of the process.
type InMemorySaver struct {
	mu      sync.RWMutex
	threads map[string][]models.Message
}

func NewInMemorySaver() *InMemorySaver {
	return &InMemorySaver{threads: make(map[string][]models.Message)}
}

func (s *InMemorySaver) Append(_ context.Context, threadID string, msgs ...models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.threads[threadID] = append(s.threads[threadID], models.CloneMessages(msgs)...)
	return nil
}

func (s *InMemorySaver) Transcript(_ context.Context, threadID string) ([]models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return models.CloneMessages(s.threads[threadID]), nil
}

func (s *InMemorySaver) Threads(context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.threads))
	for id := range s.threads {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids, nil
}

func (s *InMemorySaver) Delete(_ context.Context, threadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.threads, threadID)
	return nil
}
