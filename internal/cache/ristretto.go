package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/tmc/langchaingo/llms"
)

// Ristretto keeps responses in process memory. MaxCost bounds the stored bytes.
type Ristretto struct {
	cache *ristretto.Cache
	ttl   time.Duration
}

func NewRistretto(maxCost int64, ttl time.Duration) (*Ristretto, error) {
	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1e5,
		MaxCost:     maxCost,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create ristretto cache: %w", err)
	}
	return &Ristretto{cache: c, ttl: ttl}, nil
}

func (r *Ristretto) Get(_ context.Context, key string) (*llms.ContentResponse, bool, error) {
	v, ok := r.cache.Get(key)
	if !ok {
		return nil, false, nil
	}
	b, ok := v.([]byte)
	if !ok {
		return nil, false, fmt.Errorf("unexpected cache value %T", v)
	}
	resp, err := decode(b)
	if err != nil {
		return nil, false, err
	}
	return resp, true, nil
}

func (r *Ristretto) Put(_ context.Context, key string, resp *llms.ContentResponse) error {
	b, err := encode(resp)
	if err != nil {
		return err
	}
	if !r.cache.SetWithTTL(key, b, int64(len(b)), r.ttl) {
		return fmt.Errorf("ristretto dropped key %s", key)
	}
	r.cache.Wait()
	return nil
}

func (r *Ristretto) Close() {
	r.cache.Close()
}
