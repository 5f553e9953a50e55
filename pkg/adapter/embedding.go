package adapter

import (
	"context"
	"fmt"

	"github.com/dgraph-io/ristretto"
	"github.com/m-mizutani/castmate/pkg/interfaces"
	"github.com/m-mizutani/goerr/v2"
)

func embeddingModelTag(model string, dims int) string {
	return fmt.Sprintf("%s@%d", model, dims)
}

// CachedEmbedder memoizes embeddings by model and text.
type CachedEmbedder struct {
	base  interfaces.Embedder
	cache *ristretto.Cache
}

// NewCachedEmbedder wraps base with a cache bounded to maxEntries vectors
func NewCachedEmbedder(base interfaces.Embedder, maxEntries int64) (*CachedEmbedder, error) {
	if maxEntries <= 0 {
		return nil, goerr.New("max entries must be positive", goerr.V("max_entries", maxEntries))
	}

	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters:        maxEntries * 10,
		MaxCost:            maxEntries,
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create embedding cache")
	}

	return &CachedEmbedder{base: base, cache: cache}, nil
}

func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	key := c.base.EmbeddingModel() + "\x00" + text
	if v, ok := c.cache.Get(key); ok {
		if vec, ok := v.([]float32); ok {
			return vec, nil
		}
	}

	vec, err := c.base.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	c.cache.Set(key, vec, 1)
	return vec, nil
}

func (c *CachedEmbedder) EmbeddingModel() string {
	return c.base.EmbeddingModel()
}

// Wait blocks until pending cache writes are applied
func (c *CachedEmbedder) Wait() {
	c.cache.Wait()
}

// Close stops the cache's background goroutines
func (c *CachedEmbedder) Close() {
	c.cache.Close()
}
