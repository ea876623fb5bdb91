package embedding

import (
	"context"

	"github.com/dgraph-io/ristretto"
)

// Compile-time interface check
var _ Embedder = (*Cached)(nil)

// Cached decorates an Embedder with a ristretto cache keyed by input text.
// Context texts repeat heavily on a TV device (same user, same hour, same
// genre), so the cache keeps the hot path off the model entirely.
type Cached struct {
	inner Embedder
	cache *ristretto.Cache
}

// NewCached wraps inner with a cache holding up to maxEntries embeddings.
func NewCached(inner Embedder, maxEntries int64) (*Cached, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: maxEntries * 10,
		MaxCost:     maxEntries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}

	return &Cached{inner: inner, cache: cache}, nil
}

// Embed returns the cached embedding when present, otherwise delegates.
func (c *Cached) Embed(ctx context.Context, content string) ([]float32, error) {
	if v, ok := c.cache.Get(content); ok {
		if emb, ok := v.([]float32); ok {
			return emb, nil
		}
	}

	emb, err := c.inner.Embed(ctx, content)
	if err != nil {
		return nil, err
	}

	c.cache.Set(content, emb, 1)
	return emb, nil
}

// EmbedBatch delegates to the inner embedder and caches each result.
func (c *Cached) EmbedBatch(ctx context.Context, contents []string) ([][]float32, error) {
	out, err := c.inner.EmbedBatch(ctx, contents)
	if err != nil {
		return nil, err
	}
	for i, content := range contents {
		c.cache.Set(content, out[i], 1)
	}
	return out, nil
}

// ModelName returns the inner embedder's model name.
func (c *Cached) ModelName() string {
	return c.inner.ModelName()
}

// Wait blocks until buffered cache writes are applied. Test helper.
func (c *Cached) Wait() {
	c.cache.Wait()
}
