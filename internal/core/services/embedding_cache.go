package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/manthysbr/aulerag/internal/core/domain"
)

const (
	defaultEmbeddingCacheSize = 4096
	defaultEmbeddingCacheTTL  = time.Hour
)

// CachedEmbedder wraps an EmbeddingProvider with a bounded LRU+TTL cache keyed
// by model and text.
type CachedEmbedder struct {
	logger *slog.Logger
	inner  domain.EmbeddingProvider
	model  string
	cache  *expirable.LRU[string, []float32]
	hits   atomic.Int64
	misses atomic.Int64
}

// NewCachedEmbedder creates the cache. size <= 0 and ttl <= 0 use the defaults
// (4096 entries, one hour).
func NewCachedEmbedder(logger *slog.Logger, inner domain.EmbeddingProvider, model string, size int, ttl time.Duration) *CachedEmbedder {
	if size <= 0 {
		size = defaultEmbeddingCacheSize
	}
	if ttl <= 0 {
		ttl = defaultEmbeddingCacheTTL
	}
	return &CachedEmbedder{
		logger: logger,
		inner:  inner,
		model:  model,
		cache:  expirable.NewLRU[string, []float32](size, nil, ttl),
	}
}

// Embed returns one vector per text, calling the provider only for misses.
func (c *CachedEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var missIdx []int
	var missTexts []string

	for i, text := range texts {
		if vec, ok := c.cache.Get(c.key(text)); ok {
			out[i] = vec
			c.hits.Add(1)
			continue
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, text)
	}
	if len(missTexts) == 0 {
		return out, nil
	}
	c.misses.Add(int64(len(missTexts)))

	vecs, err := c.inner.Embed(ctx, missTexts)
	if err != nil {
		return nil, fmt.Errorf("embed: %w", err)
	}
	if len(vecs) != len(missTexts) {
		return nil, fmt.Errorf("embed: provider returned %d vectors for %d texts", len(vecs), len(missTexts))
	}
	for j, i := range missIdx {
		out[i] = vecs[j]
		c.cache.Add(c.key(texts[i]), vecs[j])
	}
	return out, nil
}

// EmbedOne embeds a single text.
func (c *CachedEmbedder) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// CacheStats reports cache effectiveness.
type CacheStats struct {
	Size   int   `json:"size"`
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
}

func (c *CachedEmbedder) Stats() CacheStats {
	return CacheStats{
		Size:   c.cache.Len(),
		Hits:   c.hits.Load(),
		Misses: c.misses.Load(),
	}
}

func (c *CachedEmbedder) key(text string) string {
	sum := sha256.Sum256([]byte(c.model + "\x00" + text))
	return hex.EncodeToString(sum[:])
}
