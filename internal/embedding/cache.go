package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// CacheKey derives the cache key for text embedded by the named embedder.
func CacheKey(namespace, text string) string {
	sum := sha256.Sum256([]byte(text))
	return namespace + ":" + hex.EncodeToString(sum[:])
}

// MemoryCache is an in-process cache holding at most maxEntries vectors.
// The oldest entry is evicted first.
type MemoryCache struct {
	mu         sync.Mutex
	maxEntries int
	entries    map[string][]float32
	order      []string
}

// NewMemoryCache creates a cache. maxEntries <= 0 means unbounded.
func NewMemoryCache(maxEntries int) *MemoryCache {
	return &MemoryCache{maxEntries: maxEntries, entries: make(map[string][]float32)}
}

func (c *MemoryCache) Get(_ context.Context, key string) ([]float32, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.entries[key]
	if !ok {
		return nil, false, nil
	}
	return append([]float32(nil), v...), true, nil
}

func (c *MemoryCache) Set(_ context.Context, key string, vec []float32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[key]; !ok {
		c.order = append(c.order, key)
	}
	c.entries[key] = append([]float32(nil), vec...)
	for c.maxEntries > 0 && len(c.order) > c.maxEntries {
		delete(c.entries, c.order[0])
		c.order = c.order[1:]
	}
	return nil
}

// Len returns the number of cached vectors.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Cached serves repeated texts from a Cache. Cache failures are logged and
// treated as misses.
type Cached struct {
	next   Embedder
	cache  Cache
	logger zerolog.Logger
}

// WithCache wraps next with cache.
func WithCache(next Embedder, cache Cache, logger zerolog.Logger) *Cached {
	return &Cached{next: next, cache: cache, logger: logger}
}

func (c *Cached) Name() string   { return c.next.Name() }
func (c *Cached) Dimension() int { return c.next.Dimension() }

func (c *Cached) Embed(ctx context.Context, text string) ([]float32, error) {
	key := CacheKey(c.next.Name(), text)
	if vec, ok := c.get(ctx, key); ok {
		return vec, nil
	}
	vec, err := c.next.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.set(ctx, key, vec)
	return vec, nil
}

func (c *Cached) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	keys := make([]string, len(texts))
	var misses []string
	missAt := make(map[string][]int)
	for i, text := range texts {
		keys[i] = CacheKey(c.next.Name(), text)
		if vec, ok := c.get(ctx, keys[i]); ok {
			out[i] = vec
			continue
		}
		if _, seen := missAt[text]; !seen {
			misses = append(misses, text)
		}
		missAt[text] = append(missAt[text], i)
	}
	if len(misses) == 0 {
		return out, nil
	}
	vecs, err := c.next.EmbedBatch(ctx, misses)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(misses) {
		return nil, fmt.Errorf("%s returned %d vectors for %d inputs", c.next.Name(), len(vecs), len(misses))
	}
	for j, text := range misses {
		for _, i := range missAt[text] {
			out[i] = vecs[j]
		}
		c.set(ctx, keys[missAt[text][0]], vecs[j])
	}
	c.logger.Debug().Int("inputs", len(texts)).Int("misses", len(misses)).Msg("Embedding cache lookup")
	return out, nil
}

func (c *Cached) get(ctx context.Context, key string) ([]float32, bool) {
	vec, ok, err := c.cache.Get(ctx, key)
	if err != nil {
		c.logger.Warn().Err(err).Msg("Embedding cache read failed")
		return nil, false
	}
	if ok && len(vec) != c.next.Dimension() {
		return nil, false
	}
	return vec, ok
}

func (c *Cached) set(ctx context.Context, key string, vec []float32) {
	if err := c.cache.Set(ctx, key, vec); err != nil {
		c.logger.Warn().Err(err).Msg("Embedding cache write failed")
	}
}
