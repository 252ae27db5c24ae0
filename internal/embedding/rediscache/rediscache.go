// Package rediscache stores embeddings in Redis so repeated ingests and
// queries across processes skip the embedding provider.
package rediscache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/dangattringer/rust-rag/internal/embedding"
	"github.com/dangattringer/rust-rag/internal/vectorstore"
)

type Options struct {
	Addr       string
	Password   string
	DB         int
	Prefix     string
	TTL        time.Duration
	MaxRetries int
}

// Connect opens a client and pings it, backing off between attempts.
func Connect(ctx context.Context, opts Options, logger zerolog.Logger) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:            opts.Addr,
		Password:        opts.Password,
		DB:              opts.DB,
		MaxRetries:      3,
		MinRetryBackoff: 8 * time.Millisecond,
		MaxRetryBackoff: 512 * time.Millisecond,
		DialTimeout:     5 * time.Second,
		ReadTimeout:     3 * time.Second,
		WriteTimeout:    3 * time.Second,
	})

	attempts := max(opts.MaxRetries, 1)
	var err error
	for i := range attempts {
		if i > 0 {
			backoff := time.Duration(1<<uint(i)) * 250 * time.Millisecond
			logger.Info().Dur("backoff", backoff).Msg("Waiting before Redis retry")
			select {
			case <-ctx.Done():
				_ = client.Close()
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		err = client.Ping(ctx).Err()
		if err == nil {
			logger.Info().Str("addr", opts.Addr).Int("attempts_needed", i+1).Msg("Redis connected")
			return client, nil
		}
		logger.Warn().Err(err).Int("attempt", i+1).Int("max_retries", attempts).Msg("Redis ping failed")
	}

	_ = client.Close()
	return nil, fmt.Errorf("failed to connect to Redis after %d attempts: %w", attempts, err)
}

// Cache implements embedding.Cache on a Redis keyspace.
type Cache struct {
	client redis.Cmdable
	prefix string
	ttl    time.Duration
}

var _ embedding.Cache = (*Cache)(nil)

// New wraps client. A zero ttl keeps entries until evicted by Redis.
func New(client redis.Cmdable, prefix string, ttl time.Duration) *Cache {
	if prefix == "" {
		prefix = "rag:emb:"
	}
	return &Cache{client: client, prefix: prefix, ttl: ttl}
}

func (c *Cache) Get(ctx context.Context, key string) ([]float32, bool, error) {
	b, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get: %w", err)
	}
	vec, err := vectorstore.DecodeEmbedding(b)
	if err != nil {
		return nil, false, err
	}
	return vec, true, nil
}

func (c *Cache) Set(ctx context.Context, key string, vec []float32) error {
	if err := c.client.Set(ctx, c.prefix+key, vectorstore.EncodeEmbedding(vec), c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}
