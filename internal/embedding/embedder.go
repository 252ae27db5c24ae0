// Package embedding adapts external embedding models behind a single interface
// and layers retry, concurrency limiting and caching on top of them.
package embedding

//go:generate mockgen -source=embedder.go -destination=mocks/mock_embedder.go -package=mocks

import "context"

// Embedder converts text into fixed-dimension vectors. EmbedBatch returns one
// vector per input, in input order.
type Embedder interface {
	Name() string
	Dimension() int
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Cache stores vectors by key. A miss is reported with ok == false and a nil error.
type Cache interface {
	Get(ctx context.Context, key string) (vec []float32, ok bool, err error)
	Set(ctx context.Context, key string, vec []float32) error
}
