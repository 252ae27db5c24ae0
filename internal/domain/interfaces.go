package domain

import "context"

// Chunker splits documents into chunks suitable for retrieval indexing.
type Chunker interface {
	Chunk(document Document) ([]Chunk, error)
}

// Source fetches documents for an identifier such as a path or "crate:serde@1.0.0".
type Source interface {
	Fetch(ctx context.Context, identifier string) ([]Document, error)
}

// Generator turns a question and its retrieved context into an answer.
type Generator interface {
	Name() string
	Generate(ctx context.Context, query string, result RetrievalResult) (string, error)
}

// ChunkLookup resolves chunk ids back to their chunks.
type ChunkLookup interface {
	GetChunks(ctx context.Context, ids []string) (map[string]Chunk, error)
}
