// Package retriever answers top-k queries: it embeds the query, searches the
// vector index with enough headroom for filtering, and resolves hits back to
// their chunks.
package retriever

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/dangattringer/rust-rag/internal/domain"
	"github.com/dangattringer/rust-rag/internal/embedding"
	"github.com/dangattringer/rust-rag/internal/vectorstore"
)

// Retriever is read-only against the index and safe for concurrent use.
type Retriever struct {
	embedder embedding.Embedder
	index    vectorstore.Index
	chunks   domain.ChunkLookup
	logger   zerolog.Logger
}

func New(embedder embedding.Embedder, index vectorstore.Index, chunks domain.ChunkLookup, logger zerolog.Logger) *Retriever {
	return &Retriever{embedder: embedder, index: index, chunks: chunks, logger: logger}
}

// Retrieve returns at most k chunks passing filters, ordered by descending
// score. It fails with domain.ErrEmptyIndex when nothing has been ingested.
func (r *Retriever) Retrieve(ctx context.Context, query string, k int, filters domain.Filters) (domain.RetrievalResult, error) {
	vec, err := r.EmbedQuery(ctx, query, k)
	if err != nil {
		return domain.RetrievalResult{}, err
	}
	return r.RetrieveVector(ctx, query, vec, k, filters)
}

// EmbedQuery validates k and embeds query. It fails fast with
// domain.ErrEmptyIndex so an empty corpus never costs an embedding call.
func (r *Retriever) EmbedQuery(ctx context.Context, query string, k int) ([]float32, error) {
	if k <= 0 {
		return nil, fmt.Errorf("%w: k must be positive, got %d", domain.ErrInvalidConfig, k)
	}
	if r.index.Len() == 0 {
		return nil, domain.ErrEmptyIndex
	}
	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	return vec, nil
}

// RetrieveVector is Retrieve for an already embedded query. Hits whose chunk
// is no longer in the lookup (deleted by another writer since the index was
// loaded) are skipped and the candidate window widened to refill k.
func (r *Retriever) RetrieveVector(ctx context.Context, query string, vec []float32, k int, filters domain.Filters) (domain.RetrievalResult, error) {
	if k <= 0 {
		return domain.RetrievalResult{}, fmt.Errorf("%w: k must be positive, got %d", domain.ErrInvalidConfig, k)
	}
	total := r.index.Len()
	if total == 0 {
		return domain.RetrievalResult{}, domain.ErrEmptyIndex
	}

	want := k
	if !filters.IsZero() {
		want = 2 * k
	}
	for round := 1; ; round++ {
		if err := ctx.Err(); err != nil {
			return domain.RetrievalResult{}, err
		}
		kp := min(want, total)
		hits, err := r.index.Query(vec, kp)
		if err != nil {
			return domain.RetrievalResult{}, err
		}
		eligible, belowMin := eligibleHits(hits, filters)

		result, missing, err := r.resolve(ctx, query, eligible, k)
		if err != nil {
			return domain.RetrievalResult{}, err
		}
		done := len(result.Results) == k || belowMin || kp >= total || len(hits) < kp
		if done {
			if missing > 0 {
				r.logger.Warn().Int("missing", missing).Msg("Indexed chunks without provenance skipped")
			}
			r.logger.Debug().Int("k", k).Int("candidates", kp).Int("rounds", round).Int("results", len(result.Results)).Msg("Retrieved")
			return result, nil
		}
		want *= 2
	}
}

// eligibleHits keeps the hits passing filters, in rank order. belowMin reports
// that the scan stopped at the MinScore floor, so widening cannot add more.
func eligibleHits(hits []vectorstore.Hit, filters domain.Filters) (kept []vectorstore.Hit, belowMin bool) {
	kept = make([]vectorstore.Hit, 0, len(hits))
	for _, h := range hits {
		if filters.MinScore != nil && h.Score < *filters.MinScore {
			return kept, true
		}
		if filters.Allows(h.DocumentID, h.Score) {
			kept = append(kept, h)
		}
	}
	return kept, false
}

// resolve maps hits to their chunks until k are found.
func (r *Retriever) resolve(ctx context.Context, query string, hits []vectorstore.Hit, k int) (domain.RetrievalResult, int, error) {
	result := domain.RetrievalResult{Query: query, Results: make([]domain.ScoredChunk, 0, k)}
	missing := 0
	for len(hits) > 0 && len(result.Results) < k {
		n := min(len(hits), k-len(result.Results))
		batch := hits[:n]
		hits = hits[n:]
		ids := make([]string, len(batch))
		for i, h := range batch {
			ids[i] = h.ID
		}
		chunks, err := r.chunks.GetChunks(ctx, ids)
		if err != nil {
			return domain.RetrievalResult{}, 0, fmt.Errorf("resolve chunks: %w", err)
		}
		for _, h := range batch {
			c, ok := chunks[h.ID]
			if !ok {
				missing++
				continue
			}
			result.Results = append(result.Results, domain.ScoredChunk{Chunk: c, Score: h.Score})
		}
	}
	return result, missing, nil
}
